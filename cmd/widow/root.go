package widow

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	cmdutil "github.com/justforfun1323/blackwidow/cmd/util"
	"github.com/justforfun1323/blackwidow/internal/engine"
)

// WidowCommands is the one-shot operator CLI: each subcommand opens the
// engine at the configured data dir, runs exactly one command, prints
// the reply, and closes the engine. Generalized from the teacher's
// cmd/kv package (which dialed a remote shard via setupKVClient/
// rpcStore) to open an embedded *engine.Engine instead.
var WidowCommands = &cobra.Command{
	Use:   "widow",
	Short: "Run a single command against a local blackwidow data directory",
	Long: `Each invocation opens the five typed engines under --data-dir, runs
one command, and closes them again. For a long-running session that keeps
the engines open across many commands, use "blackwidow serve" instead.`,
}

func init() {
	cobra.OnInitialize(cmdutil.InitConfig)
	cmdutil.AddEngineFlags(WidowCommands)
	WidowCommands.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return cmdutil.BindCommandFlags(cmd)
	}

	for _, name := range Commands() {
		WidowCommands.AddCommand(newExecCmd(name))
	}
}

func newExecCmd(name string) *cobra.Command {
	return &cobra.Command{
		Use:                strings.ToLower(name),
		Short:              fmt.Sprintf("Run %s against the configured data directory", name),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := engine.Open(cmdutil.DataDir(), cmdutil.EngineOptions())
			if err != nil {
				return fmt.Errorf("open engine: %w", err)
			}
			defer e.Close()

			reply, err := Dispatch(e, append([]string{name}, args...))
			if err != nil {
				return err
			}
			fmt.Println(reply)
			return nil
		},
	}
}
