// Package cmd implements blackwidow's command-line interface: a cobra
// root command wiring together the operator-facing subcommands.
//
//   - serve: open a data directory once and run commands against it
//     from stdin until terminated
//   - widow: run exactly one command against a data directory, opening
//     and closing the engines around it
//   - version: print the build version
//
// Adapted from the teacher's cmd/root.go, minus the shard/cluster/RPC
// flags and the curl-and-run upgrade command (blackwidow has no hosted
// install script): spec.md §1 puts command routing and network framing
// out of scope for the core, so this tree is an operator tool around an
// embedded *engine.Engine, not a client for a remote server.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/justforfun1323/blackwidow/cmd/serve"
	"github.com/justforfun1323/blackwidow/cmd/widow"
)

// BuildVersion is the version string reported by `blackwidow version`,
// overridable at link time via -ldflags "-X ...cmd.BuildVersion=...".
var BuildVersion = "dev"

// RootCmd is the base command executed when the binary is invoked
// without a recognized subcommand.
var RootCmd = &cobra.Command{
	Use:   "blackwidow",
	Short: "A Redis-compatible data-structure store embedded over an ordered KV engine",
	Long: fmt.Sprintf(`blackwidow (%s)

Strings, hashes, sets, sorted sets and lists layered on an ordered
key-value engine, with per-key TTL, atomic multi-key updates and
background compaction of tombstoned ranges.`, BuildVersion),
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("blackwidow %s\n", BuildVersion)
	},
}

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(widow.WidowCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute runs RootCmd. Called once from main.main.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
