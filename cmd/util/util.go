// Package util holds small helpers shared by blackwidow's cobra command
// tree: help-text wrapping and the .env/viper configuration bootstrap
// every command's PersistentPreRunE runs through.
//
// Adapted from the teacher's cmd/util/util.go, stripped of the RPC
// client/transport/serializer flag plumbing (blackwidow opens a local
// *engine.Engine rather than dialing a remote shard).
package util

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/justforfun1323/blackwidow/internal/engine"
	"github.com/justforfun1323/blackwidow/internal/kv"
	"github.com/justforfun1323/blackwidow/internal/logging"
)

// Wrap is the number of characters to wrap help text at.
const Wrap int = 60

// WrapString wraps a string at Wrap characters.
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env/.env.local (if present) and configures viper to
// read BLACKWIDOW_<FLAG> environment variables, mirroring the teacher's
// cmd/serve/root.go initConfig (same godotenv + viper shape, the "dkv"
// prefix swapped for blackwidow's own).
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("blackwidow")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper, as the teacher's
// processConfig does before reading them back out.
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// AddEngineFlags registers the spec.md §6 "configuration options accepted
// at open" as persistent flags on cmd, mirroring the shape of the
// teacher's cmd/serve/root.go shard/RTT flags (one flag per Options
// field, bound to viper by the command's PersistentPreRunE).
func AddEngineFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("data-dir", "data", WrapString("Directory under which the five typed engines (strings/hashes/sets/lists/zsets) store their data"))
	cmd.PersistentFlags().Int64("block-cache-size", 8<<20, WrapString("Size in bytes of each engine's block cache"))
	cmd.PersistentFlags().Bool("share-block-cache", true, WrapString("Whether every engine shares one block cache instance instead of building its own"))
	cmd.PersistentFlags().Int("statistics-max-size", 1<<20, WrapString("Capacity of the per-key write-count statistics LRU backing the small-compaction heuristic"))
	cmd.PersistentFlags().Int("small-compaction-threshold", 500, WrapString("Per-key write count for small compactions (accepted; the engines use fixed thresholds)"))
	cmd.PersistentFlags().Int("lock-stripes", 1024, WrapString("Number of stripes the lock manager spreads user-keys across"))
	cmd.PersistentFlags().Int("cursor-cache-capacity", 5000, WrapString("Capacity of the SCAN cursor LRU"))
	cmd.PersistentFlags().String("log-level", "info", WrapString("Log level (debug, info, warn, error)"))
}

// EngineOptions reads the flags AddEngineFlags registered back out of
// viper into an engine.Options, the way the teacher's processConfig
// assembles a common.ServerConfig from bound flags.
func EngineOptions() engine.Options {
	opts := engine.DefaultOptions()
	opts.StoreOptions = kv.Options{
		BlockCacheSize:           viper.GetInt64("block-cache-size"),
		ShareBlockCache:          viper.GetBool("share-block-cache"),
		StatisticsMaxSize:        viper.GetInt("statistics-max-size"),
		SmallCompactionThreshold: viper.GetInt("small-compaction-threshold"),
	}
	opts.LockStripes = viper.GetInt("lock-stripes")
	opts.CursorCacheCapacity = viper.GetInt("cursor-cache-capacity")

	logging.SetAllLevels(viper.GetString("log-level"))

	return opts
}

// DataDir returns the configured data directory.
func DataDir() string {
	return viper.GetString("data-dir")
}
