package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ent0n29/mnemo/internal/config"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "Vocabulary memory-card service",
	Long: `mnemo turns a word into a memory card: a homophone mnemonic, a short
story, an illustration and a narrated audio clip.

  mnemo serve                                # run the HTTP/websocket API
  mnemo turn "help me remember ambulance"    # run one turn locally
  mnemo cache sessions                       # list cached sessions
  mnemo cache records <session-id>           # show cached records
  mnemo bench --base-url http://host:8080    # replay turns and report latency

Configuration is read from MNEMO_CONFIG (yaml/json/toml) and environment
variables.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd(), newTurnCmd(), newCacheCmd(), newBenchCmd())
}

// loadConfig is swapped in tests.
var loadConfig = config.Load
