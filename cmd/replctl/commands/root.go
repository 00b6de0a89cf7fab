package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// httpClient is shared by every subcommand that scrapes the daemon's
	// metrics endpoint.
	httpClient = &http.Client{Timeout: 5 * time.Second}

	// metricsAddr is the repld daemon's metrics HTTP address (host:port).
	metricsAddr string
)

// rootCmd is the top-level cobra command for replctl.
var rootCmd = &cobra.Command{
	Use:   "replctl",
	Short: "Operator CLI for the repld replication daemon",
	Long:  "replctl scrapes a running repld daemon's Prometheus metrics endpoint and prints a human-readable summary.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "127.0.0.1:9100",
		"repld daemon metrics address (host:port)")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
