// Command queueworker is the process entrypoint: it wires config, the
// Data Store Gateway(s), Queue Repository, Distributed Processor, Worker
// Loop, Lifecycle Manager, and Health Surface together and runs them
// until a signal or an unrecoverable fault ends the process. The
// cobra.Command tree shape follows cuemby-warren's cmd/warren, keeping
// only its root command and its subcommands added in init(); there are
// no persistent flags and no cobra.OnInitialize hook.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "queueworker",
	Short: "Distributed work-queue processor",
	Long: `queueworker claims batches of pending work from a shared queue
store, runs one registered flow's business logic against each record
with bounded in-batch concurrency, and reports health over HTTP.

Configuration is read entirely from APP_-prefixed environment
variables.`,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
