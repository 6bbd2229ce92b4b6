// Command assistant runs the chat request queue: the HTTP intake, the queue
// engine, and the nightly maintenance jobs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "assistant",
		Short: "Asynchronous LLM chat queue",
		Long: `assistant accepts chat requests over HTTP, persists them in a Postgres-backed
queue, and executes them on a bounded worker pool. Results are delivered back
through Redis, either as a single record or as a stream of fragments.

Configuration comes from the environment (and an optional .env file).`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		buildServeCmd(),
		buildAPICmd(),
		buildWorkerCmd(),
		buildMigrateCmd(),
	)
	return root
}
