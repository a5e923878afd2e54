// Package main wires together the llm-txt service and CLI binaries.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "llmtxt",
		Short: "Generate LLM-optimized llms.txt artifacts from documentation sites",
		Long: `llmtxt crawls a documentation website politely, extracts clean Markdown,
and composes a size-bounded llms.txt summary (plus an optional llms-full.txt).
Run "llmtxt serve" for the asynchronous job API or "llmtxt generate" for a
one-shot local run.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newGenerateCmd())
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
