package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	return newRootCommandWith(newCommandContext())
}

func newRootCommandWith(ctx *commandContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "crossread",
		Short:         "Link catalog manga to reading sources and keep progress in step",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&ctx.configFlag, "config", "c", "", "Configuration file path")
	flags.StringVar(&ctx.dbFlag, "db", "", "Path to database file (overrides config)")
	flags.StringVar(&ctx.logLevelFlag, "log-level", "", "Log level: off, error, warn, info, debug")
	flags.BoolVarP(&ctx.verboseFlag, "verbose", "v", false, "Log debug output to stderr")

	rootCmd.AddCommand(newVersionCommand())
	rootCmd.AddCommand(newResolveCommand(ctx))
	rootCmd.AddCommand(newReverseCommand(ctx))
	rootCmd.AddCommand(newLinkCommand(ctx))
	rootCmd.AddCommand(newSearchCommand(ctx))
	rootCmd.AddCommand(newFindCommand(ctx))
	rootCmd.AddCommand(newShowCommand(ctx))
	rootCmd.AddCommand(newOpenCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Show version information",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "crossread %s\n", Version)
			fmt.Fprintln(out, "Manga source resolver")
			fmt.Fprintln(out, "github.com/pders01/crossread")
			return nil
		},
	}
}
