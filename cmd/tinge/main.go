package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinge-app/tinge/pkg/otel"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	root := &cobra.Command{
		Use:          "tinge",
		Short:        "Tinge voice language-tutoring services",
		SilenceUsage: true,
	}

	var debugLogs bool
	root.PersistentFlags().BoolVar(&debugLogs, "debug", false, "enable debug logging")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if debugLogs {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(otel.NewPrettyHandlerWithLevel(level)))
	}

	root.AddCommand(newGatewayCommand())
	root.AddCommand(newSessionCommand())
	root.AddCommand(newConfigCommand())
	root.AddCommand(newVersionCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tinge %s (%s)\n", version, commit)
		},
	}
}
