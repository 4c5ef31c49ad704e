package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lexiqai/narrator/internal/observability"
)

var (
	serverURL  string
	sinkKind   string
	cacheKind  string
	volume     float64
	logLevel   string
	jsonOutput bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		colorError.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "narrate",
		Short:         "Speak story text through ElevenLabs",
		Long:          "narrate turns story beats and ad-hoc lines into speech, locally or through a narrator server.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			observability.InitLogger(logLevel, true)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&serverURL, "server", "s", "", "Resolve audio through a narrator server at this URL instead of calling ElevenLabs directly")
	flags.StringVar(&sinkKind, "sink", "speaker", "Playback sink: speaker or discard")
	flags.StringVar(&cacheKind, "cache", "", "Cache backend override: redis, disk, memory or none")
	flags.Float64Var(&volume, "volume", 1.0, "Playback volume between 0 and 1")
	flags.StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	flags.BoolVar(&jsonOutput, "json", false, "Print machine-readable output where supported")

	rootCmd.AddCommand(
		newSpeakCmd(),
		newStoryCmd(),
		newVoicesCmd(),
		newValidateKeyCmd(),
		newHealthCmd(),
		newCacheCmd(),
	)
	return rootCmd
}
