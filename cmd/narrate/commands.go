package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lexiqai/narrator/internal/cache"
	"github.com/lexiqai/narrator/internal/config"
	"github.com/lexiqai/narrator/internal/narrative"
	"github.com/lexiqai/narrator/internal/probe"
	"github.com/lexiqai/narrator/internal/sequencer"
	"github.com/lexiqai/narrator/internal/speech"
	"github.com/lexiqai/narrator/internal/tts"
)

func newSpeakCmd() *cobra.Command {
	var (
		role    string
		preset  string
		speaker string
		outPath string
		noCache bool
	)

	cmd := &cobra.Command{
		Use:   "speak [text...]",
		Short: "Speak a line of text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			voiceRole, err := narrative.ParseVoiceRole(role)
			if err != nil {
				return err
			}
			if preset != "" {
				if _, ok := speech.LookupPreset(preset); !ok {
					return fmt.Errorf("unknown preset %q (available: %s)", preset, strings.Join(speech.PresetNames(), ", "))
				}
			}

			req := speech.Request{
				Text:    strings.Join(args, " "),
				Role:    voiceRole,
				Preset:  preset,
				Speaker: speaker,
			}
			if noCache {
				off := false
				req.Cache = &off
			}

			ctx := cmd.Context()
			p, err := newPipeline(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			if outPath != "" {
				start := time.Now()
				data, err := p.resolver.Resolve(ctx, req)
				if err != nil {
					return err
				}
				if err := os.WriteFile(outPath, data, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", outPath, err)
				}
				colorSuccess.Printf("Wrote %s (%s, ~%s of %s) in %s\n",
					outPath,
					humanize.Bytes(uint64(len(data))),
					p.format.EstimateDuration(len(data)).Round(100*time.Millisecond),
					p.format,
					time.Since(start).Round(time.Millisecond))
				return nil
			}

			roleColor(voiceRole).Println(req.Text)
			return p.speakAndWait(ctx, req)
		},
	}

	cmd.Flags().StringVarP(&role, "role", "r", "narrator", "Voice role: narrator, npc, inner_voice, judge")
	cmd.Flags().StringVarP(&preset, "preset", "p", "", "Voice preset name")
	cmd.Flags().StringVar(&speaker, "speaker", "", "Named speaker with its own voice")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write audio to a file instead of playing it")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Bypass the audio cache")
	return cmd
}

func newStoryCmd() *cobra.Command {
	var (
		pause     time.Duration
		keepEmpty bool
	)

	cmd := &cobra.Command{
		Use:   "story <file.yaml>",
		Short: "Narrate a story file beat by beat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			story, err := narrative.LoadStory(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			p, err := newPipeline(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			defaultPause := p.cfg.DefaultBeatPauseDuration()
			if story.DefaultPause != nil {
				defaultPause = *story.DefaultPause
			}
			if cmd.Flags().Changed("pause") {
				defaultPause = pause
			}

			if story.Title != "" {
				colorTitle.Printf("%s\n\n", story.Title)
			}
			return playStory(ctx, p, story.Beats, sequencer.Options{
				DefaultPause: defaultPause,
				SkipEmpty:    !keepEmpty,
			})
		},
	}

	cmd.Flags().DurationVar(&pause, "pause", 0, "Pause between beats (overrides the story and configuration)")
	cmd.Flags().BoolVar(&keepEmpty, "keep-empty", false, "Enqueue beats with no text instead of skipping them")
	return cmd
}

// playStory sequences beats and waits until every spoken beat has finished
func playStory(ctx context.Context, p *pipeline, beats []narrative.Beat, opts sequencer.Options) error {
	var (
		mu       sync.Mutex
		finished int
		failed   int
		total    = -1
	)
	done := make(chan struct{})
	finish := func() {
		if total >= 0 && finished == total {
			close(done)
		}
	}

	opts.OnBeatStart = func(b narrative.Beat, i int) {
		role := sequencer.RoleFor(b)
		label := string(role)
		if b.Speaker != "" {
			label = b.Speaker
		}
		colorMuted.Printf("%-12s ", label)
		roleColor(role).Println(strings.TrimSpace(b.Content))
	}
	opts.OnBeatEnd = func(b narrative.Beat, i int) {
		mu.Lock()
		defer mu.Unlock()
		finished++
		finish()
	}
	opts.OnBeatError = func(b narrative.Beat, i int, err error) {
		colorError.Fprintf(os.Stderr, "beat %d failed: %v\n", i, err)
		mu.Lock()
		defer mu.Unlock()
		finished++
		failed++
		finish()
	}

	ids, err := sequencer.New(p.queue).SpeakSequence(beats, opts)
	if err != nil {
		return err
	}

	mu.Lock()
	total = len(ids)
	finish()
	mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		p.queue.Stop()
		return ctx.Err()
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d beats failed", failed, total)
	}
	return nil
}

func newVoicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List the voices available to the API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			voices, err := tts.NewClientFromConfig(cfg).ListVoices(cmd.Context())
			if err != nil {
				return err
			}
			sort.Slice(voices, func(i, j int) bool { return voices[i].Name < voices[j].Name })

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(voices)
			}

			for _, v := range voices {
				colorTitle.Printf("%-24s ", v.Name)
				fmt.Printf("%-22s ", v.VoiceID)
				colorMuted.Printf("%-12s ", v.Category)
				fmt.Println(formatLabels(v.Labels))
			}
			colorInfo.Printf("\n%d voices\n", len(voices))
			return nil
		},
	}
}

func formatLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+labels[k])
	}
	return strings.Join(parts, " ")
}

func newValidateKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-key",
		Short: "Check that the configured ElevenLabs API key is accepted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ok, err := tts.NewClientFromConfig(cfg).ValidateAPIKey(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("API key was rejected")
			}
			colorSuccess.Println("API key is valid")
			return nil
		},
	}
}

func newHealthCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "health <host:port>",
		Short: "Query a narrator server's gRPC health endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := probe.NewHealthClient(args[0], timeout)
			if err != nil {
				return err
			}
			defer client.Close()

			ready, err := client.Ready(cmd.Context())
			if err != nil {
				return err
			}
			if !ready {
				colorWarning.Println("not serving")
				return errors.New("narrator server is not ready")
			}
			colorSuccess.Println("serving")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Per-call timeout")
	return cmd
}

// sizer is implemented by stores that can report their footprint
type sizer interface {
	Size() int64
	Len() int
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the audio cache",
	}

	var role, preset, speaker string
	keyCmd := &cobra.Command{
		Use:   "key [text...]",
		Short: "Print the cache key a line is stored under",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClient()
			if err != nil {
				return err
			}
			voiceRole, err := narrative.ParseVoiceRole(role)
			if err != nil {
				return err
			}
			service := speech.NewService(tts.NewClientFromConfig(cfg), nil, speech.VoiceTableFromConfig(cfg))
			key, err := service.CacheKey(speech.Request{
				Text:    strings.Join(args, " "),
				Role:    voiceRole,
				Preset:  preset,
				Speaker: speaker,
			})
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		},
	}
	keyCmd.Flags().StringVarP(&role, "role", "r", "narrator", "Voice role")
	keyCmd.Flags().StringVarP(&preset, "preset", "p", "", "Voice preset name")
	keyCmd.Flags().StringVar(&speaker, "speaker", "", "Named speaker")
	cmd.AddCommand(keyCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show the size of the configured cache store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadClient()
			if err != nil {
				return err
			}
			backend := cfg.CacheBackend
			if cacheKind != "" {
				backend = cacheKind
			}
			if backend != "disk" {
				colorInfo.Printf("backend %s keeps no persistent statistics\n", backend)
				return nil
			}

			store, err := cache.NewStore(cache.StoreOptions{
				Backend:          backend,
				DiskPath:         cfg.CacheDiskPath,
				DiskCapacity:     cfg.CacheDiskCapacity,
				CompressionLevel: cfg.CacheCompressionLevel,
			})
			if err != nil {
				return err
			}
			defer store.Close()

			s, ok := store.(sizer)
			if !ok {
				return fmt.Errorf("backend %s cannot report its size", backend)
			}
			colorTitle.Printf("%s cache\n", backend)
			fmt.Printf("  entries:  %s\n", humanize.Comma(int64(s.Len())))
			fmt.Printf("  size:     %s\n", humanize.Bytes(uint64(s.Size())))
			fmt.Printf("  capacity: %s\n", humanize.Bytes(uint64(cfg.CacheDiskCapacity)))
			return nil
		},
	})
	return cmd
}
