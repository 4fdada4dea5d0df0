package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tinge-app/tinge/internal/domain/models"
	"github.com/tinge-app/tinge/internal/session"
	"github.com/tinge-app/tinge/internal/session/bubble"
	"github.com/tinge-app/tinge/internal/session/transport"
)

const defaultSystemPrompt = "You are a warm, patient Spanish tutor. Speak mostly Spanish, " +
	"adjust to the learner's level, correct mistakes gently and log each correction. " +
	"Search the knowledge base before answering factual questions and cite your sources."

func newSessionCommand() *cobra.Command {
	var (
		gatewayURL   string
		realtimeURL  string
		model        string
		device       string
		learnerLevel string
	)

	cmd := &cobra.Command{
		Use:   "session",
		Short: "Run an interactive tutoring session from the terminal",
		Long: "Connects to the gateway, establishes the realtime transport and drives " +
			"a press-to-talk conversation. Press enter to toggle the mic; 'q' quits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(gatewayURL, realtimeURL, model, device, learnerLevel)
		},
	}

	cmd.Flags().StringVar(&gatewayURL, "gateway", "http://localhost:3000", "session gateway base URL")
	cmd.Flags().StringVar(&realtimeURL, "realtime", "https://api.openai.com/v1/realtime", "upstream realtime SDP endpoint")
	cmd.Flags().StringVar(&model, "model", "gpt-4o-realtime-preview", "realtime model")
	cmd.Flags().StringVar(&device, "device", "desktop", "device profile: desktop or mobile")
	cmd.Flags().StringVar(&learnerLevel, "level", "B1", "learner CEFR level")
	return cmd
}

func runSession(gatewayURL, realtimeURL, model, device, learnerLevel string) error {
	dev := bubble.DeviceDesktop
	if device == "mobile" {
		dev = bubble.DeviceMobile
	}

	ui := session.UIEvents{
		StreamingTranscript: func(speaker models.Speaker, text string) {
			fmt.Printf("\r%s: %s", speaker, text)
		},
		FinalTranscript: func(speaker models.Speaker, text string) {
			fmt.Printf("\r%s: %s\n", speaker, text)
		},
		UtteranceAdded: func(u models.Utterance, interrupted bool) {
			if interrupted {
				fmt.Printf("%s: %s (interrupted)\n", u.Speaker, u.Text)
			}
		},
		AssistantInterrupted: func() {
			fmt.Println("\n-- interrupted --")
		},
		SourcesUpdated: func(sources []models.RegisteredSource) {
			for _, s := range sources {
				fmt.Printf("  [%d] %s (%s)\n", s.DisplayIndex, s.Title, s.URL)
			}
		},
		SearchStarted: func(query string) {
			fmt.Printf("  searching: %s\n", query)
		},
		CorrectionDetected: func(c models.Correction) {
			fmt.Printf("  correction: %q -> %q (%s)\n", c.Original, c.Corrected, c.CorrectionType)
		},
		UsageUpdated: func(s models.UsageSnapshot) {
			if s.IsNearLimit {
				fmt.Printf("  usage: %d/%d tokens\n", s.CurrentTokens, s.Limit)
			}
		},
		ConnectionState: func(s transport.State) {
			slog.Info("session: connection state", "state", s)
		},
		SetLabel:         func(label string) { fmt.Println(label) },
		ClearLabel:       func() {},
		ShowLimitOverlay: func() { fmt.Println("Session limit reached for this conversation.") },
	}

	engine := session.NewEngine(session.Config{
		GatewayURL:         gatewayURL,
		SystemPrompt:       defaultSystemPrompt,
		TranscriptionModel: "whisper-1",
		Device:             dev,
		LearnerLevel:       learnerLevel,
	}, ui, session.Options{
		RealtimeURL: realtimeURL,
		Model:       model,
	})
	defer engine.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	fmt.Println("Press enter to talk, enter again to release. 'q' to quit.")
	micDown := false
	ctx := context.Background()
	for {
		select {
		case <-stop:
			return nil
		case line, ok := <-lines:
			if !ok || line == "q" {
				return nil
			}
			if micDown {
				engine.Release()
				micDown = false
				fmt.Println("(mic off)")
				continue
			}
			engine.Press(ctx)
			micDown = true
			fmt.Println("(mic on)")
		}
	}
}
