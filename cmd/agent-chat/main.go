// Command agent-chat is an interactive terminal client for a live agent
// server: text runs stream to stdout, /mic streams microphone audio to the
// recognition route, and /tts plays synthesized replies through ffplay.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/g-agent/agentlive/pkg/core"
	"github.com/g-agent/agentlive/pkg/live"
	"github.com/g-agent/agentlive/pkg/live/protocol"
)

const (
	defaultServerURL = "http://127.0.0.1:3000/llm"
	defaultAgent     = "ml"
	defaultTimeout   = 90 * time.Second
)

type chatConfig struct {
	ServerURL string
	STTURL    string
	Agent     string
	Voice     string
	Speed     float64
	Memory    string
	Timeout   time.Duration
	Verbose   bool
}

func parseChatConfig(args []string, getenv func(string) string) (chatConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := chatConfig{}
	fs := flag.NewFlagSet("agent-chat", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ServerURL, "server-url", envOr(getenv, "AGENT_SERVER_URL", defaultServerURL), "agent server URL")
	fs.StringVar(&cfg.STTURL, "stt-url", strings.TrimSpace(getenv("AGENT_STT_URL")), "recognition service URL (required for /mic)")
	fs.StringVar(&cfg.Agent, "agent", envOr(getenv, "AGENT_NAME", defaultAgent), "agent name")
	fs.StringVar(&cfg.Voice, "voice", strings.TrimSpace(getenv("AGENT_TTS_VOICE")), "synthesis voice")
	fs.Float64Var(&cfg.Speed, "speed", 0, "synthesis speed multiplier (0 = server default)")
	fs.StringVar(&cfg.Memory, "memory", strings.TrimSpace(getenv("AGENT_MEMORY_MODE")), "server memory mode")
	fs.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "per-run timeout (e.g. 90s)")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return chatConfig{}, err
	}
	if strings.TrimSpace(cfg.ServerURL) == "" {
		return chatConfig{}, core.NewInvalidArgumentError("server URL is required")
	}
	if strings.TrimSpace(cfg.Agent) == "" {
		return chatConfig{}, core.NewInvalidArgumentError("agent name is required")
	}
	return cfg, nil
}

func envOr(getenv func(string) string, name, fallback string) string {
	if v := strings.TrimSpace(getenv(name)); v != "" {
		return v
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	cfg, err := parseChatConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent-chat: %v\n", err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, logger, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "agent-chat: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg chatConfig, logger *slog.Logger, in io.Reader, out, errOut io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	session, err := live.Connect(ctx, live.Config{ServerURL: cfg.ServerURL, Logger: logger})
	cancel()
	if err != nil {
		return err
	}
	defer session.Disconnect()

	session.OnReconnect(func(attempt int) {
		fmt.Fprintf(errOut, "\n[reconnected after %d attempts]\n", attempt)
	})
	session.OnTranscripts(live.TranscriptHandlers{
		OnFinal: func(tr protocol.UserTranscript) {
			fmt.Fprintf(out, "\n[you] %s\n", strings.TrimSpace(tr.Text))
		},
	})

	var mic *live.Capture
	var player *live.PlaybackScheduler
	defer func() {
		if mic != nil {
			mic.Stop()
		}
		if player != nil {
			_ = player.Close()
		}
	}()

	fmt.Fprintf(out, "connected to %s (agent %s, thread %s)\n", cfg.ServerURL, cfg.Agent, session.Identity().ThreadID)
	fmt.Fprintln(out, "commands: /mic, /mic-off, /tts, /cancel, /exit; anything else is sent to the agent")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/exit", "/quit":
			return nil

		case "/cancel":
			if err := session.Cancel(); err != nil {
				fmt.Fprintf(errOut, "cancel error: %v\n", err)
			}

		case "/mic":
			if cfg.STTURL == "" {
				fmt.Fprintln(errOut, "set -stt-url (or AGENT_STT_URL) to use the microphone")
				continue
			}
			if mic == nil {
				source, err := newFFmpegMicSource()
				if err != nil {
					fmt.Fprintf(errOut, "mic error: %v\n", err)
					continue
				}
				mic = live.NewCapture(session, source, live.CaptureConfig{
					STTURL: cfg.STTURL,
					Agent:  cfg.Agent,
					Logger: logger,
				})
			}
			if err := mic.Start(context.Background()); err != nil {
				fmt.Fprintf(errOut, "mic start error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "microphone on")

		case "/mic-off":
			if mic != nil {
				mic.Stop()
				fmt.Fprintln(out, "microphone off")
			}

		case "/tts":
			if player != nil {
				fmt.Fprintln(out, "playback already on")
				continue
			}
			sink, err := newFFplaySink()
			if err != nil {
				fmt.Fprintf(errOut, "playback error: %v\n", err)
				continue
			}
			player = live.NewPlaybackScheduler(live.AutoDecoder{PCMRate: 24000}, sink, logger)
			subCtx, subCancel := context.WithTimeout(context.Background(), 10*time.Second)
			err = session.SubscribePlayback(subCtx, cfg.Voice, cfg.Speed)
			subCancel()
			if err != nil {
				fmt.Fprintf(errOut, "playback subscribe error: %v\n", err)
				_ = player.Close()
				player = nil
				continue
			}
			if err := session.AttachPlayback(player, "stream"); err != nil {
				fmt.Fprintf(errOut, "playback attach error: %v\n", err)
				_ = player.Close()
				player = nil
				continue
			}
			fmt.Fprintln(out, "playback on")

		default:
			runOne(session, cfg, line, out, errOut)
		}
	}
}

func runOne(session *live.Session, cfg chatConfig, text string, out, errOut io.Writer) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	_, err := session.RunText(ctx, text, live.RunOptions{
		Agent:  cfg.Agent,
		Memory: cfg.Memory,
	}, live.RunCallbacks{
		OnChunk: func(chunk string) { fmt.Fprint(out, chunk) },
	})
	if err != nil {
		if core.IsType(err, core.ErrInterrupted) {
			fmt.Fprintln(out, "\n[interrupted]")
			return
		}
		fmt.Fprintf(errOut, "\nrun error: %v\n", err)
		return
	}
	fmt.Fprintln(out)
}
