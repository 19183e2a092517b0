// Command agent-web hosts the browser client for the live agent: static
// assets plus a small config endpoint the page reads its connection
// parameters from.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/joho/godotenv"
)

const defaultListenAddr = ":3000"

type webConfig struct {
	ListenAddr string
	ServerURL  string
	STTURL     string
	Agent      string
	Voice      string
	StaticDir  string
}

func loadWebConfig(getenv func(string) string) webConfig {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := webConfig{
		ListenAddr: strings.TrimSpace(getenv("AGENT_WEB_ADDR")),
		ServerURL:  strings.TrimSpace(getenv("AGENT_SERVER_URL")),
		STTURL:     strings.TrimSpace(getenv("AGENT_STT_URL")),
		Agent:      strings.TrimSpace(getenv("AGENT_NAME")),
		Voice:      strings.TrimSpace(getenv("AGENT_TTS_VOICE")),
		StaticDir:  strings.TrimSpace(getenv("AGENT_WEB_STATIC_DIR")),
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.Agent == "" {
		cfg.Agent = "ml"
	}
	if cfg.StaticDir == "" {
		cfg.StaticDir = "web"
	}
	return cfg
}

func newApp(cfg webConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
	})
	app.Use(compress.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/api/info", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"serverUrl": cfg.ServerURL,
			"sttUrl":    cfg.STTURL,
			"agent":     cfg.Agent,
			"voice":     cfg.Voice,
		})
	})

	// Long-lived assets get a day of cache; the page itself stays fresh.
	app.Static("/library", cfg.StaticDir+"/library", fiber.Static{MaxAge: 86400})
	app.Static("/script", cfg.StaticDir+"/script", fiber.Static{MaxAge: 86400})
	app.Static("/", cfg.StaticDir+"/public")

	app.Get("/*", func(c *fiber.Ctx) error {
		return c.SendFile(cfg.StaticDir + "/public/index.html")
	})

	return app
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg := loadWebConfig(os.Getenv)
	app := newApp(cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(cfg.ListenAddr)
	}()
	logger.Info("agent-web listening", "addr", cfg.ListenAddr, "static", cfg.StaticDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "agent-web: %v\n", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		logger.Info("agent-web shutting down", "signal", sig.String())
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			fmt.Fprintf(os.Stderr, "agent-web shutdown: %v\n", err)
			os.Exit(1)
		}
	}
}
