package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLoadWebConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := loadWebConfig(func(string) string { return "" })
	if cfg.ListenAddr != defaultListenAddr {
		t.Fatalf("addr = %q", cfg.ListenAddr)
	}
	if cfg.Agent != "ml" || cfg.StaticDir != "web" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	app := newApp(loadWebConfig(func(string) string { return "" }))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestInfoEndpointReflectsEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"AGENT_SERVER_URL": "http://agents.example.com/llm",
		"AGENT_STT_URL":    "http://stt.example.com",
		"AGENT_NAME":       "support",
		"AGENT_TTS_VOICE":  "verse",
	}
	app := newApp(loadWebConfig(func(k string) string { return env[k] }))

	req := httptest.NewRequest(http.MethodGet, "/api/info", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var info map[string]string
	if err := json.Unmarshal(body, &info); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, body)
	}
	if info["serverUrl"] != env["AGENT_SERVER_URL"] || info["agent"] != "support" || info["voice"] != "verse" {
		t.Fatalf("info = %v", info)
	}
}
