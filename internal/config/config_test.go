package config

import (
	"testing"
)

func TestBuildEndpoints_DerivesAuthAndWebsocketURLs(t *testing.T) {
	endpoints, err := BuildEndpoints("https://chat.example.com")
	if err != nil {
		t.Fatalf("BuildEndpoints() error = %v", err)
	}
	if endpoints.LoginURL != "https://chat.example.com/api/auth/login" {
		t.Fatalf("LoginURL = %q", endpoints.LoginURL)
	}
	if endpoints.RefreshURL != "https://chat.example.com/api/auth/refresh" {
		t.Fatalf("RefreshURL = %q", endpoints.RefreshURL)
	}
	if endpoints.WebsocketURL != "wss://chat.example.com/chat" {
		t.Fatalf("WebsocketURL = %q", endpoints.WebsocketURL)
	}
}

func TestBuildEndpoints_NormalizesPastedPath(t *testing.T) {
	endpoints, err := BuildEndpoints("http://localhost:3000/api/auth/login?next=/dashboard")
	if err != nil {
		t.Fatalf("BuildEndpoints() error = %v", err)
	}
	if endpoints.BaseURL != "http://localhost:3000/api" {
		t.Fatalf("BaseURL = %q", endpoints.BaseURL)
	}
	if endpoints.WebsocketURL != "ws://localhost:3000/chat" {
		t.Fatalf("WebsocketURL = %q", endpoints.WebsocketURL)
	}
}

func TestBuildEndpoints_RejectsBadURLs(t *testing.T) {
	for _, raw := range []string{"", "chat.example.com", "ftp://chat.example.com"} {
		if _, err := BuildEndpoints(raw); err == nil {
			t.Fatalf("BuildEndpoints(%q) expected error", raw)
		}
	}
}

func TestMergeOptionsWithSettings_CLIWins(t *testing.T) {
	saved := Settings{ServerURL: "https://saved.example.com", Email: "saved@example.test", Room: "general", Debug: true}
	merged := MergeOptionsWithSettings(Options{ServerURL: "https://cli.example.com"}, saved)
	if merged.ServerURL != "https://cli.example.com" {
		t.Fatalf("ServerURL = %q", merged.ServerURL)
	}
	if merged.Email != "saved@example.test" || merged.Room != "general" || !merged.Debug {
		t.Fatalf("merged = %#v", merged)
	}
}
