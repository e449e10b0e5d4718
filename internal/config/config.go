package config

import (
	"errors"
	"net/url"
	"strings"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

type Options struct {
	ServerURL   string `long:"server-url" env:"PARLEY_SERVER_URL" description:"Chat server base URL (e.g. https://chat.example.com)"`
	Email       string `long:"email" env:"PARLEY_EMAIL" description:"Account email used to prefill the login form"`
	Room        string `long:"room" env:"PARLEY_ROOM" description:"Room to join automatically after connecting"`
	AutoConnect bool   `long:"auto-connect" env:"PARLEY_AUTO_CONNECT" description:"Connect on startup when a stored session exists"`
	NoPersist   bool   `long:"no-persist" env:"PARLEY_NO_PERSIST" description:"Keep credentials in memory only"`
	Debug       bool   `long:"debug" env:"PARLEY_DEBUG" description:"Enable verbose debug output"`
}

type APIEndpoints struct {
	BaseURL      string
	LoginURL     string
	RegisterURL  string
	RefreshURL   string
	WebsocketURL string
}

const (
	loginPath    = "/auth/login"
	registerPath = "/auth/register"
	refreshPath  = "/auth/refresh"
	chatPath     = "/chat"
)

func ParseOptions() (Options, error) {
	_ = godotenv.Load()
	opts := Options{}
	if _, err := flags.Parse(&opts); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func ValidateRequired(opts Options) error {
	if strings.TrimSpace(opts.ServerURL) == "" {
		return errors.New("server URL is required")
	}
	return nil
}

func BuildEndpoints(rawBaseURL string) (APIEndpoints, error) {
	parsed, err := parseBaseURL(rawBaseURL)
	if err != nil {
		return APIEndpoints{}, err
	}

	apiBase := strings.TrimRight(parsed.String(), "/") + "/api"

	ws := *parsed
	if strings.EqualFold(parsed.Scheme, "https") {
		ws.Scheme = "wss"
	} else {
		ws.Scheme = "ws"
	}
	ws.Path = chatPath

	return APIEndpoints{
		BaseURL:      apiBase,
		LoginURL:     apiBase + loginPath,
		RegisterURL:  apiBase + registerPath,
		RefreshURL:   apiBase + refreshPath,
		WebsocketURL: ws.String(),
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	value := strings.TrimSpace(raw)
	parsed, err := url.Parse(value)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.New("expected absolute URL like https://example.com")
	}
	if !strings.EqualFold(parsed.Scheme, "http") && !strings.EqualFold(parsed.Scheme, "https") {
		return nil, errors.New("server URL scheme must be http or https")
	}

	// Normalize any pasted endpoint/path back to the canonical base.
	parsed.Path = ""
	parsed.RawPath = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed, nil
}
