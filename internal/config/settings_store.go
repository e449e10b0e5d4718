package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

type Settings struct {
	ServerURL   string `json:"server_url"`
	Email       string `json:"email"`
	Room        string `json:"room,omitempty"`
	AutoConnect bool   `json:"auto_connect"`
	Debug       bool   `json:"debug"`
}

func SettingsPath() (string, error) {
	root, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "parley", "settings.json"), nil
}

func LoadSettings() (Settings, error) {
	path, err := SettingsPath()
	if err != nil {
		return Settings{}, err
	}
	return loadSettingsFile(path)
}

func loadSettingsFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func SaveSettings(settings Settings) error {
	path, err := SettingsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

// MergeOptionsWithSettings fills blank CLI options from saved settings.
// Explicit flags always win.
func MergeOptionsWithSettings(cli Options, saved Settings) Options {
	if strings.TrimSpace(cli.ServerURL) == "" {
		cli.ServerURL = saved.ServerURL
	}
	if strings.TrimSpace(cli.Email) == "" {
		cli.Email = saved.Email
	}
	if strings.TrimSpace(cli.Room) == "" {
		cli.Room = saved.Room
	}
	if !cli.AutoConnect {
		cli.AutoConnect = saved.AutoConnect
	}
	if !cli.Debug {
		cli.Debug = saved.Debug
	}
	return cli
}

func SettingsFromOptions(opts Options) Settings {
	return Settings{
		ServerURL:   strings.TrimSpace(opts.ServerURL),
		Email:       strings.TrimSpace(opts.Email),
		Room:        strings.TrimSpace(opts.Room),
		AutoConnect: opts.AutoConnect,
		Debug:       opts.Debug,
	}
}
