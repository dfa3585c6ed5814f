// Package config loads gateway configuration from an ini file read at
// startup, with environment-variable overrides layered on top for a more
// container-friendly deployment style.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	ini "github.com/vaughan0/go-ini"
)

// Device describes one modem to open a Session against.
type Device struct {
	ID   int64
	Port string
	Baud int
}

// Config is the fully resolved gateway configuration.
type Config struct {
	ServerHost string
	ServerPort string

	DBPath string

	DefaultRegion string
	InfoTemplate  string

	WebhookURL string

	Devices []Device
}

// Load reads path (an ini file in the conf.ini layout) and then applies
// MUXO_-prefixed environment variable overrides on top, env winning when
// both are set.
func Load(path string) (*Config, error) {
	file, err := ini.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}

	cfg := &Config{
		ServerHost:    get(file, "SETTINGS", "SERVERHOST", "0.0.0.0"),
		ServerPort:    get(file, "SETTINGS", "SERVERPORT", "8080"),
		DBPath:        get(file, "SETTINGS", "DBPATH", "gateway.sqlite"),
		DefaultRegion: get(file, "SETTINGS", "DEFAULTREGION", "US"),
		InfoTemplate:  get(file, "SETTINGS", "INFOTEMPLATE", "Reply STOP to unsubscribe."),
		WebhookURL:    get(file, "SETTINGS", "WEBHOOKURL", ""),
	}

	cfg.Devices = loadDevices(file)
	applyEnvOverrides(cfg)

	if len(cfg.Devices) == 0 {
		return nil, fmt.Errorf("config: no [DEVICE:*] sections found in %s", path)
	}
	return cfg, nil
}

// get returns the ini value at section/key, or def if absent or the file
// is nil (so callers can treat a missing ini file's sections uniformly).
func get(file ini.File, section, key, def string) string {
	if file == nil {
		return def
	}
	if v, ok := file.Get(section, key); ok && v != "" {
		return v
	}
	return def
}

// loadDevices collects every [DEVICE:<id>] section into a Device, e.g.:
//
//	[DEVICE:1]
//	PORT=/dev/ttyUSB0
//	BAUD=115200
func loadDevices(file ini.File) []Device {
	var devices []Device
	for section, kv := range file {
		if !strings.HasPrefix(section, "DEVICE:") {
			continue
		}
		idStr := strings.TrimPrefix(section, "DEVICE:")
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		baud, _ := strconv.Atoi(kv["BAUD"])
		if baud == 0 {
			baud = 115200
		}
		devices = append(devices, Device{
			ID:   id,
			Port: kv["PORT"],
			Baud: baud,
		})
	}
	return devices
}

// applyEnvOverrides lets a handful of deployment-time settings be overridden
// without touching the ini file, following the env-first style
// kogeler-tooling's loadConfig uses throughout.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MUXO_SERVERHOST"); v != "" {
		cfg.ServerHost = v
	}
	if v := os.Getenv("MUXO_SERVERPORT"); v != "" {
		cfg.ServerPort = v
	}
	if v := os.Getenv("MUXO_DBPATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("MUXO_DEFAULT_REGION"); v != "" {
		cfg.DefaultRegion = v
	}
	if v := os.Getenv("MUXO_WEBHOOK_URL"); v != "" {
		cfg.WebhookURL = v
	}
}
