package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/yakeru/usbwriter/mirror"
)

// Config is the resolved configuration: defaults, then the config file, then
// USBWRITER_* environment variables, then flags.
type Config struct {
	BackendURL string
	LogLevel   string
	LogFile    string

	RefreshInterval time.Duration
	Rescan          bool

	PollBaseInterval   time.Duration
	PollNearInterval   time.Duration
	PollFinalInterval  time.Duration
	PollRequestTimeout time.Duration
	PollWarmup         time.Duration

	StallThreshold      time.Duration
	StallFinalThreshold time.Duration

	HistoryDB    string
	PrefsDB      string
	MetricsAddr  string
	MessagesFile string
	Animate      bool

	Mirror mirror.Config
}

func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "usbwriter")
	}
	return filepath.Join(home, ".local", "share", "usbwriter")
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "usbwriter")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend_url", "http://localhost:5000/api")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("refresh_interval", 5*time.Second)
	v.SetDefault("rescan", runtime.GOOS == "linux")

	v.SetDefault("poll.base_interval", 2*time.Second)
	v.SetDefault("poll.near_interval", time.Second)
	v.SetDefault("poll.final_interval", 200*time.Millisecond)
	v.SetDefault("poll.request_timeout", 3*time.Second)
	v.SetDefault("poll.warmup", 3*time.Second)

	v.SetDefault("stall.threshold", 60*time.Second)
	v.SetDefault("stall.final_threshold", 20*time.Second)

	v.SetDefault("history_db", filepath.Join(dataDir(), "history.db"))
	v.SetDefault("prefs_db", filepath.Join(dataDir(), "prefs.db"))
	v.SetDefault("metrics_addr", "")
	v.SetDefault("messages_file", "")
	v.SetDefault("animate", true)

	v.SetDefault("mirror.bucket", "")
	v.SetDefault("mirror.region", "us-east-1")
	v.SetDefault("mirror.prefix", "")
	v.SetDefault("mirror.dest", "")
}

// loadConfig reads the config file and environment into v. A missing default
// config file is not an error; a missing explicit one is.
func loadConfig(v *viper.Viper, path string, flags *pflag.FlagSet) (Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("USBWRITER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	for key, flag := range map[string]string{
		"backend_url": "backend-url",
		"log_level":   "log-level",
		"log_file":    "log-file",
	} {
		if f := flags.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		BackendURL: v.GetString("backend_url"),
		LogLevel:   v.GetString("log_level"),
		LogFile:    v.GetString("log_file"),

		RefreshInterval: v.GetDuration("refresh_interval"),
		Rescan:          v.GetBool("rescan"),

		PollBaseInterval:   v.GetDuration("poll.base_interval"),
		PollNearInterval:   v.GetDuration("poll.near_interval"),
		PollFinalInterval:  v.GetDuration("poll.final_interval"),
		PollRequestTimeout: v.GetDuration("poll.request_timeout"),
		PollWarmup:         v.GetDuration("poll.warmup"),

		StallThreshold:      v.GetDuration("stall.threshold"),
		StallFinalThreshold: v.GetDuration("stall.final_threshold"),

		HistoryDB:    v.GetString("history_db"),
		PrefsDB:      v.GetString("prefs_db"),
		MetricsAddr:  v.GetString("metrics_addr"),
		MessagesFile: v.GetString("messages_file"),
		Animate:      v.GetBool("animate"),

		Mirror: mirror.Config{
			Bucket: v.GetString("mirror.bucket"),
			Region: v.GetString("mirror.region"),
			Prefix: v.GetString("mirror.prefix"),
			Dest:   v.GetString("mirror.dest"),
		},
	}
	if cfg.BackendURL == "" {
		return Config{}, errors.New("backend_url must not be empty")
	}
	return cfg, nil
}
