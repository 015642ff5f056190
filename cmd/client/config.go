package main

import (
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type YamlConfig struct {
	Log     LogConfig     `yaml:"log"`
	Store   StoreConfig   `yaml:"store"`
	API     APIConfig     `yaml:"api"`
	Session SessionConfig `yaml:"session"`
	Push    PushConfig    `yaml:"push"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path"`
}

type StoreConfig struct {
	Path      string `yaml:"path"`
	BackupCnt int    `yaml:"backups"`
	Sync      string `yaml:"sync"`
}

func (sc StoreConfig) DBDirPath() string {
	return sc.Path
}
func (sc StoreConfig) SyncInterval() time.Duration {
	return parseDuration("store sync interval", sc.Sync, time.Minute)
}
func (sc StoreConfig) Backups() int {
	if sc.BackupCnt <= 0 {
		return 3
	}
	return sc.BackupCnt
}

type APIConfig struct {
	URL     string `yaml:"base_url"`
	TimeOut string `yaml:"timeout"`
}

func (ac APIConfig) BaseURL() string {
	return ac.URL
}
func (ac APIConfig) Timeout() time.Duration {
	return parseDuration("api timeout", ac.TimeOut, 30*time.Second)
}

type SessionConfig struct {
	StoreTimeOut string `yaml:"store_timeout"`
}

func (sc SessionConfig) StoreTimeout() time.Duration {
	return parseDuration("session store timeout", sc.StoreTimeOut, 5*time.Second)
}

type PushConfig struct {
	// DeviceToken pins the push identifier; empty means a generated installation id.
	DeviceToken string `yaml:"device_token"`
	TimeOut     string `yaml:"timeout"`
}

func (pc PushConfig) Timeout() time.Duration {
	return parseDuration("push timeout", pc.TimeOut, 10*time.Second)
}

func parseDuration(name, value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Errorf("[Config] wrong %s format: %s", name, err)
		return def
	}
	return d
}

func initConfig(path string) (*YamlConfig, error) {
	if path == "" {
		return nil, fmt.Errorf("config param is empty")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open failed: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	cfg := &YamlConfig{}
	err = dec.Decode(cfg)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("decoding failed: %w", err)
	}
	if cfg.API.URL == "" {
		return nil, fmt.Errorf("api.base_url is required")
	}
	return cfg, nil
}

// initLogging keeps stdout for command output.
func initLogging(cfg LogConfig) error {
	var w io.Writer
	w = os.Stderr
	if cfg.Path != "" {
		f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("creating log file failed: %w", err)
		}
		w = f
	}

	level := cfg.Level
	if level == "" {
		level = "warn"
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("level parse failed: %w", err)
	}

	log.SetOutput(w)
	log.SetLevel(lvl)
	return nil
}
