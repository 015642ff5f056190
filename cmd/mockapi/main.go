package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Farengier/aircon-market/internal/signal"
	"github.com/Farengier/aircon-market/internal/web"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var conf *string
var hashPassword *string

func init() {
	conf = flag.String("config", "config.yml", "config file path")
	hashPassword = flag.String("hash-password", "", "print the bcrypt hash of a password for the accounts section and exit")
}

func main() {
	flag.Parse()

	if *hashPassword != "" {
		hash, err := web.HashPassword(*hashPassword)
		if err != nil {
			fmt.Printf("Error hashing password: %s\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := initConfig()
	if err != nil {
		fmt.Printf("Error reading config: %s\n", err)
		fmt.Println("Usage mockapi --config=<file_path>")
		fmt.Println()
		os.Exit(1)
	}

	err = initLogging(cfg.Log)
	if err != nil {
		fmt.Printf("Error log init: %s\n", err)
		os.Exit(1)
	}

	lc := signal.New()
	lc.Notify()
	backend := web.NewBackend(cfg.WebAccounts())
	lc.Run(func() { web.Start(cfg.Server, backend, lc) })
	lc.Wait()
	log.Info("[MockAPI] Closing")
}

func initConfig() (*YamlConfig, error) {
	if conf == nil || *conf == "" {
		return nil, fmt.Errorf("config param is empty")
	}

	f, err := os.Open(*conf)
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
	return cfg, nil
}

func initLogging(cfg LogConfig) error {
	var w io.Writer
	w = os.Stdout
	if cfg.Path != "" {
		f, err := os.Create(cfg.Path)
		if err != nil {
			return fmt.Errorf("creating log file failed: %w", err)
		}
		w = io.MultiWriter(w, f)
	}

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("level parse failed: %w", err)
	}

	log.SetOutput(w)
	log.SetLevel(lvl)
	return nil
}
