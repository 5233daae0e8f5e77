package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"amitool/internal/layer"
	"amitool/internal/media"
	"amitool/internal/uae"
)

type logConfig struct {
	Directory  string `yaml:"directory"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
}

type config struct {
	Logs           logConfig `yaml:"logs"`
	UAEMetadata    string    `yaml:"uaeMetadata"`
	IgnoreErrors   bool      `yaml:"ignoreErrors"`
	LayerBlockSize int       `yaml:"layerBlockSize"`
	CopyChunkSize  int       `yaml:"copyChunkSize"`
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".amitool.yaml"
	}
	return filepath.Join(home, ".amitool.yaml")
}

// loadConfig reads path and fills in defaults. A missing file is not an
// error unless the path was given explicitly.
func loadConfig(path string, explicit bool) (config, error) {
	var cfg config
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return cfg, err
	}

	if d := strings.TrimSpace(cfg.Logs.Directory); d != "" && !filepath.IsAbs(d) {
		cfg.Logs.Directory = filepath.Join(filepath.Dir(path), d)
	}
	if cfg.Logs.MaxSizeMB <= 0 {
		cfg.Logs.MaxSizeMB = 25
	}
	if cfg.Logs.MaxAgeDays <= 0 {
		cfg.Logs.MaxAgeDays = 7
	}
	if cfg.Logs.MaxBackups <= 0 {
		cfg.Logs.MaxBackups = 5
	}
	if cfg.UAEMetadata == "" {
		cfg.UAEMetadata = uae.ModeNone.String()
	}
	if _, err := uae.ParseMode(cfg.UAEMetadata); err != nil {
		return cfg, fmt.Errorf("%s: uaeMetadata: %w", path, err)
	}
	if cfg.LayerBlockSize <= 0 {
		cfg.LayerBlockSize = layer.DefaultBlockSize
	}
	if cfg.LayerBlockSize%512 != 0 {
		return cfg, fmt.Errorf("%s: layerBlockSize %d is not a multiple of 512", path, cfg.LayerBlockSize)
	}
	if cfg.CopyChunkSize <= 0 {
		cfg.CopyChunkSize = media.DefaultChunkSize
	}
	return cfg, nil
}

// setupLogging points the std logger at stderr and, when a log directory
// is configured, a rotated file. The returned logger feeds the library
// packages.
func setupLogging(cfg config, verbosity int) (logr.Logger, error) {
	var out io.Writer = os.Stderr
	if cfg.Logs.Directory != "" {
		if err := os.MkdirAll(cfg.Logs.Directory, 0o755); err != nil {
			return logr.Discard(), fmt.Errorf("create log dir: %w", err)
		}
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Logs.Directory, "amitool.log"),
			MaxSize:    cfg.Logs.MaxSizeMB,
			MaxAge:     cfg.Logs.MaxAgeDays,
			MaxBackups: cfg.Logs.MaxBackups,
			Compress:   cfg.Logs.Compress,
		})
	}
	log.SetOutput(out)
	log.SetFlags(log.LstdFlags)
	stdr.SetVerbosity(verbosity)
	return stdr.New(log.Default()), nil
}
