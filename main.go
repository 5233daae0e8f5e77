// amitool.go
// Amiga disk image toolkit: inspect RDB/MBR/GPT media, copy files between
// FFS/OFS, PFS3, FAT volumes, zip archives and host directories, and move
// raw regions between images and devices.
// Cobra CLI + optional tcell fullscreen progress for block operations.
//
// Build:
//
//	go build -o amitool .
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"amitool/internal/media"
	"amitool/internal/uae"
)

func must(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
}

func parseSize(s string) (int64, error) {
	ss := strings.TrimSpace(strings.ToLower(s))
	if ss == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := int64(1)
	switch {
	case strings.HasSuffix(ss, "k"):
		mult = 1024
		ss = strings.TrimSuffix(ss, "k")
	case strings.HasSuffix(ss, "m"):
		mult = 1024 * 1024
		ss = strings.TrimSuffix(ss, "m")
	case strings.HasSuffix(ss, "g"):
		mult = 1024 * 1024 * 1024
		ss = strings.TrimSuffix(ss, "g")
	case strings.HasSuffix(ss, "b"):
		ss = strings.TrimSuffix(ss, "b")
	}
	v, err := strconv.ParseFloat(ss, 64)
	if err != nil {
		return 0, err
	}
	return int64(v * float64(mult)), nil
}

// app is the state shared by every command once flags and the config
// file are loaded.
type app struct {
	fs    afero.Fs
	cfg   config
	log   logr.Logger
	types *media.PartitionTypes

	configPath string
	verbose    int
	ignore     bool
}

// uaeMode is the metadata mode of a command, the flag winning over the
// config file.
func (a *app) uaeMode(flag string) (uae.Mode, error) {
	if flag == "" {
		flag = a.cfg.UAEMetadata
	}
	return uae.ParseMode(flag)
}

// warn prints the recoverable problems a volume met while reading.
func warn(lines []string) {
	for _, l := range lines {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", l)
	}
}

func main() {
	a := &app{fs: afero.NewOsFs(), log: logr.Discard(), types: media.NewPartitionTypes()}

	root := &cobra.Command{
		Use:           "amitool",
		Short:         "Amiga disk image toolkit",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path, explicit := a.configPath, a.configPath != ""
			if !explicit {
				path = defaultConfigPath()
			}
			cfg, err := loadConfig(path, explicit)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("ignore-errors") {
				cfg.IgnoreErrors = a.ignore
			}
			a.cfg = cfg
			a.log, err = setupLogging(cfg, a.verbose)
			return err
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default $HOME/.amitool.yaml)")
	root.PersistentFlags().CountVarP(&a.verbose, "verbose", "v", "more log output (repeatable)")
	root.PersistentFlags().BoolVar(&a.ignore, "ignore-errors", false, "read past checksum and block type errors")

	root.AddCommand(
		infoCommand(a),
		devicesCommand(),
		listCommand(a),
		copyCommand(a),
		blockCopyCommand(a),
		verifyCommand(a),
		layerCommand(a),
		formatCommand(a),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	must(err)
}
