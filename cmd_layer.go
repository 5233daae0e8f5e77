package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"amitool/internal/media"
	"amitool/internal/progressui"
)

func layerCommand(a *app) *cobra.Command {
	var base, overlay string
	cmd := &cobra.Command{
		Use:   "layer",
		Short: "Stage writes to media in an overlay file and commit them later",
	}
	cmd.PersistentFlags().StringVar(&base, "base", "", "base image or device")
	cmd.PersistentFlags().StringVar(&overlay, "overlay", "", "overlay file")
	_ = cmd.MarkPersistentFlagRequired("base")
	_ = cmd.MarkPersistentFlagRequired("overlay")

	open := func(writable bool) (*layeredMedia, error) {
		m, err := media.Open(base, writable)
		if err != nil {
			return nil, err
		}
		lm, err := a.openLayered(m, overlay)
		if err != nil {
			m.Close()
			return nil, err
		}
		return lm, nil
	}

	info := &cobra.Command{
		Use:   "info",
		Short: "Show how much of the base an overlay covers",
		RunE: func(_ *cobra.Command, _ []string) error {
			lm, err := open(false)
			if err != nil {
				return err
			}
			defer lm.Close()
			fmt.Printf("Overlay: %s\n", overlay)
			fmt.Printf("  Base size:  %s (%d bytes)\n", progressui.Human(lm.Size()), lm.Size())
			fmt.Printf("  Block size: %d\n", lm.BlockSize())
			fmt.Printf("  Staged:     %d of %d blocks\n", lm.Allocated(), lm.Blocks())
			return nil
		},
	}

	var ui, reset bool
	flush := &cobra.Command{
		Use:   "flush",
		Short: "Write every staged block into the base",
		RunE: func(cmd *cobra.Command, _ []string) error {
			lm, err := open(true)
			if err != nil {
				return err
			}
			defer lm.Close()
			blocks := lm.Allocated()
			err = withUI(cmd.Context(), ui, "LAYER FLUSH", []string{"Flush"}, func(ctx context.Context, u *progressui.UI) error {
				var fn func(flushed, total int)
				if u != nil {
					t := progressui.NewTracker(int64(blocks)*int64(lm.BlockSize()), int64(lm.BlockSize()))
					u.SetSummaryLines([]string{"Base: " + base, "Overlay: " + overlay})
					fn = u.FlushProgress(t, "flush")
				}
				if err := lm.FlushLayer(ctx, fn); err != nil {
					return err
				}
				if u != nil {
					u.SetPhaseDone("flush")
					u.LayoutAndDraw()
				}
				return nil
			})
			if err != nil {
				return err
			}
			a.log.Info("overlay flushed", "base", base, "overlay", overlay, "blocks", blocks)
			if reset {
				if err := lm.Reset(); err != nil {
					return err
				}
			}
			fmt.Printf("Flushed %d blocks into %s\n", blocks, base)
			return nil
		},
	}
	flush.Flags().BoolVar(&ui, "ui", false, "fullscreen progress view")
	flush.Flags().BoolVar(&reset, "reset", false, "mark every block unstaged after flushing")

	var offset, in string
	write := &cobra.Command{
		Use:   "write",
		Short: "Stage the bytes of a file at an offset without touching the base",
		RunE: func(_ *cobra.Command, _ []string) error {
			off, err := parseSize(offset)
			if err != nil {
				return fmt.Errorf("offset %q: %w", offset, err)
			}
			data, err := afero.ReadFile(a.fs, in)
			if err != nil {
				return err
			}
			lm, err := open(false)
			if err != nil {
				return err
			}
			defer lm.Close()
			if _, err := lm.WriteAt(data, off); err != nil {
				return err
			}
			fmt.Printf("Staged %d bytes at %d in %s (%d blocks staged)\n", len(data), off, overlay, lm.Allocated())
			return nil
		},
	}
	write.Flags().StringVar(&offset, "offset", "0", "byte offset in the base (e.g. 1024, 64k)")
	write.Flags().StringVar(&in, "in", "", "file holding the bytes")
	_ = write.MarkFlagRequired("in")

	var out, size string
	read := &cobra.Command{
		Use:   "read",
		Short: "Read bytes through the overlay into a file",
		RunE: func(_ *cobra.Command, _ []string) error {
			off, err := parseSize(offset)
			if err != nil {
				return fmt.Errorf("offset %q: %w", offset, err)
			}
			n, err := parseSize(size)
			if err != nil {
				return fmt.Errorf("size %q: %w", size, err)
			}
			lm, err := open(false)
			if err != nil {
				return err
			}
			defer lm.Close()
			f, err := a.fs.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = io.Copy(f, io.NewSectionReader(lm, off, n))
			return err
		},
	}
	read.Flags().StringVar(&offset, "offset", "0", "byte offset in the base")
	read.Flags().StringVar(&size, "size", "512", "bytes to read")
	read.Flags().StringVar(&out, "out", "", "output file")
	_ = read.MarkFlagRequired("out")

	cmd.AddCommand(info, flush, write, read)
	return cmd
}
