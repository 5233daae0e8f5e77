package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"amitool/internal/media"
	"amitool/internal/progressui"
)

// regionFlags are the region options shared by blockcopy and verify.
type regionFlags struct {
	srcOffset, dstOffset, size string
}

func (f *regionFlags) register(cmd *cobra.Command, src, dst string) {
	cmd.Flags().StringVar(&f.srcOffset, src+"-offset", "0", "start offset in "+src+" (e.g. 512, 64k, 1m)")
	cmd.Flags().StringVar(&f.dstOffset, dst+"-offset", "0", "start offset in "+dst)
	cmd.Flags().StringVar(&f.size, "size", "0", "bytes to process; 0 runs to the end of "+src)
}

func (f *regionFlags) region(chunk int) (media.Region, error) {
	var r media.Region
	var err error
	if r.SrcOffset, err = parseSize(f.srcOffset); err != nil {
		return r, fmt.Errorf("offset %q: %w", f.srcOffset, err)
	}
	if r.DstOffset, err = parseSize(f.dstOffset); err != nil {
		return r, fmt.Errorf("offset %q: %w", f.dstOffset, err)
	}
	if r.Size, err = parseSize(f.size); err != nil {
		return r, fmt.Errorf("size %q: %w", f.size, err)
	}
	r.ChunkSize = chunk
	return r, nil
}

// textProgress prints a one-line meter, redrawn in place.
func textProgress(op string) media.ProgressFunc {
	return func(p media.Progress) {
		fmt.Fprintf(os.Stderr, "\r%s: %5.1f%%  %s / %s  %s/s  ETA %s   ",
			op, 100*p.Completion(), progressui.Human(p.Processed), progressui.Human(p.Total),
			progressui.Human(int64(p.BytesPerSecond)), p.RemainingTime.Truncate(time.Second))
		if p.Remaining == 0 {
			fmt.Fprintln(os.Stderr)
		}
	}
}

// withUI runs fn under the fullscreen view when enabled, with a context
// that the view cancels on q, Esc or Ctrl-C.
func withUI(ctx context.Context, enabled bool, title string, phases []string, fn func(ctx context.Context, u *progressui.UI) error) error {
	if !enabled {
		return fn(ctx, nil)
	}
	u, err := progressui.New()
	if err != nil {
		return fmt.Errorf("start ui: %w", err)
	}
	defer u.Close()
	u.SetTitle(" " + title + " ")
	u.SetLegend([]string{fmt.Sprintf("%c done   %c pending   %c system   q/Esc stops", progressui.CellDone, progressui.CellFree, progressui.CellSystem)})
	u.SetPhases(phases)
	ctx, cancel := u.Context(ctx)
	defer cancel()
	err = fn(ctx, u)
	if errors.Is(context.Cause(ctx), progressui.ErrInterrupted) {
		return progressui.ErrInterrupted
	}
	if err == nil {
		_ = u.Wait(2 * time.Second)
	}
	return err
}

func blockCopyCommand(a *app) *cobra.Command {
	var src, dst string
	var rf regionFlags
	var ui, verify, create bool
	cmd := &cobra.Command{
		Use:   "blockcopy --src <media> --dst <media>",
		Short: "Copy a raw byte region between images and devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := rf.region(a.cfg.CopyChunkSize)
			if err != nil {
				return err
			}
			in, err := media.Open(src, false)
			if err != nil {
				return err
			}
			defer in.Close()
			if r.Size == 0 {
				r.Size = in.Size() - r.SrcOffset
			}
			var out media.Media
			if _, statErr := os.Stat(dst); create && errors.Is(statErr, os.ErrNotExist) {
				out, err = media.Create(dst, r.DstOffset+r.Size)
			} else {
				out, err = media.Open(dst, true)
			}
			if err != nil {
				return err
			}
			defer out.Close()

			phases := []string{"Copy"}
			if verify {
				phases = append(phases, "Verify")
			}
			err = withUI(cmd.Context(), ui, "BLOCK COPY", phases, func(ctx context.Context, u *progressui.UI) error {
				copyFn, verifyFn := textProgress("copy"), textProgress("verify")
				var t *progressui.Tracker
				if u != nil {
					t = progressui.ChunkTracker(r.Size, 1<<16)
					u.SetSummaryLines([]string{
						fmt.Sprintf("From: %s @ %d", src, r.SrcOffset),
						fmt.Sprintf("To:   %s @ %d", dst, r.DstOffset),
						"Size: " + progressui.Human(r.Size),
					})
					copyFn = u.RegionProgress(t, 0, "copy")
				}
				if err := media.CopyRegion(ctx, in, out, r, copyFn); err != nil {
					return err
				}
				a.log.Info("region copied", "src", src, "dst", dst, "bytes", r.Size)
				if !verify {
					return nil
				}
				if u != nil {
					u.SetPhaseDone("copy")
					t = progressui.ChunkTracker(r.Size, 1<<16)
					verifyFn = u.RegionProgress(t, 0, "verify")
				}
				if err := media.VerifyRegion(ctx, in, out, r, verifyFn); err != nil {
					return err
				}
				if u != nil {
					u.SetPhaseDone("verify")
					u.Refresh(t, "done")
				}
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Printf("Copied %s from %s to %s\n", progressui.Human(r.Size), src, dst)
			return nil
		},
	}
	cmd.Flags().StringVar(&src, "src", "", "source image or device")
	cmd.Flags().StringVar(&dst, "dst", "", "destination image or device [DANGEROUS on devices]")
	rf.register(cmd, "src", "dst")
	cmd.Flags().BoolVar(&ui, "ui", false, "fullscreen progress view")
	cmd.Flags().BoolVar(&verify, "verify", false, "compare the region after copying")
	cmd.Flags().BoolVar(&create, "create", false, "create the destination image when missing")
	_ = cmd.MarkFlagRequired("src")
	_ = cmd.MarkFlagRequired("dst")
	return cmd
}

func verifyCommand(a *app) *cobra.Command {
	var first, second string
	var rf regionFlags
	var ui bool
	cmd := &cobra.Command{
		Use:   "verify --a <media> --b <media>",
		Short: "Compare raw byte regions of two images or devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := rf.region(a.cfg.CopyChunkSize)
			if err != nil {
				return err
			}
			ma, err := media.Open(first, false)
			if err != nil {
				return err
			}
			defer ma.Close()
			mb, err := media.Open(second, false)
			if err != nil {
				return err
			}
			defer mb.Close()
			if r.Size == 0 {
				r.Size = ma.Size() - r.SrcOffset
			}
			err = withUI(cmd.Context(), ui, "VERIFY", []string{"Verify"}, func(ctx context.Context, u *progressui.UI) error {
				fn := textProgress("verify")
				if u != nil {
					fn = u.RegionProgress(progressui.ChunkTracker(r.Size, 1<<16), 0, "verify")
				}
				err := media.VerifyRegion(ctx, ma, mb, r, fn)
				if err == nil && u != nil {
					u.SetPhaseDone("verify")
					u.LayoutAndDraw()
				}
				return err
			})
			if err != nil {
				return err
			}
			fmt.Printf("Regions match (%s)\n", progressui.Human(r.Size))
			return nil
		},
	}
	cmd.Flags().StringVar(&first, "a", "", "first image or device")
	cmd.Flags().StringVar(&second, "b", "", "second image or device")
	rf.register(cmd, "a", "b")
	cmd.Flags().BoolVar(&ui, "ui", false, "fullscreen progress view")
	_ = cmd.MarkFlagRequired("a")
	_ = cmd.MarkFlagRequired("b")
	return cmd
}
