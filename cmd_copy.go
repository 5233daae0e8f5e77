package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"amitool/internal/amiga"
	"amitool/internal/entry"
	"amitool/internal/progressui"
)

func listCommand(a *app) *cobra.Command {
	var recursive bool
	var uaeFlag string
	cmd := &cobra.Command{
		Use:   "list <path>",
		Short: "List entries of a host directory, zip archive, FAT image or Amiga volume",
		Long: `List entries below a path. Media paths may select a partition:

  disk.hdf/rdb/dh0/s        partition DH0 of an RDB disk
  card.img/mbr/1            first MBR partition
  workbench.adf/devs/*.info wildcard in the last component`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := a.uaeMode(uaeFlag)
			if err != nil {
				return err
			}
			c, err := a.openContainer(args[0], false, "", mode)
			if err != nil {
				return err
			}
			defer c.Close()
			ctx := cmd.Context()
			it := entry.NewIterator(c.src, c.path, recursive, mode)
			if err := it.Initialize(ctx); err != nil {
				return err
			}
			var files, dirs int
			var bytes int64
			for {
				more, err := it.Next(ctx)
				if err != nil {
					return err
				}
				if !more {
					break
				}
				e := it.Current()
				name := strings.Join(e.RelativePathComponents, "/")
				size := "<dir>"
				switch {
				case e.Type == entry.TypeLinkSoft:
					size = "<link>"
					name += " -> " + e.LinkTarget
				case e.IsDir():
					dirs++
				default:
					files++
					bytes += e.Size
					size = fmt.Sprint(e.Size)
				}
				date := ""
				if !e.Date.IsZero() {
					date = e.Date.Local().Format("2006-01-02 15:04:05")
				}
				fmt.Printf("%10s  %s  %-19s  %s\n", size, amiga.FormatProtection(e.Protection), date, name)
				if e.Comment != "" {
					fmt.Printf("%10s  : %s\n", "", e.Comment)
				}
			}
			fmt.Printf("%d files, %d directories, %s (%s)\n", files, dirs, progressui.Human(bytes), c.kind)
			warn(c.warnings())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "descend into directories")
	cmd.Flags().StringVar(&uaeFlag, "uae", "", "host metadata: none|uaefsdb|uaemetafile")
	return cmd
}

func copyCommand(a *app) *cobra.Command {
	var recursive, create, quiet bool
	var uaeFlag, overlay string
	cmd := &cobra.Command{
		Use:   "copy <src> <dst>",
		Short: "Copy files between host directories, zip archives, FAT images and Amiga volumes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := a.uaeMode(uaeFlag)
			if err != nil {
				return err
			}
			src, err := a.openContainer(args[0], false, "", mode)
			if err != nil {
				return fmt.Errorf("source: %w", err)
			}
			defer src.Close()
			dst, err := a.openContainer(args[1], true, overlay, mode)
			if err != nil {
				return fmt.Errorf("destination: %w", err)
			}
			if dst.dst == nil {
				dst.Close()
				return fmt.Errorf("destination: %s is read-only", dst.kind)
			}

			it := entry.NewIterator(src.src, src.path, recursive, mode)
			w := entry.NewWriter(dst.dst, dst.path, create)
			opts := entry.CopyOptions{Logger: a.log}
			if !quiet {
				opts.Progress = func(e entry.Entry) {
					fmt.Println(strings.Join(e.RelativePathComponents, "/"))
				}
			}
			st, err := entry.Copy(cmd.Context(), it, w, opts)
			// closing the writer flushes host metadata
			if cerr := w.Close(); err == nil {
				err = cerr
			}
			warn(src.warnings())
			warn(dst.warnings())
			if err != nil {
				return err
			}
			fmt.Printf("Copied %d files, %d directories, %s", st.Files, st.Dirs, progressui.Human(st.Bytes))
			if st.Skipped > 0 {
				fmt.Printf(", skipped %d", st.Skipped)
			}
			fmt.Println()
			if overlay != "" {
				fmt.Fprintf(os.Stderr, "Changes staged in %s; run 'amitool layer flush' to commit them\n", overlay)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "copy directories recursively")
	cmd.Flags().BoolVar(&create, "create", false, "create missing destination directories")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print copied entries")
	cmd.Flags().StringVar(&uaeFlag, "uae", "", "host metadata: none|uaefsdb|uaemetafile")
	cmd.Flags().StringVar(&overlay, "overlay", "", "stage media writes in this overlay file instead of the media")
	return cmd
}
