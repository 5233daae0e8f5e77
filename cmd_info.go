package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"amitool/internal/media"
	"amitool/internal/progressui"
)

func infoCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <media>",
		Short: "Show the partition table of an image or device (read-only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			m, err := media.Open(args[0], false)
			if err != nil {
				return err
			}
			defer m.Close()
			info, err := media.ReadDiskInfo(m, a.types)
			if err != nil {
				return err
			}

			fmt.Println("Disk info")
			fmt.Printf("  Path:    %s\n", args[0])
			fmt.Printf("  Size:    %s (%d bytes)\n", progressui.Human(info.Size), info.Size)
			if typ := media.MediaType(info.Size); typ != "" {
				fmt.Printf("  Media:   %s\n", typ)
			}
			fmt.Printf("  Table:   %s\n", info.Style)
			if info.RDB != nil {
				d := info.RDB.Disk
				vendor, product, rev := d.Vendor()
				fmt.Printf("  Drive:   %s %s %s (%d cyl, %d heads, %d sectors)\n",
					vendor, product, rev, d.Cylinders, d.Heads, d.Sectors)
				fmt.Printf("  RDB:     block %d, %d file systems\n", info.RDB.Block, len(info.RDB.FileSystems))
			}
			fmt.Println()
			fmt.Printf("  %-3s  %-10s  %-22s  %-12s  %-10s  %-8s\n", "#", "Name", "Type", "Offset", "Size", "DosType")
			for _, p := range info.Partitions {
				dt := "-"
				if p.DosType != 0 {
					dt = p.DosType.String()
				}
				name := p.Name
				if p.Bootable {
					name += "*"
				}
				fmt.Printf("  %-3d  %-10s  %-22s  %-12d  %-10s  %-8s\n", p.Number, name, p.Type, p.Offset, progressui.Human(p.Size), dt)
			}
			return nil
		},
	}
}

func devicesCommand() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List block devices usable as media (read-only)",
		RunE: func(_ *cobra.Command, _ []string) error {
			devs, err := media.Discover()
			if err != nil {
				return err
			}
			fmt.Printf("OS: %s\n", runtime.GOOS)
			fmt.Println("This is a SAFE, read-only listing.")
			fmt.Println()
			fmt.Println("Whole-disk devices:")
			fmt.Printf("  %-18s  %-20s  %-8s\n", "Path", "Media", "Size")
			printed := false
			for _, d := range devs {
				if !d.Whole {
					continue
				}
				size, typ := "?", ""
				if m, err := media.Open(d.Path, false); err == nil {
					size, typ = progressui.Human(m.Size()), media.MediaType(m.Size())
					m.Close()
				}
				fmt.Printf("  %-18s  %-20s  %-8s\n", d.Path, typ, size)
				printed = true
			}
			if !printed {
				fmt.Println("  <none detected>")
			}
			if all {
				fmt.Println()
				fmt.Println("Partitions and other devices:")
				for _, d := range devs {
					if d.Whole {
						continue
					}
					reason := d.Reason
					if strings.TrimSpace(reason) == "" {
						reason = "not a whole-disk device"
					}
					fmt.Printf("  %s  (%s)\n", d.Path, reason)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include partitions and other non-whole devices")
	return cmd
}
