package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"amitool/internal/amiga"
	"amitool/internal/fatvol"
	"amitool/internal/ffs"
	"amitool/internal/media"
	"amitool/internal/progressui"
)

var amigaFileSystems = map[string]amiga.DosType{
	"ofs":      amiga.DOS0,
	"ffs":      amiga.DOS1,
	"ofs-intl": amiga.DOS2,
	"ffs-intl": amiga.DOS3,
}

func formatCommand(a *app) *cobra.Command {
	var fsName, sizeStr, label, oem string
	var heads, spt int
	var force, ui bool
	cmd := &cobra.Command{
		Use:   "format <image|device>",
		Short: "Write an empty OFS/FFS or FAT12/16/32 volume",
		Long: `Write an empty volume over a whole image or device, or over one
partition of it (disk.hdf/rdb/dh1). Image files are created when missing
and need --size; devices need --force.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			fsName = strings.ToLower(fsName)
			if media.IsDevice(target) && !force {
				return fmt.Errorf("refusing to format device %s without --force", target)
			}

			var m, whole media.Media
			loc, err := media.ResolvePath(a.fs, target)
			switch {
			case err == nil:
				var part media.Partition
				whole, m, part, err = a.openMedia(loc, true, "")
				if err != nil {
					return err
				}
				if loc.Table != "" {
					fmt.Printf("Partition %d %s: %s at %d\n", part.Number, part.Name, progressui.Human(part.Size), part.Offset)
				}
			case sizeStr == "":
				return fmt.Errorf("%s does not exist; --size is required to create it", target)
			default:
				size, err := parseSize(sizeStr)
				if err != nil {
					return fmt.Errorf("size %q: %w", sizeStr, err)
				}
				if whole, err = media.Create(target, size); err != nil {
					return err
				}
				m = whole
			}
			defer whole.Close()
			size := m.Size()

			fmt.Println("Format plan")
			fmt.Printf("  Target: %s\n", target)
			fmt.Printf("  Size:   %s (%d bytes)\n", progressui.Human(size), size)
			fmt.Printf("  FS:     %s\n", fsName)

			if dt, ok := amigaFileSystems[fsName]; ok {
				if label == "" {
					label = "Empty"
				}
				if err := ffs.Format(m, size, ffs.FormatOptions{DosType: dt, Name: label, Date: time.Now()}); err != nil {
					return err
				}
				a.log.Info("formatted", "target", target, "dostype", dt.String(), "name", label)
				fmt.Printf("Formatted %s as %s volume %q\n", target, dt.Name(), label)
				return nil
			}

			ft, err := fatvol.ParseType(fsName)
			if err != nil {
				return fmt.Errorf("unknown file system %q (want ofs, ffs, ofs-intl, ffs-intl, fat12, fat16 or fat32)", fsName)
			}
			g, err := fatvol.Preset(ft, size)
			if err != nil {
				return err
			}
			if heads > 0 {
				g.NumHeads = uint16(heads)
			}
			if spt > 0 {
				g.SectorsPerTrack = uint16(spt)
			}
			opts := fatvol.FormatOptions{Type: ft, Label: label, OEM: oem, Serial: uint32(time.Now().Unix()), Geometry: &g}
			phases := []string{fatvol.PhaseBoot, fatvol.PhaseFAT1, fatvol.PhaseFAT2, fatvol.PhaseRoot}
			var l fatvol.Layout
			err = withUI(cmd.Context(), ui, "FORMAT "+strings.ToUpper(fsName), phases, func(_ context.Context, u *progressui.UI) error {
				if u != nil {
					t := progressui.NewTracker(size, int64(g.BytesPerSector))
					probe := g
					if lay, err := probe.Compute(ft); err == nil {
						t.MarkSystem(0, probe.Data(lay)*int64(g.BytesPerSector))
					}
					u.SetSummaryLines([]string{"Target: " + target, "Size: " + progressui.Human(size)})
					opts.Phase = u.PhaseProgress(t, int64(g.BytesPerSector))
				}
				var err error
				g, l, err = fatvol.Format(m, size, opts)
				return err
			})
			if err != nil {
				return err
			}
			a.log.Info("formatted", "target", target, "type", ft, "clusters", l.Clusters)
			fmt.Printf("Formatted %s as FAT%d: %d clusters of %d bytes, %d sectors per FAT\n",
				target, ft, l.Clusters, int(g.SectorsPerCluster)*int(g.BytesPerSector), l.FATSectors)
			return nil
		},
	}
	cmd.Flags().StringVar(&fsName, "fs", "ffs", "ofs|ffs|ofs-intl|ffs-intl|fat12|fat16|fat32")
	cmd.Flags().StringVar(&sizeStr, "size", "", "size of a new image (e.g. 880k, 1440k, 32m, 2g)")
	cmd.Flags().StringVar(&label, "label", "", "volume name")
	cmd.Flags().StringVar(&oem, "oem", "", "FAT OEM string (<=8 ASCII)")
	cmd.Flags().IntVar(&heads, "heads", 0, "override number of heads (FAT)")
	cmd.Flags().IntVar(&spt, "spt", 0, "override sectors per track (FAT)")
	cmd.Flags().BoolVar(&force, "force", false, "required to format a device")
	cmd.Flags().BoolVar(&ui, "ui", false, "fullscreen progress view")
	return cmd
}
