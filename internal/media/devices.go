package media

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Device is a block device found by Discover.
type Device struct {
	Path string
	// Whole is false for partitions and loop devices.
	Whole  bool
	Reason string
}

// Discover lists the block devices of the running system. It only reads
// directory entries and never opens a device for writing.
func Discover() ([]Device, error) {
	switch runtime.GOOS {
	case "darwin":
		return discoverDarwin()
	case "linux":
		return discoverLinux()
	case "windows":
		return discoverWindows(), nil
	default:
		return nil, fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}
}

func discoverDarwin() ([]Device, error) {
	entries, err := os.ReadDir("/dev")
	if err != nil {
		return nil, err
	}
	var out []Device
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "disk") && !strings.HasPrefix(name, "rdisk") {
			continue
		}
		d := Device{Path: filepath.Join("/dev", name), Whole: true}
		// disk2s1, rdisk3s2
		for i := 0; i+1 < len(name); i++ {
			if name[i] == 's' && name[i+1] >= '0' && name[i+1] <= '9' {
				d.Whole, d.Reason = false, "partition"
				break
			}
		}
		out = append(out, d)
	}
	return out, nil
}

func discoverLinux() ([]Device, error) {
	entries, err := os.ReadDir("/dev")
	if err != nil {
		return nil, err
	}
	var out []Device
	for _, e := range entries {
		name := e.Name()
		path := filepath.Join("/dev", name)
		switch {
		case isWholeLinuxDevice(name):
			out = append(out, Device{Path: path, Whole: true})
		case isPartitionLinux(name):
			out = append(out, Device{Path: path, Reason: "partition"})
		case strings.HasPrefix(name, "loop"):
			out = append(out, Device{Path: path, Reason: "loop device"})
		}
	}
	return out, nil
}

func isWholeLinuxDevice(name string) bool {
	if len(name) == 3 && (strings.HasPrefix(name, "sd") || strings.HasPrefix(name, "vd")) && name[2] >= 'a' && name[2] <= 'z' {
		return true
	}
	if strings.HasPrefix(name, "nvme") && !strings.Contains(name, "p") {
		parts := strings.Split(name, "n")
		// "nvme0n1" splits into "", "vme0", "1"
		return len(parts) == 3 && parts[1] != "" && parts[2] != ""
	}
	return strings.HasPrefix(name, "mmcblk") && !strings.Contains(name, "p")
}

func isPartitionLinux(name string) bool {
	if (strings.HasPrefix(name, "sd") || strings.HasPrefix(name, "vd")) && len(name) >= 4 {
		return name[len(name)-1] >= '0' && name[len(name)-1] <= '9'
	}
	if strings.HasPrefix(name, "nvme") || strings.HasPrefix(name, "mmcblk") {
		return strings.Contains(name, "p")
	}
	return false
}

func discoverWindows() []Device {
	var out []Device
	for i := 0; i < 32; i++ {
		path := fmt.Sprintf(`\\.\PhysicalDrive%d`, i)
		f, err := os.Open(path)
		if err == nil {
			f.Close()
			out = append(out, Device{Path: path, Whole: true})
		} else if i < 8 {
			out = append(out, Device{Path: path, Reason: "not accessible"})
		}
	}
	return out
}

// MediaType names well-known Amiga floppy sizes.
func MediaType(size int64) string {
	switch size {
	case 880 * 1024:
		return "DD floppy (ADF)"
	case 1760 * 1024:
		return "HD floppy (ADF)"
	default:
		return ""
	}
}
