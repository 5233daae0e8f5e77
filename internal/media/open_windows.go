//go:build windows

package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	fsctlLockVolume          = 0x90018
	fsctlDismountVolume      = 0x90020
	fsctlUnlockVolume        = 0x9001c
	ioctlDiskGetLengthInfo   = 0x7405c
	ioctlStorageGetDeviceNum = 0x2d1080
	fileFlagWriteThrough     = 0x80000000
)

type storageDeviceNumber struct {
	DeviceType      uint32
	DeviceNumber    uint32
	PartitionNumber uint32
}

func control(h windows.Handle, code uint32, out unsafe.Pointer, outSize uint32) error {
	var returned uint32
	return windows.DeviceIoControl(h, code, nil, 0, (*byte)(out), outSize, &returned, nil)
}

// driveLetter returns the volume path for \\.\X: style paths.
func driveLetter(p string) (string, bool) {
	if len(p) < 6 || !strings.HasPrefix(p, `\\.\`) || p[5] != ':' {
		return "", false
	}
	l := strings.ToUpper(p[4:5])
	if l < "A" || l > "Z" {
		return "", false
	}
	return `\\.\` + l + `:`, true
}

// PhysicalDrive maps \\.\X: to the \\.\PhysicalDriveN holding it. Other
// paths are returned unchanged.
func PhysicalDrive(p string) string {
	vol, ok := driveLetter(p)
	if !ok {
		return p
	}
	h, err := windows.CreateFile(windows.StringToUTF16Ptr(vol), windows.GENERIC_READ,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE, nil, windows.OPEN_EXISTING, 0, 0)
	if err != nil {
		return p
	}
	defer windows.CloseHandle(h)
	var out storageDeviceNumber
	if err := control(h, ioctlStorageGetDeviceNum, unsafe.Pointer(&out), uint32(unsafe.Sizeof(out))); err != nil {
		return p
	}
	return fmt.Sprintf(`\\.\PhysicalDrive%d`, out.DeviceNumber)
}

// lockVolume locks and dismounts a drive letter volume. The returned
// handle keeps the lock until unlockVolume.
func lockVolume(path string) (windows.Handle, error) {
	vol, ok := driveLetter(path)
	if !ok {
		return 0, nil
	}
	h, err := windows.CreateFile(windows.StringToUTF16Ptr(vol), windows.GENERIC_READ|windows.GENERIC_WRITE,
		0, nil, windows.OPEN_EXISTING, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("cannot open volume %s (may need admin privileges): %w", vol, err)
	}
	if err := control(h, fsctlLockVolume, nil, 0); err != nil {
		windows.CloseHandle(h)
		if errors.Is(err, windows.ERROR_NOT_SUPPORTED) {
			return 0, nil
		}
		return 0, fmt.Errorf("cannot lock volume %s (close all programs accessing it): %w", vol, err)
	}
	if err := control(h, fsctlDismountVolume, nil, 0); err != nil {
		control(h, fsctlUnlockVolume, nil, 0)
		windows.CloseHandle(h)
		if errors.Is(err, windows.ERROR_NOT_SUPPORTED) || errors.Is(err, windows.ERROR_NOT_LOCKED) {
			return 0, nil
		}
		return 0, fmt.Errorf("cannot dismount volume %s: %w", vol, err)
	}
	return h, nil
}

func unlockVolume(h windows.Handle) {
	if h == 0 {
		return
	}
	control(h, fsctlUnlockVolume, nil, 0)
	windows.CloseHandle(h)
}

func openFile(path string, writable bool) (*os.File, func(), error) {
	if !IsDevice(path) {
		flag := os.O_RDONLY
		if writable {
			flag = os.O_RDWR
		}
		f, err := os.OpenFile(path, flag, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", path, err)
		}
		return f, func() {}, nil
	}

	var lock windows.Handle
	access := uint32(windows.GENERIC_READ)
	share := uint32(windows.FILE_SHARE_READ | windows.FILE_SHARE_WRITE)
	var flags uint32
	if writable {
		var err error
		if lock, err = lockVolume(path); err != nil {
			return nil, nil, err
		}
		access |= windows.GENERIC_WRITE
		share = 0
		flags = fileFlagWriteThrough
	}
	h, err := windows.CreateFile(windows.StringToUTF16Ptr(path), access, share, nil, windows.OPEN_EXISTING, flags, 0)
	if err != nil {
		unlockVolume(lock)
		return nil, nil, fmt.Errorf("cannot open device %s: %w (run as administrator with no programs holding the drive)", path, err)
	}
	f := os.NewFile(uintptr(h), path)
	if f == nil {
		windows.CloseHandle(h)
		unlockVolume(lock)
		return nil, nil, fmt.Errorf("cannot create file from handle for %s", path)
	}
	return f, func() { unlockVolume(lock) }, nil
}

// deviceSize returns the size of a file, or of a device through
// IOCTL_DISK_GET_LENGTH_INFO.
func deviceSize(f *os.File) (int64, error) {
	size, err := f.Seek(0, io.SeekEnd)
	if err == nil && size > 0 {
		_, _ = f.Seek(0, io.SeekStart)
		return size, nil
	}
	var length int64
	if cerr := control(windows.Handle(f.Fd()), ioctlDiskGetLengthInfo, unsafe.Pointer(&length), 8); cerr != nil {
		if err == nil {
			return 0, nil
		}
		return 0, fmt.Errorf("cannot determine device size: %w", cerr)
	}
	return length, nil
}
