//go:build unix

package media

import (
	"fmt"
	"io"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	dkiocGetBlockSize  = 0x40046418 // _IOR('d', 24, uint32)
	dkiocGetBlockCount = 0x40086419 // _IOR('d', 25, uint64)
	blkGetSize64       = 0x80081272
)

// deviceSize returns the size of a file or block device in bytes.
func deviceSize(f *os.File) (int64, error) {
	size, err := f.Seek(0, io.SeekEnd)
	if err == nil && size > 0 {
		_, _ = f.Seek(0, io.SeekStart)
		return size, nil
	}

	fd := int(f.Fd())
	if blockSize, err := unix.IoctlGetUint32(fd, dkiocGetBlockSize); err == nil {
		var count uint64
		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), dkiocGetBlockCount, uintptr(unsafe.Pointer(&count))); errno != 0 {
			return 0, fmt.Errorf("cannot get block count: %w", errno)
		}
		return int64(blockSize) * int64(count), nil
	}

	var bytes uint64
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), blkGetSize64, uintptr(unsafe.Pointer(&bytes))); errno != 0 {
		if err == nil {
			// an empty regular file
			return 0, nil
		}
		return 0, fmt.Errorf("cannot determine device size: %w", errno)
	}
	return int64(bytes), nil
}

func openFile(path string, writable bool) (*os.File, func(), error) {
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

// PhysicalDrive returns p unchanged; drive letters only exist on Windows.
func PhysicalDrive(p string) string { return p }
