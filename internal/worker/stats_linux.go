//go:build linux

package worker

import (
	"syscall"

	"github.com/dreamware/censer/internal/protocol"
)

// hostStats reports the machine's memory capacity in KiB and usable storage
// in KB for the handshake reply. Fields that cannot be queried are reported
// as protocol.Unknown.
func hostStats() (memoryKiB, storageKB int64) {
	memoryKiB = protocol.Unknown
	storageKB = protocol.Unknown

	var si syscall.Sysinfo_t
	if err := syscall.Sysinfo(&si); err == nil {
		memoryKiB = int64(si.Totalram) * int64(si.Unit) / 1024
	}

	var fs syscall.Statfs_t
	if err := syscall.Statfs(".", &fs); err == nil {
		storageKB = int64(fs.Bavail) * int64(fs.Bsize) / 1000
	}
	return memoryKiB, storageKB
}
