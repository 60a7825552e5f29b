//go:build !linux

package worker

import "github.com/dreamware/censer/internal/protocol"

// hostStats reports the handshake resource fields as unknown on platforms
// without a wired sysinfo path.
func hostStats() (memoryKiB, storageKB int64) {
	return protocol.Unknown, protocol.Unknown
}
