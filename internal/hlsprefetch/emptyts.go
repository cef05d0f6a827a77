package hlsprefetch

import (
	"os"
	"path/filepath"
)

const (
	tsPacketSize  = 188
	tsPacketCount = 1000
	tsSyncByte    = 0x47
	tsNullPID     = 0x1FFF
)

// writeEmptyTS emits empty.ts into dir (the task's working directory under
// m3u8/) once: a 1000-packet MPEG-TS
// stream of null packets (§6), historically used as a placeholder segment.
// A no-op if the file already exists.
func writeEmptyTS(dir string) error {
	path := filepath.Join(dir, "empty.ts")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	buf := make([]byte, tsPacketSize*tsPacketCount)
	for i := 0; i < tsPacketCount; i++ {
		p := buf[i*tsPacketSize : (i+1)*tsPacketSize]
		p[0] = tsSyncByte
		// transport_error=0, payload_unit_start=0, priority=0, PID=0x1FFF (13 bits)
		p[1] = byte((tsNullPID >> 8) & 0x1F)
		p[2] = byte(tsNullPID & 0xFF)
		// scrambling=00, adaptation_field_control=01 (payload only), continuity_counter=0
		p[3] = 0x10
	}
	return os.WriteFile(path, buf, 0o644)
}
