// Package instrumentation records sensor events to CSV files and metrics for
// detection and efficacy testing.
package instrumentation

import (
	"encoding/binary"
	"math"
	"os"
	"runtime"
)

// DeviceSpecificPayloadData derives a stable 7-byte payload from a device
// description: three zero bytes followed by a big-endian int32 hash.
func DeviceSpecificPayloadData(text string) []byte {
	hash := uint64(5381)
	for i := 0; i < len(text); i++ {
		hash = 127*(hash&0x00ffffffffffffff) + uint64(text[i])
	}
	value := int32(hash % uint64(math.MaxInt32))

	out := make([]byte, 7)
	binary.BigEndian.PutUint32(out[3:], uint32(value))
	return out
}

// DeviceDescription identifies the host the node runs on, in the
// name:model:system:version form used to seed DeviceSpecificPayloadData.
func DeviceDescription(model string) string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "unknown"
	}
	return name + ":" + model + ":" + runtime.GOOS + ":" + runtime.GOARCH
}
