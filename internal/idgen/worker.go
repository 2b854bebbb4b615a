package idgen

import (
	"fmt"
	"net"
)

// DeriveWorkerID derives a worker id from the host's lowest-order hardware
// address bits when no static assignment is configured.
//
// This is best-effort: two hosts whose MAC addresses share the low 10 bits
// will collide, and collisions produce duplicate ids. Deployments that care
// must set Config.WorkerID explicitly; this fallback exists for local
// development and single-instance installs.
func DeriveWorkerID() (int64, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return 0, fmt.Errorf("idgen: listing interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		hw := iface.HardwareAddr
		if len(hw) < 2 {
			continue
		}
		id := (int64(hw[len(hw)-2])<<8 | int64(hw[len(hw)-1])) & MaxWorkerID
		return id, nil
	}

	return 0, fmt.Errorf("idgen: no usable network interface to derive worker id from")
}
