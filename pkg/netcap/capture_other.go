//go:build !linux

package netcap

import "github.com/marmos91/triage/pkg/analysiserr"

// openLiveSource is unsupported off Linux; the AF_PACKET capture path
// has no portable equivalent without libpcap.
func openLiveSource(string) (packetSource, error) {
	return nil, analysiserr.New(analysiserr.InputError, "live capture is only supported on linux")
}
