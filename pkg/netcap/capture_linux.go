package netcap

import (
	"github.com/google/gopacket/pcapgo"

	"github.com/marmos91/triage/pkg/analysiserr"
)

// openLiveSource opens an AF_PACKET handle on the interface. Requires
// CAP_NET_RAW.
func openLiveSource(ifaceName string) (packetSource, error) {
	handle, err := pcapgo.NewEthernetHandle(ifaceName)
	if err != nil {
		return nil, analysiserr.Wrap(analysiserr.InputError, "open capture interface", err)
	}
	return handle, nil
}
