package netcap

import (
	"fmt"
	"net"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/uuid"

	"github.com/marmos91/triage/internal/logger"
	"github.com/marmos91/triage/pkg/analysiserr"
	"github.com/marmos91/triage/pkg/model"
)

// PacketEvent is invoked once per captured packet.
type PacketEvent func(captureID string, pkt model.NetworkPacket)

// captureSession owns one live capture: a dedicated worker thread
// looping on the handle until the stop flag is set.
type captureSession struct {
	id        string
	iface     string
	stop      atomic.Bool
	done      chan struct{}
	mu        sync.Mutex
	packets   []model.NetworkPacket
	source    packetSource
}

// packetSource abstracts the capture handle; satisfied by
// gopacket/pcapgo's EthernetHandle on Linux.
type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	Close()
}

// onceSource makes Close idempotent: both the worker's deferred close
// and StopCapture's unblocking close may fire.
type onceSource struct {
	packetSource
	once sync.Once
}

func (o *onceSource) Close() {
	o.once.Do(o.packetSource.Close)
}

// registry is the process-wide capture state, mutex-guarded per the
// shared-state model. No lock is ever held across a read of the handle.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*captureSession
	onPacket PacketEvent
}

var captures = &registry{sessions: make(map[string]*captureSession)}

// SetPacketEventHook installs the per-packet event callback.
func SetPacketEventHook(hook PacketEvent) {
	captures.mu.Lock()
	defer captures.mu.Unlock()
	captures.onPacket = hook
}

// preferredInterfaces are tried in order before any up non-loopback
// interface.
var preferredInterfaces = []string{"en0", "en1", "eth0", "wlan0", "Ethernet", "Wi-Fi"}

// pickInterface selects the capture interface: the preference list
// first, then any up-and-running non-loopback interface with addresses,
// then any up non-loopback interface.
func pickInterface(requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", analysiserr.Wrap(analysiserr.InputError, "enumerate interfaces", err)
	}
	byName := make(map[string]net.Interface, len(ifaces))
	for _, ifc := range ifaces {
		byName[ifc.Name] = ifc
	}
	for _, name := range preferredInterfaces {
		if ifc, ok := byName[name]; ok && ifc.Flags&net.FlagUp != 0 {
			return name, nil
		}
	}
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		if ifc.Flags&net.FlagRunning != 0 {
			if addrs, err := ifc.Addrs(); err == nil && len(addrs) > 0 {
				return ifc.Name, nil
			}
		}
	}
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp != 0 && ifc.Flags&net.FlagLoopback == 0 {
			return ifc.Name, nil
		}
	}
	return "", analysiserr.New(analysiserr.InputError, "no capturable interface found")
}

// StartCapture opens the interface (chosen by preference when empty)
// and spawns the capture worker. Returns the capture id.
func StartCapture(requestedInterface string) (string, error) {
	ifaceName, err := pickInterface(requestedInterface)
	if err != nil {
		return "", err
	}
	source, err := openLiveSource(ifaceName)
	if err != nil {
		return "", err
	}

	session := &captureSession{
		id:     uuid.NewString(),
		iface:  ifaceName,
		done:   make(chan struct{}),
		source: &onceSource{packetSource: source},
	}

	captures.mu.Lock()
	captures.sessions[session.id] = session
	hook := captures.onPacket
	captures.mu.Unlock()

	go session.run(hook)

	logger.Info("packet capture started",
		logger.CaptureID(session.id), logger.Interface(ifaceName))
	return session.id, nil
}

// run is the capture worker. It pins to an OS thread because the
// underlying AF_PACKET handle blocks in recvfrom.
func (s *captureSession) run(hook PacketEvent) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(s.done)
	defer s.source.Close()

	seq := 0
	for !s.stop.Load() {
		data, ci, err := s.source.ReadPacketData()
		if err != nil {
			if s.stop.Load() {
				return
			}
			continue
		}
		pkt, ok := parseEthernetFrame(data)
		if !ok {
			continue
		}
		pkt.ID = fmt.Sprintf("%s-%d", s.id, seq)
		seq++
		pkt.TimestampMs = ci.Timestamp.UnixMilli()
		pkt.Suspicious = IsBlocked(pkt.SrcIP) || IsBlocked(pkt.DstIP)

		s.mu.Lock()
		s.packets = append(s.packets, pkt)
		s.mu.Unlock()

		recordPacket(pkt)
		if hook != nil {
			hook(s.id, pkt)
		}
	}
}

// StopCapture sets the stop flag, joins the worker, and drains the
// session's packet list.
func StopCapture(id string) ([]model.NetworkPacket, error) {
	captures.mu.Lock()
	session, ok := captures.sessions[id]
	if ok {
		delete(captures.sessions, id)
	}
	captures.mu.Unlock()
	if !ok {
		return nil, analysiserr.New(analysiserr.InputError, "unknown capture id")
	}

	session.stop.Store(true)
	session.source.Close() // unblocks a pending read
	<-session.done

	session.mu.Lock()
	packets := session.packets
	session.packets = nil
	session.mu.Unlock()

	logger.Info("packet capture stopped",
		logger.CaptureID(id), logger.Interface(session.iface))
	return packets, nil
}

// ActiveCaptures lists the ids and interfaces of running sessions.
func ActiveCaptures() map[string]string {
	captures.mu.Lock()
	defer captures.mu.Unlock()
	out := make(map[string]string, len(captures.sessions))
	for id, s := range captures.sessions {
		out[id] = s.iface
	}
	return out
}
