package netcap

import (
	"sort"
	"sync"

	"github.com/marmos91/triage/pkg/model"
)

// Statistics is a snapshot of the process-wide capture counters.
type Statistics struct {
	TotalPackets   int
	ProtocolCounts map[string]int
	UniqueIPs      []string
	PacketsPerIP   map[string]int
	BlockedHits    int
}

// netState is the process-wide blocklist and statistics store,
// initialized lazily and guarded by one small mutex.
type netState struct {
	mu           sync.Mutex
	blocked      map[string]bool
	protoCounts  map[string]int
	packetsPerIP map[string]int
	uniqueIPs    map[string]bool
	totalPackets int
	blockedHits  int
}

var state = &netState{
	blocked:      make(map[string]bool),
	protoCounts:  make(map[string]int),
	packetsPerIP: make(map[string]int),
	uniqueIPs:    make(map[string]bool),
}

// BlockIPs adds addresses to the process-wide blocklist.
func BlockIPs(ips []string) {
	state.mu.Lock()
	defer state.mu.Unlock()
	for _, ip := range ips {
		state.blocked[ip] = true
	}
}

// IsBlocked reports whether ip is blocklisted, counting the hit.
func IsBlocked(ip string) bool {
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.blocked[ip] {
		state.blockedHits++
		return true
	}
	return false
}

// recordPacket folds one packet into the aggregate statistics.
func recordPacket(pkt model.NetworkPacket) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.totalPackets++
	state.protoCounts[pkt.Protocol]++
	for _, ip := range []string{pkt.SrcIP, pkt.DstIP} {
		if ip == "" {
			continue
		}
		state.uniqueIPs[ip] = true
		state.packetsPerIP[ip]++
	}
}

// GetStatistics snapshots the aggregate counters.
func GetStatistics() Statistics {
	state.mu.Lock()
	defer state.mu.Unlock()

	stats := Statistics{
		TotalPackets:   state.totalPackets,
		ProtocolCounts: make(map[string]int, len(state.protoCounts)),
		PacketsPerIP:   make(map[string]int, len(state.packetsPerIP)),
		BlockedHits:    state.blockedHits,
	}
	for k, v := range state.protoCounts {
		stats.ProtocolCounts[k] = v
	}
	for k, v := range state.packetsPerIP {
		stats.PacketsPerIP[k] = v
	}
	for ip := range state.uniqueIPs {
		stats.UniqueIPs = append(stats.UniqueIPs, ip)
	}
	sort.Strings(stats.UniqueIPs)
	return stats
}

// ResetStatistics clears the counters and blocklist; used by tests and
// session teardown.
func ResetStatistics() {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.blocked = make(map[string]bool)
	state.protoCounts = make(map[string]int)
	state.packetsPerIP = make(map[string]int)
	state.uniqueIPs = make(map[string]bool)
	state.totalPackets = 0
	state.blockedHits = 0
}
