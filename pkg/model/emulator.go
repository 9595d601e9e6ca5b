package model

// MemWrite records one byte-range write observed during emulation.
type MemWrite struct {
	Address uint64
	Data    []byte
}

// TraceEntry is one per-instruction emulation trace record.
type TraceEntry struct {
	Address       uint64
	Text          string
	RegisterDelta map[string]uint64
	MemoryWrites  []MemWrite
}

// ApiCall is one intercepted API-hook invocation.
type ApiCall struct {
	Address uint64
	Name    string
	Args    [4]uint64
}

// EmulatorState is the full per-session emulator state. Memory is sparse
// and hard-bounded (see emulator.MaxMemoryBytes); it is never shared
// between sessions.
type EmulatorState struct {
	Registers map[string]uint64
	Memory    map[uint64]byte
	IP        uint64
	SP        uint64
	Flags     map[string]bool
	Trace     []TraceEntry
	ApiCalls  []ApiCall
	Budget    int
	Executed  int
}

// UnpackedRegion is a coalesced run of memory writes that scores as
// plausibly-decoded executable code.
type UnpackedRegion struct {
	Address uint64
	Bytes   []byte
	Score   int
}
