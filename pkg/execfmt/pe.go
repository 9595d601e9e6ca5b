package execfmt

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"strings"

	"github.com/marmos91/triage/pkg/entropy"
	"github.com/marmos91/triage/pkg/model"
)

// peMachineNames maps IMAGE_FILE_MACHINE_* values to readable names.
var peMachineNames = map[uint16]string{
	0x014C: "i386",
	0x8664: "x86-64",
	0x01C0: "arm",
	0xAA64: "arm64",
	0x0200: "ia64",
}

// peCharacteristicNames decodes the COFF header characteristics word.
var peCharacteristicNames = []struct {
	bit  uint16
	name string
}{
	{0x0002, "EXECUTABLE_IMAGE"},
	{0x0020, "LARGE_ADDRESS_AWARE"},
	{0x0100, "32BIT_MACHINE"},
	{0x0200, "DEBUG_STRIPPED"},
	{0x2000, "DLL"},
}

// peSectionFlagNames decodes IMAGE_SCN_* section characteristics.
var peSectionFlagNames = []struct {
	bit  uint32
	name string
}{
	{0x00000020, "CODE"},
	{0x00000040, "INITIALIZED_DATA"},
	{0x00000080, "UNINITIALIZED_DATA"},
	{0x02000000, "DISCARDABLE"},
	{0x04000000, "NOT_CACHED"},
	{0x08000000, "NOT_PAGED"},
	{0x10000000, "SHARED"},
	{0x20000000, "EXECUTE"},
	{0x40000000, "READ"},
	{0x80000000, "WRITE"},
}

// parsePE fills report from a PE image. Parse failures downgrade the
// report to FormatUnknown with an anomaly, never an error.
func parsePE(data []byte, report *model.ExecutableReport) {
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		report.Anomalies = append(report.Anomalies, model.Anomaly{
			Description: "malformed PE image: " + err.Error(),
			Severity:    "medium",
		})
		return
	}
	defer f.Close()

	report.Format = model.FormatPE

	machine := peMachineNames[f.Machine]
	if machine == "" {
		machine = "unknown"
	}
	report.Header.Machine = machine
	for _, c := range peCharacteristicNames {
		if f.Characteristics&c.bit != 0 {
			report.Header.Flags = append(report.Header.Flags, c.name)
		}
	}
	report.Header.IsDLLorShared = f.Characteristics&0x2000 != 0

	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		report.Header.EntryPoint = uint64(oh.AddressOfEntryPoint)
		report.Header.ImageBase = uint64(oh.ImageBase)
	case *pe.OptionalHeader64:
		report.Header.EntryPoint = uint64(oh.AddressOfEntryPoint)
		report.Header.ImageBase = oh.ImageBase
		report.Header.Is64Bit = true
	}

	for _, sec := range f.Sections {
		secData := sliceAt(data, int64(sec.Offset), int64(sec.Size))
		secEntropy := entropy.Shannon(secData)

		var flags []string
		for _, fl := range peSectionFlagNames {
			if sec.Characteristics&fl.bit != 0 {
				flags = append(flags, fl.name)
			}
		}
		writable := sec.Characteristics&0x80000000 != 0
		executable := sec.Characteristics&0x20000000 != 0

		report.Sections = append(report.Sections, model.Section{
			Name:            sec.Name,
			VirtualAddress:  uint64(sec.VirtualAddress),
			VirtualSize:     uint64(sec.VirtualSize),
			RawSize:         uint64(sec.Size),
			Entropy:         secEntropy,
			Characteristics: flags,
			Suspicious:      sectionSuspicious(sec.Name, secEntropy, writable, executable),
		})

		if int64(sec.Offset)+int64(sec.Size) > int64(len(data)) {
			report.Anomalies = append(report.Anomalies, model.Anomaly{
				Description: "section " + sec.Name + " raw data extends past end of file",
				Severity:    "medium",
			})
		}
	}

	parsePEImports(f, report)
	parsePEExports(f, data, report)

	if report.Header.EntryPoint != 0 && !rvaInAnySection(f, uint32(report.Header.EntryPoint)) {
		report.Anomalies = append(report.Anomalies, model.Anomaly{
			Description: "entry point lies outside every section",
			Severity:    "high",
		})
	}
}

// parsePEImports groups ImportedSymbols ("Func:library.dll") by library,
// lowercasing both halves.
func parsePEImports(f *pe.File, report *model.ExecutableReport) {
	syms, err := f.ImportedSymbols()
	if err != nil {
		report.Anomalies = append(report.Anomalies, model.Anomaly{
			Description: "import table unreadable: " + err.Error(),
			Severity:    "medium",
		})
		return
	}

	byLib := make(map[string][]string)
	var order []string
	for _, s := range syms {
		fn, lib, ok := strings.Cut(s, ":")
		if !ok {
			continue
		}
		lib = strings.ToLower(lib)
		fn = strings.ToLower(fn)
		if _, seen := byLib[lib]; !seen {
			order = append(order, lib)
		}
		byLib[lib] = append(byLib[lib], fn)
	}

	for _, lib := range order {
		funcs := byLib[lib]
		suspicious := false
		for _, fn := range funcs {
			if importSuspicious(fn) {
				suspicious = true
				break
			}
		}
		report.Imports = append(report.Imports, model.Import{
			Library:    lib,
			Functions:  funcs,
			Suspicious: suspicious,
		})
	}
}

// parsePEExports walks the export directory (data directory entry 0),
// which debug/pe does not expose.
func parsePEExports(f *pe.File, data []byte, report *model.ExecutableReport) {
	var dirs []pe.DataDirectory
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		dirs = oh.DataDirectory[:]
	case *pe.OptionalHeader64:
		dirs = oh.DataDirectory[:]
	default:
		return
	}
	if len(dirs) == 0 || dirs[0].VirtualAddress == 0 || dirs[0].Size < 40 {
		return
	}

	dir := sliceAt(data, rvaToOffset(f, dirs[0].VirtualAddress), 40)
	if dir == nil {
		return
	}
	ordinalBase := binary.LittleEndian.Uint32(dir[16:20])
	numFuncs := binary.LittleEndian.Uint32(dir[20:24])
	numNames := binary.LittleEndian.Uint32(dir[24:28])
	funcsRVA := binary.LittleEndian.Uint32(dir[28:32])
	namesRVA := binary.LittleEndian.Uint32(dir[32:36])
	ordsRVA := binary.LittleEndian.Uint32(dir[36:40])

	if numNames > 65536 || numFuncs > 65536 {
		report.Anomalies = append(report.Anomalies, model.Anomaly{
			Description: "export directory claims an implausible symbol count",
			Severity:    "medium",
		})
		return
	}

	funcs := sliceAt(data, rvaToOffset(f, funcsRVA), int64(numFuncs)*4)
	names := sliceAt(data, rvaToOffset(f, namesRVA), int64(numNames)*4)
	ords := sliceAt(data, rvaToOffset(f, ordsRVA), int64(numNames)*2)
	if funcs == nil || names == nil || ords == nil {
		return
	}

	for i := uint32(0); i < numNames; i++ {
		nameRVA := binary.LittleEndian.Uint32(names[i*4 : i*4+4])
		name := readCString(data, rvaToOffset(f, nameRVA))
		if name == "" {
			continue
		}
		ordIdx := binary.LittleEndian.Uint16(ords[i*2 : i*2+2])
		var addr uint64
		if uint32(ordIdx) < numFuncs {
			addr = uint64(binary.LittleEndian.Uint32(funcs[uint32(ordIdx)*4 : uint32(ordIdx)*4+4]))
		}
		report.Exports = append(report.Exports, model.Export{
			Name:    name,
			Address: addr,
			Ordinal: ordinalBase + uint32(ordIdx),
		})
	}
}

// rvaToOffset converts a virtual address to a file offset using the
// section table, or -1 when the RVA falls outside every section.
func rvaToOffset(f *pe.File, rva uint32) int64 {
	for _, sec := range f.Sections {
		if rva >= sec.VirtualAddress && rva < sec.VirtualAddress+sec.VirtualSize {
			return int64(rva-sec.VirtualAddress) + int64(sec.Offset)
		}
	}
	return -1
}

func rvaInAnySection(f *pe.File, rva uint32) bool {
	return rvaToOffset(f, rva) >= 0
}

// sliceAt bounds-checks a [off, off+n) slice of data, returning nil when
// out of range.
func sliceAt(data []byte, off, n int64) []byte {
	if off < 0 || n < 0 || off+n > int64(len(data)) {
		return nil
	}
	return data[off : off+n]
}

func readCString(data []byte, off int64) string {
	if off < 0 || off >= int64(len(data)) {
		return ""
	}
	end := off
	for end < int64(len(data)) && data[end] != 0 && end-off < 512 {
		end++
	}
	return string(data[off:end])
}
