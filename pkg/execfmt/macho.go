package execfmt

import (
	"bytes"
	"debug/macho"
	"strings"

	"github.com/marmos91/triage/pkg/entropy"
	"github.com/marmos91/triage/pkg/model"
)

// parseMachO fills report from a Mach-O image, including fat binaries
// (the first architecture is dissected in detail).
func parseMachO(data []byte, report *model.ExecutableReport) {
	var f *macho.File

	if fat, err := macho.NewFatFile(bytes.NewReader(data)); err == nil {
		report.Format = model.FormatMachO
		for _, arch := range fat.Arches {
			report.Header.FatArches = append(report.Header.FatArches,
				strings.TrimPrefix(arch.Cpu.String(), "Cpu"))
		}
		if len(fat.Arches) > 0 {
			f = fat.Arches[0].File
		}
	} else {
		f, err = macho.NewFile(bytes.NewReader(data))
		if err != nil {
			report.Anomalies = append(report.Anomalies, model.Anomaly{
				Description: "malformed Mach-O image: " + err.Error(),
				Severity:    "medium",
			})
			return
		}
	}
	if f == nil {
		return
	}
	defer f.Close()

	report.Format = model.FormatMachO
	report.Header.Machine = strings.TrimPrefix(f.Cpu.String(), "Cpu")
	report.Header.Is64Bit = f.Magic == macho.Magic64
	report.Header.IsDLLorShared = f.Type == macho.TypeDylib
	report.Header.Flags = []string{strings.TrimPrefix(f.Type.String(), "Type")}

	// LC_MAIN entry offset when present
	for _, load := range f.Loads {
		if raw := load.Raw(); len(raw) >= 16 {
			const lcMain = 0x80000028
			cmd := uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24
			if cmd == lcMain {
				var off uint64
				for i := 0; i < 8; i++ {
					off |= uint64(raw[8+i]) << (8 * i)
				}
				report.Header.EntryPoint = off
			}
		}
	}

	for _, sec := range f.Sections {
		secData := sliceAt(data, int64(sec.Offset), int64(sec.Size))
		secEntropy := entropy.Shannon(secData)

		var flags []string
		executable := sec.Flags&0x80000000 != 0 || sec.Seg == "__TEXT"
		if executable {
			flags = append(flags, "EXEC")
		}
		writable := sec.Seg == "__DATA"
		if writable {
			flags = append(flags, "WRITE")
		}

		name := sec.Seg + "," + sec.Name
		report.Sections = append(report.Sections, model.Section{
			Name:            name,
			VirtualAddress:  sec.Addr,
			VirtualSize:     sec.Size,
			RawSize:         sec.Size,
			Entropy:         secEntropy,
			Characteristics: flags,
			Suspicious:      sectionSuspicious(sec.Name, secEntropy, writable, executable),
		})
	}

	parseMachOImports(f, report)
	parseMachOExports(f, report)
}

// parseMachOImports attributes undefined symbols to imported dylibs. As
// with ELF, symbols are not bound to a library in the symbol table, so
// everything lands under the first imported dylib.
func parseMachOImports(f *macho.File, report *model.ExecutableReport) {
	libs, _ := f.ImportedLibraries()
	syms, err := f.ImportedSymbols()
	if err != nil && len(libs) == 0 {
		return
	}

	fallback := "unknown"
	if len(libs) > 0 {
		fallback = libPathBase(libs[0])
	}

	byLib := make(map[string][]string)
	var order []string
	for _, lib := range libs {
		base := strings.ToLower(libPathBase(lib))
		if _, seen := byLib[base]; !seen {
			order = append(order, base)
			byLib[base] = nil
		}
	}
	for _, s := range syms {
		lib := strings.ToLower(fallback)
		if _, seen := byLib[lib]; !seen {
			order = append(order, lib)
		}
		byLib[lib] = append(byLib[lib], strings.ToLower(strings.TrimPrefix(s, "_")))
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

func parseMachOExports(f *macho.File, report *model.ExecutableReport) {
	if f.Symtab == nil {
		return
	}
	for _, s := range f.Symtab.Syms {
		// Sect == 0 means undefined; Type&N_EXT (0x01) marks external.
		if s.Sect == 0 || s.Type&0x01 == 0 || s.Name == "" {
			continue
		}
		report.Exports = append(report.Exports, model.Export{
			Name:    strings.TrimPrefix(s.Name, "_"),
			Address: s.Value,
		})
	}
}

// libPathBase strips the directory part of a dylib install name.
func libPathBase(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
