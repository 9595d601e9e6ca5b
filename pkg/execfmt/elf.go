package execfmt

import (
	"bytes"
	"debug/elf"
	"strings"

	"github.com/marmos91/triage/pkg/entropy"
	"github.com/marmos91/triage/pkg/model"
)

// parseELF fills report from an ELF image.
func parseELF(data []byte, report *model.ExecutableReport) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		report.Anomalies = append(report.Anomalies, model.Anomaly{
			Description: "malformed ELF image: " + err.Error(),
			Severity:    "medium",
		})
		return
	}
	defer f.Close()

	report.Format = model.FormatELF
	report.Header.Machine = strings.TrimPrefix(f.Machine.String(), "EM_")
	report.Header.EntryPoint = f.Entry
	report.Header.Is64Bit = f.Class == elf.ELFCLASS64
	report.Header.IsDLLorShared = f.Type == elf.ET_DYN
	report.Header.Flags = []string{
		strings.TrimPrefix(f.Type.String(), "ET_"),
		strings.TrimPrefix(f.OSABI.String(), "ELFOSABI_"),
		strings.TrimPrefix(f.ByteOrder.String(), "binary."),
	}

	if interp := f.Section(".interp"); interp != nil {
		if raw, err := interp.Data(); err == nil {
			report.Header.Interpreter = strings.TrimRight(string(raw), "\x00")
		}
	}

	for _, sec := range f.Sections {
		if sec.Name == "" && sec.Type == elf.SHT_NULL {
			continue
		}
		var secData []byte
		if sec.Type != elf.SHT_NOBITS {
			secData = sliceAt(data, int64(sec.Offset), int64(sec.Size))
		}
		secEntropy := entropy.Shannon(secData)

		var flags []string
		writable := sec.Flags&elf.SHF_WRITE != 0
		executable := sec.Flags&elf.SHF_EXECINSTR != 0
		if writable {
			flags = append(flags, "WRITE")
		}
		if sec.Flags&elf.SHF_ALLOC != 0 {
			flags = append(flags, "ALLOC")
		}
		if executable {
			flags = append(flags, "EXEC")
		}

		report.Sections = append(report.Sections, model.Section{
			Name:            sec.Name,
			VirtualAddress:  sec.Addr,
			VirtualSize:     sec.Size,
			RawSize:         sec.FileSize,
			Entropy:         secEntropy,
			Characteristics: flags,
			Suspicious:      sectionSuspicious(sec.Name, secEntropy, writable, executable),
		})
	}

	parseELFImports(f, report)
	parseELFExports(f, report)

	if f.Type == elf.ET_EXEC && report.Header.Interpreter == "" && len(report.Imports) > 0 {
		report.Anomalies = append(report.Anomalies, model.Anomaly{
			Description: "dynamically linked executable without PT_INTERP",
			Severity:    "medium",
		})
	}
}

// parseELFImports groups imported symbols by their needed library. ELF
// does not bind symbols to libraries directly; symbols whose version
// record names a library are attributed to it, the rest go to the first
// DT_NEEDED entry.
func parseELFImports(f *elf.File, report *model.ExecutableReport) {
	needed, _ := f.ImportedLibraries()
	syms, err := f.ImportedSymbols()
	if err != nil && len(needed) == 0 {
		return
	}

	byLib := make(map[string][]string)
	var order []string
	addTo := func(lib, fn string) {
		lib = strings.ToLower(lib)
		if _, seen := byLib[lib]; !seen {
			order = append(order, lib)
		}
		byLib[lib] = append(byLib[lib], strings.ToLower(fn))
	}

	for _, lib := range needed {
		lib = strings.ToLower(lib)
		if _, seen := byLib[lib]; !seen {
			order = append(order, lib)
			byLib[lib] = nil
		}
	}

	fallback := "unknown"
	if len(needed) > 0 {
		fallback = needed[0]
	}
	for _, s := range syms {
		if s.Name == "" {
			continue
		}
		lib := s.Library
		if lib == "" {
			lib = fallback
		}
		addTo(lib, s.Name)
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

// parseELFExports lists defined function symbols from the dynamic symbol
// table.
func parseELFExports(f *elf.File, report *model.ExecutableReport) {
	syms, err := f.DynamicSymbols()
	if err != nil {
		return
	}
	for _, s := range syms {
		if s.Name == "" || s.Value == 0 {
			continue
		}
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC {
			continue
		}
		if s.Section == elf.SHN_UNDEF {
			continue
		}
		report.Exports = append(report.Exports, model.Export{
			Name:    s.Name,
			Address: s.Value,
		})
	}
}
