package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// resetEngine puts the process-wide cache back to the embedded rules.
func resetEngine(t *testing.T) {
	t.Helper()
	SetRulesPath("")
	t.Cleanup(func() { SetRulesPath("") })
}

func TestScanMatchesEmbeddedRules(t *testing.T) {
	resetEngine(t)

	data := []byte("garbage UPX! more garbage")
	res := Scan(data)
	require.NoError(t, res.Err)
	require.Greater(t, res.RulesLoaded, 0)

	var found bool
	for _, m := range res.Matches {
		if m.RuleName == "upx_packed" {
			found = true
			require.Equal(t, "packers", m.Namespace)
			require.NotEmpty(t, m.Strings)
			require.Equal(t, "UPX!", string(m.Strings[0].Data))
			require.Equal(t, int64(8), m.Strings[0].Offset)
		}
	}
	require.True(t, found, "upx_packed must match")
}

func TestScanAllConditionRequiresEveryPattern(t *testing.T) {
	resetEngine(t)

	// Two of the three injection APIs are not enough.
	partial := Scan([]byte("VirtualAllocEx WriteProcessMemory"))
	for _, m := range partial.Matches {
		require.NotEqual(t, "process_injection_imports", m.RuleName)
	}

	full := Scan([]byte("VirtualAllocEx WriteProcessMemory CreateRemoteThread"))
	var found bool
	for _, m := range full.Matches {
		if m.RuleName == "process_injection_imports" {
			found = true
			require.Len(t, m.Strings, 3)
		}
	}
	require.True(t, found)
}

func TestScanCleanData(t *testing.T) {
	resetEngine(t)
	res := Scan([]byte("perfectly ordinary text with nothing interesting"))
	require.NoError(t, res.Err)
	require.Empty(t, res.Matches)
}

func TestScanHexPattern(t *testing.T) {
	resetEngine(t)
	data := append([]byte("prefix"), 0x4D, 0x5A, 0x90, 0x00)
	res := Scan(data)
	var found bool
	for _, m := range res.Matches {
		if m.RuleName == "mz_in_overlay" {
			found = true
		}
	}
	require.True(t, found)
}

func TestCustomRulesPath(t *testing.T) {
	resetEngine(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	custom := `
rules:
  - name: marker
    namespace: test
    severity: low
    patterns:
      m: "MARKER_[0-9]+"
`
	require.NoError(t, os.WriteFile(path, []byte(custom), 0o644))
	SetRulesPath(path)

	res := Scan([]byte("xx MARKER_42 yy"))
	require.NoError(t, res.Err)
	require.Equal(t, 1, res.RulesLoaded)
	require.Len(t, res.Matches, 1)
	require.Equal(t, "marker", res.Matches[0].RuleName)
	require.Equal(t, "low", res.Matches[0].Metadata["severity"])
}

func TestBadRulesPathSurfacesError(t *testing.T) {
	resetEngine(t)
	SetRulesPath("/nonexistent/rules.yaml")
	res := Scan([]byte("data"))
	require.Error(t, res.Err)
}
