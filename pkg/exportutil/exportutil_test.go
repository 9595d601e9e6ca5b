package exportutil

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/triage/pkg/model"
	"github.com/marmos91/triage/pkg/netcap"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintext := []byte(`{"report":"secret analysis"}`)

	encoded, err := Encrypt(plaintext, "hunter2")
	require.NoError(t, err)

	decrypted, err := Decrypt(encoded, "hunter2")
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestEncryptLayout(t *testing.T) {
	encoded, err := Encrypt([]byte("x"), "pw")
	require.NoError(t, err)

	blob, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	// salt(16) + nonce(12) + ciphertext(1 + 16-byte GCM tag)
	require.Len(t, blob, 16+12+1+16)
}

func TestEncryptUsesFreshSaltAndNonce(t *testing.T) {
	a, err := Encrypt([]byte("same input"), "pw")
	require.NoError(t, err)
	b, err := Encrypt([]byte("same input"), "pw")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestDecryptWrongPassword(t *testing.T) {
	encoded, err := Encrypt([]byte("data"), "right")
	require.NoError(t, err)
	_, err = Decrypt(encoded, "wrong")
	require.Error(t, err)
}

func TestEncryptRejectsEmptyPassword(t *testing.T) {
	_, err := Encrypt([]byte("data"), "")
	require.Error(t, err)
}

func TestCompressRoundTrip(t *testing.T) {
	doc := []byte(`{"a":1,"b":[2,3,4]}`)
	compressed, err := Compress(doc)
	require.NoError(t, err)
	require.Equal(t, byte(0x1F), compressed[0], "gzip magic")
	require.Equal(t, byte(0x8B), compressed[1])

	restored, err := Decompress(compressed)
	require.NoError(t, err)
	require.Equal(t, doc, restored)
}

func TestExportCapture(t *testing.T) {
	packets := []model.NetworkPacket{{
		Protocol: "TCP",
		SrcIP:    "192.168.1.1", DstIP: "192.168.1.2",
		SrcPort: 1000, DstPort: 443, Size: 80,
	}}

	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "capture.json")
	require.NoError(t, ExportCapture("json", jsonPath, packets))
	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "192.168.1.1")

	pcapPath := filepath.Join(dir, "capture.pcap")
	require.NoError(t, ExportCapture("pcap", pcapPath, packets))
	pcapData, err := os.ReadFile(pcapPath)
	require.NoError(t, err)
	parsed, err := netcap.ParsePCAP(pcapData)
	require.NoError(t, err)
	require.Len(t, parsed, 1)

	require.Error(t, ExportCapture("xml", filepath.Join(dir, "x"), packets))
}
