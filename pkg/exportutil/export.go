package exportutil

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"

	"github.com/marmos91/triage/pkg/analysiserr"
	"github.com/marmos91/triage/pkg/model"
	"github.com/marmos91/triage/pkg/netcap"
)

// Compress gzips a JSON document for export.
func Compress(jsonDoc []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(jsonDoc); err != nil {
		return nil, analysiserr.Wrap(analysiserr.CryptoError, "compress export data", err)
	}
	if err := gz.Close(); err != nil {
		return nil, analysiserr.Wrap(analysiserr.CryptoError, "finalize compression", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, analysiserr.Wrap(analysiserr.ParseError, "open gzip stream", err)
	}
	defer gz.Close()
	out, err := io.ReadAll(gz)
	if err != nil {
		return nil, analysiserr.Wrap(analysiserr.ParseError, "read gzip stream", err)
	}
	return out, nil
}

// ExportCapture writes packets to path in the requested format: "json"
// (pretty document) or "pcap" (rebuilt frames).
func ExportCapture(format, path string, packets []model.NetworkPacket) error {
	var data []byte
	var err error
	switch format {
	case "json":
		data, err = json.MarshalIndent(packets, "", "  ")
		if err != nil {
			return analysiserr.Wrap(analysiserr.InputError, "serialize capture", err)
		}
	case "pcap":
		data, err = netcap.WritePCAP(packets)
		if err != nil {
			return err
		}
	default:
		return analysiserr.New(analysiserr.InputError, "unsupported capture export format "+format)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return analysiserr.Wrap(analysiserr.InputError, "write capture export", err)
	}
	return nil
}
