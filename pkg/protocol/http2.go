package protocol

import (
	"bytes"
	"fmt"

	"golang.org/x/net/http2"

	"github.com/marmos91/triage/pkg/analysiserr"
)

// RFC 7540 maxima used by the abuse heuristics.
const (
	h2MaxFrameSize     = 1<<24 - 1
	h2MaxInitialWindow = 1<<31 - 1
	h2MaxConcurrent    = 1000
)

// HTTP2Frame is one dissected frame summary.
type HTTP2Frame struct {
	Type     string
	StreamID uint32
	Flags    uint8
	Length   uint32
	Settings map[string]uint32 // SETTINGS frames only
}

// HTTP2Result carries the per-frame listing plus suspicion findings.
type HTTP2Result struct {
	Frames   []HTTP2Frame
	Findings []Finding
}

// ParseHTTP2 validates the preface and walks the frame stream with the
// x/net framer.
func ParseHTTP2(data []byte) (HTTP2Result, error) {
	var result HTTP2Result
	if !bytes.HasPrefix(data, http2Preface) {
		return result, analysiserr.New(analysiserr.ParseError, "missing HTTP/2 connection preface")
	}

	framer := http2.NewFramer(nil, bytes.NewReader(data[len(http2Preface):]))
	framer.SetMaxReadFrameSize(MaxHTTP2Frame)

	uniqueStreams := make(map[uint32]bool)
	rstCount, goawayCount := 0, 0

	for {
		frame, err := framer.ReadFrame()
		if err != nil {
			break
		}
		hdr := frame.Header()
		dissected := HTTP2Frame{
			Type:     hdr.Type.String(),
			StreamID: hdr.StreamID,
			Flags:    uint8(hdr.Flags),
			Length:   hdr.Length,
		}

		switch f := frame.(type) {
		case *http2.SettingsFrame:
			dissected.Settings = make(map[string]uint32)
			f.ForeachSetting(func(s http2.Setting) error {
				dissected.Settings[s.ID.String()] = s.Val
				result.Findings = append(result.Findings, settingFindings(s)...)
				return nil
			})
		case *http2.RSTStreamFrame:
			rstCount++
		case *http2.GoAwayFrame:
			goawayCount++
		}

		if hdr.StreamID != 0 {
			uniqueStreams[hdr.StreamID] = true
		}
		result.Frames = append(result.Frames, dissected)
	}

	if len(uniqueStreams) > 100 {
		result.Findings = append(result.Findings, Finding{
			Rule:        "stream-flood",
			Description: fmt.Sprintf("%d unique streams in one connection", len(uniqueStreams)),
		})
	}
	if rstCount > 50 {
		result.Findings = append(result.Findings, Finding{
			Rule:        "rst-flood",
			Description: fmt.Sprintf("%d RST_STREAM frames (rapid-reset pattern)", rstCount),
		})
	}
	if goawayCount > 5 {
		result.Findings = append(result.Findings, Finding{
			Rule:        "goaway-flood",
			Description: fmt.Sprintf("%d GOAWAY frames", goawayCount),
		})
	}

	return result, nil
}

// settingFindings flags SETTINGS values exceeding the RFC maxima.
func settingFindings(s http2.Setting) []Finding {
	switch s.ID {
	case http2.SettingMaxFrameSize:
		if s.Val > h2MaxFrameSize {
			return []Finding{{
				Rule:        "oversized-frame-setting",
				Description: fmt.Sprintf("SETTINGS_MAX_FRAME_SIZE %d exceeds RFC maximum", s.Val),
			}}
		}
	case http2.SettingInitialWindowSize:
		if s.Val > h2MaxInitialWindow {
			return []Finding{{
				Rule:        "oversized-window-setting",
				Description: fmt.Sprintf("SETTINGS_INITIAL_WINDOW_SIZE %d exceeds RFC maximum", s.Val),
			}}
		}
	case http2.SettingMaxConcurrentStreams:
		if s.Val > h2MaxConcurrent {
			return []Finding{{
				Rule:        "excessive-concurrency-setting",
				Description: fmt.Sprintf("SETTINGS_MAX_CONCURRENT_STREAMS %d is implausibly high", s.Val),
			}}
		}
	}
	return nil
}
