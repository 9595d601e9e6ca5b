package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/dns/dnsmessage"
	"golang.org/x/net/http2"
)

func findingRules(findings []Finding) []string {
	var rules []string
	for _, f := range findings {
		rules = append(rules, f.Rule)
	}
	return rules
}

func TestClassify(t *testing.T) {
	require.Equal(t, KindHTTP2, Classify(append([]byte(nil), http2Preface...)))
	require.Equal(t, KindHTTP1, Classify([]byte("GET / HTTP/1.1\r\n\r\n")))
	require.Equal(t, KindTLS, Classify([]byte{0x16, 0x03, 0x01, 0x00, 0x05, 0x01}))
	require.Equal(t, KindUnknown, Classify([]byte{0xDE, 0xAD, 0xBE, 0xEF}))
}

func TestParseHTTP1Clean(t *testing.T) {
	raw := "GET /index.html HTTP/1.1\r\nHost: example.com\r\nUser-Agent: Mozilla/5.0\r\n\r\n"
	res, err := ParseHTTP1([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, "GET", res.Method)
	require.Equal(t, "example.com", res.Host)
	require.Empty(t, res.Findings)
}

func TestParseHTTP1Suspicious(t *testing.T) {
	raw := "GET /wp-admin/setup.php HTTP/1.1\r\nUser-Agent: sqlmap/1.7\r\n\r\n"
	res, err := ParseHTTP1([]byte(raw))
	require.NoError(t, err)
	rules := findingRules(res.Findings)
	require.Contains(t, rules, "scanner-user-agent")
	require.Contains(t, rules, "sensitive-path-probe")
	require.Contains(t, rules, "missing-host")
}

func TestParseHTTP2SettingsAndFrames(t *testing.T) {
	var buf bytes.Buffer
	framer := http2.NewFramer(&buf, nil)
	require.NoError(t, framer.WriteSettings(
		http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: 5000},
	))
	require.NoError(t, framer.WriteRSTStream(1, http2.ErrCodeCancel))

	data := append(append([]byte(nil), http2Preface...), buf.Bytes()...)
	res, err := ParseHTTP2(data)
	require.NoError(t, err)
	require.Len(t, res.Frames, 2)
	require.Equal(t, "SETTINGS", res.Frames[0].Type)
	require.NotEmpty(t, res.Frames[0].Settings)
	require.Contains(t, findingRules(res.Findings), "excessive-concurrency-setting")
}

func TestParseHTTP2RejectsMissingPreface(t *testing.T) {
	_, err := ParseHTTP2([]byte("nonsense"))
	require.Error(t, err)
}

// buildClientHello assembles a minimal TLS 1.2 ClientHello record.
func buildClientHello(version uint16, suites []uint16, sni string) []byte {
	var hello []byte
	hello = append(hello, byte(version>>8), byte(version))
	hello = append(hello, make([]byte, 32)...) // random
	hello = append(hello, 0)                   // session id length

	hello = append(hello, byte(len(suites)*2>>8), byte(len(suites)*2))
	for _, s := range suites {
		hello = append(hello, byte(s>>8), byte(s))
	}
	hello = append(hello, 1, 0) // compression: null

	var ext []byte
	if sni != "" {
		name := []byte(sni)
		listLen := len(name) + 3
		// server_name_list: u16 list length, entry type 0, u16 name length.
		entry := append([]byte{byte(listLen >> 8), byte(listLen), 0x00,
			byte(len(name) >> 8), byte(len(name))}, name...)
		ext = append(ext, 0x00, 0x00) // extension type 0 (server_name)
		ext = append(ext, byte(len(entry)>>8), byte(len(entry)))
		ext = append(ext, entry...)
	}
	hello = append(hello, byte(len(ext)>>8), byte(len(ext)))
	hello = append(hello, ext...)

	handshake := append([]byte{0x01, byte(len(hello) >> 16), byte(len(hello) >> 8), byte(len(hello))}, hello...)
	record := append([]byte{0x16, 0x03, 0x03, byte(len(handshake) >> 8), byte(len(handshake))}, handshake...)
	return record
}

func TestParseTLSClientHelloWithSNI(t *testing.T) {
	record := buildClientHello(0x0303, []uint16{0x1301, 0xC02F}, "example.com")
	res, err := ParseTLS(record)
	require.NoError(t, err)
	require.Equal(t, "example.com", res.SNI)
	require.Equal(t, []uint16{0x1301, 0xC02F}, res.CipherSuites)
	require.Empty(t, res.Findings)
}

func TestParseTLSFlagsLegacyNullNoSNI(t *testing.T) {
	record := buildClientHello(0x0301, []uint16{0x0000}, "")
	res, err := ParseTLS(record)
	require.NoError(t, err)
	rules := findingRules(res.Findings)
	require.Contains(t, rules, "legacy-tls-version")
	require.Contains(t, rules, "null-cipher-offered")
	require.Contains(t, rules, "missing-sni")
}

func buildDNSQuery(t *testing.T, name string, qtype dnsmessage.Type) []byte {
	t.Helper()
	builder := dnsmessage.NewBuilder(nil, dnsmessage.Header{ID: 99, RecursionDesired: true})
	require.NoError(t, builder.StartQuestions())
	require.NoError(t, builder.Question(dnsmessage.Question{
		Name:  dnsmessage.MustNewName(name),
		Type:  qtype,
		Class: dnsmessage.ClassINET,
	}))
	msg, err := builder.Finish()
	require.NoError(t, err)
	return msg
}

func TestParseDNSClean(t *testing.T) {
	msg := buildDNSQuery(t, "example.com.", dnsmessage.TypeA)
	res, err := ParseDNS(msg)
	require.NoError(t, err)
	require.Equal(t, uint16(99), res.ID)
	require.Len(t, res.Questions, 1)
	require.Equal(t, "example.com", res.Questions[0].Name)
	require.Empty(t, res.Findings)
}

func TestParseDNSSuspicious(t *testing.T) {
	res, err := ParseDNS(buildDNSQuery(t, "xkqjzwvbnmtrplk.tk.", dnsmessage.TypeA))
	require.NoError(t, err)
	rules := findingRules(res.Findings)
	require.Contains(t, rules, "suspicious-tld")
	require.Contains(t, rules, "dga-pattern")

	res, err = ParseDNS(buildDNSQuery(t, "exfil.example.com.", dnsmessage.TypeTXT))
	require.NoError(t, err)
	require.Contains(t, findingRules(res.Findings), "unusual-record-type")
}

func TestParseDNSSizeCeiling(t *testing.T) {
	_, err := ParseDNS(make([]byte, MaxDNSMessage+1))
	require.Error(t, err)
}

func TestLooksDGA(t *testing.T) {
	require.True(t, looksDGA("xkqjzwvbnmtrplk.tk"), "no vowels")
	require.True(t, looksDGA("a1b2c3d4e5f6g7h8.com"), "digit mix, long")
	require.False(t, looksDGA("google.com"))
	require.False(t, looksDGA("documentation.example"))
}
