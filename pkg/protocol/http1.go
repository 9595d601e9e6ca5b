package protocol

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/marmos91/triage/pkg/analysiserr"
)

// HTTP1Result is the dissected request plus suspicion findings.
type HTTP1Result struct {
	Method    string
	Path      string
	Proto     string
	Host      string
	UserAgent string
	Headers   map[string]string
	Findings  []Finding
}

// scannerAgents are user-agent substrings of common attack tooling.
var scannerAgents = []string{
	"sqlmap", "nikto", "nmap", "masscan", "dirbuster", "gobuster",
	"wpscan", "metasploit", "hydra", "zgrab", "curl/7.1", "python-requests/0",
}

// sensitivePaths are probe targets that rarely appear in benign traffic.
var sensitivePaths = []string{
	"/admin", "/wp-admin", "/backup", "/.git", "/.env", "/phpmyadmin",
	"/config.php", "/etc/passwd", "/.ssh", "/dump.sql",
}

// ParseHTTP1 dissects an HTTP/1 request using the standard streaming
// request parser.
func ParseHTTP1(data []byte) (HTTP1Result, error) {
	var result HTTP1Result
	if len(data) > MaxHTTPBody {
		return result, analysiserr.New(analysiserr.InputError, "HTTP message exceeds size ceiling")
	}

	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(data)))
	if err != nil {
		return result, analysiserr.Wrap(analysiserr.ParseError, "malformed HTTP/1 request", err)
	}
	defer req.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(req.Body, MaxHTTPBody))

	result.Method = req.Method
	result.Path = req.URL.RequestURI()
	result.Proto = req.Proto
	result.Host = req.Host
	result.UserAgent = req.UserAgent()
	result.Headers = make(map[string]string, len(req.Header))
	for k := range req.Header {
		result.Headers[k] = req.Header.Get(k)
	}

	uaLower := strings.ToLower(result.UserAgent)
	for _, scanner := range scannerAgents {
		if strings.Contains(uaLower, scanner) {
			result.Findings = append(result.Findings, Finding{
				Rule:        "scanner-user-agent",
				Description: "user agent matches scanning tool " + scanner,
			})
			break
		}
	}

	pathLower := strings.ToLower(result.Path)
	for _, probe := range sensitivePaths {
		if strings.Contains(pathLower, probe) {
			result.Findings = append(result.Findings, Finding{
				Rule:        "sensitive-path-probe",
				Description: "request path probes " + probe,
			})
			break
		}
	}

	if req.ProtoAtLeast(1, 1) && result.Host == "" {
		result.Findings = append(result.Findings, Finding{
			Rule:        "missing-host",
			Description: "HTTP/1.1 request without a Host header",
		})
	}

	return result, nil
}
