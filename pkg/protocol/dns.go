package protocol

import (
	"fmt"
	"strings"

	"golang.org/x/net/dns/dnsmessage"

	"github.com/marmos91/triage/pkg/analysiserr"
)

// DNSQuestion is one dissected query.
type DNSQuestion struct {
	Name string
	Type string
}

// DNSResult carries the dissected message plus suspicion findings.
type DNSResult struct {
	ID        uint16
	Questions []DNSQuestion
	Findings  []Finding
}

// suspiciousTLDs see disproportionate malware C2 registration.
var suspiciousTLDs = []string{".tk", ".ml", ".ga", ".cf"}

// ParseDNS dissects a DNS message with the typed parser and applies the
// DGA and abuse heuristics to every query name.
func ParseDNS(data []byte) (DNSResult, error) {
	var result DNSResult
	if len(data) > MaxDNSMessage {
		return result, analysiserr.New(analysiserr.InputError, "DNS message exceeds 512-byte ceiling")
	}

	var parser dnsmessage.Parser
	header, err := parser.Start(data)
	if err != nil {
		return result, analysiserr.Wrap(analysiserr.ParseError, "malformed DNS message", err)
	}
	result.ID = header.ID

	for {
		q, err := parser.Question()
		if err != nil {
			break
		}
		name := strings.TrimSuffix(q.Name.String(), ".")
		result.Questions = append(result.Questions, DNSQuestion{
			Name: name,
			Type: q.Type.String(),
		})
		result.Findings = append(result.Findings, nameFindings(name)...)

		switch q.Type {
		case dnsmessage.TypeTXT, dnsmessage.Type(10) /* NULL */ :
			result.Findings = append(result.Findings, Finding{
				Rule:        "unusual-record-type",
				Description: q.Type.String() + " query (common exfiltration channel)",
			})
		default:
			if q.Type >= 0xFF00 { // private-use range
				result.Findings = append(result.Findings, Finding{
					Rule:        "unusual-record-type",
					Description: fmt.Sprintf("private-use record type %d", q.Type),
				})
			}
		}
	}

	return result, nil
}

// nameFindings applies the per-name heuristics: DGA shape, suspicious
// TLDs, and oversized names.
func nameFindings(name string) []Finding {
	var findings []Finding

	if len(name) > 100 {
		findings = append(findings, Finding{
			Rule:        "oversized-name",
			Description: fmt.Sprintf("query name is %d characters", len(name)),
		})
	}
	for _, tld := range suspiciousTLDs {
		if strings.HasSuffix(name, tld) {
			findings = append(findings, Finding{
				Rule:        "suspicious-tld",
				Description: "query targets the " + tld + " TLD",
			})
			break
		}
	}
	if looksDGA(name) {
		findings = append(findings, Finding{
			Rule:        "dga-pattern",
			Description: "query name matches domain-generation-algorithm heuristics",
		})
	}
	return findings
}

// looksDGA scores the leftmost label: length 10–50 with a consonant-to-
// vowel ratio above 3:1, or digits mixed into letters on a label longer
// than 15 characters.
func looksDGA(name string) bool {
	label, _, _ := strings.Cut(name, ".")
	label = strings.ToLower(label)
	n := len(label)
	if n < 10 || n > 50 {
		return false
	}

	vowels, consonants, digits, letters := 0, 0, 0, 0
	for _, c := range label {
		switch {
		case c >= '0' && c <= '9':
			digits++
		case strings.ContainsRune("aeiou", c):
			vowels++
			letters++
		case c >= 'a' && c <= 'z':
			consonants++
			letters++
		}
	}

	if consonants > 0 && (vowels == 0 || float64(consonants)/float64(max(vowels, 1)) > 3.0) {
		return true
	}
	if digits > 0 && letters > 0 && n > 15 {
		return true
	}
	return false
}
