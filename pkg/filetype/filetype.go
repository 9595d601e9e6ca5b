// Package filetype classifies a byte buffer into a DetectedType using a
// layered strategy: a magic-byte matcher first, then a text-subtype probe
// for source-code and markup languages that the magic-byte layer cannot
// tell apart from plain text.
package filetype

import (
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"

	"github.com/marmos91/triage/pkg/model"
)

// textSniffLen is how much of the front of the buffer the text-subtype
// probe inspects.
const textSniffLen = 2048

// printableSniffLen is how much of the front of the buffer is used to
// decide if the content is text at all.
const printableSniffLen = 1024

// printableRatioThreshold is the fraction of printable bytes in the first
// printableSniffLen bytes above which content is considered text.
const printableRatioThreshold = 0.9

// Detect classifies data, consulting the magic-byte matcher first and
// falling back to the text-subtype probe only when the magic-byte layer
// reports a generic text/octet-stream result.
func Detect(data []byte) model.DetectedType {
	mt := mimetype.Detect(data)

	variant, subtype := classifyMIME(mt)
	if variant != model.FileTypeUnknown && variant != model.FileTypeText {
		return model.DetectedType{Variant: variant, Subtype: subtype, MIME: mt.String()}
	}

	if isText(data) {
		if lang, ok := sniffTextSubtype(data); ok {
			return model.DetectedType{Variant: model.FileTypeScript, Subtype: lang, MIME: mt.String(), Description: lang}
		}
		return model.DetectedType{Variant: model.FileTypeText, Subtype: "plain", MIME: mt.String()}
	}

	if variant == model.FileTypeUnknown {
		return model.DetectedType{Variant: model.FileTypeUnknown, MIME: mt.String()}
	}
	return model.DetectedType{Variant: variant, Subtype: subtype, MIME: mt.String()}
}

// classifyMIME maps a mimetype.MIME detection onto the sample data-model's
// coarse variant taxonomy.
func classifyMIME(mt *mimetype.MIME) (model.FileTypeVariant, string) {
	s := mt.String()
	switch {
	case mt.Is("application/vnd.microsoft.portable-executable"):
		return model.FileTypeNativeExecutable, "pe"
	case mt.Is("application/x-elf") || mt.Is("application/x-executable") || mt.Is("application/x-sharedlib") || mt.Is("application/x-object"):
		return model.FileTypeNativeExecutable, "elf"
	case mt.Is("application/x-mach-binary"):
		return model.FileTypeNativeExecutable, "macho"
	case strings.HasPrefix(s, "application/zip"), mt.Is("application/x-7z-compressed"),
		mt.Is("application/x-tar"), mt.Is("application/gzip"), mt.Is("application/x-bzip2"),
		mt.Is("application/x-rar-compressed"):
		return model.FileTypeArchive, strings.TrimPrefix(s, "application/")
	case mt.Is("application/pdf"), mt.Is("application/msword"),
		strings.HasPrefix(s, "application/vnd.openxmlformats"),
		strings.HasPrefix(s, "application/vnd.ms-"):
		return model.FileTypeDocument, strings.TrimPrefix(s, "application/")
	case strings.HasPrefix(s, "image/"):
		return model.FileTypeImage, strings.TrimPrefix(s, "image/")
	case strings.HasPrefix(s, "text/"):
		return model.FileTypeText, strings.TrimPrefix(s, "text/")
	default:
		return model.FileTypeUnknown, ""
	}
}

// isText reports whether the fraction of printable bytes in the first
// printableSniffLen bytes exceeds printableRatioThreshold.
func isText(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	n := len(data)
	if n > printableSniffLen {
		n = printableSniffLen
	}
	printable := 0
	for _, b := range data[:n] {
		if b == '\n' || b == '\r' || b == '\t' {
			printable++
			continue
		}
		if unicode.IsPrint(rune(b)) && b < 0x80 {
			printable++
		}
	}
	return float64(printable)/float64(n) > printableRatioThreshold
}

// shebangLanguage maps a #! interpreter line to a language name.
func shebangLanguage(firstLine string) (string, bool) {
	switch {
	case strings.Contains(firstLine, "python"):
		return "python", true
	case strings.Contains(firstLine, "bash"), strings.Contains(firstLine, "/sh"):
		return "shell", true
	case strings.Contains(firstLine, "node"):
		return "javascript", true
	case strings.Contains(firstLine, "perl"):
		return "perl", true
	case strings.Contains(firstLine, "ruby"):
		return "ruby", true
	case strings.Contains(firstLine, "php"):
		return "php", true
	default:
		return "", false
	}
}

// sniffTextSubtype probes the front of a confirmed-text buffer for
// recognizable source and markup subtypes.
func sniffTextSubtype(data []byte) (string, bool) {
	n := len(data)
	if n > textSniffLen {
		n = textSniffLen
	}
	head := string(data[:n])
	trimmed := strings.TrimLeft(head, " \t\r\n")

	if strings.HasPrefix(trimmed, "#!") {
		nl := strings.IndexByte(trimmed, '\n')
		line := trimmed
		if nl >= 0 {
			line = trimmed[:nl]
		}
		if lang, ok := shebangLanguage(line); ok {
			return lang, true
		}
	}

	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(trimmed, "<?xml") && strings.Contains(lower, "<svg"):
		return "svg", true
	case strings.HasPrefix(lower, "<!doctype html"), strings.HasPrefix(lower, "<html"):
		return "html", true
	case strings.HasPrefix(trimmed, "<?xml"):
		return "xml", true
	case strings.HasPrefix(trimmed, "{") && looksLikeJSON(trimmed):
		return "json", true
	case strings.HasPrefix(trimmed, "<?php"):
		return "php", true
	case strings.Contains(lower, "function ") && strings.Contains(lower, "=>"):
		return "typescript", true
	case strings.Contains(head, "package main") && strings.Contains(head, "func "):
		return "go", true
	case strings.Contains(head, "fn main") && strings.Contains(head, "let "):
		return "rust", true
	case strings.Contains(head, "#include") && strings.Contains(head, "::"):
		return "cpp", true
	case strings.Contains(head, "#include"):
		return "c", true
	case strings.Contains(head, "public class") || strings.Contains(head, "public static void main"):
		return "java", true
	case strings.HasPrefix(lower, "select ") || strings.HasPrefix(lower, "create table"):
		return "sql", true
	case strings.HasPrefix(trimmed, "#") && strings.Contains(head, "\n## "):
		return "markdown", true
	case strings.HasPrefix(trimmed, "[") && strings.Contains(head, "]\n"):
		return "ini", true
	case strings.HasPrefix(head, "@echo off"):
		return "batch", true
	case strings.Contains(head, "param(") || strings.Contains(head, "Write-Host"):
		return "powershell", true
	case strings.Contains(head, "---\n") && strings.Contains(head, ":"):
		return "yaml", true
	case strings.Contains(head, "def ") && strings.Contains(head, "import "):
		return "python", true
	default:
		return "", false
	}
}

func looksLikeJSON(s string) bool {
	return strings.Contains(s, "\":") || strings.Contains(s, "\": ")
}
