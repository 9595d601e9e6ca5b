// Package model holds the data types shared across the quarantine store,
// the static and dynamic analysis pipelines, and the job runner. Keeping
// these in one leaf package avoids import cycles between components that
// all need to describe the same sample, report, and job shapes.
package model

import "time"

// SampleLifecycle is the lifecycle state of a quarantined sample.
type SampleLifecycle string

const (
	SampleStaged    SampleLifecycle = "staged"
	SampleAnalyzing SampleLifecycle = "analyzing"
	SampleAnalyzed  SampleLifecycle = "analyzed"
	SampleDeleted   SampleLifecycle = "deleted"
)

// FileTypeVariant is the detected top-level category of a sample.
type FileTypeVariant string

const (
	FileTypeNativeExecutable FileTypeVariant = "native_executable"
	FileTypeDocument         FileTypeVariant = "document"
	FileTypeArchive          FileTypeVariant = "archive"
	FileTypeScript           FileTypeVariant = "script"
	FileTypeImage            FileTypeVariant = "image"
	FileTypeText             FileTypeVariant = "text"
	FileTypeUnknown          FileTypeVariant = "unknown"
)

// DetectedType is the outcome of file-type classification (component B).
type DetectedType struct {
	Variant     FileTypeVariant
	Subtype     string // e.g. "pe", "elf", "macho" when Variant == NativeExecutable; language name for scripts
	MIME        string
	Description string
}

// Sample is a single quarantined artifact, uniquely identified by its
// SHA-256 digest.
type Sample struct {
	SHA256           string
	SHA1             string
	MD5              string
	OriginalFilename string
	SanitizedName    string
	Size             int64
	Type             DetectedType
	UploadedAt       time.Time
	Lifecycle        SampleLifecycle
	Tags             []string
	Notes            string
	AnalysisCount    int
}

// StoreResult is returned by the quarantine store's Store operation.
type StoreResult struct {
	SHA256      string
	Path        string
	Metadata    Sample
	IsDuplicate bool
}
