// Package sample implements the quarantine store (component A): a
// content-addressed, permission-restricted on-disk store for suspect
// artifacts, deduplicated by SHA-256, with a BadgerDB-backed secondary
// index for fast listing.
package sample

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/marmos91/triage/internal/logger"
	"github.com/marmos91/triage/pkg/analysiserr"
	"github.com/marmos91/triage/pkg/filetype"
	"github.com/marmos91/triage/pkg/model"
)

// Directories are owner-only; sample bytes become read-only once
// finalized.
const (
	dirMode      os.FileMode = 0o700
	fileModeRW   os.FileMode = 0o600
	fileModeRO   os.FileMode = 0o400
)

// Config configures a Store.
type Config struct {
	BaseDir string // contains samples/, staging/, metadata-index/
}

// Store is the quarantine store. All exported methods are safe for
// concurrent use.
type Store struct {
	mu      sync.Mutex
	baseDir string
	idx     *index
}

// Open creates the directory layout if absent and opens the metadata
// index.
func Open(cfg Config) (*Store, error) {
	if cfg.BaseDir == "" {
		return nil, analysiserr.New(analysiserr.InputError, "base directory is required")
	}
	for _, sub := range []string{"samples", "staging", "metadata-index"} {
		if err := os.MkdirAll(filepath.Join(cfg.BaseDir, sub), dirMode); err != nil {
			return nil, analysiserr.Wrap(analysiserr.InputError, "create quarantine directory", err)
		}
	}
	idx, err := openIndex(filepath.Join(cfg.BaseDir, "metadata-index"))
	if err != nil {
		return nil, analysiserr.Wrap(analysiserr.InputError, "open quarantine index", err)
	}
	return &Store{baseDir: cfg.BaseDir, idx: idx}, nil
}

// Close releases the index's file handles.
func (s *Store) Close() error {
	return s.idx.Close()
}

// samplePath returns samples/<ab>/<cd>/<sha256>.
func (s *Store) samplePath(sha256Hex string) string {
	ab, cd := shardPath(sha256Hex)
	return filepath.Join(s.baseDir, "samples", ab, cd, sha256Hex)
}

func (s *Store) metadataPath(sha256Hex string) string {
	return s.samplePath(sha256Hex) + ".json"
}

// Store writes data to the quarantine store under its SHA-256 digest. If
// the digest already exists, the write is skipped and the existing
// metadata's AnalysisCount is incremented.
func (s *Store) Store(data []byte, originalFilename string) (model.StoreResult, error) {
	if len(data) < 1 {
		return model.StoreResult{}, analysiserr.New(analysiserr.InputError, "sample must be at least 1 byte")
	}
	const maxStaticAnalysisSize = 100 * 1024 * 1024
	if len(data) > maxStaticAnalysisSize {
		return model.StoreResult{}, analysiserr.New(analysiserr.InputError, "file exceeds 100 MiB static-analysis cap")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d := computeDigests(data)

	if existing, found, err := s.idx.Get(d.SHA256); err != nil {
		return model.StoreResult{}, analysiserr.Wrap(analysiserr.InputError, "query sample index", err)
	} else if found {
		existing.AnalysisCount++
		if err := s.idx.Put(existing); err != nil {
			return model.StoreResult{}, analysiserr.Wrap(analysiserr.InputError, "update sample metadata", err)
		}
		if err := s.writeMetadataFile(existing); err != nil {
			return model.StoreResult{}, err
		}
		logger.Info("duplicate sample upload", logger.SampleHash(d.SHA256), logger.Filename(existing.SanitizedName))
		return model.StoreResult{SHA256: d.SHA256, Path: s.samplePath(d.SHA256), Metadata: existing, IsDuplicate: true}, nil
	}

	sanitized := SanitizeFilename(originalFilename)
	detected := filetype.Detect(data)

	meta := model.Sample{
		SHA256:           d.SHA256,
		SHA1:             d.SHA1,
		MD5:              d.MD5,
		OriginalFilename: originalFilename,
		SanitizedName:    sanitized,
		Size:             int64(len(data)),
		Type:             detected,
		UploadedAt:       time.Now(),
		Lifecycle:        model.SampleStaged,
		AnalysisCount:    0,
	}

	if err := s.writeSampleAtomic(d.SHA256, data); err != nil {
		return model.StoreResult{}, err
	}
	if err := s.writeMetadataFile(meta); err != nil {
		return model.StoreResult{}, err
	}
	if err := s.idx.Put(meta); err != nil {
		return model.StoreResult{}, analysiserr.Wrap(analysiserr.InputError, "index sample metadata", err)
	}

	logger.Info("sample stored", logger.SampleHash(d.SHA256), logger.Filename(sanitized), logger.Size(uint64(len(data))))
	return model.StoreResult{SHA256: d.SHA256, Path: s.samplePath(d.SHA256), Metadata: meta, IsDuplicate: false}, nil
}

// writeSampleAtomic writes the sample bytes via a temp-file-then-rename,
// then tightens permissions to read-only.
func (s *Store) writeSampleAtomic(sha256Hex string, data []byte) error {
	path := s.samplePath(sha256Hex)
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return analysiserr.Wrap(analysiserr.InputError, "create shard directory", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, fileModeRW); err != nil {
		return analysiserr.Wrap(analysiserr.InputError, "write sample bytes", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return analysiserr.Wrap(analysiserr.InputError, "finalize sample write", err)
	}
	if err := os.Chmod(path, fileModeRO); err != nil {
		return analysiserr.Wrap(analysiserr.InputError, "lock down sample permissions", err)
	}
	return nil
}

func (s *Store) writeMetadataFile(meta model.Sample) error {
	doc, err := marshalMetadata(meta)
	if err != nil {
		return analysiserr.Wrap(analysiserr.InputError, "marshal sample metadata", err)
	}
	path := s.metadataPath(meta.SHA256)
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return analysiserr.Wrap(analysiserr.InputError, "create shard directory", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, doc, fileModeRW); err != nil {
		return analysiserr.Wrap(analysiserr.InputError, "write sample metadata", err)
	}
	return os.Rename(tmp, path)
}

// Read returns the raw bytes for sha256Hex.
func (s *Store) Read(sha256Hex string) ([]byte, error) {
	data, err := os.ReadFile(s.samplePath(sha256Hex))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, analysiserr.New(analysiserr.InputError, "sample not found")
		}
		return nil, analysiserr.Wrap(analysiserr.InputError, "read sample", err)
	}
	return data, nil
}

// Exists reports whether sha256Hex is present (and not soft-deleted).
func (s *Store) Exists(sha256Hex string) (bool, error) {
	meta, found, err := s.idx.Get(sha256Hex)
	return found && meta.Lifecycle != model.SampleDeleted, err
}

// Metadata returns the indexed metadata for sha256Hex.
func (s *Store) Metadata(sha256Hex string) (model.Sample, bool, error) {
	return s.idx.Get(sha256Hex)
}

// List returns all samples, newest upload first.
func (s *Store) List() ([]model.Sample, error) {
	return s.idx.List()
}

// ListByStatus returns samples in the given lifecycle state, newest first.
func (s *Store) ListByStatus(status model.SampleLifecycle) ([]model.Sample, error) {
	return s.idx.ListByStatus(status)
}

// Delete marks a sample's metadata as deleted without removing its bytes.
// CleanupDeleted performs the actual unlink.
func (s *Store) Delete(sha256Hex string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, found, err := s.idx.Get(sha256Hex)
	if err != nil {
		return analysiserr.Wrap(analysiserr.InputError, "query sample index", err)
	}
	if !found {
		return analysiserr.New(analysiserr.InputError, "sample not found")
	}
	meta.Lifecycle = model.SampleDeleted
	if err := s.idx.Put(meta); err != nil {
		return analysiserr.Wrap(analysiserr.InputError, "update sample metadata", err)
	}
	return s.writeMetadataFile(meta)
}

// CleanupDeleted removes the on-disk bytes and metadata file for every
// sample marked deleted, relaxing permissions first so the unlink
// succeeds.
func (s *Store) CleanupDeleted() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted, err := s.idx.ListByStatus(model.SampleDeleted)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, meta := range deleted {
		path := s.samplePath(meta.SHA256)
		_ = os.Chmod(path, fileModeRW)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, analysiserr.Wrap(analysiserr.InputError, "remove sample bytes", err)
		}
		_ = os.Remove(s.metadataPath(meta.SHA256))
		removed++
	}
	return removed, nil
}

// StageForAnalysis copies (never moves) a sample into staging/ and returns
// the staged path.
func (s *Store) StageForAnalysis(sha256Hex string) (string, error) {
	data, err := s.Read(sha256Hex)
	if err != nil {
		return "", err
	}
	stagedPath := filepath.Join(s.baseDir, "staging", sha256Hex)
	if err := os.WriteFile(stagedPath, data, fileModeRW); err != nil {
		return "", analysiserr.Wrap(analysiserr.InputError, "stage sample", err)
	}
	return stagedPath, nil
}

// CleanupStaging purges the staging/ directory.
func (s *Store) CleanupStaging() error {
	staging := filepath.Join(s.baseDir, "staging")
	entries, err := os.ReadDir(staging)
	if err != nil {
		return analysiserr.Wrap(analysiserr.InputError, "list staging directory", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(staging, e.Name())); err != nil {
			return analysiserr.Wrap(analysiserr.InputError, fmt.Sprintf("remove staged entry %s", e.Name()), err)
		}
	}
	return nil
}
