package sample

import (
	"fmt"
	"sort"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/triage/pkg/model"
)

// index is a BadgerDB-backed secondary index over quarantined samples:
// a single flat keyspace partitioned by prefix.
//
// Key namespace:
//
//	"m:" + sha256            -> metadataDoc (JSON)
//	"t:" + unixNano + sha256 -> sha256 (upload-time ordering; List sorts newest first)
type index struct {
	db *badgerdb.DB
}

const (
	prefixMeta      = "m:"
	prefixByTime    = "t:"
)

func openIndex(dir string) (*index, error) {
	opts := badgerdb.DefaultOptions(dir).WithLogger(nil)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open sample index: %w", err)
	}
	return &index{db: db}, nil
}

func (x *index) Close() error {
	return x.db.Close()
}

func keyMeta(sha256Hex string) []byte {
	return []byte(prefixMeta + sha256Hex)
}

func keyByTime(unixNano int64, sha256Hex string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixByTime, unixNano, sha256Hex))
}

func (x *index) Put(s model.Sample) error {
	doc, err := marshalMetadata(s)
	if err != nil {
		return err
	}
	return x.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(keyMeta(s.SHA256), doc); err != nil {
			return err
		}
		return txn.Set(keyByTime(s.UploadedAt.UnixNano(), s.SHA256), []byte(s.SHA256))
	})
}

func (x *index) Get(sha256Hex string) (model.Sample, bool, error) {
	var s model.Sample
	found := false
	err := x.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyMeta(sha256Hex))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			decoded, err := unmarshalMetadata(val)
			if err != nil {
				return err
			}
			s = decoded
			found = true
			return nil
		})
	})
	return s, found, err
}

// List returns all indexed samples, newest upload first.
func (x *index) List() ([]model.Sample, error) {
	var out []model.Sample
	err := x.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixByTime)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			var sha string
			if err := it.Item().Value(func(val []byte) error {
				sha = string(val)
				return nil
			}); err != nil {
				return err
			}
			metaItem, err := txn.Get(keyMeta(sha))
			if err != nil {
				continue
			}
			if err := metaItem.Value(func(val []byte) error {
				s, err := unmarshalMetadata(val)
				if err != nil {
					return err
				}
				out = append(out, s)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

// ListByStatus filters List() by lifecycle state.
func (x *index) ListByStatus(status model.SampleLifecycle) ([]model.Sample, error) {
	all, err := x.List()
	if err != nil {
		return nil, err
	}
	var out []model.Sample
	for _, s := range all {
		if s.Lifecycle == status {
			out = append(out, s)
		}
	}
	return out, nil
}
