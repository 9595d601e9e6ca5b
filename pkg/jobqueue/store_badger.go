package jobqueue

import (
	"encoding/json"
	"sort"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/triage/pkg/analysiserr"
	"github.com/marmos91/triage/pkg/model"
)

// Key namespace:
//
// Data Type   Prefix  Key Format    Value Type
// ============================================
// Job         "j:"    j:<uuid>      Job (JSON)
const prefixJob = "j:"

// BadgerStore persists jobs in a BadgerDB database.
type BadgerStore struct {
	db *badgerdb.DB
}

// OpenBadgerStore opens (or creates) the job database at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badgerdb.DefaultOptions(path).WithLogger(nil)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, analysiserr.Wrap(analysiserr.InputError, "open job store", err)
	}
	return &BadgerStore{db: db}, nil
}

func keyJob(id string) []byte { return []byte(prefixJob + id) }

func (s *BadgerStore) Create(job model.Job) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return txn.Set(keyJob(job.ID), data)
	})
}

func (s *BadgerStore) Get(id string) (model.Job, error) {
	var job model.Job
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyJob(id))
		if err == badgerdb.ErrKeyNotFound {
			return errNotFound(id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &job)
		})
	})
	return job, err
}

func (s *BadgerStore) Update(job model.Job) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyJob(job.ID))
		if err == badgerdb.ErrKeyNotFound {
			return errNotFound(job.ID)
		}
		if err != nil {
			return err
		}
		var existing model.Job
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &existing)
		}); err != nil {
			return err
		}
		if existing.Terminal() {
			return errTerminal(job.ID)
		}
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return txn.Set(keyJob(job.ID), data)
	})
}

func (s *BadgerStore) AppendLog(id string, line model.LogLine) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyJob(id))
		if err == badgerdb.ErrKeyNotFound {
			return errNotFound(id)
		}
		if err != nil {
			return err
		}
		var job model.Job
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &job)
		}); err != nil {
			return err
		}
		job.Log = append(job.Log, line)
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return txn.Set(keyJob(id), data)
	})
}

func (s *BadgerStore) List() ([]model.Job, error) {
	var jobs []model.Job
	err := s.db.View(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixJob)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var job model.Job
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				return err
			}
			jobs = append(jobs, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }
