package trace

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/multierr"
)

var storePrefix = []byte("trace/")

// Store is a Recorder that keeps events in a badger database, keyed by
// arrival order, so they can be queried after the run.
type Store struct {
	db     *badger.DB
	ownsDB bool

	lock sync.Mutex
	seq  uint64
	err  error
}

// OpenStore opens (or creates) a badger database in dir. An empty dir keeps
// the database in memory.
func OpenStore(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, err
	}
	store := NewStore(db)
	store.ownsDB = true
	return store, nil
}

// NewStore records into an already open database, appending after any
// events it already holds. The caller keeps ownership of db.
func NewStore(db *badger.DB) *Store {
	store := &Store{db: db}
	store.err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = storePrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			store.seq++
		}
		return nil
	})
	return store
}

func (store *Store) key(seq uint64) []byte {
	key := make([]byte, len(storePrefix)+8)
	copy(key, storePrefix)
	binary.BigEndian.PutUint64(key[len(storePrefix):], seq)
	return key
}

func (store *Store) RecordEvent(event Event) {
	store.lock.Lock()
	defer store.lock.Unlock()
	if store.err != nil {
		return
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&event); err != nil {
		store.err = err
		return
	}
	key := store.key(store.seq)
	store.seq++
	store.err = store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf.Bytes())
	})
}

// Flush reports the first write error seen, if any.
func (store *Store) Flush() error {
	store.lock.Lock()
	defer store.lock.Unlock()
	return store.err
}

// Events reads back the stored events of the given kinds in recording order,
// or all events when no kind is given.
func (store *Store) Events(kinds ...Kind) ([]Event, error) {
	var events []Event
	err := store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = storePrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var event Event
				if err := gob.NewDecoder(bytes.NewReader(val)).Decode(&event); err != nil {
					return err
				}
				events = append(events, event)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return filter(events, kinds), nil
}

func (store *Store) Close() (err error) {
	err = store.Flush()
	if store.ownsDB {
		err = multierr.Append(err, store.db.Close())
	}
	return
}
