package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const badgerKeyPrefix = "worker_state:"

type badgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a Store on an open Badger database. Compare-and-swap
// runs inside a read-write transaction, so Badger's own conflict detection
// backs the generation check across goroutines.
func NewBadgerStore(db *badger.DB) Store {
	return &badgerStore{db: db}
}

func hardwarePrefix(id uuid.UUID) []byte {
	return []byte(badgerKeyPrefix + id.String() + "/")
}

func recordKey(key Key) []byte {
	return append(hardwarePrefix(key.HardwareID), key.WorkerType...)
}

func (s *badgerStore) Get(_ context.Context, key Key) (*WorkerState, error) {
	var out *WorkerState
	err := s.db.View(func(txn *badger.Txn) error {
		ws, err := getRecord(txn, key)
		out = ws
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *badgerStore) List(_ context.Context) ([]*WorkerState, error) {
	return s.scan([]byte(badgerKeyPrefix))
}

func (s *badgerStore) ListByHardware(_ context.Context, hardwareID uuid.UUID) ([]*WorkerState, error) {
	return s.scan(hardwarePrefix(hardwareID))
}

func (s *badgerStore) scan(prefix []byte) ([]*WorkerState, error) {
	var out []*WorkerState
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var ws WorkerState
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &ws)
			}); err != nil {
				return fmt.Errorf("failed to decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, &ws)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRecords(out)
	return out, nil
}

func (s *badgerStore) Create(_ context.Context, ws *WorkerState) error {
	return mapTxnErr(s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(recordKey(ws.Key()))
		switch {
		case err == nil:
			return ErrConflict
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return putRecord(txn, ws)
	}))
}

func (s *badgerStore) CompareAndSwap(_ context.Context, next *WorkerState, expected int64) error {
	return mapTxnErr(s.db.Update(func(txn *badger.Txn) error {
		current, err := getRecord(txn, next.Key())
		if err != nil {
			return err
		}
		if current.Generation != expected {
			return ErrConflict
		}
		return putRecord(txn, next)
	}))
}

func (s *badgerStore) Delete(_ context.Context, key Key) error {
	return mapTxnErr(s.db.Update(func(txn *badger.Txn) error {
		if _, err := getRecord(txn, key); err != nil {
			return err
		}
		return txn.Delete(recordKey(key))
	}))
}

func (s *badgerStore) DeleteRemovedBefore(_ context.Context, cutoff time.Time) (int, error) {
	records, err := s.scan([]byte(badgerKeyPrefix))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ws := range records {
		if ws.State != StateRemoved || !ws.LastUpdatedAt.Before(cutoff) {
			continue
		}
		err := mapTxnErr(s.db.Update(func(txn *badger.Txn) error {
			current, err := getRecord(txn, ws.Key())
			if err != nil {
				return err
			}
			if current.Generation != ws.Generation {
				return ErrConflict
			}
			return txn.Delete(recordKey(ws.Key()))
		}))
		switch {
		case err == nil:
			n++
		case errors.Is(err, ErrConflict), errors.Is(err, ErrNotFound):
		default:
			return n, err
		}
	}
	return n, nil
}

func getRecord(txn *badger.Txn, key Key) (*WorkerState, error) {
	item, err := txn.Get(recordKey(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var ws WorkerState
	if err := item.Value(func(v []byte) error {
		return json.Unmarshal(v, &ws)
	}); err != nil {
		return nil, fmt.Errorf("failed to decode worker state %s: %w", key, err)
	}
	return &ws, nil
}

func putRecord(txn *badger.Txn, ws *WorkerState) error {
	data, err := json.Marshal(ws)
	if err != nil {
		return err
	}
	return txn.Set(recordKey(ws.Key()), data)
}

func mapTxnErr(err error) error {
	if errors.Is(err, badger.ErrConflict) {
		return ErrConflict
	}
	return err
}
