package hardware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	badgerKeyPrefix = "hardware:"
	// name index entries map a live hardware name to its ID
	badgerNamePrefix = "hardware_name:"
)

type badgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a hardware store on an open Badger database.
// The caller owns the database and closes it.
func NewBadgerStore(db *badger.DB) Store {
	return &badgerStore{db: db}
}

func hardwareKey(id uuid.UUID) []byte {
	return []byte(badgerKeyPrefix + id.String())
}

func nameKey(name string) []byte {
	return []byte(badgerNamePrefix + name)
}

func (s *badgerStore) Create(_ context.Context, hw *Hardware) error {
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(hardwareKey(hw.ID))
		switch {
		case err == nil:
			return ErrAlreadyExists
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		if hw.DeletedAt == nil {
			if err := claimName(txn, hw.ID, hw.Name); err != nil {
				return err
			}
		}
		return putHardware(txn, hw)
	})
}

func (s *badgerStore) Get(_ context.Context, id uuid.UUID) (*Hardware, error) {
	var out *Hardware
	err := s.db.View(func(txn *badger.Txn) error {
		hw, err := getHardware(txn, id)
		if err != nil {
			return err
		}
		out = hw
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *badgerStore) List(_ context.Context, opts ListOptions) ([]*Hardware, error) {
	var out []*Hardware
	err := s.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(itOpts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var hw Hardware
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &hw)
			}); err != nil {
				return fmt.Errorf("failed to decode %s: %w", it.Item().Key(), err)
			}
			if matches(&hw, opts) {
				out = append(out, &hw)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *badgerStore) Update(_ context.Context, hw *Hardware) error {
	return s.db.Update(func(txn *badger.Txn) error {
		existing, err := getHardware(txn, hw.ID)
		if err != nil {
			return err
		}
		updated := hw.Clone()
		updated.Type = existing.Type
		updated.CreatedAt = existing.CreatedAt
		updated.DeletedAt = existing.DeletedAt
		if existing.DeletedAt == nil && existing.Name != updated.Name {
			if err := claimName(txn, updated.ID, updated.Name); err != nil {
				return err
			}
			if err := releaseName(txn, existing.ID, existing.Name); err != nil {
				return err
			}
		}
		return putHardware(txn, updated)
	})
}

func (s *badgerStore) Delete(_ context.Context, id uuid.UUID, at time.Time) error {
	return s.db.Update(func(txn *badger.Txn) error {
		hw, err := getHardware(txn, id)
		if err != nil {
			return err
		}
		if hw.DeletedAt == nil {
			hw.DeletedAt = &at
			if err := releaseName(txn, hw.ID, hw.Name); err != nil {
				return err
			}
		}
		hw.UpdatedAt = at
		return putHardware(txn, hw)
	})
}

func getHardware(txn *badger.Txn, id uuid.UUID) (*Hardware, error) {
	item, err := txn.Get(hardwareKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var hw Hardware
	if err := item.Value(func(v []byte) error {
		return json.Unmarshal(v, &hw)
	}); err != nil {
		return nil, fmt.Errorf("failed to decode hardware %s: %w", id, err)
	}
	return &hw, nil
}

// claimName points the name index at id, failing if another record holds it.
func claimName(txn *badger.Txn, id uuid.UUID, name string) error {
	item, err := txn.Get(nameKey(name))
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return err
	default:
		var owner []byte
		if owner, err = item.ValueCopy(nil); err != nil {
			return err
		}
		if string(owner) != id.String() {
			return ErrDuplicateName
		}
	}
	return txn.Set(nameKey(name), []byte(id.String()))
}

// releaseName drops the name index entry if it still points at id.
func releaseName(txn *badger.Txn, id uuid.UUID, name string) error {
	item, err := txn.Get(nameKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	owner, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	if string(owner) != id.String() {
		return nil
	}
	return txn.Delete(nameKey(name))
}

func putHardware(txn *badger.Txn, hw *Hardware) error {
	data, err := json.Marshal(hw)
	if err != nil {
		return err
	}
	return txn.Set(hardwareKey(hw.ID), data)
}
