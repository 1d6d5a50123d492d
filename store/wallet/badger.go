package wallet

import (
	"encoding/json"

	"github.com/dgraph-io/badger/v2"
	"github.com/pkg/errors"
)

const keyPrefix = "identity/"

type badgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a wallet at path. An empty path keeps the
// wallet in memory, which is only useful for tests.
func NewBadgerStore(path string) (Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open wallet at %q", path)
	}
	return &badgerStore{db: db}, nil
}

func dbKey(key string) []byte {
	return []byte(keyPrefix + key)
}

func (s *badgerStore) Put(identity *Identity) error {
	if identity == nil || identity.Key == "" {
		return errors.New("identity key is required")
	}
	value, err := json.Marshal(identity)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(dbKey(identity.Key), value)
	})
}

func (s *badgerStore) Get(key string) (*Identity, error) {
	identity := &Identity{}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dbKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, identity)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read identity %s", key)
	}
	return identity, nil
}

func (s *badgerStore) Exists(key string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(dbKey(key))
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *badgerStore) List() ([]*Identity, error) {
	var identities []*Identity
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			identity := &Identity{}
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, identity)
			})
			if err != nil {
				return err
			}
			identities = append(identities, identity)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return identities, nil
}

func (s *badgerStore) Remove(key string) error {
	exists, err := s.Exists(key)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(dbKey(key))
	})
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}
