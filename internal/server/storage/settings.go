package storage

import (
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/greenops/greenops/internal/server/models"
)

// SettingValues returns every persisted setting as a flat key/value map.
func (s *Store) SettingValues() (map[string]string, error) {
	out := make(map[string]string)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefixSetting), PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := strings.TrimPrefix(string(it.Item().Key()), prefixSetting)
			if err := it.Item().Value(func(v []byte) error {
				out[key] = string(v)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// PutSetting persists one setting value.
func (s *Store) PutSetting(key, value string) error {
	return s.update(func(txn *badger.Txn) error {
		return txn.Set(settingKey(key), []byte(value))
	})
}

// GetUser loads an operator account by username.
func (s *Store) GetUser(username string) (*models.User, error) {
	var u models.User
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKey(username), &u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// PutUser creates or replaces an operator account.
func (s *Store) PutUser(u *models.User) error {
	return s.update(func(txn *badger.Txn) error {
		return setJSON(txn, userKey(u.Username), u)
	})
}
