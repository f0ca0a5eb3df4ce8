// Package storage persists machines, heartbeats, commands, settings and
// operator accounts in an embedded Badger database.
//
// Key scheme:
//
//	machine:<id>                      Machine JSON
//	mac:<MAC>                         machine id (unique-MAC index)
//	tok:<sha256 hex>                  machine id (agent credential index)
//	hb:<machine id>:<nano>:<uuid>     Heartbeat JSON, append-only
//	cmd:<machine id>:<nano>:<uuid>    Command JSON
//	cmdid:<uuid>                      full command key
//	pend:<machine id>:<nano>:<uuid>   command id (pending index)
//	setting:<key>                     value string
//	user:<username>                   User JSON
//
// Writes that touch one machine's cumulative fields run inside a transaction
// under that machine's lock; heartbeats for different machines never block
// each other.
package storage

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/greenops/greenops/internal/server/models"
)

const (
	prefixMachine   = "machine:"
	prefixMAC       = "mac:"
	prefixToken     = "tok:"
	prefixHeartbeat = "hb:"
	prefixCommand   = "cmd:"
	prefixCommandID = "cmdid:"
	prefixPending   = "pend:"
	prefixSetting   = "setting:"
	prefixUser      = "user:"
)

// Store wraps the Badger database with domain-aware accessors.
type Store struct {
	db     *badger.DB
	locks  cmap.ConcurrentMap[string, *sync.Mutex]
	logger zerolog.Logger
}

// Open opens (or creates) the database at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open storage at %s: %w", path, err)
	}
	return &Store{db: db, locks: cmap.New[*sync.Mutex](), logger: logger}, nil
}

// OpenInMemory opens an ephemeral store. Used by tests.
func OpenInMemory(logger zerolog.Logger) (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, locks: cmap.New[*sync.Mutex](), logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is usable.
func (s *Store) Ping() error {
	return s.db.View(func(txn *badger.Txn) error { return nil })
}

// machineLock returns the mutex serializing writes for one machine.
func (s *Store) machineLock(id string) *sync.Mutex {
	if mu, ok := s.locks.Get(id); ok {
		return mu
	}
	s.locks.SetIfAbsent(id, &sync.Mutex{})
	mu, _ := s.locks.Get(id)
	return mu
}

func machineKey(id string) []byte       { return []byte(prefixMachine + id) }
func macKey(mac string) []byte          { return []byte(prefixMAC + mac) }
func tokenKey(hash string) []byte       { return []byte(prefixToken + hash) }
func settingKey(key string) []byte      { return []byte(prefixSetting + key) }
func userKey(username string) []byte    { return []byte(prefixUser + username) }
func commandIDKey(id string) []byte     { return []byte(prefixCommandID + id) }
func heartbeatPrefix(id string) string  { return prefixHeartbeat + id + ":" }
func commandPrefix(id string) string    { return prefixCommand + id + ":" }
func pendingPrefix(id string) string    { return prefixPending + id + ":" }
func timestampedKey(prefix string, ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefix, ts.UTC().UnixNano(), id))
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return models.ErrNotFound
		}
		return err
	}
	return item.Value(func(data []byte) error {
		return json.Unmarshal(data, v)
	})
}

// update runs fn in a write transaction, retrying once on a commit conflict.
// Per-machine locks make conflicts rare; the retry covers overlap with
// cross-machine sweeps.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	err := s.db.Update(fn)
	if err == badger.ErrConflict {
		err = s.db.Update(fn)
	}
	return err
}

// ─── Machines ───────────────────────────────────────────────────────────────

// InsertMachine stores a new machine and its MAC and credential indexes.
// Fails with ErrConflict if the MAC is already registered.
func (s *Store) InsertMachine(m *models.Machine) error {
	mu := s.machineLock(m.ID)
	mu.Lock()
	defer mu.Unlock()

	return s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(macKey(m.MACAddress)); err == nil {
			return fmt.Errorf("%w: mac %s already registered", models.ErrConflict, m.MACAddress)
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		if err := setJSON(txn, machineKey(m.ID), m); err != nil {
			return err
		}
		if err := txn.Set(macKey(m.MACAddress), []byte(m.ID)); err != nil {
			return err
		}
		if m.TokenHash != "" {
			return txn.Set(tokenKey(m.TokenHash), []byte(m.ID))
		}
		return nil
	})
}

// GetMachine loads a machine by id.
func (s *Store) GetMachine(id string) (*models.Machine, error) {
	var m models.Machine
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, machineKey(id), &m)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMachineByMAC resolves a normalized MAC to its machine record.
func (s *Store) GetMachineByMAC(mac string) (*models.Machine, error) {
	var m models.Machine
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(macKey(mac))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return models.ErrNotFound
			}
			return err
		}
		var id string
		if err := item.Value(func(v []byte) error { id = string(v); return nil }); err != nil {
			return err
		}
		return getJSON(txn, machineKey(id), &m)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MachineIDForToken resolves an agent credential hash to a machine id.
func (s *Store) MachineIDForToken(hash string) (string, error) {
	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(tokenKey(hash))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return models.ErrNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error { id = string(v); return nil })
	})
	return id, err
}

// ListMachines returns all machine records.
func (s *Store) ListMachines() ([]*models.Machine, error) {
	var out []*models.Machine
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			Prefix:         []byte(prefixMachine),
			PrefetchValues: true,
			PrefetchSize:   64,
		})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var m models.Machine
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &m)
			}); err != nil {
				return err
			}
			out = append(out, &m)
		}
		return nil
	})
	return out, err
}

// UpdateMachine loads a machine, applies fn and persists the result under the
// machine's lock. The credential index is kept in sync when fn rotates the
// token hash.
func (s *Store) UpdateMachine(id string, fn func(m *models.Machine) error) (*models.Machine, error) {
	mu := s.machineLock(id)
	mu.Lock()
	defer mu.Unlock()

	var updated models.Machine
	err := s.update(func(txn *badger.Txn) error {
		var m models.Machine
		if err := getJSON(txn, machineKey(id), &m); err != nil {
			return err
		}
		oldHash := m.TokenHash

		if err := fn(&m); err != nil {
			return err
		}
		m.UpdatedAt = time.Now().UTC()

		if m.TokenHash != oldHash {
			if oldHash != "" {
				if err := txn.Delete(tokenKey(oldHash)); err != nil {
					return err
				}
			}
			if m.TokenHash != "" {
				if err := txn.Set(tokenKey(m.TokenHash), []byte(m.ID)); err != nil {
					return err
				}
			}
		}

		updated = m
		return setJSON(txn, machineKey(id), &m)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteMachine removes a machine along with its indexes, heartbeat history
// and commands.
func (s *Store) DeleteMachine(id string) error {
	mu := s.machineLock(id)
	mu.Lock()
	defer mu.Unlock()

	err := s.update(func(txn *badger.Txn) error {
		var m models.Machine
		if err := getJSON(txn, machineKey(id), &m); err != nil {
			return err
		}

		if err := txn.Delete(machineKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(macKey(m.MACAddress)); err != nil {
			return err
		}
		if m.TokenHash != "" {
			if err := txn.Delete(tokenKey(m.TokenHash)); err != nil {
				return err
			}
		}

		// Drop the id index for each of this machine's commands before the
		// records themselves go.
		cmds, err := collectValues(txn, commandPrefix(id))
		if err != nil {
			return err
		}
		for _, raw := range cmds {
			var c models.Command
			if err := json.Unmarshal(raw, &c); err != nil {
				return err
			}
			if err := txn.Delete(commandIDKey(c.ID)); err != nil {
				return err
			}
		}

		for _, prefix := range []string{heartbeatPrefix(id), pendingPrefix(id), commandPrefix(id)} {
			keys, err := collectKeys(txn, prefix)
			if err != nil {
				return err
			}
			for _, k := range keys {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.locks.Remove(id)
	return nil
}

func collectKeys(txn *badger.Txn, prefix string) ([][]byte, error) {
	var keys [][]byte
	it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefix)})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys, nil
}

func collectValues(txn *badger.Txn, prefix string) ([][]byte, error) {
	var vals [][]byte
	it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefix), PrefetchValues: true})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		v, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}
