package storage

import (
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/greenops/greenops/internal/server/models"
)

// EnqueueCommand inserts cmd and, in the same transaction, marks any command
// still pending for the same machine as expired. The queue never holds more
// than one live command per machine. Returns how many were displaced.
func (s *Store) EnqueueCommand(cmd *models.Command) (int, error) {
	mu := s.machineLock(cmd.MachineID)
	mu.Lock()
	defer mu.Unlock()

	displaced := 0
	err := s.update(func(txn *badger.Txn) error {
		displaced = 0
		pendKeys, err := collectKeys(txn, pendingPrefix(cmd.MachineID))
		if err != nil {
			return err
		}
		for _, pk := range pendKeys {
			if err := expireByPendingKey(txn, pk); err != nil {
				return err
			}
			displaced++
		}

		key := timestampedKey(commandPrefix(cmd.MachineID), cmd.CreatedAt, cmd.ID)
		if err := setJSON(txn, key, cmd); err != nil {
			return err
		}
		if err := txn.Set(commandIDKey(cmd.ID), key); err != nil {
			return err
		}
		pendKey := timestampedKey(pendingPrefix(cmd.MachineID), cmd.CreatedAt, cmd.ID)
		return txn.Set(pendKey, []byte(cmd.ID))
	})
	if err != nil {
		return 0, err
	}
	return displaced, nil
}

// PendingCommands returns the machine's pending commands in creation order,
// capped at limit. Reading does not change command state.
func (s *Store) PendingCommands(machineID string, limit int) ([]*models.Command, error) {
	var out []*models.Command
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			Prefix:         []byte(pendingPrefix(machineID)),
			PrefetchValues: true,
		})
		defer it.Close()
		for it.Rewind(); it.Valid() && len(out) < limit; it.Next() {
			var id string
			if err := it.Item().Value(func(v []byte) error { id = string(v); return nil }); err != nil {
				return err
			}
			cmd, err := getCommand(txn, id)
			if err != nil {
				return err
			}
			if cmd.Status == models.CommandPending {
				out = append(out, cmd)
			}
		}
		return nil
	})
	return out, err
}

// GetCommand loads a command by id.
func (s *Store) GetCommand(id string) (*models.Command, error) {
	var cmd *models.Command
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		cmd, err = getCommand(txn, id)
		return err
	})
	return cmd, err
}

func getCommand(txn *badger.Txn, id string) (*models.Command, error) {
	item, err := txn.Get(commandIDKey(id))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	var key []byte
	if err := item.Value(func(v []byte) error { key = append([]byte(nil), v...); return nil }); err != nil {
		return nil, err
	}
	var cmd models.Command
	if err := getJSON(txn, key, &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}

// CompleteCommand transitions a pending command, scoped to the reporting
// machine, to executed or failed. ErrNotFound covers a missing command, a
// cross-machine id and a command already in a terminal state alike.
func (s *Store) CompleteCommand(commandID, machineID string, outcome models.CommandStatus, message string, at time.Time) error {
	mu := s.machineLock(machineID)
	mu.Lock()
	defer mu.Unlock()

	return s.update(func(txn *badger.Txn) error {
		cmd, err := getCommand(txn, commandID)
		if err != nil {
			return err
		}
		if cmd.MachineID != machineID || cmd.Status != models.CommandPending {
			return fmt.Errorf("%w: command %s is not pending for this machine", models.ErrNotFound, commandID)
		}

		cmd.Status = outcome
		ts := at.UTC()
		cmd.ExecutedAt = &ts
		cmd.Result = message

		key := timestampedKey(commandPrefix(machineID), cmd.CreatedAt, cmd.ID)
		if err := setJSON(txn, key, cmd); err != nil {
			return err
		}
		pendKey := timestampedKey(pendingPrefix(machineID), cmd.CreatedAt, cmd.ID)
		return txn.Delete(pendKey)
	})
}

// ExpireStaleCommands marks every pending command created before cutoff as
// expired, across all machines, and returns the count.
func (s *Store) ExpireStaleCommands(cutoff time.Time) (int, error) {
	expired := 0
	err := s.update(func(txn *badger.Txn) error {
		expired = 0
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefixPending), PrefetchValues: true})
		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			var id string
			if err := it.Item().Value(func(v []byte) error { id = string(v); return nil }); err != nil {
				it.Close()
				return err
			}
			cmd, err := getCommand(txn, id)
			if err != nil {
				it.Close()
				return err
			}
			if cmd.Status == models.CommandPending && cmd.CreatedAt.Before(cutoff) {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		it.Close()

		for _, pk := range stale {
			if err := expireByPendingKey(txn, pk); err != nil {
				return err
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}

// expireByPendingKey resolves a pend: index key to its command, marks the
// command expired and removes the index entry.
func expireByPendingKey(txn *badger.Txn, pendKey []byte) error {
	item, err := txn.Get(pendKey)
	if err != nil {
		return err
	}
	var id string
	if err := item.Value(func(v []byte) error { id = string(v); return nil }); err != nil {
		return err
	}

	cmd, err := getCommand(txn, id)
	if err != nil {
		return err
	}
	if cmd.Status == models.CommandPending {
		cmd.Status = models.CommandExpired
		key := timestampedKey(commandPrefix(cmd.MachineID), cmd.CreatedAt, cmd.ID)
		if err := setJSON(txn, key, cmd); err != nil {
			return err
		}
	}
	return txn.Delete(pendKey)
}
