package storage

import (
	"encoding/json"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/greenops/greenops/internal/server/models"
)

// ApplyHeartbeat runs a single heartbeat's unit of work atomically for one
// machine: it loads the machine and its most recent heartbeat by timestamp,
// hands both to fn, then persists the mutated machine and appends the
// heartbeat row fn returns. Either everything commits or nothing does.
//
// Heartbeat rows are keyed by their reported timestamp, not arrival order, so
// out-of-order delivery cannot corrupt the incremental-idle basis.
func (s *Store) ApplyHeartbeat(machineID string, fn func(m *models.Machine, prev *models.Heartbeat) (*models.Heartbeat, error)) (*models.Machine, error) {
	mu := s.machineLock(machineID)
	mu.Lock()
	defer mu.Unlock()

	var updated models.Machine
	err := s.update(func(txn *badger.Txn) error {
		var m models.Machine
		if err := getJSON(txn, machineKey(machineID), &m); err != nil {
			return err
		}

		prev, err := latestHeartbeat(txn, machineID)
		if err != nil {
			return err
		}

		hb, err := fn(&m, prev)
		if err != nil {
			return err
		}

		key := timestampedKey(heartbeatPrefix(machineID), hb.Timestamp, uuid.NewString())
		if err := setJSON(txn, key, hb); err != nil {
			return err
		}

		updated = m
		return setJSON(txn, machineKey(machineID), &m)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// LatestHeartbeat returns the machine's most recent heartbeat by timestamp,
// or nil when none has been recorded.
func (s *Store) LatestHeartbeat(machineID string) (*models.Heartbeat, error) {
	var hb *models.Heartbeat
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		hb, err = latestHeartbeat(txn, machineID)
		return err
	})
	return hb, err
}

func latestHeartbeat(txn *badger.Txn, machineID string) (*models.Heartbeat, error) {
	prefix := heartbeatPrefix(machineID)
	it := txn.NewIterator(badger.IteratorOptions{
		Prefix:         []byte(prefix),
		Reverse:        true,
		PrefetchValues: true,
		PrefetchSize:   1,
	})
	defer it.Close()

	// Seek past the last possible key within the prefix.
	it.Seek(append([]byte(prefix), 0xFF))
	if !it.Valid() {
		return nil, nil
	}

	var hb models.Heartbeat
	if err := it.Item().Value(func(v []byte) error {
		return json.Unmarshal(v, &hb)
	}); err != nil {
		return nil, err
	}
	return &hb, nil
}
