package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second

	// FileName is the database file name inside the data directory.
	FileName = "state.db"
)

var (
	endpointsBucket = []byte("endpoints")
	outcomesBucket  = []byte("outcomes")
)

// Outcome is the result of the most recent sync operation on one
// collection. LastSuccess survives failures so the status command can
// report how stale the remote copy is.
type Outcome struct {
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
	LastSuccess time.Time `json:"last_success,omitzero"`
}

// State wraps a bbolt database holding configured endpoints and sync
// outcomes per collection, keyed by collection name.
type State struct {
	db *bolt.DB
}

// DefaultPath returns the database path inside dataDir.
func DefaultPath(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(endpointsBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(outcomesBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Endpoint returns the stored endpoint for a collection, or empty string.
func (s *State) Endpoint(collection string) string {
	var endpoint string

	_ = s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(endpointsBucket).Get([]byte(collection)); v != nil {
			endpoint = string(v)
		}

		return nil
	})

	return endpoint
}

// SetEndpoint persists the endpoint for a collection. An empty endpoint
// removes the entry.
func (s *State) SetEndpoint(collection, endpoint string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(endpointsBucket)
		if endpoint == "" {
			return b.Delete([]byte(collection))
		}

		return b.Put([]byte(collection), []byte(endpoint))
	})
}

// Endpoints returns every stored endpoint keyed by collection.
func (s *State) Endpoints() (map[string]string, error) {
	out := make(map[string]string)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(endpointsBucket).ForEach(func(k, v []byte) error {
			out[string(k)] = string(v)
			return nil
		})
	})

	return out, err
}

// Outcome returns the last recorded outcome for a collection, or nil.
func (s *State) Outcome(collection string) (*Outcome, error) {
	var o *Outcome

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(outcomesBucket).Get([]byte(collection))
		if v == nil {
			return nil
		}

		o = &Outcome{}

		return json.Unmarshal(v, o)
	})

	return o, err
}

// RecordOutcome stores the result of a sync operation. A "success"
// status also moves LastSuccess forward; any other status keeps the
// previous LastSuccess.
func (s *State) RecordOutcome(collection, status, errMsg string, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(outcomesBucket)

		var prev Outcome
		if v := b.Get([]byte(collection)); v != nil {
			if err := json.Unmarshal(v, &prev); err != nil {
				return fmt.Errorf("decoding outcome for %s: %w", collection, err)
			}
		}

		o := Outcome{
			Status:      status,
			Error:       errMsg,
			At:          at.UTC(),
			LastSuccess: prev.LastSuccess,
		}
		if status == "success" {
			o.LastSuccess = o.At
		}

		data, err := json.Marshal(o)
		if err != nil {
			return err
		}

		return b.Put([]byte(collection), data)
	})
}

// Collections returns the sorted names of every collection that has an
// endpoint or an outcome stored.
func (s *State) Collections() ([]string, error) {
	seen := make(map[string]struct{})

	err := s.db.View(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{endpointsBucket, outcomesBucket} {
			err := tx.Bucket(name).ForEach(func(k, _ []byte) error {
				seen[string(k)] = struct{}{}
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

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)

	return out, nil
}
