package discovery

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"hivehub.dev/fault"
)

const snapshotBucket = "servers"

// Store persists registry snapshots in a bbolt file so the hub reports
// stable registration times across restarts.
type Store struct {
	db *bolt.DB
}

// OpenStore opens or creates the snapshot database at path.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fault.Unavailable(err, "cannot open snapshot database %s", path)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(snapshotBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fault.Unavailable(err, "cannot initialize snapshot database %s", path)
	}

	return &Store{db: db}, nil
}

// Save replaces the snapshot with the given entries.
func (s *Store) Save(entries []Entry) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(snapshotBucket)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket([]byte(snapshotBucket))
		if err != nil {
			return err
		}
		for _, entry := range entries {
			data, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(entry.Name), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fault.Unavailable(err, "cannot save registry snapshot")
	}
	return nil
}

// Load reads all snapshot entries.
func (s *Store) Load() ([]Entry, error) {
	entries := []Entry{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(snapshotBucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return nil
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, fault.Unavailable(err, "cannot load registry snapshot")
	}
	return entries, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
