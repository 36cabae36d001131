// Package stamps records which inputs each task was last built from.
package stamps

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	bolt "go.etcd.io/bbolt"
)

var stampBucket = []byte("stamps")

// Store keeps one digest per task in a bbolt database. It implements buildsys.StampStore.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database at dbPath.
func Open(dbPath string) (*Store, error) {
	err := os.MkdirAll(filepath.Dir(dbPath), 0o770)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create %s", filepath.Dir(dbPath))
	}

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open %s (is another build running?)", dbPath)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(stampBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, eris.Wrap(err, "failed to initialize stamp database")
	}

	return &Store{db: db}, nil
}

// Get returns the stored digest or nil if the task has no stamp.
func (s *Store) Get(task string) ([]byte, error) {
	var result []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(stampBucket).Get([]byte(task))
		if value != nil {
			// values are only valid during the transaction
			result = append([]byte{}, value...)
		}
		return nil
	})

	return result, err
}

func (s *Store) Put(task string, digest []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stampBucket).Put([]byte(task), digest)
	})
}

func (s *Store) Delete(task string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stampBucket).Delete([]byte(task))
	})
}

// Clear removes all stamps which forces every task to run again.
func (s *Store) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket(stampBucket)
		if err != nil && err != bolt.ErrBucketNotFound {
			return err
		}

		_, err = tx.CreateBucket(stampBucket)
		return err
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}
