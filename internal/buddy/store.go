// Package buddy keeps the local buddy list and decides which peers may talk
// to us.
//
// The list lives in a bbolt database, one JSON record per peer id. The
// Monitor type plugs the list into the engine as its approval authority.
package buddy

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Operative-001/torchat/internal/identity"
)

var bucketBuddies = []byte("buddies")

var ErrNotFound = errors.New("buddy: not found")

// Buddy is one entry of the buddy list. Profile fields hold what the peer
// last told us; times are Unix seconds.
type Buddy struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Text     string `json:"text,omitempty"`
	Client   string `json:"client,omitempty"`
	Version  string `json:"version,omitempty"`
	Status   string `json:"status,omitempty"`
	Blocked  bool   `json:"blocked,omitempty"`
	AddedAt  int64  `json:"added_at"`
	LastSeen int64  `json:"last_seen,omitempty"`
}

// Store is the persistent buddy list.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) buddies.db inside dir.
func Open(dir string) (*Store, error) {
	db, err := bolt.Open(filepath.Join(dir, "buddies.db"), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBuddies)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts or replaces b.
func (s *Store) Put(b *Buddy) error {
	if !identity.ValidID(b.ID) {
		return fmt.Errorf("buddy: %w: %q", identity.ErrInvalidID, b.ID)
	}
	if b.AddedAt == 0 {
		b.AddedAt = time.Now().Unix()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketBuddies), b)
	})
}

func put(bkt *bolt.Bucket, b *Buddy) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return bkt.Put([]byte(b.ID), data)
}

// Get returns the buddy with the given id, or ErrNotFound.
func (s *Store) Get(id string) (*Buddy, error) {
	var b Buddy
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBuddies).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &b)
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Update applies fn to the stored buddy in a single transaction.
func (s *Store) Update(id string, fn func(*Buddy)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketBuddies)
		data := bkt.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var b Buddy
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		fn(&b)
		b.ID = id
		return put(bkt, &b)
	})
}

// SetBlocked blocks or unblocks id, adding it to the list if needed.
func (s *Store) SetBlocked(id string, blocked bool) error {
	if !identity.ValidID(id) {
		return fmt.Errorf("buddy: %w: %q", identity.ErrInvalidID, id)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketBuddies)
		b := Buddy{ID: id, AddedAt: time.Now().Unix()}
		if data := bkt.Get([]byte(id)); data != nil {
			if err := json.Unmarshal(data, &b); err != nil {
				return err
			}
		}
		b.Blocked = blocked
		return put(bkt, &b)
	})
}

// Delete removes id. Deleting an unknown id is not an error.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBuddies).Delete([]byte(id))
	})
}

// All returns every buddy ordered by id.
func (s *Store) All() ([]Buddy, error) {
	var out []Buddy
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBuddies).ForEach(func(_, v []byte) error {
			var b Buddy
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			out = append(out, b)
			return nil
		})
	})
	return out, err
}
