// Package tray is the notification tray: pushes that arrived while the app
// was not in the foreground and were displayed to the user instead of being
// handed to the app. Tapping an entry removes it.
//
// The tray lives in a bbolt file in the session directory so the background
// receiver process and the app process see the same entries.
package tray

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/slush-dev/fcm-demo/fcm"
)

const (
	bucketName = "notifications"

	// MaxEntries caps the tray; the oldest entry is dropped first.
	MaxEntries = 50

	openTimeout = 5 * time.Second
)

// ErrNotFound is returned by Take when no entry matches.
var ErrNotFound = errors.New("notification not found in tray")

// Entry is one displayed notification.
type Entry struct {
	ID       string      `json:"id" yaml:"id"`
	PostedAt time.Time   `json:"postedAt" yaml:"posted_at"`
	Message  fcm.Message `json:"message" yaml:"message"`
}

// Tray is a bbolt-backed notification tray.
type Tray struct {
	db  *bbolt.DB
	now func() time.Time
}

// Path returns the tray file inside sessionDir.
func Path(sessionDir string) string {
	return filepath.Join(sessionDir, "tray.db")
}

// Open opens (creating if needed) the tray at path. bbolt holds an exclusive
// file lock, so Open waits up to a few seconds for another process.
func Open(path string) (*Tray, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating tray directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening tray %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return fmt.Errorf("creating bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Tray{db: db, now: time.Now}, nil
}

// Close releases the tray file.
func (t *Tray) Close() error {
	return t.db.Close()
}

// Post displays msg and returns its entry.
func (t *Tray) Post(msg fcm.Message) (Entry, error) {
	entry := Entry{
		ID:       uuid.NewString(),
		PostedAt: t.now(),
		Message:  msg,
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("encoding tray entry: %w", err)
	}

	err = t.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(seq), value); err != nil {
			return err
		}
		return trim(b)
	})
	if err != nil {
		return Entry{}, fmt.Errorf("posting to tray: %w", err)
	}
	return entry, nil
}

// trim drops the oldest entries above MaxEntries.
func trim(b *bbolt.Bucket) error {
	c := b.Cursor()
	n := 0
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	excess := n - MaxEntries
	if excess <= 0 {
		return nil
	}
	for k, _ := c.First(); k != nil && excess > 0; k, _ = c.First() {
		if err := b.Delete(k); err != nil {
			return err
		}
		excess--
	}
	return nil
}

// Take removes and returns the entry with the given ID. An empty id takes
// the newest entry.
func (t *Tray) Take(id string) (Entry, error) {
	var entry Entry
	err := t.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decoding tray entry: %w", err)
			}
			if id != "" && e.ID != id {
				continue
			}
			entry = e
			return b.Delete(k)
		}
		return ErrNotFound
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// List returns entries oldest first.
func (t *Tray) List() ([]Entry, error) {
	var entries []Entry
	err := t.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decoding tray entry: %w", err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	return entries, err
}

// Clear removes every entry.
func (t *Tray) Clear() error {
	return t.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketName)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(bucketName))
		return err
	})
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// Shared opens the tray file for each operation and closes it right after,
// so several processes can take turns on the same tray.
type Shared struct {
	path string
}

// NewShared returns a Shared tray at path.
func NewShared(path string) *Shared {
	return &Shared{path: path}
}

func (s *Shared) with(fn func(*Tray) error) error {
	t, err := Open(s.path)
	if err != nil {
		return err
	}
	defer t.Close()
	return fn(t)
}

// Post implements the tray operation of the same name on a fresh handle.
func (s *Shared) Post(msg fcm.Message) (Entry, error) {
	var entry Entry
	err := s.with(func(t *Tray) error {
		var err error
		entry, err = t.Post(msg)
		return err
	})
	return entry, err
}

func (s *Shared) Take(id string) (Entry, error) {
	var entry Entry
	err := s.with(func(t *Tray) error {
		var err error
		entry, err = t.Take(id)
		return err
	})
	return entry, err
}

func (s *Shared) List() ([]Entry, error) {
	var entries []Entry
	err := s.with(func(t *Tray) error {
		var err error
		entries, err = t.List()
		return err
	})
	return entries, err
}

func (s *Shared) Clear() error {
	return s.with(func(t *Tray) error { return t.Clear() })
}
