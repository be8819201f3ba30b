package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/exp/slices"
)

var ErrNotFound = errors.New("not found")

var bktSession = []byte("refresh_session")

// Storage is a wrapper around bolt.DB
type Storage struct {
	db        *bolt.DB
	closeFunc func() error
}

// NewStorage creates a new storage
func NewStorage(path string) (*Storage, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	return &Storage{
		db:        db,
		closeFunc: db.Close,
	}, nil
}

func NewTempStorage() (*Storage, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("mealdesk-auth-%s.db", uuid.New().String()))
	storage, err := NewStorage(path)
	if err != nil {
		return nil, err
	}
	originalCloseFunc := storage.closeFunc
	storage.closeFunc = func() error {
		if err := originalCloseFunc(); err != nil {
			return err
		}
		return os.Remove(path)
	}
	return storage, nil
}

// Close closes the storage
func (s *Storage) Close() error {
	return s.closeFunc()
}

func (s *Storage) SaveSession(sess Session) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bktSession)
		if err != nil {
			return err
		}
		return putSession(b, sess)
	})
}

func (s *Storage) Session(id string) (Session, error) {
	var sess Session
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bktSession)
		if b == nil {
			return ErrNotFound
		}
		var err error
		sess, err = getSession(b, id)
		return err
	})
	return sess, err
}

// RotateSession atomically replaces the session oldID with a fresh one under
// newID. The old ID stops resolving in the same transaction, so a replayed
// cookie can never race a successful rotation.
func (s *Storage) RotateSession(oldID, newID string, expiresAt time.Time) (Session, error) {
	var rotated Session
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bktSession)
		if err != nil {
			return err
		}
		old, err := getSession(b, oldID)
		if err != nil {
			return err
		}
		if err := b.Delete([]byte(oldID)); err != nil {
			return err
		}
		rotated = Session{
			ID:          newID,
			UserID:      old.UserID,
			CreatedAt:   time.Now(),
			ExpiresAt:   expiresAt,
			RotatedFrom: oldID,
		}
		return putSession(b, rotated)
	})
	return rotated, err
}

func (s *Storage) DeleteSession(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bktSession)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(id))
	})
}

// DeleteExpired purges sessions whose expiry is at or before now and reports
// how many were removed.
func (s *Storage) DeleteExpired(now time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bktSession)
		if b == nil {
			return nil
		}
		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var sess Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return errors.Wrap(err, "decoding session")
			}
			if sess.Expired(now) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	return removed, err
}

// ListSessions returns all sessions ordered by creation time, oldest first.
func (s *Storage) ListSessions() ([]Session, error) {
	var result []Session
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bktSession)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var sess Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return errors.Wrap(err, "decoding session")
			}
			result = append(result, sess)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(result, func(a, b Session) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return result, nil
}

func getSession(b *bolt.Bucket, id string) (Session, error) {
	data := b.Get([]byte(id))
	if data == nil {
		return Session{}, ErrNotFound
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, errors.Wrap(err, "decoding session")
	}
	return sess, nil
}

func putSession(b *bolt.Bucket, sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "encoding session")
	}
	return b.Put([]byte(sess.ID), data)
}
