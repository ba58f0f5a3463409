package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"ai-tutor/internal/domain"
)

var threadsBucket = []byte("threads")

// BoltStore keeps threads in an embedded bbolt file, one key per thread.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if needed) the database file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository: bolt path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("repository: create bolt dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("repository: open bolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(threadsBucket)
		return e
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Create(_ context.Context, thread domain.Thread) error {
	doc, err := encodeThread(thread)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(threadsBucket)
		if b.Get([]byte(thread.ID)) != nil {
			return alreadyExists(thread.ID)
		}
		return b.Put([]byte(thread.ID), doc)
	})
}

func (s *BoltStore) Load(_ context.Context, id string) (domain.Thread, error) {
	var doc []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(threadsBucket).Get([]byte(id))
		if v == nil {
			return notFound(id)
		}
		// v is only valid inside the transaction.
		doc = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return domain.Thread{}, err
	}
	return decodeThread(id, doc)
}

func (s *BoltStore) Save(_ context.Context, thread domain.Thread) error {
	doc, err := encodeThread(thread)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(threadsBucket)
		if b.Get([]byte(thread.ID)) == nil {
			return notFound(thread.ID)
		}
		return b.Put([]byte(thread.ID), doc)
	})
}
