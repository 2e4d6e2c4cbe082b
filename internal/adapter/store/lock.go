package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"go.etcd.io/bbolt"
)

// ErrLocked is returned when another writer holds the snapshot lock.
var ErrLocked = errors.New("knowledge base is locked by another writer")

var (
	bucketWriter   = []byte("writer")
	keyGeneration  = []byte("generation")
	keyLastWriteAt = []byte("last_write_at")
)

// WriterLock is an exclusive, cross-process lock on a snapshot. It is a
// bbolt database next to the snapshot; bbolt keeps an exclusive flock on
// the file while it is open.
type WriterLock struct {
	db *bbolt.DB
}

// LockPath returns the lock file guarding a snapshot.
func LockPath(snapshotPath string) string {
	return snapshotPath + ".lock"
}

// AcquireWriteLock blocks up to timeout for the lock. A zero timeout waits forever.
func AcquireWriteLock(snapshotPath string, timeout time.Duration) (*WriterLock, error) {
	db, err := bbolt.Open(LockPath(snapshotPath), 0600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("%w: waited %s", ErrLocked, timeout)
		}
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketWriter)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create writer bucket: %w", err)
	}

	return &WriterLock{db: db}, nil
}

// Generation returns the number of saves recorded under this lock.
func (l *WriterLock) Generation() (uint64, error) {
	var gen uint64
	err := l.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketWriter)
		if b == nil {
			return nil
		}
		if v := b.Get(keyGeneration); len(v) == 8 {
			gen = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	return gen, err
}

// LastWrite returns when the last save was recorded, zero if never.
func (l *WriterLock) LastWrite() (time.Time, error) {
	var at time.Time
	err := l.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketWriter)
		if b == nil {
			return nil
		}
		if v := b.Get(keyLastWriteAt); v != nil {
			return at.UnmarshalText(v)
		}
		return nil
	})
	return at, err
}

// SaveHistory is what the lock file knows about past saves.
type SaveHistory struct {
	Generation uint64
	LastWrite  time.Time
}

// ReadSaveHistory opens the lock file read-only, sharing it with other
// readers but waiting up to timeout for a writer. A missing lock file
// means no save has been recorded.
func ReadSaveHistory(snapshotPath string, timeout time.Duration) (SaveHistory, error) {
	var h SaveHistory
	path := LockPath(snapshotPath)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return h, nil
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: timeout, ReadOnly: true})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return h, fmt.Errorf("%w: waited %s", ErrLocked, timeout)
		}
		return h, fmt.Errorf("open lock file: %w", err)
	}
	l := &WriterLock{db: db}
	defer l.Release()

	if h.Generation, err = l.Generation(); err != nil {
		return h, err
	}
	h.LastWrite, err = l.LastWrite()
	return h, err
}

// RecordSave bumps the save generation and stamps the write time.
func (l *WriterLock) RecordSave(at time.Time) (uint64, error) {
	var gen uint64
	err := l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketWriter)
		if v := b.Get(keyGeneration); len(v) == 8 {
			gen = binary.BigEndian.Uint64(v)
		}
		gen++

		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, gen)
		if err := b.Put(keyGeneration, buf); err != nil {
			return err
		}
		stamp, err := at.UTC().MarshalText()
		if err != nil {
			return err
		}
		return b.Put(keyLastWriteAt, stamp)
	})
	return gen, err
}

// Release unlocks the snapshot.
func (l *WriterLock) Release() error {
	if l == nil || l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}
