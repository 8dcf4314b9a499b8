package mail

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.etcd.io/bbolt"
)

const (
	resultsBucketName = "results"
	usageBucketName   = "usage"
)

// ErrResultNotFound is returned when a result does not exist for the user
var ErrResultNotFound = errors.New("result not found")

// DB defines the interface for database operations
type DB interface {
	// SaveResult creates or replaces a result
	SaveResult(result *Result) error

	// GetResult retrieves one of the user's results by ID
	GetResult(userID, id string) (*Result, error)

	// ListResults returns the user's results, newest first
	ListResults(userID string) ([]*Result, error)

	// DeleteResult removes one of the user's results
	DeleteResult(userID, id string) error

	// ClearResults removes all of the user's results and returns them
	ClearResults(userID string) ([]*Result, error)

	// Usage returns the user's scan count for a billing period
	Usage(userID, period string) (int, error)

	// IncrementUsage adds n to the user's scan count for a billing period
	IncrementUsage(userID, period string, n int) error

	// ReserveUsage atomically adds n unless the count would pass limit
	ReserveUsage(userID, period string, n, limit int) (int, bool, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB.
// Results live in one nested bucket per user.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(resultsBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(usageBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveResult saves a result to the user's bucket
func (b *BoltDB) SaveResult(result *Result) error {
	if result.UserID == "" {
		return fmt.Errorf("result %s has no user", result.ID)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.Bucket([]byte(resultsBucketName)).CreateBucketIfNotExists([]byte(result.UserID))
		if err != nil {
			return fmt.Errorf("creating user bucket: %w", err)
		}
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshaling result: %w", err)
		}
		return bucket.Put([]byte(result.ID), data)
	})
}

// GetResult retrieves a result by ID
func (b *BoltDB) GetResult(userID, id string) (*Result, error) {
	var result *Result
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(resultsBucketName)).Bucket([]byte(userID))
		if bucket == nil {
			return fmt.Errorf("%w: %s", ErrResultNotFound, id)
		}
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrResultNotFound, id)
		}
		return json.Unmarshal(data, &result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListResults returns all of the user's results, newest first
func (b *BoltDB) ListResults(userID string) ([]*Result, error) {
	results := make([]*Result, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(resultsBucketName)).Bucket([]byte(userID))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var result Result
			if err := json.Unmarshal(v, &result); err != nil {
				return fmt.Errorf("unmarshaling result: %w", err)
			}
			results = append(results, &result)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].UploadedAt.After(results[j].UploadedAt)
	})
	return results, nil
}

// DeleteResult removes a result from the database
func (b *BoltDB) DeleteResult(userID, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(resultsBucketName)).Bucket([]byte(userID))
		if bucket == nil || bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrResultNotFound, id)
		}
		return bucket.Delete([]byte(id))
	})
}

// ClearResults drops the user's bucket and returns what it held, newest first.
// Reading and dropping share one transaction.
func (b *BoltDB) ClearResults(userID string) ([]*Result, error) {
	results := make([]*Result, 0)
	err := b.db.Update(func(tx *bbolt.Tx) error {
		parent := tx.Bucket([]byte(resultsBucketName))
		bucket := parent.Bucket([]byte(userID))
		if bucket == nil {
			return nil
		}
		err := bucket.ForEach(func(k, v []byte) error {
			var result Result
			if err := json.Unmarshal(v, &result); err != nil {
				return fmt.Errorf("unmarshaling result: %w", err)
			}
			results = append(results, &result)
			return nil
		})
		if err != nil {
			return err
		}
		if err := parent.DeleteBucket([]byte(userID)); err != nil {
			return fmt.Errorf("deleting user bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].UploadedAt.After(results[j].UploadedAt)
	})
	return results, nil
}

func usageKey(userID, period string) []byte {
	return []byte(userID + "\x00" + period)
}

func readUsage(bucket *bbolt.Bucket, key []byte) (int, error) {
	data := bucket.Get(key)
	if data == nil {
		return 0, nil
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("parsing usage: %w", err)
	}
	return n, nil
}

// Usage returns the user's scan count for the period
func (b *BoltDB) Usage(userID, period string) (int, error) {
	var used int
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		used, err = readUsage(tx.Bucket([]byte(usageBucketName)), usageKey(userID, period))
		return err
	})
	return used, err
}

// IncrementUsage adds n to the user's scan count for the period. The count never drops below zero.
func (b *BoltDB) IncrementUsage(userID, period string, n int) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(usageBucketName))
		key := usageKey(userID, period)
		used, err := readUsage(bucket, key)
		if err != nil {
			return err
		}
		return bucket.Put(key, []byte(strconv.Itoa(max(used+n, 0))))
	})
}

// ReserveUsage adds n to the user's scan count unless that would pass limit.
// A negative limit means no cap. It returns the count before the call.
func (b *BoltDB) ReserveUsage(userID, period string, n, limit int) (int, bool, error) {
	var (
		used int
		ok   bool
	)
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(usageBucketName))
		key := usageKey(userID, period)
		var err error
		used, err = readUsage(bucket, key)
		if err != nil {
			return err
		}
		if limit >= 0 && used+n > limit {
			return nil
		}
		ok = true
		return bucket.Put(key, []byte(strconv.Itoa(used+n)))
	})
	return used, ok, err
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
