package receipt

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "receipts"

// ExtractionUpdate carries the fields the extraction worker is allowed
// to write onto a receipt record.
type ExtractionUpdate struct {
	Status            Status
	FileDisplayName   string
	TransactionAmount float64
	Currency          string
}

// DB defines the interface for receipt record store operations
type DB interface {
	// SaveReceipt inserts a new receipt record
	SaveReceipt(receipt *Receipt) error

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id string) (*Receipt, error)

	// ListReceiptsByOwner returns the owner's receipts, newest first
	ListReceiptsByOwner(ownerID string) ([]*Receipt, error)

	// ApplyExtraction applies an extraction result to a record. It only
	// takes effect while the record is still pending; it reports false
	// when the record was already processed or failed, which makes
	// redelivered extraction jobs a no-op.
	ApplyExtraction(id string, update ExtractionUpdate) (bool, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
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
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveReceipt inserts a new receipt record
func (b *BoltDB) SaveReceipt(receipt *Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data, err := json.Marshal(receipt)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		return bucket.Put([]byte(receipt.ID), data)
	})
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("receipt not found: %s", id)
		}
		return json.Unmarshal(data, &receipt)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceiptsByOwner returns the owner's receipts ordered by upload
// time, newest first. Receipts of other owners are never returned.
func (b *BoltDB) ListReceiptsByOwner(ownerID string) ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			if receipt.OwnerID == ownerID {
				receipts = append(receipts, &receipt)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(receipts, func(i, j int) bool {
		return receipts[i].UploadedAt.After(receipts[j].UploadedAt)
	})

	return receipts, nil
}

// ApplyExtraction applies an extraction result inside a single bbolt
// transaction so the pending check and the write are atomic.
func (b *BoltDB) ApplyExtraction(id string, update ExtractionUpdate) (bool, error) {
	applied := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("receipt not found: %s", id)
		}

		var receipt Receipt
		if err := json.Unmarshal(data, &receipt); err != nil {
			return fmt.Errorf("unmarshaling receipt: %w", err)
		}

		if receipt.Status != StatusPending {
			return nil
		}

		receipt.Status = update.Status
		receipt.FileDisplayName = update.FileDisplayName
		receipt.TransactionAmount = update.TransactionAmount
		receipt.Currency = update.Currency

		updated, err := json.Marshal(&receipt)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		if err := bucket.Put([]byte(id), updated); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
