package payment

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"loyalchain/storage"
)

var recordPrefix = []byte("payment/record/")

// Store is the database-backed State implementation used outside of tests.
type Store struct {
	mu sync.RWMutex
	db storage.Database
}

// NewStore creates a payment record store on top of the supplied database.
func NewStore(db storage.Database) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("payment: database required")
	}
	return &Store{db: db}, nil
}

func recordKey(id [32]byte) []byte {
	return append(append([]byte(nil), recordPrefix...), []byte(hex.EncodeToString(id[:]))...)
}

// PaymentPut persists the record, replacing any previous version.
func (s *Store) PaymentPut(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("payment: nil record")
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("payment: invalid status %d", rec.Status)
	}
	raw, err := json.Marshal(rec.Clone())
	if err != nil {
		return fmt.Errorf("payment: encode record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Put(recordKey(rec.PaymentID), raw)
}

// PaymentGet loads the record stored under the payment id.
func (s *Store) PaymentGet(id [32]byte) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, err := s.db.Get(recordKey(id))
	if err != nil {
		return nil, false
	}
	rec := &Record{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, false
	}
	return rec, true
}
