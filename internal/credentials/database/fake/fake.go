package fake

import (
	"sync"

	"github.com/OliverSchlueter/pgpmail/internal/credentials"
)

type DB struct {
	Item *credentials.Credential
	// Puts counts successful writes.
	Puts   int
	GetErr error
	PutErr error
	mu     sync.Mutex
}

func NewDB() *DB {
	return &DB{
		mu: sync.Mutex{},
	}
}

func (db *DB) Get() (*credentials.Credential, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.GetErr != nil {
		return nil, db.GetErr
	}
	if db.Item == nil {
		return nil, credentials.ErrCredentialNotFound
	}
	c := *db.Item
	return &c, nil
}

func (db *DB) Put(c credentials.Credential) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.PutErr != nil {
		return db.PutErr
	}
	db.Item = &c
	db.Puts++
	return nil
}
