// Package db persists the router state that must survive a restart: the
// processed-message ledger that backs replay protection and the configured
// route table.
package db

import (
	"github.com/dgraph-io/badger/v3"
)

type Database struct {
	db *badger.DB
}

func Open(path string) (*Database, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}
