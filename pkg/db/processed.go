package db

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/omnihop/router/pkg/types"
)

// The processed-message ledger is append-only: ids are added on first
// sighting of a message and never removed, so replay protection holds across
// restarts.

const procPrefix = "ROUTER:PROC:V1:"

var processedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "router_db_processed_message_ids",
		Help: "Total number of message ids marked processed",
	})

func procKey(id types.GUID) []byte {
	return []byte(fmt.Sprintf("%s%s", procPrefix, id))
}

// IsProcessed returns whether the message id has been marked processed.
func (d *Database) IsProcessed(id types.GUID) (bool, error) {
	err := d.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(procKey(id))
		return err
	})
	if err == nil {
		return true, nil
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return false, err
}

// MarkProcessed adds the message id to the ledger. Marking an id twice is
// harmless; the entry is a set membership, not a counter.
func (d *Database) MarkProcessed(id types.GUID) error {
	err := d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(procKey(id), []byte{1})
	})
	if err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}

	processedTotal.Inc()

	return nil
}
