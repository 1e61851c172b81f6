package db

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const routePrefix = "ROUTER:ROUTE:V1:"

// RouteRecord is the persisted form of one route registration. Only the
// collaborator addresses are stored; the live handles are re-bound at
// startup.
type RouteRecord struct {
	SourceAsset      ethCommon.Address `json:"source_asset"`
	Converter        ethCommon.Address `json:"converter"`
	TransportAdapter ethCommon.Address `json:"transport_adapter"`
}

// routeKey keys records by adapter: the reverse mapping is always written, so
// the adapter is the one field present on every registration. A reverse-only
// registration stores a zero source asset.
func routeKey(rec *RouteRecord) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", routePrefix, rec.TransportAdapter.Hex(), rec.SourceAsset.Hex()))
}

// StoreRoute persists one route registration, overwriting any prior record
// for the same keys.
func (d *Database) StoreRoute(rec *RouteRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal route record: %w", err)
	}

	err = d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(routeKey(rec), b)
	})
	if err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	return nil
}

// LoadRoutes is called at startup to reload all persisted route records.
func (d *Database) LoadRoutes(logger *zap.Logger) ([]*RouteRecord, error) {
	records := []*RouteRecord{}
	prefixBytes := []byte(routePrefix)
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 10
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to copy route value: %w", err)
			}

			var rec RouteRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				logger.Error("failed to unmarshal route record, dropping it",
					zap.String("key", string(item.Key())), zap.Error(err))
				continue
			}
			records = append(records, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
