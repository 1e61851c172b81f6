// Package registry holds the route table: the owner-maintained mapping from a
// source asset to its (converter, transport adapter) pair and the reverse
// mapping from transport adapter to converter. Lookups are pure reads;
// registration is overwrite-only and never deletes.
package registry

import (
	"errors"
	"sync"

	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/omnihop/router/pkg/collab"
)

var ErrInvalidArgument = errors.New("converter and transport adapter must be set")

// RouteEntry binds a source asset to the pair that services it. SourceAsset
// may be the zero address when only the reverse mapping was registered.
type RouteEntry struct {
	SourceAsset      ethCommon.Address
	Converter        collab.Converter
	TransportAdapter collab.TransportAdapter
}

type Registry struct {
	mu        sync.RWMutex
	bySource  map[ethCommon.Address]RouteEntry
	byAdapter map[ethCommon.Address]collab.Converter
}

func New() *Registry {
	return &Registry{
		bySource:  make(map[ethCommon.Address]RouteEntry),
		byAdapter: make(map[ethCommon.Address]collab.Converter),
	}
}

// Register binds sourceAsset to (converter, adapter) and always updates the
// reverse mapping adapter -> converter. A zero sourceAsset registers the
// reverse mapping only. Re-registration overwrites prior entries for the same
// keys, so multiple source assets may share one converter/adapter pair.
func (r *Registry) Register(sourceAsset ethCommon.Address, converter collab.Converter, adapter collab.TransportAdapter) error {
	if converter == nil || adapter == nil {
		return ErrInvalidArgument
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byAdapter[adapter.Addr()] = converter
	if sourceAsset != (ethCommon.Address{}) {
		r.bySource[sourceAsset] = RouteEntry{
			SourceAsset:      sourceAsset,
			Converter:        converter,
			TransportAdapter: adapter,
		}
	}
	return nil
}

// LookupBySource resolves the forward route for a source asset.
func (r *Registry) LookupBySource(asset ethCommon.Address) (RouteEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.bySource[asset]
	return entry, ok
}

// LookupByAdapter resolves the converter servicing a transport adapter.
func (r *Registry) LookupByAdapter(adapter ethCommon.Address) (collab.Converter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	converter, ok := r.byAdapter[adapter]
	return converter, ok
}
