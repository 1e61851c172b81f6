// Package router implements the two-hop value-routing engine. An inbound
// compose message credits the router with value; the engine converts it
// through the registered converter and re-dispatches it through the
// registered transport adapter, or unwinds the conversion on the return leg.
// Handling is total: every payload terminates in a settled or a diagnosed
// refunded state, and only the two structural faults (wrong caller, unknown
// route) abort for transport-layer retry.
package router

import (
	"errors"
	"math/big"
	"sync"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/omnihop/router/pkg/bank"
	"github.com/omnihop/router/pkg/codec"
	"github.com/omnihop/router/pkg/collab"
	"github.com/omnihop/router/pkg/db"
	"github.com/omnihop/router/pkg/events"
	"github.com/omnihop/router/pkg/registry"
	"github.com/omnihop/router/pkg/types"
)

var (
	// Structural faults. These reject the whole message so the transport
	// layer can retry; everything else is absorbed by the refund policy.
	ErrNotEndpoint  = errors.New("caller is not the recognized transport endpoint")
	ErrInvalidRoute = errors.New("no route registered for this address")

	ErrNotAdmin = errors.New("caller is not the admin principal")
)

var (
	messagesHandled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "router_messages_handled_total",
			Help: "Total number of inbound compose messages handled to a terminal state",
		})
	messagesReplayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "router_messages_replayed_total",
			Help: "Total number of inbound messages dropped as already-processed replays",
		})
	structuralRejects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_structural_rejects_total",
			Help: "Total number of messages rejected outright for transport-layer retry",
		}, []string{"reason"})
)

// Config wires the router to its owned state and external collaborators.
type Config struct {
	ChainID types.ChainID

	// Custody is the router's own account; credited value, converter shares
	// and the native fee float all sit here between hops.
	Custody types.Account

	// Endpoint is the only caller HandleCompose accepts messages from.
	Endpoint types.Account

	// Admin is the only principal allowed to register routes.
	Admin types.Account

	// WrappedNative, when set together with Payout, enables the
	// unwrap-to-native local delivery variant for that token.
	WrappedNative ethCommon.Address
	Payout        collab.NativePayout

	Registry *registry.Registry
	DB       db.RouterDB
	Native   bank.NativeBank
	Emitter  events.Emitter
}

type Router struct {
	logger *zap.Logger
	cfg    Config

	// One handling at a time: custody balances, the ledger and the registry
	// are only ever touched under this lock.
	mu sync.Mutex
}

func New(logger *zap.Logger, cfg Config) *Router {
	return &Router{
		logger: logger.With(zap.String("component", "router")),
		cfg:    cfg,
	}
}

// RegisterRoute binds a source asset to its converter/adapter pair. Admin
// only. The registration is persisted so routes survive a restart.
func (r *Router) RegisterRoute(caller types.Account, sourceAsset ethCommon.Address, converter collab.Converter, adapter collab.TransportAdapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.cfg.Admin {
		return ErrNotAdmin
	}

	if err := r.cfg.Registry.Register(sourceAsset, converter, adapter); err != nil {
		return err
	}

	if err := r.cfg.DB.StoreRoute(&db.RouteRecord{
		SourceAsset:      sourceAsset,
		Converter:        converter.Addr(),
		TransportAdapter: adapter.Addr(),
	}); err != nil {
		return err
	}

	r.cfg.Emitter.RouteConfigured(events.RouteConfigured{
		SourceAsset:      sourceAsset,
		Converter:        converter.Addr(),
		TransportAdapter: adapter.Addr(),
	})
	return nil
}

// HandleCompose processes one inbound compose message. The message has
// already credited `feeBudget` of native fee currency to the router's
// custody; the raw buffer carries the compose header and the inner payload.
//
// Only a wrong caller or an unresolvable route return an error; every other
// fault exits through the refund policy and returns nil, because blocking
// message delivery is worse than parking funds in a refundable state.
func (r *Router) HandleCompose(caller types.Account, oapp ethCommon.Address, id types.GUID, raw []byte, feeBudget *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.cfg.Endpoint {
		structuralRejects.WithLabelValues("not_endpoint").Inc()
		return ErrNotEndpoint
	}

	fwdRoute, isForward := r.cfg.Registry.LookupBySource(oapp)
	revConverter, isReverse := r.cfg.Registry.LookupByAdapter(oapp)
	if !isForward && !isReverse {
		structuralRejects.WithLabelValues("invalid_route").Inc()
		return ErrInvalidRoute
	}

	// Replay protection comes before any effect. A re-delivered message is a
	// deliberate silent no-op, not a failure.
	processed, err := r.cfg.DB.IsProcessed(id)
	if err != nil {
		return err
	}
	if processed {
		messagesReplayed.Inc()
		r.logger.Debug("dropping replayed message", zap.Stringer("msgId", id))
		return nil
	}
	if err := r.cfg.DB.MarkProcessed(id); err != nil {
		return err
	}

	if feeBudget == nil {
		feeBudget = big.NewInt(0)
	}

	amount, inner := codec.DecodeCompose(raw)

	if isForward {
		r.handleForward(fwdRoute, id, amount, inner, feeBudget)
	} else {
		r.handleReverse(revConverter, id, amount, inner, feeBudget)
	}

	messagesHandled.Inc()
	return nil
}
