// Package events defines the diagnostic events the routing engine emits and
// the sinks that receive them. The engine never fails because a sink failed;
// emission is fire-and-forget.
package events

import (
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/omnihop/router/pkg/types"
)

// AssetKind distinguishes the three value kinds the router custodies.
type AssetKind string

const (
	AssetSource AssetKind = "source"
	AssetShares AssetKind = "shares"
	AssetNative AssetKind = "native"
)

// Failure reason tags. Each data/execution fault maps to exactly one tag.
const (
	ReasonDecodeFailed        = "decode_failed"
	ReasonRefundZero          = "refund_zero"
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonWrapFailed          = "wrap_failed"
	ReasonWrapZeroShares      = "wrap_zero_shares"
	ReasonFeeInsufficient     = "fee_insufficient"
	ReasonSendFailed          = "send2_failed"
	ReasonBadUnwrapBps        = "bad_unwrap_bps"
	ReasonUnderlyingZero      = "underlying_zero"
	ReasonUnwrapZeroAmount    = "unwrap_zero_amount"
	ReasonUnwrapFailed        = "unwrap_failed"
	ReasonUnwrapZeroOut       = "unwrap_zero_out"
	ReasonReceiverZero        = "receiver_zero"
	ReasonUnderlyingBelowMin  = "underlying_below_min"
	ReasonDeliverFailed       = "deliver_failed"
)

// RouteConfigured records an administrative route registration.
type RouteConfigured struct {
	SourceAsset      ethCommon.Address
	Converter        ethCommon.Address
	TransportAdapter ethCommon.Address
}

// WrappedAndForwarded records a settled forward handling.
type WrappedAndForwarded struct {
	ID           types.GUID
	FinalChainID types.ChainID
	Recipient    types.Account
	SharesOut    *big.Int
}

// UnwrappedAndForwarded records a settled reverse handling, whether delivered
// locally or re-dispatched cross-chain.
type UnwrappedAndForwarded struct {
	ID           types.GUID
	FinalChainID types.ChainID
	Recipient    types.Account
	AmountOut    *big.Int
}

// RouteFailed records a data/execution fault absorbed by the refund policy.
type RouteFailed struct {
	ID            types.GUID
	Reason        string
	RefundAccount ethCommon.Address
	Amount        *big.Int
}

// RefundFailed records a refund transfer that itself failed; the funds remain
// in router custody for manual recovery by the privileged principal.
type RefundFailed struct {
	ID            types.GUID
	Kind          AssetKind
	RefundAccount ethCommon.Address
	Amount        *big.Int
}

// Emitter receives diagnostic events from the engine.
type Emitter interface {
	RouteConfigured(e RouteConfigured)
	WrappedAndForwarded(e WrappedAndForwarded)
	UnwrappedAndForwarded(e UnwrappedAndForwarded)
	RouteFailed(e RouteFailed)
	RefundFailed(e RefundFailed)
}

var (
	settledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "router_settled_total",
			Help: "Total number of messages settled successfully",
		})
	routeFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_route_failed_total",
			Help: "Total number of handlings that exited through the refund path, by reason",
		}, []string{"reason"})
	refundFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_refund_failed_total",
			Help: "Total number of refund transfers that themselves failed, by asset kind",
		}, []string{"kind"})
)

// LogEmitter writes events to a zap logger and bumps the prometheus counters.
type LogEmitter struct {
	logger *zap.Logger
}

func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	return &LogEmitter{logger: logger.With(zap.String("component", "events"))}
}

func (l *LogEmitter) RouteConfigured(e RouteConfigured) {
	l.logger.Info("route configured",
		zap.Stringer("sourceAsset", e.SourceAsset),
		zap.Stringer("converter", e.Converter),
		zap.Stringer("transportAdapter", e.TransportAdapter),
	)
}

func (l *LogEmitter) WrappedAndForwarded(e WrappedAndForwarded) {
	settledTotal.Inc()
	l.logger.Info("wrapped and forwarded",
		zap.Stringer("msgId", e.ID),
		zap.Stringer("finalChain", e.FinalChainID),
		zap.Stringer("recipient", e.Recipient),
		zap.String("sharesOut", e.SharesOut.String()),
	)
}

func (l *LogEmitter) UnwrappedAndForwarded(e UnwrappedAndForwarded) {
	settledTotal.Inc()
	l.logger.Info("unwrapped and forwarded",
		zap.Stringer("msgId", e.ID),
		zap.Stringer("finalChain", e.FinalChainID),
		zap.Stringer("recipient", e.Recipient),
		zap.String("amountOut", e.AmountOut.String()),
	)
}

func (l *LogEmitter) RouteFailed(e RouteFailed) {
	routeFailedTotal.WithLabelValues(e.Reason).Inc()
	l.logger.Warn("route failed",
		zap.Stringer("msgId", e.ID),
		zap.String("reason", e.Reason),
		zap.Stringer("refundAccount", e.RefundAccount),
		zap.String("amount", e.Amount.String()),
	)
}

func (l *LogEmitter) RefundFailed(e RefundFailed) {
	refundFailedTotal.WithLabelValues(string(e.Kind)).Inc()
	l.logger.Error("refund failed, funds held for manual recovery",
		zap.Stringer("msgId", e.ID),
		zap.String("assetKind", string(e.Kind)),
		zap.Stringer("refundAccount", e.RefundAccount),
		zap.String("amount", e.Amount.String()),
	)
}

// Capture is an Emitter that records every event, for tests.
type Capture struct {
	Configured []RouteConfigured
	Wrapped    []WrappedAndForwarded
	Unwrapped  []UnwrappedAndForwarded
	Failed     []RouteFailed
	Refunds    []RefundFailed
}

func (c *Capture) RouteConfigured(e RouteConfigured) { c.Configured = append(c.Configured, e) }
func (c *Capture) WrappedAndForwarded(e WrappedAndForwarded) {
	c.Wrapped = append(c.Wrapped, e)
}
func (c *Capture) UnwrappedAndForwarded(e UnwrappedAndForwarded) {
	c.Unwrapped = append(c.Unwrapped, e)
}
func (c *Capture) RouteFailed(e RouteFailed)   { c.Failed = append(c.Failed, e) }
func (c *Capture) RefundFailed(e RefundFailed) { c.Refunds = append(c.Refunds, e) }
