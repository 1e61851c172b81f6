package router

import (
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/omnihop/router/pkg/codec"
	"github.com/omnihop/router/pkg/events"
	"github.com/omnihop/router/pkg/registry"
	"github.com/omnihop/router/pkg/types"
)

// handleForward runs the wrap-and-send leg: consume the credited source
// asset, convert it to shares, re-dispatch the shares through the transport
// adapter. Every failure exits through the refund primitive; nothing here
// returns an error to the transport layer.
func (r *Router) handleForward(route registry.RouteEntry, id types.GUID, credited *big.Int, inner []byte, feeBudget *big.Int) {
	logger := r.logger.With(zap.Stringer("msgId", id), zap.String("leg", "forward"))

	// Decoding.
	msg, err := codec.DecodeForward(inner)
	if err != nil {
		logger.Warn("undecodable forward payload", zap.Error(err))
		r.routeFailed(id, events.ReasonDecodeFailed, credited)
		return
	}
	if msg.RefundAccount == (ethCommon.Address{}) {
		// Never refund to nobody.
		r.routeFailed(id, events.ReasonRefundZero, credited)
		return
	}

	asset := route.Converter.AssetToken()
	shares := route.Converter.ShareToken()

	// Converting. The credited amount must actually be collateralized; a
	// caller reporting value it never delivered gets a diagnostic, not a
	// conversion against someone else's balance.
	if asset.BalanceOf(r.cfg.Custody).Cmp(credited) < 0 {
		r.refund(id, events.AssetSource, asset, events.ReasonInsufficientBalance, msg.RefundAccount, credited, feeBudget)
		return
	}

	sharesOut, err := measureDelta(shares, r.cfg.Custody, func() error {
		return route.Converter.Deposit(r.cfg.Custody, credited)
	})
	if err != nil {
		logger.Warn("converter rejected deposit", zap.Error(err))
		r.refund(id, events.AssetSource, asset, events.ReasonWrapFailed, msg.RefundAccount, credited, feeBudget)
		return
	}
	if sharesOut.Sign() == 0 {
		r.refund(id, events.AssetSource, asset, events.ReasonWrapZeroShares, msg.RefundAccount, credited, feeBudget)
		return
	}

	// Dispatching. The converted amount is its own floor unless the message
	// set an explicit one.
	minOut := msg.MinOutput
	if minOut == nil || minOut.Sign() == 0 {
		minOut = sharesOut
	}

	fee, err := route.TransportAdapter.QuoteSend(msg.FinalChainID, msg.FinalRecipient, sharesOut, minOut, nil)
	if err != nil || fee.Cmp(feeBudget) > 0 || fee.Cmp(r.cfg.Native.NativeBalanceOf(r.cfg.Custody)) > 0 {
		r.refund(id, events.AssetShares, shares, events.ReasonFeeInsufficient, msg.RefundAccount, sharesOut, feeBudget)
		return
	}

	err = route.TransportAdapter.Send(r.cfg.Custody, msg.FinalChainID, msg.FinalRecipient, sharesOut, minOut, fee, nil, nil)
	if err != nil {
		logger.Warn("transport rejected second-hop send", zap.Error(err))
		r.refund(id, events.AssetShares, shares, events.ReasonSendFailed, msg.RefundAccount, sharesOut, feeBudget)
		return
	}

	r.cfg.Emitter.WrappedAndForwarded(events.WrappedAndForwarded{
		ID:           id,
		FinalChainID: msg.FinalChainID,
		Recipient:    msg.FinalRecipient,
		SharesOut:    sharesOut,
	})

	r.sweepNative(id, msg.RefundAccount, new(big.Int).Sub(feeBudget, fee))
}
