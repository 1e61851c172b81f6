package router

import (
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/omnihop/router/pkg/codec"
	"github.com/omnihop/router/pkg/collab"
	"github.com/omnihop/router/pkg/events"
	"github.com/omnihop/router/pkg/types"
)

const bpsDenominator = 10000

// handleReverse runs the unwind leg: consume the credited converter shares,
// redeem them back into the source asset, then either deliver the recovered
// value to a local recipient or re-dispatch it through the source asset's own
// transport capability. Like the forward leg, every failure exits through the
// refund primitive.
func (r *Router) handleReverse(converter collab.Converter, id types.GUID, credited *big.Int, inner []byte, feeBudget *big.Int) {
	logger := r.logger.With(zap.Stringer("msgId", id), zap.String("leg", "reverse"))

	asset := converter.AssetToken()
	shares := converter.ShareToken()

	// Decoding.
	msg, err := codec.DecodeReverse(inner)
	if err != nil {
		logger.Warn("undecodable reverse payload", zap.Error(err))
		r.routeFailed(id, events.ReasonDecodeFailed, credited)
		return
	}
	if msg.RefundAccount == (ethCommon.Address{}) {
		r.routeFailed(id, events.ReasonRefundZero, credited)
		return
	}
	if msg.UnwindBps == 0 || msg.UnwindBps > bpsDenominator {
		// Out-of-range fractions fail closed: full share refund, no
		// conversion attempted.
		r.refund(id, events.AssetShares, shares, events.ReasonBadUnwrapBps, msg.RefundAccount, credited, feeBudget)
		return
	}
	if msg.SourceAsset == (ethCommon.Address{}) {
		r.refund(id, events.AssetShares, shares, events.ReasonUnderlyingZero, msg.RefundAccount, credited, feeBudget)
		return
	}

	// Unwinding.
	if shares.BalanceOf(r.cfg.Custody).Cmp(credited) < 0 {
		r.refund(id, events.AssetShares, shares, events.ReasonInsufficientBalance, msg.RefundAccount, credited, feeBudget)
		return
	}

	attempt := new(big.Int).Mul(credited, big.NewInt(int64(msg.UnwindBps)))
	attempt.Div(attempt, big.NewInt(bpsDenominator))
	if attempt.Sign() == 0 {
		r.refund(id, events.AssetShares, shares, events.ReasonUnwrapZeroAmount, msg.RefundAccount, credited, feeBudget)
		return
	}

	sharesBefore := shares.BalanceOf(r.cfg.Custody)
	amountOut, err := measureDelta(asset, r.cfg.Custody, func() error {
		return converter.Redeem(r.cfg.Custody, attempt)
	})
	if err != nil {
		logger.Warn("converter rejected redeem", zap.Error(err))
		r.refund(id, events.AssetShares, shares, events.ReasonUnwrapFailed, msg.RefundAccount, credited, feeBudget)
		return
	}

	// The converter may have consumed shares even when it produced nothing;
	// only what it left behind is refundable.
	sharesSpent := new(big.Int).Sub(sharesBefore, shares.BalanceOf(r.cfg.Custody))
	remainder := new(big.Int).Sub(credited, sharesSpent)

	if amountOut.Sign() == 0 {
		r.refund(id, events.AssetShares, shares, events.ReasonUnwrapZeroOut, msg.RefundAccount, remainder, feeBudget)
		return
	}

	// A partial unwind leaves the untouched share fraction behind; return it
	// to the refund account so no value attributable to this message stays in
	// custody.
	if remainder.Sign() > 0 {
		if err := shares.Transfer(r.cfg.Custody, types.AccountFromEth(msg.RefundAccount), remainder); err != nil {
			r.cfg.Emitter.RefundFailed(events.RefundFailed{
				ID:            id,
				Kind:          events.AssetShares,
				RefundAccount: msg.RefundAccount,
				Amount:        remainder,
			})
		}
	}

	if msg.FinalChainID == r.cfg.ChainID {
		r.deliverLocal(converter, id, msg, amountOut, feeBudget, logger)
	} else {
		r.dispatchCrossChain(asset, id, msg, amountOut, feeBudget)
	}
}

// deliverLocal hands the recovered source asset to a recipient on this chain.
func (r *Router) deliverLocal(converter collab.Converter, id types.GUID, msg *codec.ReverseMessage, amountOut, feeBudget *big.Int, logger *zap.Logger) {
	asset := converter.AssetToken()

	recipient, ok := msg.FinalRecipient.Eth()
	if !ok || recipient == (ethCommon.Address{}) {
		r.refund(id, events.AssetSource, asset, events.ReasonReceiverZero, msg.RefundAccount, amountOut, feeBudget)
		return
	}

	if msg.MinOutput != nil && amountOut.Cmp(msg.MinOutput) < 0 {
		r.refund(id, events.AssetSource, asset, events.ReasonUnderlyingBelowMin, msg.RefundAccount, amountOut, feeBudget)
		return
	}

	if asset.Addr() == r.cfg.WrappedNative && r.cfg.Payout != nil {
		// The recovered asset is wrapped native and the recipient expects
		// native currency. The router's own receive path cannot safely accept
		// a gas-limited native transfer, so the unwrap-and-pay is delegated
		// to the payout helper. A failing helper has already best-effort
		// refunded, so only the diagnostic is emitted here.
		if err := asset.Transfer(r.cfg.Custody, r.cfg.Payout.Account(), amountOut); err != nil {
			r.refund(id, events.AssetSource, asset, events.ReasonDeliverFailed, msg.RefundAccount, amountOut, feeBudget)
			return
		}
		if err := r.cfg.Payout.PayOut(types.AccountFromEth(recipient), msg.RefundAccount, amountOut); err != nil {
			logger.Warn("native payout helper reported failure", zap.Error(err))
			r.cfg.Emitter.RouteFailed(events.RouteFailed{
				ID:            id,
				Reason:        events.ReasonDeliverFailed,
				RefundAccount: msg.RefundAccount,
				Amount:        amountOut,
			})
			r.sweepNative(id, msg.RefundAccount, feeBudget)
			return
		}
	} else {
		if err := asset.Transfer(r.cfg.Custody, types.AccountFromEth(recipient), amountOut); err != nil {
			logger.Warn("recipient rejected delivery", zap.Error(err))
			r.refund(id, events.AssetSource, asset, events.ReasonDeliverFailed, msg.RefundAccount, amountOut, feeBudget)
			return
		}
	}

	r.cfg.Emitter.UnwrappedAndForwarded(events.UnwrappedAndForwarded{
		ID:           id,
		FinalChainID: msg.FinalChainID,
		Recipient:    msg.FinalRecipient,
		AmountOut:    amountOut,
	})

	r.sweepNative(id, msg.RefundAccount, feeBudget)
}

// dispatchCrossChain re-dispatches the recovered source asset through its own
// transport capability, with the same fee and failure accounting as the
// forward leg.
func (r *Router) dispatchCrossChain(asset collab.Asset, id types.GUID, msg *codec.ReverseMessage, amountOut, feeBudget *big.Int) {
	minOut := msg.MinOutput
	if minOut == nil || minOut.Sign() == 0 {
		minOut = amountOut
	}

	fee, err := asset.QuoteSend(msg.FinalChainID, msg.FinalRecipient, amountOut, minOut, msg.TransportOptions)
	if err != nil || fee.Cmp(feeBudget) > 0 || fee.Cmp(r.cfg.Native.NativeBalanceOf(r.cfg.Custody)) > 0 {
		r.refund(id, events.AssetSource, asset, events.ReasonFeeInsufficient, msg.RefundAccount, amountOut, feeBudget)
		return
	}

	err = asset.Send(r.cfg.Custody, msg.FinalChainID, msg.FinalRecipient, amountOut, minOut, fee, msg.TransportOptions, msg.TransportPayload)
	if err != nil {
		r.refund(id, events.AssetSource, asset, events.ReasonSendFailed, msg.RefundAccount, amountOut, feeBudget)
		return
	}

	r.cfg.Emitter.UnwrappedAndForwarded(events.UnwrappedAndForwarded{
		ID:           id,
		FinalChainID: msg.FinalChainID,
		Recipient:    msg.FinalRecipient,
		AmountOut:    amountOut,
	})

	r.sweepNative(id, msg.RefundAccount, new(big.Int).Sub(feeBudget, fee))
}
