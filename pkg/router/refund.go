package router

import (
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/omnihop/router/pkg/bank"
	"github.com/omnihop/router/pkg/events"
	"github.com/omnihop/router/pkg/types"
)

// refund is the single primitive every failure branch exits through. It
// best-effort returns `amount` of `token` to the refund account, records a
// RefundFailed diagnostic if that transfer itself failed, unconditionally
// emits RouteFailed, and finally sweeps the message's remaining native fee
// budget to the same account. It never fails.
//
// Callers guarantee a non-zero refund target; branches with no known target
// emit RouteFailed directly instead.
func (r *Router) refund(id types.GUID, kind events.AssetKind, token bank.Token, reason string, to ethCommon.Address, amount, feeBudget *big.Int) {
	if amount != nil && amount.Sign() > 0 {
		if err := token.Transfer(r.cfg.Custody, types.AccountFromEth(to), amount); err != nil {
			r.logger.Error("refund transfer failed, funds held for manual recovery",
				zap.Stringer("msgId", id),
				zap.String("assetKind", string(kind)),
				zap.Stringer("refundAccount", to),
				zap.String("amount", amount.String()),
				zap.Error(err),
			)
			r.cfg.Emitter.RefundFailed(events.RefundFailed{
				ID:            id,
				Kind:          kind,
				RefundAccount: to,
				Amount:        amount,
			})
		}
	}

	if amount == nil {
		amount = big.NewInt(0)
	}
	r.cfg.Emitter.RouteFailed(events.RouteFailed{
		ID:            id,
		Reason:        reason,
		RefundAccount: to,
		Amount:        amount,
	})

	r.sweepNative(id, to, feeBudget)
}

// routeFailed emits the diagnostic for branches where no refund target is
// known yet (malformed payload, zero refund account).
func (r *Router) routeFailed(id types.GUID, reason string, amount *big.Int) {
	if amount == nil {
		amount = big.NewInt(0)
	}
	r.cfg.Emitter.RouteFailed(events.RouteFailed{
		ID:     id,
		Reason: reason,
		Amount: amount,
	})
}

// sweepNative returns the unspent remainder of one message's native fee
// budget to the given account. The sweep is scoped to the budget credited
// with the current message so concurrent in-flight messages are never
// cross-subsidized. Its own failure is logged and ignored.
func (r *Router) sweepNative(id types.GUID, to ethCommon.Address, budget *big.Int) {
	if budget == nil || budget.Sign() <= 0 || to == (ethCommon.Address{}) {
		return
	}

	residual := budget
	if balance := r.cfg.Native.NativeBalanceOf(r.cfg.Custody); balance.Cmp(residual) < 0 {
		residual = balance
	}
	if residual.Sign() <= 0 {
		return
	}

	if err := r.cfg.Native.PayNative(r.cfg.Custody, types.AccountFromEth(to), residual); err != nil {
		r.logger.Warn("failed to sweep residual fee budget",
			zap.Stringer("msgId", id),
			zap.Stringer("refundAccount", to),
			zap.String("amount", residual.String()),
			zap.Error(err),
		)
	}
}

// measureDelta runs the action and returns the change it caused in the
// holder's balance of the token. The delta, not any value declared by the
// collaborator, is ground truth for how much value the action produced.
func measureDelta(token bank.Token, holder types.Account, action func() error) (*big.Int, error) {
	before := token.BalanceOf(holder)
	if err := action(); err != nil {
		return nil, err
	}
	after := token.BalanceOf(holder)
	return new(big.Int).Sub(after, before), nil
}
