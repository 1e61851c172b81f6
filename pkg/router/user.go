package router

import (
	"errors"
	"fmt"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/omnihop/router/pkg/registry"
	"github.com/omnihop/router/pkg/types"
)

// User-entry faults. Unlike inbound-message handling, this path is allowed to
// fail hard: the caller can simply retry with corrected parameters.
var (
	ErrInvalidAmount    = errors.New("amount must be non-zero")
	ErrInvalidRecipient = errors.New("recipient must be non-zero")
	ErrZeroWrapOutput   = errors.New("conversion produced no output")
	ErrFeeInsufficient  = errors.New("supplied fee below transport quote")
)

// WrapAndBridge is the synchronous caller-initiated path: pull the source
// asset from the caller, convert it, and dispatch the converted value to the
// destination chain. The caller supplies `feeBudget` of native currency up
// front; any overpayment beyond the quoted fee is returned. Returns the
// converted amount sent.
func (r *Router) WrapAndBridge(caller types.Account, sourceAsset ethCommon.Address, amount *big.Int, dst types.ChainID, recipient types.Account, options []byte, feeBudget *big.Int) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if recipient.IsZero() {
		return nil, ErrInvalidRecipient
	}
	route, ok := r.cfg.Registry.LookupBySource(sourceAsset)
	if !ok {
		return nil, ErrInvalidRoute
	}
	if feeBudget == nil {
		feeBudget = big.NewInt(0)
	}

	asset := route.Converter.AssetToken()
	shares := route.Converter.ShareToken()

	if err := asset.Transfer(caller, r.cfg.Custody, amount); err != nil {
		return nil, fmt.Errorf("failed to pull source asset: %w", err)
	}

	// There is no transaction to revert here, so each later failure must
	// explicitly hand the pulled value back before surfacing.
	sharesOut, err := measureDelta(shares, r.cfg.Custody, func() error {
		return route.Converter.Deposit(r.cfg.Custody, amount)
	})
	if err != nil || sharesOut.Sign() == 0 {
		if rerr := asset.Transfer(r.cfg.Custody, caller, amount); rerr != nil {
			r.logger.Error("failed to return pulled asset to caller",
				zap.Stringer("caller", caller), zap.Error(rerr))
		}
		if err != nil {
			return nil, fmt.Errorf("conversion failed: %w", err)
		}
		return nil, ErrZeroWrapOutput
	}

	fee, err := route.TransportAdapter.QuoteSend(dst, recipient, sharesOut, sharesOut, options)
	if err != nil {
		r.unwindUserWrap(route, caller, sharesOut)
		return nil, fmt.Errorf("fee quote failed: %w", err)
	}
	if fee.Cmp(feeBudget) > 0 {
		r.unwindUserWrap(route, caller, sharesOut)
		return nil, ErrFeeInsufficient
	}

	if err := r.cfg.Native.PayNative(caller, r.cfg.Custody, feeBudget); err != nil {
		r.unwindUserWrap(route, caller, sharesOut)
		return nil, fmt.Errorf("failed to collect fee: %w", err)
	}

	if err := route.TransportAdapter.Send(r.cfg.Custody, dst, recipient, sharesOut, sharesOut, fee, options, nil); err != nil {
		if rerr := r.cfg.Native.PayNative(r.cfg.Custody, caller, feeBudget); rerr != nil {
			r.logger.Error("failed to return collected fee to caller",
				zap.Stringer("caller", caller), zap.Error(rerr))
		}
		r.unwindUserWrap(route, caller, sharesOut)
		return nil, fmt.Errorf("transport send failed: %w", err)
	}

	// Return the fee overpayment.
	overpaid := new(big.Int).Sub(feeBudget, fee)
	if overpaid.Sign() > 0 {
		if err := r.cfg.Native.PayNative(r.cfg.Custody, caller, overpaid); err != nil {
			r.logger.Error("failed to return fee overpayment to caller",
				zap.Stringer("caller", caller), zap.Error(err))
		}
	}

	return sharesOut, nil
}

// unwindUserWrap converts the shares minted for a failed user call back into
// the source asset and returns it to the caller. Best effort; a failing
// unwind leaves the shares with the caller-visible custody balance and is
// logged for manual recovery.
func (r *Router) unwindUserWrap(route registry.RouteEntry, caller types.Account, sharesOut *big.Int) {
	asset := route.Converter.AssetToken()

	recovered, err := measureDelta(asset, r.cfg.Custody, func() error {
		return route.Converter.Redeem(r.cfg.Custody, sharesOut)
	})
	if err != nil || recovered.Sign() == 0 {
		r.logger.Error("failed to unwind user wrap, value held for manual recovery",
			zap.Stringer("caller", caller), zap.Error(err))
		return
	}
	if err := asset.Transfer(r.cfg.Custody, caller, recovered); err != nil {
		r.logger.Error("failed to return unwound asset to caller",
			zap.Stringer("caller", caller), zap.Error(err))
	}
}

// QuoteBridgeFee mirrors the fee-quote step of WrapAndBridge without side
// effects. The converted amount is previewed by rescaling between the asset
// and share precisions, which is exact for the supported converters.
func (r *Router) QuoteBridgeFee(sourceAsset ethCommon.Address, amount *big.Int, dst types.ChainID, recipient types.Account, options []byte) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	route, ok := r.cfg.Registry.LookupBySource(sourceAsset)
	if !ok {
		return nil, ErrInvalidRoute
	}

	asset := route.Converter.AssetToken()
	shares := route.Converter.ShareToken()
	preview := types.Rescale(amount, asset.Decimals(), shares.Decimals())

	return route.TransportAdapter.QuoteSend(dst, recipient, preview, preview, options)
}
