package collab

import (
	"fmt"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/omnihop/router/pkg/bank"
	"github.com/omnihop/router/pkg/types"
)

// WrappedNativePayout is the devnet implementation of the native-payout
// helper. It burns the wrapped-native parked in its account and pays out
// native currency from its reserve. If the native payment is rejected it
// best-effort refunds the wrapped token to the refund account instead.
type WrappedNativePayout struct {
	bank    *bank.InMemoryBank
	account types.Account
	wrapped bank.Token

	failPayouts bool
}

func NewWrappedNativePayout(b *bank.InMemoryBank, addr ethCommon.Address, wrapped bank.Token) *WrappedNativePayout {
	return &WrappedNativePayout{
		bank:    b,
		account: types.AccountFromEth(addr),
		wrapped: wrapped,
	}
}

func (p *WrappedNativePayout) Account() types.Account { return p.account }

// FailPayouts makes every subsequent PayOut fail over to the refund path.
func (p *WrappedNativePayout) FailPayouts() { p.failPayouts = true }

func (p *WrappedNativePayout) PayOut(to types.Account, refund ethCommon.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("invalid payout amount")
	}
	if p.wrapped.BalanceOf(p.account).Cmp(amount) < 0 {
		return fmt.Errorf("payout not collateralized")
	}

	if p.failPayouts || p.bank.NativeBalanceOf(p.account).Cmp(amount) < 0 {
		// Cannot surface native currency; hand the wrapped token to the
		// refund account and report failure. A refund that also fails leaves
		// the funds parked here for manual recovery.
		_ = p.wrapped.Transfer(p.account, types.AccountFromEth(refund), amount)
		return fmt.Errorf("native payout failed, wrapped token refunded")
	}

	p.bank.Burn(p.wrapped.Addr(), p.account, amount)
	if err := p.bank.PayNative(p.account, to, amount); err != nil {
		// Unreachable given the reserve check above, but keep the invariant:
		// a failed payout must not lose the burn.
		p.bank.Mint(p.wrapped.Addr(), types.AccountFromEth(refund), amount)
		return fmt.Errorf("native payment rejected: %w", err)
	}
	return nil
}
