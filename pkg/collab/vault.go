package collab

import (
	"fmt"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/omnihop/router/pkg/bank"
	"github.com/omnihop/router/pkg/types"
)

// VaultConverter is the in-memory converter used by devnet mode and tests.
// It holds deposited assets in a vault account and issues shares 1:1 after
// rescaling between the asset's and the share token's decimal precisions.
type VaultConverter struct {
	bank  *bank.InMemoryBank
	addr  ethCommon.Address
	vault types.Account
	asset Asset
	share bank.Token

	// Failure injection for tests.
	failDeposits bool
	failRedeems  bool
	zeroOutput   bool
}

func NewVaultConverter(b *bank.InMemoryBank, addr ethCommon.Address, asset Asset, share bank.Token) *VaultConverter {
	return &VaultConverter{
		bank:  b,
		addr:  addr,
		vault: types.AccountFromEth(addr),
		asset: asset,
		share: share,
	}
}

func (v *VaultConverter) Addr() ethCommon.Address { return v.addr }
func (v *VaultConverter) AssetToken() Asset       { return v.asset }
func (v *VaultConverter) ShareToken() bank.Token  { return v.share }

// FailDeposits makes every subsequent Deposit return an error.
func (v *VaultConverter) FailDeposits() { v.failDeposits = true }

// FailRedeems makes every subsequent Redeem return an error.
func (v *VaultConverter) FailRedeems() { v.failRedeems = true }

// ZeroOutput makes conversions consume input without producing output,
// mimicking a converter with non-standard return semantics.
func (v *VaultConverter) ZeroOutput() { v.zeroOutput = true }

func (v *VaultConverter) Deposit(owner types.Account, amount *big.Int) error {
	if v.failDeposits {
		return fmt.Errorf("converter rejected deposit")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("invalid deposit amount")
	}

	if err := v.asset.Transfer(owner, v.vault, amount); err != nil {
		return fmt.Errorf("failed to take deposit: %w", err)
	}
	if v.zeroOutput {
		return nil
	}

	shares := types.Rescale(amount, v.asset.Decimals(), v.share.Decimals())
	v.bank.Mint(v.share.Addr(), owner, shares)
	return nil
}

func (v *VaultConverter) Redeem(owner types.Account, shares *big.Int) error {
	if v.failRedeems {
		return fmt.Errorf("converter rejected redeem")
	}
	if shares == nil || shares.Sign() <= 0 {
		return fmt.Errorf("invalid redeem amount")
	}

	if err := v.share.Transfer(owner, v.vault, shares); err != nil {
		return fmt.Errorf("failed to take shares: %w", err)
	}
	v.bank.Burn(v.share.Addr(), v.vault, shares)
	if v.zeroOutput {
		return nil
	}

	amount := types.Rescale(shares, v.share.Decimals(), v.asset.Decimals())
	if err := v.asset.Transfer(v.vault, owner, amount); err != nil {
		return fmt.Errorf("failed to release asset: %w", err)
	}
	return nil
}
