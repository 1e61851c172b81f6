// Package collab defines the external collaborator boundaries of the routing
// engine: the value converter, the outbound transport adapter and the
// native-payout helper. The engine only ever sees these interfaces; the real
// implementations live outside the process. In-memory implementations back
// devnet mode and tests.
package collab

import (
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/omnihop/router/pkg/bank"
	"github.com/omnihop/router/pkg/types"
)

// Asset is the unified capability surface of a source asset: balance-of and
// transfer like any token, plus quote-and-send for assets that are themselves
// bridge-transport tokens. The router never distinguishes the two kinds; a
// plain value token simply rejects sends and the refund policy absorbs that.
type Asset interface {
	bank.Token

	QuoteSend(dst types.ChainID, to types.Account, amount, minOut *big.Int, options []byte) (*big.Int, error)
	Send(from types.Account, dst types.ChainID, to types.Account, amount, minOut, fee *big.Int, options, payload []byte) error
}

// Converter exchanges a deposited asset for a credited share representation
// and back. Callers must not trust declared outputs; effects are observed by
// re-reading token balances around the call.
type Converter interface {
	Addr() ethCommon.Address
	AssetToken() Asset
	ShareToken() bank.Token

	// Deposit converts `amount` of the asset held by `owner` into shares
	// credited to `owner`.
	Deposit(owner types.Account, amount *big.Int) error

	// Redeem converts `shares` held by `owner` back into the asset credited
	// to `owner`.
	Redeem(owner types.Account, shares *big.Int) error
}

// TransportAdapter dispatches a value representation to another chain for a
// quoted fee, paid in native currency.
type TransportAdapter interface {
	Addr() ethCommon.Address

	// Token is the value representation this adapter moves.
	Token() bank.Token

	// QuoteSend returns the native fee for sending `amount` to `to` on `dst`.
	QuoteSend(dst types.ChainID, to types.Account, amount, minOut *big.Int, options []byte) (*big.Int, error)

	// Send escrows `amount` of the adapter's token from `from`, collects
	// `fee` from `from`'s native balance and dispatches. A failed send leaves
	// both balances untouched.
	Send(from types.Account, dst types.ChainID, to types.Account, amount, minOut, fee *big.Int, options, payload []byte) error
}

// NativePayout is the minimal non-upgradeable helper used when a reverse
// route must surface native currency to a local recipient. The router parks
// wrapped-native at Account() and calls PayOut; on failure the helper has
// already best-effort refunded, so the caller only emits a diagnostic.
type NativePayout interface {
	Account() types.Account
	PayOut(to types.Account, refund ethCommon.Address, amount *big.Int) error
}
