// Package bank defines the value-holding capability interfaces the routing
// engine operates against. The router never distinguishes a plain value token
// from a bridge-transport token; both sit behind the same Token capability.
package bank

import (
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/omnihop/router/pkg/types"
)

// Token is the capability surface of one fungible asset: balance reads and
// transfers between opaque accounts. Implementations must treat a failed
// transfer as having no effect.
type Token interface {
	Addr() ethCommon.Address
	Decimals() uint8
	BalanceOf(account types.Account) *big.Int
	Transfer(from, to types.Account, amount *big.Int) error
}

// NativeBank holds the transport-fee currency. Fee quotes are paid from the
// router's native balance; residuals are swept back to refund accounts.
type NativeBank interface {
	NativeBalanceOf(account types.Account) *big.Int
	PayNative(from, to types.Account, amount *big.Int) error
}
