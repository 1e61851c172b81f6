package collab

import (
	"fmt"
	"math/big"

	"github.com/omnihop/router/pkg/bank"
	"github.com/omnihop/router/pkg/types"
)

// PlainAsset is a local-only value token. It carries the full Asset
// capability but rejects every send attempt, which the routing engine's
// refund policy turns into a diagnosed refund rather than a fault.
type PlainAsset struct {
	bank.Token
}

func NewPlainAsset(token bank.Token) *PlainAsset {
	return &PlainAsset{Token: token}
}

func (a *PlainAsset) QuoteSend(dst types.ChainID, to types.Account, amount, minOut *big.Int, options []byte) (*big.Int, error) {
	return nil, fmt.Errorf("asset %s is not bridge-capable", a.Addr())
}

func (a *PlainAsset) Send(from types.Account, dst types.ChainID, to types.Account, amount, minOut, fee *big.Int, options, payload []byte) error {
	return fmt.Errorf("asset %s is not bridge-capable", a.Addr())
}

// BridgedAsset is a value token that doubles as a bridge-transport token: its
// cross-chain sends are serviced by a dedicated transport adapter.
type BridgedAsset struct {
	bank.Token
	transport TransportAdapter
}

func NewBridgedAsset(token bank.Token, transport TransportAdapter) *BridgedAsset {
	return &BridgedAsset{Token: token, transport: transport}
}

func (a *BridgedAsset) QuoteSend(dst types.ChainID, to types.Account, amount, minOut *big.Int, options []byte) (*big.Int, error) {
	return a.transport.QuoteSend(dst, to, amount, minOut, options)
}

func (a *BridgedAsset) Send(from types.Account, dst types.ChainID, to types.Account, amount, minOut, fee *big.Int, options, payload []byte) error {
	return a.transport.Send(from, dst, to, amount, minOut, fee, options, payload)
}
