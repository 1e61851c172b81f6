package routerd

import (
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/omnihop/router/pkg/bank"
	"github.com/omnihop/router/pkg/collab"
)

// Deterministic devnet collaborator addresses. These are well-known so that
// integration tooling can mint against them and register routes by address.
var (
	devnetSourceAssetAddr   = ethCommon.HexToAddress("0x0000000000000000000000000000000000000101")
	devnetShareTokenAddr    = ethCommon.HexToAddress("0x0000000000000000000000000000000000000102")
	devnetWrappedNativeAddr = ethCommon.HexToAddress("0x0000000000000000000000000000000000000103")
	devnetConverterAddr     = ethCommon.HexToAddress("0x0000000000000000000000000000000000000c01")
	devnetAdapterAddr       = ethCommon.HexToAddress("0x0000000000000000000000000000000000000ada")
	devnetPayoutAddr        = ethCommon.HexToAddress("0x0000000000000000000000000000000000000fee")
)

const (
	devnetSourceAssetDecimals = 6
	devnetShareTokenDecimals  = 18
)

// devnetPayoutReserve collateralizes the wrapped-native payout account so
// local native deliveries work out of the box.
var devnetPayoutReserve = new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)

// collaboratorSet is the node's view of the external collaborators it can
// bind routes to. Persisted route records only carry addresses; this set
// turns them back into live handles.
type collaboratorSet struct {
	bank       *bank.InMemoryBank
	payout     *collab.WrappedNativePayout
	converters map[ethCommon.Address]collab.Converter
	adapters   map[ethCommon.Address]collab.TransportAdapter
}

func (s *collaboratorSet) converter(addr ethCommon.Address) (collab.Converter, bool) {
	c, ok := s.converters[addr]
	return c, ok
}

func (s *collaboratorSet) adapter(addr ethCommon.Address) (collab.TransportAdapter, bool) {
	a, ok := s.adapters[addr]
	return a, ok
}

// buildDevnetCollaborators wires the in-memory bank, the vault converter, the
// loopback transport adapter and the wrapped-native payout that back the
// devnet deployment.
func buildDevnetCollaborators(logger *zap.Logger, transportFee *big.Int) *collaboratorSet {
	b := bank.NewInMemoryBank()

	source := collab.NewPlainAsset(b.IssueToken(devnetSourceAssetAddr, devnetSourceAssetDecimals))
	shares := b.IssueToken(devnetShareTokenAddr, devnetShareTokenDecimals)
	wrapped := b.IssueToken(devnetWrappedNativeAddr, devnetShareTokenDecimals)

	conv := collab.NewVaultConverter(b, devnetConverterAddr, source, shares)
	adapter := collab.NewLoopbackAdapter(logger, b, devnetAdapterAddr, shares, transportFee)

	payout := collab.NewWrappedNativePayout(b, devnetPayoutAddr, wrapped)
	b.MintNative(payout.Account(), devnetPayoutReserve)

	return &collaboratorSet{
		bank:   b,
		payout: payout,
		converters: map[ethCommon.Address]collab.Converter{
			devnetConverterAddr: conv,
		},
		adapters: map[ethCommon.Address]collab.TransportAdapter{
			devnetAdapterAddr: adapter,
		},
	}
}
