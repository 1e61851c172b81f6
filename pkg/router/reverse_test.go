package router

import (
	"math/big"
	"testing"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/omnihop/router/pkg/collab"
	"github.com/omnihop/router/pkg/events"
	"github.com/omnihop/router/pkg/types"
)

// sharesFor converts 6-decimal base units to the 18-decimal share amount.
func sharesFor(units int64) *big.Int {
	return types.Rescale(big.NewInt(units), 6, 18)
}

func TestReverseLocalDelivery(t *testing.T) {
	f := newFixture(t, nil)

	// Seed the vault so redeeming has collateral to release.
	f.bank.Mint(usdcAddr, types.AccountFromEth(convAddr), big.NewInt(10000))

	credited := sharesFor(1000)
	f.creditReverse(credited, big.NewInt(50))

	raw := reverseRaw(credited, defaultReverse())
	require.NoError(t, f.router.HandleCompose(f.endpoint, adapterAddr, guid(20), raw, big.NewInt(50)))

	// Direct delivery, no second transport hop.
	require.Len(t, f.cap.Unwrapped, 1)
	assert.Equal(t, big.NewInt(1000), f.cap.Unwrapped[0].AmountOut)
	assert.Empty(t, f.adapter.Sent())
	assert.Empty(t, f.cap.Failed)

	assert.Equal(t, big.NewInt(1000), f.usdc.BalanceOf(types.AccountFromEth(userAddr)))
	assert.Zero(t, f.shares.BalanceOf(f.custody).Sign())
	assert.Zero(t, f.usdc.BalanceOf(f.custody).Sign())

	// No dispatch fee was spent, so the whole budget is swept.
	assert.Equal(t, big.NewInt(50), f.bank.NativeBalanceOf(f.refund))
}

func TestReversePartialUnwind(t *testing.T) {
	f := newFixture(t, nil)
	f.bank.Mint(usdcAddr, types.AccountFromEth(convAddr), big.NewInt(10000))

	msg := defaultReverse()
	msg.UnwindBps = 2500

	credited := sharesFor(1000)
	f.creditReverse(credited, big.NewInt(0))

	require.NoError(t, f.router.HandleCompose(f.endpoint, adapterAddr, guid(21), reverseRaw(credited, msg), nil))

	// A quarter unwound and delivered; the untouched share fraction went to
	// the refund account.
	require.Len(t, f.cap.Unwrapped, 1)
	assert.Equal(t, big.NewInt(250), f.cap.Unwrapped[0].AmountOut)
	assert.Equal(t, big.NewInt(250), f.usdc.BalanceOf(types.AccountFromEth(userAddr)))
	assert.Equal(t, sharesFor(750), f.shares.BalanceOf(f.refund))
	assert.Zero(t, f.shares.BalanceOf(f.custody).Sign())
}

func TestReverseBadBpsFailsClosed(t *testing.T) {
	type Test struct {
		label string
		bps   uint16
	}

	tests := []Test{
		{label: "zero", bps: 0},
		{label: "above denominator", bps: 10001},
		{label: "max", bps: 65535},
	}

	for i, tc := range tests {
		t.Run(tc.label, func(t *testing.T) {
			f := newFixture(t, nil)

			msg := defaultReverse()
			msg.UnwindBps = tc.bps

			credited := sharesFor(1000)
			f.creditReverse(credited, big.NewInt(0))

			require.NoError(t, f.router.HandleCompose(f.endpoint, adapterAddr, guid(byte(100+i)), reverseRaw(credited, msg), nil))

			// Full share refund, no conversion attempted.
			require.Len(t, f.cap.Failed, 1)
			assert.Equal(t, events.ReasonBadUnwrapBps, f.cap.Failed[0].Reason)
			assert.Equal(t, credited, f.shares.BalanceOf(f.refund))
			assert.Zero(t, f.usdc.BalanceOf(types.AccountFromEth(userAddr)).Sign())
		})
	}
}

func TestReverseZeroSourceAsset(t *testing.T) {
	f := newFixture(t, nil)

	msg := defaultReverse()
	msg.SourceAsset = ethCommon.Address{}

	credited := sharesFor(100)
	f.creditReverse(credited, big.NewInt(0))

	require.NoError(t, f.router.HandleCompose(f.endpoint, adapterAddr, guid(22), reverseRaw(credited, msg), nil))

	require.Len(t, f.cap.Failed, 1)
	assert.Equal(t, events.ReasonUnderlyingZero, f.cap.Failed[0].Reason)
	assert.Equal(t, credited, f.shares.BalanceOf(f.refund))
}

func TestReverseConverterRejection(t *testing.T) {
	f := newFixture(t, nil)
	f.conv.FailRedeems()

	credited := sharesFor(100)
	f.creditReverse(credited, big.NewInt(0))

	require.NoError(t, f.router.HandleCompose(f.endpoint, adapterAddr, guid(23), reverseRaw(credited, defaultReverse()), nil))

	require.Len(t, f.cap.Failed, 1)
	assert.Equal(t, events.ReasonUnwrapFailed, f.cap.Failed[0].Reason)
	assert.Equal(t, credited, f.shares.BalanceOf(f.refund))
}

func TestReverseZeroOutput(t *testing.T) {
	f := newFixture(t, nil)
	f.conv.ZeroOutput()

	credited := sharesFor(100)
	f.creditReverse(credited, big.NewInt(0))

	require.NoError(t, f.router.HandleCompose(f.endpoint, adapterAddr, guid(24), reverseRaw(credited, defaultReverse()), nil))

	// The converter consumed the shares and produced nothing; there is
	// nothing left to refund, and the diagnostic records a zero amount.
	require.Len(t, f.cap.Failed, 1)
	assert.Equal(t, events.ReasonUnwrapZeroOut, f.cap.Failed[0].Reason)
	assert.Zero(t, f.cap.Failed[0].Amount.Sign())
}

func TestReverseBelowMinOutput(t *testing.T) {
	f := newFixture(t, nil)
	f.bank.Mint(usdcAddr, types.AccountFromEth(convAddr), big.NewInt(10000))

	msg := defaultReverse()
	msg.MinOutput = big.NewInt(2000) // recovered amount will be 1000

	credited := sharesFor(1000)
	f.creditReverse(credited, big.NewInt(0))

	require.NoError(t, f.router.HandleCompose(f.endpoint, adapterAddr, guid(25), reverseRaw(credited, msg), nil))

	require.Len(t, f.cap.Failed, 1)
	assert.Equal(t, events.ReasonUnderlyingBelowMin, f.cap.Failed[0].Reason)
	assert.Equal(t, big.NewInt(1000), f.usdc.BalanceOf(f.refund))
}

func TestReverseRecipientNotLocal(t *testing.T) {
	f := newFixture(t, nil)
	f.bank.Mint(usdcAddr, types.AccountFromEth(convAddr), big.NewInt(10000))

	msg := defaultReverse()
	// High bytes set: not decodable as a local account.
	msg.FinalRecipient = types.Account{0: 0xff, 31: 0x01}

	credited := sharesFor(1000)
	f.creditReverse(credited, big.NewInt(0))

	require.NoError(t, f.router.HandleCompose(f.endpoint, adapterAddr, guid(26), reverseRaw(credited, msg), nil))

	require.Len(t, f.cap.Failed, 1)
	assert.Equal(t, events.ReasonReceiverZero, f.cap.Failed[0].Reason)
	assert.Equal(t, big.NewInt(1000), f.usdc.BalanceOf(f.refund))
}

func TestReverseRecipientRejectsDelivery(t *testing.T) {
	f := newFixture(t, nil)
	f.bank.Mint(usdcAddr, types.AccountFromEth(convAddr), big.NewInt(10000))
	f.bank.BlockAccount(types.AccountFromEth(userAddr))

	credited := sharesFor(1000)
	f.creditReverse(credited, big.NewInt(0))

	require.NoError(t, f.router.HandleCompose(f.endpoint, adapterAddr, guid(27), reverseRaw(credited, defaultReverse()), nil))

	// Funds land at the refund account instead.
	require.Len(t, f.cap.Failed, 1)
	assert.Equal(t, events.ReasonDeliverFailed, f.cap.Failed[0].Reason)
	assert.Equal(t, big.NewInt(1000), f.usdc.BalanceOf(f.refund))
	assert.Zero(t, f.usdc.BalanceOf(types.AccountFromEth(userAddr)).Sign())
}

func TestReverseCrossChain(t *testing.T) {
	f := newFixture(t, nil)
	// Rebuild the route with a bridge-capable asset sharing the same ledger.
	assetTransportAddr := ethCommon.HexToAddress("0x0000000000000000000000000000000000000bbb")
	assetTransport := collab.NewLoopbackAdapter(zap.NewNop(), f.bank, assetTransportAddr, f.usdc, big.NewInt(40))
	bridged := collab.NewBridgedAsset(f.usdc, assetTransport)
	conv := collab.NewVaultConverter(f.bank, convAddr, bridged, f.shares)
	require.NoError(t, f.router.RegisterRoute(f.admin, usdcAddr, conv, f.adapter))

	f.bank.Mint(usdcAddr, types.AccountFromEth(convAddr), big.NewInt(10000))

	msg := defaultReverse()
	msg.FinalChainID = remoteChain
	msg.TransportPayload = []byte("onward")

	credited := sharesFor(1000)
	budget := big.NewInt(90)
	f.creditReverse(credited, budget)

	require.NoError(t, f.router.HandleCompose(f.endpoint, adapterAddr, guid(28), reverseRaw(credited, msg), budget))

	require.Len(t, f.cap.Unwrapped, 1)
	assert.Empty(t, f.cap.Failed)

	sent := assetTransport.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, big.NewInt(1000), sent[0].Amount)
	assert.Equal(t, remoteChain, sent[0].DstChain)
	assert.Equal(t, []byte("onward"), sent[0].Payload)

	// Budget 90, fee 40: the residual 50 is swept to the refund account.
	assert.Equal(t, big.NewInt(50), f.bank.NativeBalanceOf(f.refund))
	assert.Zero(t, f.usdc.BalanceOf(f.custody).Sign())
}

func TestReverseCrossChainFeeInsufficient(t *testing.T) {
	f := newFixture(t, nil)
	assetTransportAddr := ethCommon.HexToAddress("0x0000000000000000000000000000000000000bbb")
	assetTransport := collab.NewLoopbackAdapter(zap.NewNop(), f.bank, assetTransportAddr, f.usdc, big.NewInt(40))
	bridged := collab.NewBridgedAsset(f.usdc, assetTransport)
	conv := collab.NewVaultConverter(f.bank, convAddr, bridged, f.shares)
	require.NoError(t, f.router.RegisterRoute(f.admin, usdcAddr, conv, f.adapter))

	f.bank.Mint(usdcAddr, types.AccountFromEth(convAddr), big.NewInt(10000))

	msg := defaultReverse()
	msg.FinalChainID = remoteChain

	credited := sharesFor(1000)
	budget := big.NewInt(10) // below the asset transport's quote of 40
	f.creditReverse(credited, budget)

	require.NoError(t, f.router.HandleCompose(f.endpoint, adapterAddr, guid(29), reverseRaw(credited, msg), budget))

	require.Len(t, f.cap.Failed, 1)
	assert.Equal(t, events.ReasonFeeInsufficient, f.cap.Failed[0].Reason)
	// The recovered asset is refunded, not the shares.
	assert.Equal(t, big.NewInt(1000), f.usdc.BalanceOf(f.refund))
	assert.Empty(t, assetTransport.Sent())
}

func TestReversePlainAssetCannotDispatch(t *testing.T) {
	// A plain (non-bridgeable) source asset on a cross-chain reverse leg
	// fails at the quote and refunds the recovered amount.
	f := newFixture(t, nil)
	f.bank.Mint(usdcAddr, types.AccountFromEth(convAddr), big.NewInt(10000))

	msg := defaultReverse()
	msg.FinalChainID = remoteChain

	credited := sharesFor(1000)
	f.creditReverse(credited, big.NewInt(100))

	require.NoError(t, f.router.HandleCompose(f.endpoint, adapterAddr, guid(30), reverseRaw(credited, msg), big.NewInt(100)))

	require.Len(t, f.cap.Failed, 1)
	assert.Equal(t, events.ReasonFeeInsufficient, f.cap.Failed[0].Reason)
	assert.Equal(t, big.NewInt(1000), f.usdc.BalanceOf(f.refund))
}

func TestReverseWrappedNativePayout(t *testing.T) {
	f := newFixture(t, nil)

	// Rebuild the fixture pieces around a wrapped-native source asset.
	wnativeAddr := ethCommon.HexToAddress("0x0000000000000000000000000000000000000aaa")
	wnative := f.bank.IssueToken(wnativeAddr, 6)
	asset := collab.NewPlainAsset(wnative)
	conv := collab.NewVaultConverter(f.bank, convAddr, asset, f.shares)
	payout := collab.NewWrappedNativePayout(f.bank, payoutAddr, wnative)
	f.bank.MintNative(payout.Account(), big.NewInt(100000))

	f.router = New(zap.NewNop(), Config{
		ChainID:       localChain,
		Custody:       f.custody,
		Endpoint:      f.endpoint,
		Admin:         f.admin,
		WrappedNative: wnativeAddr,
		Payout:        payout,
		Registry:      f.reg,
		DB:            f.store,
		Native:        f.bank,
		Emitter:       f.cap,
	})
	require.NoError(t, f.router.RegisterRoute(f.admin, wnativeAddr, conv, f.adapter))

	f.bank.Mint(wnativeAddr, types.AccountFromEth(convAddr), big.NewInt(10000))

	msg := defaultReverse()
	msg.SourceAsset = wnativeAddr

	credited := sharesFor(1000)
	f.creditReverse(credited, big.NewInt(0))

	userNativeBefore := f.bank.NativeBalanceOf(types.AccountFromEth(userAddr))

	require.NoError(t, f.router.HandleCompose(f.endpoint, adapterAddr, guid(31), reverseRaw(credited, msg), nil))

	require.Len(t, f.cap.Unwrapped, 1)
	assert.Empty(t, f.cap.Failed)

	// The recipient received native currency, not the wrapped token.
	gained := new(big.Int).Sub(f.bank.NativeBalanceOf(types.AccountFromEth(userAddr)), userNativeBefore)
	assert.Equal(t, big.NewInt(1000), gained)
	assert.Zero(t, f.bank.NativeBalanceOf(f.custody).Sign())
}

func TestReverseWrappedNativePayoutFailure(t *testing.T) {
	f := newFixture(t, nil)

	wnativeAddr := ethCommon.HexToAddress("0x0000000000000000000000000000000000000aaa")
	wnative := f.bank.IssueToken(wnativeAddr, 6)
	asset := collab.NewPlainAsset(wnative)
	conv := collab.NewVaultConverter(f.bank, convAddr, asset, f.shares)
	payout := collab.NewWrappedNativePayout(f.bank, payoutAddr, wnative)
	payout.FailPayouts()

	f.router = New(zap.NewNop(), Config{
		ChainID:       localChain,
		Custody:       f.custody,
		Endpoint:      f.endpoint,
		Admin:         f.admin,
		WrappedNative: wnativeAddr,
		Payout:        payout,
		Registry:      f.reg,
		DB:            f.store,
		Native:        f.bank,
		Emitter:       f.cap,
	})
	require.NoError(t, f.router.RegisterRoute(f.admin, wnativeAddr, conv, f.adapter))

	f.bank.Mint(wnativeAddr, types.AccountFromEth(convAddr), big.NewInt(10000))

	msg := defaultReverse()
	msg.SourceAsset = wnativeAddr

	credited := sharesFor(1000)
	f.creditReverse(credited, big.NewInt(0))

	require.NoError(t, f.router.HandleCompose(f.endpoint, adapterAddr, guid(32), reverseRaw(credited, msg), nil))

	// The helper already refunded the wrapped token; the router only emits
	// the diagnostic.
	require.Len(t, f.cap.Failed, 1)
	assert.Equal(t, events.ReasonDeliverFailed, f.cap.Failed[0].Reason)
	assert.Equal(t, big.NewInt(1000), wnative.BalanceOf(f.refund))
}
