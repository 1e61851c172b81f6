package collab

import (
	"fmt"
	"math/big"
	"sync"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/omnihop/router/pkg/bank"
	"github.com/omnihop/router/pkg/types"
)

// SentPacket records one accepted dispatch, for inspection in tests and on
// the devnet status surface.
type SentPacket struct {
	ReceiptID string
	DstChain  types.ChainID
	Recipient types.Account
	Amount    *big.Int
	MinOut    *big.Int
	Options   []byte
	Payload   []byte
}

// LoopbackAdapter is the in-memory transport adapter used by devnet mode and
// tests. It escrows the sent amount and the quoted fee in its own account and
// records the packet instead of dispatching anywhere.
type LoopbackAdapter struct {
	logger *zap.Logger
	bank   *bank.InMemoryBank
	addr   ethCommon.Address
	escrow types.Account
	token  bank.Token
	fee    *big.Int

	mu        sync.Mutex
	sent      []SentPacket
	failSends bool
}

func NewLoopbackAdapter(logger *zap.Logger, b *bank.InMemoryBank, addr ethCommon.Address, token bank.Token, fee *big.Int) *LoopbackAdapter {
	return &LoopbackAdapter{
		logger: logger.With(zap.String("component", "loopback_adapter")),
		bank:   b,
		addr:   addr,
		escrow: types.AccountFromEth(addr),
		token:  token,
		fee:    new(big.Int).Set(fee),
	}
}

func (a *LoopbackAdapter) Addr() ethCommon.Address { return a.addr }
func (a *LoopbackAdapter) Token() bank.Token       { return a.token }

// FailSends makes every subsequent Send return an error.
func (a *LoopbackAdapter) FailSends() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failSends = true
}

// Sent returns a copy of the packets accepted so far.
func (a *LoopbackAdapter) Sent() []SentPacket {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]SentPacket, len(a.sent))
	copy(out, a.sent)
	return out
}

func (a *LoopbackAdapter) QuoteSend(dst types.ChainID, to types.Account, amount, minOut *big.Int, options []byte) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("cannot quote zero amount")
	}
	if dst == 0 {
		return nil, fmt.Errorf("cannot quote unset destination chain")
	}
	return new(big.Int).Set(a.fee), nil
}

func (a *LoopbackAdapter) Send(from types.Account, dst types.ChainID, to types.Account, amount, minOut, fee *big.Int, options, payload []byte) error {
	a.mu.Lock()
	failSends := a.failSends
	a.mu.Unlock()

	if failSends {
		return fmt.Errorf("transport rejected send")
	}
	if fee == nil || fee.Cmp(a.fee) < 0 {
		return fmt.Errorf("supplied fee below quote")
	}

	// Collect the fee first so a failed escrow leaves nothing half-moved.
	if err := a.bank.PayNative(from, a.escrow, fee); err != nil {
		return fmt.Errorf("failed to collect fee: %w", err)
	}
	if err := a.token.Transfer(from, a.escrow, amount); err != nil {
		// Return the fee; the send must be all-or-nothing.
		if rerr := a.bank.PayNative(a.escrow, from, fee); rerr != nil {
			panic(fmt.Sprintf("failed to return collected fee: %v", rerr))
		}
		return fmt.Errorf("failed to escrow amount: %w", err)
	}

	receipt := uuid.New().String()

	if minOut == nil {
		minOut = big.NewInt(0)
	}

	a.mu.Lock()
	a.sent = append(a.sent, SentPacket{
		ReceiptID: receipt,
		DstChain:  dst,
		Recipient: to,
		Amount:    new(big.Int).Set(amount),
		MinOut:    new(big.Int).Set(minOut),
		Options:   options,
		Payload:   payload,
	})
	a.mu.Unlock()

	a.logger.Debug("packet accepted",
		zap.String("receipt", receipt),
		zap.Stringer("dstChain", dst),
		zap.Stringer("recipient", to),
		zap.String("amount", amount.String()),
	)
	return nil
}
