package bank

import (
	"fmt"
	"math/big"
	"sync"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/omnihop/router/pkg/types"
)

// InMemoryBank is the devnet and test implementation of the token and native
// ledgers. All mutation goes through one mutex; balances never go negative.
type InMemoryBank struct {
	mu       sync.Mutex
	balances map[ethCommon.Address]map[types.Account]*big.Int
	native   map[types.Account]*uint256.Int

	// Accounts for which any token transfer is rejected. Lets tests exercise
	// recipient-rejects-delivery and refund-itself-fails paths.
	blockedAccounts map[types.Account]bool
}

func NewInMemoryBank() *InMemoryBank {
	return &InMemoryBank{
		balances:        make(map[ethCommon.Address]map[types.Account]*big.Int),
		native:          make(map[types.Account]*uint256.Int),
		blockedAccounts: make(map[types.Account]bool),
	}
}

// IssueToken returns a Token handle backed by this bank's ledger.
func (b *InMemoryBank) IssueToken(addr ethCommon.Address, decimals uint8) Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.balances[addr]; !ok {
		b.balances[addr] = make(map[types.Account]*big.Int)
	}
	return &memToken{bank: b, addr: addr, decimals: decimals}
}

// Mint credits an account out of thin air. Devnet/test only.
func (b *InMemoryBank) Mint(token ethCommon.Address, account types.Account, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(token, account, amount)
}

// Burn debits an account. Devnet/test only; panics on insufficient balance.
func (b *InMemoryBank) Burn(token ethCommon.Address, account types.Account, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.debit(token, account, amount); err != nil {
		panic(fmt.Sprintf("burn exceeds balance: %v", err))
	}
}

// MintNative credits native fee currency to an account.
func (b *InMemoryBank) MintNative(account types.Account, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.native[account]
	if !ok {
		cur = uint256.NewInt(0)
		b.native[account] = cur
	}
	add, overflow := uint256.FromBig(amount)
	if overflow {
		panic("native mint overflows uint256")
	}
	cur.Add(cur, add)
}

// BlockAccount makes every subsequent token transfer to the account fail.
func (b *InMemoryBank) BlockAccount(account types.Account) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blockedAccounts[account] = true
}

func (b *InMemoryBank) NativeBalanceOf(account types.Account) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.native[account]
	if !ok {
		return big.NewInt(0)
	}
	return cur.ToBig()
}

func (b *InMemoryBank) PayNative(from, to types.Account, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pay, overflow := uint256.FromBig(amount)
	if overflow {
		return fmt.Errorf("native amount overflows uint256")
	}

	cur, ok := b.native[from]
	if !ok || cur.Lt(pay) {
		return fmt.Errorf("insufficient native balance")
	}
	cur.Sub(cur, pay)

	dst, ok := b.native[to]
	if !ok {
		dst = uint256.NewInt(0)
		b.native[to] = dst
	}
	dst.Add(dst, pay)
	return nil
}

// credit and debit assume the caller holds b.mu.
func (b *InMemoryBank) credit(token ethCommon.Address, account types.Account, amount *big.Int) {
	ledger, ok := b.balances[token]
	if !ok {
		ledger = make(map[types.Account]*big.Int)
		b.balances[token] = ledger
	}
	cur, ok := ledger[account]
	if !ok {
		cur = big.NewInt(0)
		ledger[account] = cur
	}
	cur.Add(cur, amount)
}

func (b *InMemoryBank) debit(token ethCommon.Address, account types.Account, amount *big.Int) error {
	ledger, ok := b.balances[token]
	if !ok {
		return fmt.Errorf("unknown token %s", token)
	}
	cur, ok := ledger[account]
	if !ok || cur.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance of %s", token)
	}
	cur.Sub(cur, amount)
	return nil
}

type memToken struct {
	bank     *InMemoryBank
	addr     ethCommon.Address
	decimals uint8
}

func (t *memToken) Addr() ethCommon.Address {
	return t.addr
}

func (t *memToken) Decimals() uint8 {
	return t.decimals
}

func (t *memToken) BalanceOf(account types.Account) *big.Int {
	t.bank.mu.Lock()
	defer t.bank.mu.Unlock()
	cur, ok := t.bank.balances[t.addr][account]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(cur)
}

func (t *memToken) Transfer(from, to types.Account, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid transfer amount")
	}

	t.bank.mu.Lock()
	defer t.bank.mu.Unlock()

	if t.bank.blockedAccounts[to] {
		return fmt.Errorf("transfer rejected by %s", to)
	}
	if err := t.bank.debit(t.addr, from, amount); err != nil {
		return err
	}
	t.bank.credit(t.addr, to, amount)
	return nil
}
