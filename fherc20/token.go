// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fherc20 implements a confidential fungible token. Balances are
// handles into the encrypted-value coprocessor rather than integers; the
// ledger contract computes on them homomorphically and never learns the
// amounts it moves, except where a burn must fail closed.
//
// Every instance is bound at construction to one privacy hook address and
// one underlying plaintext currency. Only the hook may mint, burn, or
// initiate transfers.
package fherc20

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"

	"github.com/luxfi/darkpool/fhe"
)

// Errors - confidential token
var (
	ErrNotHook             = errors.New("caller is not the bound hook")
	ErrNotOperator         = errors.New("hook is not an operator for holder")
	ErrInsufficientBalance = errors.New("insufficient confidential balance")
)

// Token is a per-(pool, currency) confidential balance ledger. The token
// acts as its own coprocessor principal: balance handles are computed and
// owned by the token address, and each holder is granted read access to
// their own balance after every mutation.
type Token struct {
	mu sync.RWMutex

	co         *fhe.Coprocessor
	addr       common.Address
	hook       common.Address
	pool       [32]byte
	underlying common.Address
	name       string
	symbol     string

	balances map[common.Address]common.Hash
	// holder -> operator -> expiry (unix seconds, inclusive)
	operators map[common.Address]map[common.Address]uint64

	// Reusable encrypted zero for transfer clamping, created on first use.
	zero    common.Hash
	hasZero bool

	now func() uint64
}

// DeriveAddress computes the deterministic token address for a pool/currency
// pair. Two hooks deploying for the same pair land on distinct addresses
// because the pool identifier commits to the hook.
func DeriveAddress(pool [32]byte, underlying common.Address) common.Address {
	h := blake3.New()
	h.Write(pool[:])
	h.Write(underlying.Bytes())
	h.Write([]byte("fherc20"))
	return common.BytesToAddress(h.Sum(nil)[12:32])
}

// New binds a confidential token to its pool, underlying currency, and hook.
func New(co *fhe.Coprocessor, pool [32]byte, underlying, hook common.Address, name, symbol string) *Token {
	return &Token{
		co:         co,
		addr:       DeriveAddress(pool, underlying),
		hook:       hook,
		pool:       pool,
		underlying: underlying,
		name:       name,
		symbol:     symbol,
		balances:   make(map[common.Address]common.Hash),
		operators:  make(map[common.Address]map[common.Address]uint64),
		now:        func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetNowFunc overrides the clock used for operator expiry.
func (t *Token) SetNowFunc(now func() uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Address returns the token's deterministic contract address.
func (t *Token) Address() common.Address { return t.addr }

// Hook returns the bound privacy hook address.
func (t *Token) Hook() common.Address { return t.hook }

// Underlying returns the plaintext currency this token wraps.
func (t *Token) Underlying() common.Address { return t.underlying }

// PoolID returns the pool the token is bound to.
func (t *Token) PoolID() [32]byte { return t.pool }

func (t *Token) Name() string   { return t.name }
func (t *Token) Symbol() string { return t.symbol }

// BalanceOf returns the holder's balance handle. The second return is false
// for holders that have never been minted to or received a transfer.
func (t *Token) BalanceOf(holder common.Address) (common.Hash, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.balances[holder]
	return h, ok
}

// SetOperator lets a holder authorize an operator to move their balance
// until expiry (inclusive). Expiry zero revokes.
func (t *Token) SetOperator(holder, operator common.Address, expiry uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ops, ok := t.operators[holder]
	if !ok {
		ops = make(map[common.Address]uint64)
		t.operators[holder] = ops
	}
	if expiry == 0 {
		delete(ops, operator)
		return
	}
	ops[operator] = expiry
}

// IsOperator reports whether operator may currently move holder's balance.
func (t *Token) IsOperator(holder, operator common.Address) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.isOperator(holder, operator)
}

func (t *Token) isOperator(holder, operator common.Address) bool {
	expiry, ok := t.operators[holder][operator]
	return ok && expiry >= t.now()
}

// Mint credits `to` with the encrypted amount. The caller must be the bound
// hook and must have granted this token access to the amount handle.
func (t *Token) Mint(caller, to common.Address, amount common.Hash) error {
	if caller != t.hook {
		return ErrNotHook
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	bal, err := t.balance(to)
	if err != nil {
		return err
	}
	newBal, err := t.co.Add(t.addr, bal, amount)
	if err != nil {
		return err
	}
	return t.setBalance(to, newBal)
}

// Burn debits `from` by the encrypted amount. Unlike Transfer, a burn fails
// closed: the token decrypts both operands under its own access and rejects
// the call when the balance cannot cover the amount, so a burn can never
// silently destroy less than requested.
func (t *Token) Burn(caller, from common.Address, amount common.Hash) error {
	if caller != t.hook {
		return ErrNotHook
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	bal, err := t.balance(from)
	if err != nil {
		return err
	}
	balV, err := t.co.DecryptU64(t.addr, bal)
	if err != nil {
		return err
	}
	amtV, err := t.co.DecryptU64(t.addr, amount)
	if err != nil {
		return err
	}
	if amtV > balV {
		return ErrInsufficientBalance
	}

	newBal, err := t.co.Sub(t.addr, bal, amount)
	if err != nil {
		return err
	}
	return t.setBalance(from, newBal)
}

// Transfer moves the encrypted amount from `from` to `to`, clamping the
// moved value to the sender's balance: moved = amount <= balance ? amount : 0.
// The clamp keeps the operation data-independent, so a transfer inside a
// settlement batch reveals nothing about whether it was covered.
//
// The caller must be the bound hook, and the hook must be an unexpired
// operator for `from` unless `from` is the hook itself. Returns the handle
// of the moved amount.
func (t *Token) Transfer(caller, from, to common.Address, amount common.Hash) (common.Hash, error) {
	if caller != t.hook {
		return common.Hash{}, ErrNotHook
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if from != t.hook && !t.isOperator(from, caller) {
		return common.Hash{}, ErrNotOperator
	}

	fromBal, err := t.balance(from)
	if err != nil {
		return common.Hash{}, err
	}
	toBal, err := t.balance(to)
	if err != nil {
		return common.Hash{}, err
	}

	covered, err := t.co.Le(t.addr, amount, fromBal)
	if err != nil {
		return common.Hash{}, err
	}
	zero, err := t.zeroHandle()
	if err != nil {
		return common.Hash{}, err
	}
	moved, err := t.co.Select(t.addr, covered, amount, zero)
	if err != nil {
		return common.Hash{}, err
	}

	newFrom, err := t.co.Sub(t.addr, fromBal, moved)
	if err != nil {
		return common.Hash{}, err
	}
	newTo, err := t.co.Add(t.addr, toBal, moved)
	if err != nil {
		return common.Hash{}, err
	}
	if err := t.setBalance(from, newFrom); err != nil {
		return common.Hash{}, err
	}
	if err := t.setBalance(to, newTo); err != nil {
		return common.Hash{}, err
	}
	return moved, nil
}

// balance returns the holder's handle, lazily initializing an encrypted
// zero. Callers hold t.mu.
func (t *Token) balance(holder common.Address) (common.Hash, error) {
	if h, ok := t.balances[holder]; ok {
		return h, nil
	}
	h, err := t.co.TrivialEncrypt(t.addr, big.NewInt(0), fhe.TypeEuint64)
	if err != nil {
		return common.Hash{}, err
	}
	t.balances[holder] = h
	return h, nil
}

func (t *Token) setBalance(holder common.Address, h common.Hash) error {
	if err := t.co.Allow(t.addr, h, holder); err != nil {
		return err
	}
	t.balances[holder] = h
	return nil
}

func (t *Token) zeroHandle() (common.Hash, error) {
	if t.hasZero {
		return t.zero, nil
	}
	h, err := t.co.TrivialEncrypt(t.addr, big.NewInt(0), fhe.TypeEuint64)
	if err != nil {
		return common.Hash{}, err
	}
	t.zero, t.hasZero = h, true
	return h, nil
}
