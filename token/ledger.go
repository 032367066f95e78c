// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package token implements a plaintext fungible-token ledger shared by the
// darkpool hook, the pool engine, and the lending venue. It models the
// ERC20 surface those components consume: balances, allowances, and
// metadata, keyed by token address.
package token

import (
	"errors"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

// Errors - Ledger
var (
	ErrUnknownToken          = errors.New("unknown token")
	ErrTokenExists           = errors.New("token already registered")
	ErrZeroAddress           = errors.New("zero address")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Metadata describes a registered token.
type Metadata struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// Ledger tracks balances and allowances for every registered token.
// All amounts are non-negative; balances are stored as uint256.
type Ledger struct {
	mu         sync.RWMutex
	tokens     map[common.Address]*Metadata
	balances   map[common.Address]map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]map[common.Address]*uint256.Int
}

// NewLedger creates an empty token ledger.
func NewLedger() *Ledger {
	return &Ledger{
		tokens:     make(map[common.Address]*Metadata),
		balances:   make(map[common.Address]map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]map[common.Address]*uint256.Int),
	}
}

// Register adds a token to the ledger. The zero address is reserved for
// the native currency and cannot be registered.
func (l *Ledger) Register(token common.Address, name, symbol string, decimals uint8) error {
	if token == (common.Address{}) {
		return ErrZeroAddress
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.tokens[token]; ok {
		return ErrTokenExists
	}
	l.tokens[token] = &Metadata{Name: name, Symbol: symbol, Decimals: decimals}
	l.balances[token] = make(map[common.Address]*uint256.Int)
	l.allowances[token] = make(map[common.Address]map[common.Address]*uint256.Int)
	return nil
}

// Mint credits newly created tokens to an account.
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) error {
	v, err := toU256(amount)
	if err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bals, ok := l.balances[token]
	if !ok {
		return ErrUnknownToken
	}
	bals[to] = new(uint256.Int).Add(balance(bals, to), v)
	return nil
}

// BalanceOf returns the holder's balance for a token. Unknown tokens and
// holders report zero.
func (l *Ledger) BalanceOf(token, holder common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	bals, ok := l.balances[token]
	if !ok {
		return big.NewInt(0)
	}
	return balance(bals, holder).ToBig()
}

// Transfer moves tokens between accounts.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	v, err := toU256(amount)
	if err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(token, from, to, v)
}

// Approve sets the spender's allowance over the owner's balance.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	v, err := toU256(amount)
	if err != nil {
		return err
	}
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	allow, ok := l.allowances[token]
	if !ok {
		return ErrUnknownToken
	}
	if allow[owner] == nil {
		allow[owner] = make(map[common.Address]*uint256.Int)
	}
	allow[owner][spender] = v
	return nil
}

// Allowance returns the amount the spender may still pull from the owner.
func (l *Ledger) Allowance(token, owner, spender common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	allow, ok := l.allowances[token]
	if !ok || allow[owner] == nil || allow[owner][spender] == nil {
		return big.NewInt(0)
	}
	return allow[owner][spender].ToBig()
}

// TransferFrom moves tokens on behalf of the owner, consuming the
// spender's allowance. A spender equal to the owner bypasses the
// allowance check.
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	v, err := toU256(amount)
	if err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if spender != from {
		allow, ok := l.allowances[token]
		if !ok {
			return ErrUnknownToken
		}
		remaining := uint256.NewInt(0)
		if allow[from] != nil && allow[from][spender] != nil {
			remaining = allow[from][spender]
		}
		if remaining.Lt(v) {
			return ErrInsufficientAllowance
		}
		allow[from][spender] = new(uint256.Int).Sub(remaining, v)
	}
	return l.move(token, from, to, v)
}

// Symbol returns the registered symbol for a token.
func (l *Ledger) Symbol(token common.Address) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	meta, ok := l.tokens[token]
	if !ok {
		return "", ErrUnknownToken
	}
	return meta.Symbol, nil
}

// Name returns the registered name for a token.
func (l *Ledger) Name(token common.Address) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	meta, ok := l.tokens[token]
	if !ok {
		return "", ErrUnknownToken
	}
	return meta.Name, nil
}

// Decimals returns the registered decimals for a token.
func (l *Ledger) Decimals(token common.Address) (uint8, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	meta, ok := l.tokens[token]
	if !ok {
		return 0, ErrUnknownToken
	}
	return meta.Decimals, nil
}

// move debits from and credits to. Callers hold the write lock.
func (l *Ledger) move(token, from, to common.Address, v *uint256.Int) error {
	bals, ok := l.balances[token]
	if !ok {
		return ErrUnknownToken
	}
	fromBal := balance(bals, from)
	if fromBal.Lt(v) {
		return ErrInsufficientBalance
	}
	bals[from] = new(uint256.Int).Sub(fromBal, v)
	bals[to] = new(uint256.Int).Add(balance(bals, to), v)
	return nil
}

func balance(bals map[common.Address]*uint256.Int, holder common.Address) *uint256.Int {
	if b, ok := bals[holder]; ok {
		return b
	}
	return uint256.NewInt(0)
}

func toU256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	v, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrInvalidAmount
	}
	return v, nil
}
