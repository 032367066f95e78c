// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package lending implements a pooled supply venue over the plaintext token
// ledger. Suppliers park idle funds in per-asset reserves and pull them back
// on demand; the venue tracks aggregate reserves only, and ownership
// accounting stays with the supplier.
package lending

import (
	"errors"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/darkpool/token"
)

// Venue account address (LP-9050 LXLend)
const LXLendAddress = "0x0000000000000000000000000000000000009050"

var lendingPoolAddr = common.HexToAddress(LXLendAddress)

// Errors - Lending
var (
	ErrReserveNotFound       = errors.New("reserve not found")
	ErrReserveAlreadyExists  = errors.New("reserve already exists")
	ErrReserveFrozen         = errors.New("reserve frozen")
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrSupplyCapExceeded     = errors.New("supply cap exceeded")
	ErrInsufficientLiquidity = errors.New("insufficient reserve liquidity")
)

// Venue is the supply-side surface a yield source exposes. The darkpool
// liquidity shuttle deposits idle balances through Supply and pulls trade
// inventory back through Withdraw.
type Venue interface {
	// Supply moves amount of asset from the supplier into the venue.
	Supply(from common.Address, asset common.Address, amount *big.Int) error

	// Withdraw moves amount of asset from the venue to the recipient.
	Withdraw(asset common.Address, amount *big.Int, to common.Address) error

	// AvailableBalance returns the venue's withdrawable holdings of asset.
	// Unknown assets report zero.
	AvailableBalance(asset common.Address) *big.Int
}

// Reserve tracks the venue's holdings of one asset
type Reserve struct {
	Asset common.Address

	Available     *big.Int // withdrawable cash on hand
	TotalSupplied *big.Int // current supplied principal
	SupplyCap     *big.Int // maximum suppliable (0 = no cap)

	IsActive bool
	IsFrozen bool // if frozen, no new supply
}

// Pool is a ledger-backed Venue with per-asset reserves.
type Pool struct {
	mu sync.RWMutex

	addr   common.Address
	ledger *token.Ledger

	reserves map[common.Address]*Reserve
}

var _ Venue = (*Pool)(nil)

// NewPool creates a lending pool over a plaintext token ledger
func NewPool(ledger *token.Ledger) *Pool {
	return &Pool{
		addr:     lendingPoolAddr,
		ledger:   ledger,
		reserves: make(map[common.Address]*Reserve),
	}
}

// Address returns the venue's ledger account
func (p *Pool) Address() common.Address {
	return p.addr
}

// =========================================================================
// Admin Functions
// =========================================================================

// InitializeReserve sets up a new reserve for an asset
func (p *Pool) InitializeReserve(asset common.Address, supplyCap *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.reserves[asset]; exists {
		return ErrReserveAlreadyExists
	}

	cap := big.NewInt(0)
	if supplyCap != nil {
		cap = new(big.Int).Set(supplyCap)
	}

	p.reserves[asset] = &Reserve{
		Asset:         asset,
		Available:     big.NewInt(0),
		TotalSupplied: big.NewInt(0),
		SupplyCap:     cap,
		IsActive:      true,
	}
	return nil
}

// SetReserveActive enables/disables a reserve
func (p *Pool) SetReserveActive(asset common.Address, active bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	reserve, exists := p.reserves[asset]
	if !exists {
		return ErrReserveNotFound
	}
	reserve.IsActive = active
	return nil
}

// SetReserveFrozen freezes/unfreezes new supply into a reserve
func (p *Pool) SetReserveFrozen(asset common.Address, frozen bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	reserve, exists := p.reserves[asset]
	if !exists {
		return ErrReserveNotFound
	}
	reserve.IsFrozen = frozen
	return nil
}

// SetSupplyCap sets the maximum suppliable for an asset (0 = no cap)
func (p *Pool) SetSupplyCap(asset common.Address, cap *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	reserve, exists := p.reserves[asset]
	if !exists {
		return ErrReserveNotFound
	}
	reserve.SupplyCap = new(big.Int).Set(cap)
	return nil
}

// =========================================================================
// Core Operations
// =========================================================================

// Supply adds assets to the venue
func (p *Pool) Supply(from common.Address, asset common.Address, amount *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	reserve, exists := p.reserves[asset]
	if !exists {
		return ErrReserveNotFound
	}
	if !reserve.IsActive || reserve.IsFrozen {
		return ErrReserveFrozen
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	// Check supply cap
	if reserve.SupplyCap.Sign() > 0 {
		newTotal := new(big.Int).Add(reserve.TotalSupplied, amount)
		if newTotal.Cmp(reserve.SupplyCap) > 0 {
			return ErrSupplyCapExceeded
		}
	}

	if err := p.ledger.Transfer(asset, from, p.addr, amount); err != nil {
		return err
	}

	reserve.Available = new(big.Int).Add(reserve.Available, amount)
	reserve.TotalSupplied = new(big.Int).Add(reserve.TotalSupplied, amount)
	return nil
}

// Withdraw removes assets from the venue
func (p *Pool) Withdraw(asset common.Address, amount *big.Int, to common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	reserve, exists := p.reserves[asset]
	if !exists {
		return ErrReserveNotFound
	}
	if !reserve.IsActive {
		return ErrReserveFrozen
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if amount.Cmp(reserve.Available) > 0 {
		return ErrInsufficientLiquidity
	}

	if err := p.ledger.Transfer(asset, p.addr, to, amount); err != nil {
		return err
	}

	reserve.Available = new(big.Int).Sub(reserve.Available, amount)
	reserve.TotalSupplied = new(big.Int).Sub(reserve.TotalSupplied, amount)
	return nil
}

// =========================================================================
// View Functions
// =========================================================================

// AvailableBalance returns the withdrawable holdings of an asset
func (p *Pool) AvailableBalance(asset common.Address) *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	reserve, exists := p.reserves[asset]
	if !exists {
		return big.NewInt(0)
	}
	return new(big.Int).Set(reserve.Available)
}

// GetReserve returns reserve information
func (p *Pool) GetReserve(asset common.Address) *Reserve {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.reserves[asset]
}
