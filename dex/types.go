// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dex implements a Uniswap v4-style singleton pool engine with
// flash accounting and address-encoded hook permissions. All pools live in
// one manager; trades run inside an unlock callback and every balance delta
// must net to zero (or be covered by a hook standby credit) before the
// unlock returns.
package dex

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// Engine account address, LP-aligned format:
// 0x0000000000000000000000000000000000LPNUM
const LXPoolAddress = "0x0000000000000000000000000000000000009010" // LP-9010 LXPool (singleton AMM)

// Pool fee tiers (hundredths of a basis point)
const (
	Fee001 uint24 = 100    // 0.01% - stablecoins
	Fee005 uint24 = 500    // 0.05% - stable pairs
	Fee030 uint24 = 3000   // 0.30% - standard
	Fee100 uint24 = 10000  // 1.00% - exotic pairs
	FeeMax uint24 = 100000 // 10% max fee
)

// Tick spacing for different fee tiers
const (
	TickSpacing001 int24 = 1
	TickSpacing005 int24 = 10
	TickSpacing030 int24 = 60
	TickSpacing100 int24 = 200
)

// Hook flags (bitmap for hook capabilities)
type HookFlags uint16

const (
	HookBeforeInitialize HookFlags = 1 << iota
	HookAfterInitialize
	HookBeforeAddLiquidity
	HookAfterAddLiquidity
	HookBeforeRemoveLiquidity
	HookAfterRemoveLiquidity
	HookBeforeSwap
	HookAfterSwap
	HookBeforeDonate
	HookAfterDonate
	HookBeforeFlash
	HookAfterFlash
)

// Currency represents a token (native or ERC20)
// Address(0) represents native LUX
type Currency struct {
	Address common.Address
}

// NativeCurrency represents native LUX (no wrapping needed)
var NativeCurrency = Currency{Address: common.Address{}}

// IsNative returns true if this currency is native LUX
func (c Currency) IsNative() bool {
	return c.Address == common.Address{}
}

// ToBytes serializes currency for storage
func (c Currency) ToBytes() []byte {
	return c.Address.Bytes()
}

// CurrencyFromBytes deserializes currency from storage
func CurrencyFromBytes(data []byte) Currency {
	return Currency{Address: common.BytesToAddress(data)}
}

// PoolKey uniquely identifies a pool
// Sorted by currency address (currency0 < currency1)
type PoolKey struct {
	Currency0   Currency       // Lower address token
	Currency1   Currency       // Higher address token
	Fee         uint24         // Fee in hundredths of a basis point
	TickSpacing int24          // Tick spacing for concentrated liquidity
	Hooks       common.Address // Hook contract address (zero = no hooks)
}

// ID computes the unique pool identifier
func (pk PoolKey) ID() [32]byte {
	h := blake3.New()
	h.Write(pk.Currency0.ToBytes())
	h.Write(pk.Currency1.ToBytes())

	var feeBytes [4]byte
	binary.BigEndian.PutUint32(feeBytes[:], uint32(pk.Fee))
	h.Write(feeBytes[:3]) // uint24

	var tickBytes [4]byte
	binary.BigEndian.PutUint32(tickBytes[:], uint32(pk.TickSpacing))
	h.Write(tickBytes[1:]) // int24

	h.Write(pk.Hooks.Bytes())

	var id [32]byte
	h.Digest().Read(id[:])
	return id
}

// ToBytes serializes pool key for storage
func (pk PoolKey) ToBytes() []byte {
	data := make([]byte, 20+20+3+3+20) // 66 bytes
	copy(data[0:20], pk.Currency0.ToBytes())
	copy(data[20:40], pk.Currency1.ToBytes())

	var feeBytes [4]byte
	binary.BigEndian.PutUint32(feeBytes[:], uint32(pk.Fee))
	copy(data[40:43], feeBytes[1:])

	var tickBytes [4]byte
	binary.BigEndian.PutUint32(tickBytes[:], uint32(pk.TickSpacing))
	copy(data[43:46], tickBytes[1:])

	copy(data[46:66], pk.Hooks.Bytes())
	return data
}

// PoolKeyFromBytes deserializes pool key from storage
func PoolKeyFromBytes(data []byte) (PoolKey, error) {
	if len(data) < 66 {
		return PoolKey{}, errors.New("invalid pool key data length")
	}
	pk := PoolKey{}
	pk.Currency0 = CurrencyFromBytes(data[0:20])
	pk.Currency1 = CurrencyFromBytes(data[20:40])

	var feeBytes [4]byte
	copy(feeBytes[1:], data[40:43])
	pk.Fee = uint24(binary.BigEndian.Uint32(feeBytes[:]))

	var tickBytes [4]byte
	copy(tickBytes[1:], data[43:46])
	pk.TickSpacing = int24(binary.BigEndian.Uint32(tickBytes[:]))

	pk.Hooks = common.BytesToAddress(data[46:66])
	return pk, nil
}

// BalanceDelta represents the net token changes during an unlock.
// Negative = owed to the engine (locker must settle), positive = owed to
// the locker (locker may take).
type BalanceDelta struct {
	Amount0 *big.Int // Currency0 delta (negative = locker owes engine)
	Amount1 *big.Int // Currency1 delta (negative = locker owes engine)
}

// NewBalanceDelta creates a new balance delta
func NewBalanceDelta(amount0, amount1 *big.Int) BalanceDelta {
	return BalanceDelta{
		Amount0: new(big.Int).Set(amount0),
		Amount1: new(big.Int).Set(amount1),
	}
}

// ZeroBalanceDelta returns a zero balance delta
func ZeroBalanceDelta() BalanceDelta {
	return BalanceDelta{
		Amount0: big.NewInt(0),
		Amount1: big.NewInt(0),
	}
}

// Add combines two balance deltas
func (bd BalanceDelta) Add(other BalanceDelta) BalanceDelta {
	return BalanceDelta{
		Amount0: new(big.Int).Add(bd.Amount0, other.Amount0),
		Amount1: new(big.Int).Add(bd.Amount1, other.Amount1),
	}
}

// Sub subtracts another balance delta
func (bd BalanceDelta) Sub(other BalanceDelta) BalanceDelta {
	return BalanceDelta{
		Amount0: new(big.Int).Sub(bd.Amount0, other.Amount0),
		Amount1: new(big.Int).Sub(bd.Amount1, other.Amount1),
	}
}

// Negate inverts the balance delta signs
func (bd BalanceDelta) Negate() BalanceDelta {
	return BalanceDelta{
		Amount0: new(big.Int).Neg(bd.Amount0),
		Amount1: new(big.Int).Neg(bd.Amount1),
	}
}

// IsZero returns true if both amounts are zero
func (bd BalanceDelta) IsZero() bool {
	return bd.Amount0.Sign() == 0 && bd.Amount1.Sign() == 0
}

// Amount returns the delta leg for the given currency of a pool key.
func (bd BalanceDelta) Amount(key PoolKey, currency Currency) *big.Int {
	if currency == key.Currency0 {
		return bd.Amount0
	}
	return bd.Amount1
}

// Pool represents the state of a liquidity pool
type Pool struct {
	SqrtPriceX96   *big.Int // sqrt(price) * 2^96 (Q64.96)
	Tick           int24    // Current tick
	Liquidity      *big.Int // Total liquidity (L)
	FeeGrowth0X128 *big.Int // Fee growth for currency0 (Q128.128)
	FeeGrowth1X128 *big.Int // Fee growth for currency1 (Q128.128)
	ProtocolFees0  *big.Int // Accumulated protocol fees currency0
	ProtocolFees1  *big.Int // Accumulated protocol fees currency1
}

// IsInitialized returns true if the pool has been initialized
func (p *Pool) IsInitialized() bool {
	return p.SqrtPriceX96 != nil && p.SqrtPriceX96.Sign() > 0
}

// NewPool creates a new uninitialized pool
func NewPool() *Pool {
	return &Pool{
		SqrtPriceX96:   big.NewInt(0),
		Tick:           0,
		Liquidity:      big.NewInt(0),
		FeeGrowth0X128: big.NewInt(0),
		FeeGrowth1X128: big.NewInt(0),
		ProtocolFees0:  big.NewInt(0),
		ProtocolFees1:  big.NewInt(0),
	}
}

// Position represents a liquidity position
type Position struct {
	Owner     common.Address
	TickLower int24
	TickUpper int24
	Liquidity *big.Int
}

// PositionKey computes the unique position identifier
func PositionKey(owner common.Address, tickLower, tickUpper int24, salt [32]byte) [32]byte {
	h := blake3.New()
	h.Write(owner.Bytes())

	var tickBytes [8]byte
	binary.BigEndian.PutUint32(tickBytes[:4], uint32(tickLower))
	binary.BigEndian.PutUint32(tickBytes[4:], uint32(tickUpper))
	h.Write(tickBytes[:])
	h.Write(salt[:])

	var key [32]byte
	h.Digest().Read(key[:])
	return key
}

// SwapParams contains parameters for a swap
type SwapParams struct {
	ZeroForOne        bool     // true = swap currency0 for currency1
	AmountSpecified   *big.Int // Negative = exact input, Positive = exact output
	SqrtPriceLimitX96 *big.Int // Price limit (sqrt(price) * 2^96)
}

// ExactInput returns true when the params specify the input amount.
func (sp SwapParams) ExactInput() bool {
	return sp.AmountSpecified != nil && sp.AmountSpecified.Sign() < 0
}

// InputCurrency returns the currency the trade consumes.
func (sp SwapParams) InputCurrency(key PoolKey) Currency {
	if sp.ZeroForOne {
		return key.Currency0
	}
	return key.Currency1
}

// OutputCurrency returns the currency the trade produces.
func (sp SwapParams) OutputCurrency(key PoolKey) Currency {
	if sp.ZeroForOne {
		return key.Currency1
	}
	return key.Currency0
}

// ModifyLiquidityParams contains parameters for adding/removing liquidity
type ModifyLiquidityParams struct {
	TickLower      int24
	TickUpper      int24
	LiquidityDelta *big.Int // Positive = add, Negative = remove
	Salt           [32]byte // Position salt for uniqueness
}

// Errors - Core DEX
var (
	ErrPoolNotInitialized     = errors.New("pool not initialized")
	ErrPoolAlreadyInitialized = errors.New("pool already initialized")
	ErrInvalidTickRange       = errors.New("invalid tick range")
	ErrInsufficientLiquidity  = errors.New("insufficient liquidity")
	ErrPriceLimitReached      = errors.New("price limit reached")
	ErrInvalidFee             = errors.New("invalid fee")
	ErrCurrencyNotSorted      = errors.New("currencies not sorted")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInvalidSwapAmount      = errors.New("swap amount must be nonzero")
	ErrInvalidHookResponse    = errors.New("invalid hook response")
	ErrSettlementFailed       = errors.New("settlement failed")
	ErrNonZeroDelta           = errors.New("non-zero balance delta after settlement")
	ErrInvalidSqrtPrice       = errors.New("invalid sqrt price")
	ErrTickOutOfRange         = errors.New("tick out of range")
	ErrReentrant              = errors.New("reentrancy detected")
	ErrNoLiquidity            = errors.New("no liquidity in pool")
)

// Constants for math
var (
	Q96  = new(big.Int).Lsh(big.NewInt(1), 96)
	Q128 = new(big.Int).Lsh(big.NewInt(1), 128)

	MinTick int24 = -887272
	MaxTick int24 = 887272

	MinSqrtRatio    = new(big.Int).SetUint64(4295128739)
	MaxSqrtRatio, _ = new(big.Int).SetString("1461446703485210103287273052203988822378723970342", 10)
)

// uint24 type alias for fees
type uint24 = uint32

// int24 type alias for ticks
type int24 = int32
