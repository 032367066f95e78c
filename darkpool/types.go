// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package darkpool

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"

	"github.com/luxfi/darkpool/dex"
)

// Intent direction encoding. Values 2 and 3 are reserved.
const (
	DirectionZeroForOne uint8 = 0 // sell currency0 for currency1
	DirectionOneForZero uint8 = 1 // sell currency1 for currency0
)

// Errors - validation
var (
	ErrZeroAmount             = errors.New("amount must be positive")
	ErrZeroAddress            = errors.New("zero address")
	ErrCurrencyNotInPool      = errors.New("currency not part of pool")
	ErrHookMismatch           = errors.New("pool key names a different hook")
	ErrEncryptedTokenNotFound = errors.New("encrypted token not found")
)

// Errors - authorization
var (
	ErrNotOwner   = errors.New("caller is not the owner")
	ErrNotRelayer = errors.New("caller is not the relayer")
)

// Errors - batch state machine
var (
	ErrNoActiveBatch         = errors.New("no active batch for pool")
	ErrBatchNotFound         = errors.New("batch not found")
	ErrBatchAlreadyFinalized = errors.New("batch already finalized")
	ErrEmptyBatch            = errors.New("batch has no intents")
	ErrBatchNotFinalized     = errors.New("batch not finalized")
	ErrBatchAlreadySettled   = errors.New("batch already settled")
	ErrIntentNotFound        = errors.New("intent not found")
)

// Errors - shuttle and settlement
var (
	ErrInsufficientLendingLiquidity = errors.New("insufficient lending venue liquidity")
	ErrSwapAmountExceedsCap         = errors.New("swap amount exceeds configured cap")
	ErrNoSwapOutput                 = errors.New("net swap produced no output")
	ErrReentrantCall                = errors.New("reentrant call")
)

// PoolReserves tracks the plaintext backing behind a pool's encrypted
// balances. Deposits add to a side, withdrawals subtract, and the
// settlement net trade moves value between the two sides.
type PoolReserves struct {
	Currency0Reserve *big.Int
	Currency1Reserve *big.Int
	TotalDeposits    *big.Int
	TotalWithdrawals *big.Int
}

func newPoolReserves() *PoolReserves {
	return &PoolReserves{
		Currency0Reserve: big.NewInt(0),
		Currency1Reserve: big.NewInt(0),
		TotalDeposits:    big.NewInt(0),
		TotalWithdrawals: big.NewInt(0),
	}
}

// Intent is one encrypted trading intention. Amount and direction stay
// hidden on-chain; the relayer is granted decrypt access at submission so
// it can match opposing intents off-chain. Immutable except Processed,
// which flips exactly once at settlement.
type Intent struct {
	ID         [32]byte
	Owner      common.Address
	PoolKey    dex.PoolKey
	Amount     common.Hash // euint64 handle
	Direction  common.Hash // euint8 handle, see Direction constants
	Deadline   uint64      // 0 = no expiry; recorded but not enforced
	SubmitTime uint64
	BatchID    [32]byte
	Processed  bool
}

// Batch groups the intents submitted to one pool between finalizations.
type Batch struct {
	ID           [32]byte
	PoolID       [32]byte
	Counter      uint64 // per-pool sequence number, part of the id derivation
	IntentIDs    [][32]byte
	TotalIntents uint64
	Finalized    bool
	Settled      bool
	FinalizedAt  uint64
}

// InternalTransfer is one relayer-matched confidential move executed at
// settlement without touching the AMM. The hook must already hold access
// to the amount handle.
type InternalTransfer struct {
	From   common.Address
	To     common.Address
	Token  common.Address // encrypted token address
	Amount common.Hash    // euint64 handle
}

// UserShare is a pro-rata claim on the settlement net trade output. Each
// share receives floor(amountOut * Numerator / Denominator).
type UserShare struct {
	User        common.Address
	Numerator   uint64
	Denominator uint64
}

// deriveIntentID computes the identifier for a submitted intent.
func deriveIntentID(owner common.Address, submitTime uint64, poolID [32]byte, amount common.Hash) [32]byte {
	h := blake3.New()
	h.Write(owner.Bytes())

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], submitTime)
	h.Write(ts[:])

	h.Write(poolID[:])
	h.Write(amount.Bytes())

	var id [32]byte
	h.Digest().Read(id[:])
	return id
}

// deriveBatchID computes the identifier for the seq-th batch of a pool.
func deriveBatchID(poolID [32]byte, seq uint64) [32]byte {
	h := blake3.New()
	h.Write(poolID[:])

	var n [8]byte
	binary.BigEndian.PutUint64(n[:], seq)
	h.Write(n[:])

	var id [32]byte
	h.Digest().Read(id[:])
	return id
}
