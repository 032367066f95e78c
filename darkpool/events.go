// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package darkpool

import (
	"math/big"

	"github.com/luxfi/geth/common"
)

// Event type identifiers.
const (
	TypeDeposited       = "darkpool.deposited"
	TypeWithdrawn       = "darkpool.withdrawn"
	TypeIntentSubmitted = "darkpool.intent_submitted"
	TypeBatchFinalized  = "darkpool.batch_finalized"
	TypePriceConsumed   = "darkpool.price_consumed"
	TypeBatchSettled    = "darkpool.batch_settled"
)

// Event is implemented by every signal the hook raises.
type Event interface {
	EventType() string
}

// Emitter receives the events raised during hook operations.
type Emitter interface {
	Emit(evt Event)
}

// NoopEmitter drops all events. It is the default sink.
type NoopEmitter struct{}

// Emit implements Emitter.
func (NoopEmitter) Emit(Event) {}

// Deposited is raised when plaintext funds enter a pool's custody.
type Deposited struct {
	Pool     [32]byte
	Currency common.Address
	Caller   common.Address
	Amount   *big.Int
}

// EventType returns the event identifier.
func (e *Deposited) EventType() string { return TypeDeposited }

// Withdrawn is raised when plaintext funds leave a pool's custody.
type Withdrawn struct {
	Pool      [32]byte
	Currency  common.Address
	Caller    common.Address
	Recipient common.Address
	Amount    *big.Int
}

// EventType returns the event identifier.
func (e *Withdrawn) EventType() string { return TypeWithdrawn }

// IntentSubmitted is raised when an intent joins a batch.
type IntentSubmitted struct {
	Pool   [32]byte
	Batch  [32]byte
	Intent [32]byte
	Owner  common.Address
}

// EventType returns the event identifier.
func (e *IntentSubmitted) EventType() string { return TypeIntentSubmitted }

// BatchFinalized is raised when a pool's active batch closes.
type BatchFinalized struct {
	Pool         [32]byte
	Batch        [32]byte
	TotalIntents uint64
}

// EventType returns the event identifier.
func (e *BatchFinalized) EventType() string { return TypeBatchFinalized }

// PriceConsumed is raised when settlement pays for and reads an oracle
// price ahead of the net trade.
type PriceConsumed struct {
	Batch       [32]byte
	Price       int64
	Expo        int32
	PublishTime uint64
}

// EventType returns the event identifier.
func (e *PriceConsumed) EventType() string { return TypePriceConsumed }

// BatchSettled summarizes a completed settlement.
type BatchSettled struct {
	Batch             [32]byte
	InternalTransfers int
	NetAmountIn       *big.Int
	AmountOut         *big.Int
}

// EventType returns the event identifier.
func (e *BatchSettled) EventType() string { return TypeBatchSettled }
