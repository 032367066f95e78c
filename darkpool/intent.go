// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package darkpool

import (
	"github.com/luxfi/geth/common"

	"github.com/luxfi/darkpool/dex"
	"github.com/luxfi/darkpool/fhe"
)

// SubmitIntent records an encrypted trading intention and pulls the
// encrypted amount from the caller as collateral. Amount and direction
// are supplied as externally-encrypted ciphertexts with input proofs;
// both handles are granted to the relayer for off-chain matching.
//
// Direction uses the encoding in the Direction constants. The deadline is
// recorded on the intent but not enforced at finalization or settlement.
func (h *Hook) SubmitIntent(caller common.Address, key dex.PoolKey, inputCurrency dex.Currency, amountCt, amountProof, directionCt, directionProof []byte, deadline uint64) ([32]byte, error) {
	if err := h.enter(); err != nil {
		return [32]byte{}, err
	}
	defer h.exit()

	if key.Hooks != h.addr {
		return [32]byte{}, ErrHookMismatch
	}
	if inputCurrency != key.Currency0 && inputCurrency != key.Currency1 {
		return [32]byte{}, ErrCurrencyNotInPool
	}

	amount, err := h.co.Verify(caller, amountCt, amountProof, fhe.TypeEuint64)
	if err != nil {
		return [32]byte{}, err
	}
	direction, err := h.co.Verify(caller, directionCt, directionProof, fhe.TypeEuint8)
	if err != nil {
		return [32]byte{}, err
	}
	if err := h.co.Allow(caller, amount, h.addr); err != nil {
		return [32]byte{}, err
	}
	if err := h.co.Allow(caller, direction, h.addr); err != nil {
		return [32]byte{}, err
	}

	poolID := key.ID()
	tok, err := h.lookupEncryptedToken(poolID, inputCurrency)
	if err != nil {
		return [32]byte{}, err
	}
	if err := h.co.Allow(caller, amount, tok.Address()); err != nil {
		return [32]byte{}, err
	}

	// Collateral pull. An uncovered amount moves zero instead of
	// failing, so the pull reveals nothing about the caller's balance.
	tok.SetOperator(caller, h.addr, operatorNoExpiry)
	if _, err := tok.Transfer(h.addr, caller, h.addr, amount); err != nil {
		return [32]byte{}, err
	}

	submitTime := h.now()
	intentID := deriveIntentID(caller, submitTime, poolID, amount)

	batch := h.openBatch(poolID)
	batch.IntentIDs = append(batch.IntentIDs, intentID)
	batch.TotalIntents++

	h.intents[intentID] = &Intent{
		ID:         intentID,
		Owner:      caller,
		PoolKey:    key,
		Amount:     amount,
		Direction:  direction,
		Deadline:   deadline,
		SubmitTime: submitTime,
		BatchID:    batch.ID,
	}

	// Matching happens off-chain; the relayer needs to see both fields.
	if err := h.co.Allow(h.addr, amount, h.relayer); err != nil {
		return [32]byte{}, err
	}
	if err := h.co.Allow(h.addr, direction, h.relayer); err != nil {
		return [32]byte{}, err
	}

	h.emitter.Emit(&IntentSubmitted{
		Pool:   poolID,
		Batch:  batch.ID,
		Intent: intentID,
		Owner:  caller,
	})
	return intentID, nil
}

// openBatch returns the pool's active batch, lazily opening a new one
// when none is open or the previous one was finalized.
func (h *Hook) openBatch(poolID [32]byte) *Batch {
	if id, ok := h.activeBatch[poolID]; ok {
		if b := h.batches[id]; b != nil && !b.Finalized {
			return b
		}
	}

	h.batchSeq[poolID]++
	seq := h.batchSeq[poolID]
	id := deriveBatchID(poolID, seq)
	b := &Batch{
		ID:      id,
		PoolID:  poolID,
		Counter: seq,
	}
	h.batches[id] = b
	h.activeBatch[poolID] = id
	return b
}
