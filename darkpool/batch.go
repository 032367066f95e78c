// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package darkpool

// FinalizeBatch closes a pool's active batch, freezing its intent set for
// settlement. Anyone may call it; the relayer decides when by watching
// the chain. A batch stays Finalized indefinitely until the relayer
// settles it.
func (h *Hook) FinalizeBatch(poolID [32]byte) error {
	batchID, ok := h.activeBatch[poolID]
	if !ok {
		return ErrNoActiveBatch
	}
	batch := h.batches[batchID]
	if batch == nil {
		return ErrNoActiveBatch
	}
	if batch.Finalized {
		return ErrBatchAlreadyFinalized
	}
	if batch.TotalIntents == 0 {
		return ErrEmptyBatch
	}

	batch.Finalized = true
	batch.FinalizedAt = h.now()
	delete(h.activeBatch, poolID)

	h.emitter.Emit(&BatchFinalized{
		Pool:         poolID,
		Batch:        batchID,
		TotalIntents: batch.TotalIntents,
	})
	return nil
}
