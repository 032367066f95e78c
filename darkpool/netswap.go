// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package darkpool

import (
	"fmt"
	"math/big"

	"github.com/luxfi/darkpool/dex"
)

// Swap request payload: poolKey(66) | zeroForOne(1) | amountIn(32).
const swapRequestLength = 66 + 1 + 32

func encodeSwapRequest(key dex.PoolKey, zeroForOne bool, amountIn *big.Int) []byte {
	data := make([]byte, swapRequestLength)
	copy(data[0:66], key.ToBytes())
	if zeroForOne {
		data[66] = 1
	}
	amountIn.FillBytes(data[67:99])
	return data
}

func decodeSwapRequest(data []byte) (dex.PoolKey, bool, *big.Int, error) {
	if len(data) != swapRequestLength {
		return dex.PoolKey{}, false, nil, fmt.Errorf("invalid swap request length %d", len(data))
	}
	key, err := dex.PoolKeyFromBytes(data[0:66])
	if err != nil {
		return dex.PoolKey{}, false, nil, err
	}
	return key, data[66] == 1, new(big.Int).SetBytes(data[67:99]), nil
}

// executeNetSwap trades the batch's unmatched residual against the AMM
// through the engine's unlock/callback protocol. The output lands in a
// transient cell written by UnlockCallback; the cell is cleared before
// each request so a stale value can never satisfy a read, and a zero
// output is fatal to the settlement.
func (h *Hook) executeNetSwap(key dex.PoolKey, netAmountIn *big.Int, tokenIn, tokenOut dex.Currency) (*big.Int, error) {
	h.netOut = nil

	zeroForOne := tokenIn == key.Currency0
	if _, err := h.engine.Unlock(h, encodeSwapRequest(key, zeroForOne, netAmountIn)); err != nil {
		return nil, err
	}

	out := h.netOut
	h.netOut = nil
	if out == nil || out.Sign() == 0 {
		return nil, ErrNoSwapOutput
	}
	return out, nil
}

// UnlockCallback implements dex.Locker. The engine invokes it
// synchronously inside executeNetSwap's unlock with the encoded trade
// request: it runs the swap as exact-input with the price limit pinned to
// the extreme for the direction, pays the engine for negative legs,
// collects positive legs, and records the output in the transient cell.
func (h *Hook) UnlockCallback(data []byte) ([]byte, error) {
	key, zeroForOne, amountIn, err := decodeSwapRequest(data)
	if err != nil {
		return nil, err
	}

	params := dex.SwapParams{
		ZeroForOne:        zeroForOne,
		AmountSpecified:   new(big.Int).Neg(amountIn),
		SqrtPriceLimitX96: extremePriceLimit(zeroForOne),
	}
	delta, err := h.engine.Swap(key, params, nil)
	if err != nil {
		return nil, err
	}

	// Reject a zero output before any funds move: there is no revert to
	// unwind a partial settlement.
	tokenOut := params.OutputCurrency(key)
	out := delta.Amount(key, tokenOut)
	if out.Sign() <= 0 {
		return nil, ErrNoSwapOutput
	}

	for _, c := range []dex.Currency{key.Currency0, key.Currency1} {
		leg := delta.Amount(key, c)
		switch {
		case leg.Sign() < 0:
			owed := new(big.Int).Neg(leg)
			if err := h.recallFromVenue(c.Address, owed); err != nil {
				return nil, err
			}
			if err := h.ledger.Approve(c.Address, h.addr, h.engine.Address(), owed); err != nil {
				return nil, err
			}
			if err := h.engine.Settle(c, h.addr, owed); err != nil {
				return nil, err
			}
		case leg.Sign() > 0:
			if err := h.engine.Take(c, h.addr, leg); err != nil {
				return nil, err
			}
		}
	}

	r := h.poolReserves(key.ID())
	if zeroForOne {
		r.Currency0Reserve.Sub(r.Currency0Reserve, amountIn)
		r.Currency1Reserve.Add(r.Currency1Reserve, out)
	} else {
		r.Currency1Reserve.Sub(r.Currency1Reserve, amountIn)
		r.Currency0Reserve.Add(r.Currency0Reserve, out)
	}

	h.netOut = new(big.Int).Set(out)
	return nil, nil
}

// extremePriceLimit pins the swap's price limit to the furthest value the
// engine accepts for a direction, disabling slippage protection at this
// layer. The relayer's batching policy manages slippage upstream.
func extremePriceLimit(zeroForOne bool) *big.Int {
	if zeroForOne {
		return new(big.Int).Add(dex.MinSqrtRatio, big.NewInt(1))
	}
	return new(big.Int).Sub(dex.MaxSqrtRatio, big.NewInt(1))
}
