// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package darkpool

import (
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/darkpool/dex"
)

// BeforeSwap implements dex.Hooks. For trades the hook did not initiate
// itself it sources the trade's input amount just-in-time from the
// lending venue and pledges it to the engine as standby credit, making
// the hook a liquidity-on-demand provider backed by an external yield
// venue.
//
// Self-initiated trades (the settlement net-swap) bypass the shuttle:
// the hook recalls its own venue funds directly inside the unlock
// callback, and shuttling there would recurse. With no venue configured
// the shuttle is inert.
//
// The per-currency cap is enforced before venue capacity, so an
// over-cap trade fails with the cap error even when the venue could
// cover it.
func (h *Hook) BeforeSwap(sender common.Address, key dex.PoolKey, params dex.SwapParams, hookData []byte) (dex.BalanceDelta, error) {
	if sender == h.addr || h.venue == nil {
		return dex.ZeroBalanceDelta(), nil
	}

	input := params.InputCurrency(key)
	required := new(big.Int).Abs(params.AmountSpecified)

	if cap, ok := h.maxSwapAmount[input.Address]; ok && required.Cmp(cap) > 0 {
		return dex.ZeroBalanceDelta(), ErrSwapAmountExceedsCap
	}
	if h.venue.AvailableBalance(input.Address).Cmp(required) < 0 {
		return dex.ZeroBalanceDelta(), ErrInsufficientLendingLiquidity
	}

	if err := h.venue.Withdraw(input.Address, required, h.addr); err != nil {
		return dex.ZeroBalanceDelta(), err
	}
	if err := h.ledger.Approve(input.Address, h.addr, h.engine.Address(), required); err != nil {
		return dex.ZeroBalanceDelta(), err
	}

	if params.ZeroForOne {
		return dex.NewBalanceDelta(required, big.NewInt(0)), nil
	}
	return dex.NewBalanceDelta(big.NewInt(0), required), nil
}

// AfterSwap implements dex.Hooks. It parks any balance the hook holds in
// either trade currency back into the lending venue, so no capital idles
// in the hook between trades. Self-initiated trades and the no-venue
// case are bypassed the same way as in BeforeSwap.
func (h *Hook) AfterSwap(sender common.Address, key dex.PoolKey, params dex.SwapParams, delta dex.BalanceDelta, hookData []byte) error {
	if sender == h.addr || h.venue == nil {
		return nil
	}

	for _, c := range []dex.Currency{key.Currency0, key.Currency1} {
		bal := h.ledger.BalanceOf(c.Address, h.addr)
		if bal.Sign() == 0 {
			continue
		}
		if err := h.venue.Supply(h.addr, c.Address, bal); err != nil {
			return err
		}
	}
	return nil
}
