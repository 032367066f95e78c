// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package darkpool

import (
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/darkpool/dex"
	"github.com/luxfi/darkpool/fhe"
	"github.com/luxfi/darkpool/oracle"
)

// SettleParams carries the relayer's settlement plan for one batch.
//
// InternalTransfers move matched volume confidentially between holders of
// the pool's encrypted tokens. NetAmountIn is the unmatched residual; when
// positive it is traded TokenIn for TokenOut against the AMM and the
// output is minted into OutputToken pro rata across UserShares.
//
// PriceUpdate holds raw signed oracle updates. Empty means the oracle is
// skipped entirely; otherwise OraclePayment must cover the update fee.
type SettleParams struct {
	BatchID           [32]byte
	InternalTransfers []InternalTransfer
	NetAmountIn       *big.Int
	TokenIn           dex.Currency
	TokenOut          dex.Currency
	OutputToken       common.Address
	UserShares        []UserShare
	PriceUpdate       [][]byte
	OraclePayment     *big.Int
}

// SettleBatch executes a finalized batch. Restricted to the relayer.
//
// Internal transfers always run before the net trade. A fully-matched
// batch (NetAmountIn zero) touches neither the AMM nor the oracle. The
// settled flag flips exactly once: a second call on the same batch fails
// regardless of arguments.
func (h *Hook) SettleBatch(caller common.Address, params SettleParams) error {
	if err := h.enter(); err != nil {
		return err
	}
	defer h.exit()

	if caller != h.relayer {
		return ErrNotRelayer
	}

	batch, ok := h.batches[params.BatchID]
	if !ok {
		return ErrBatchNotFound
	}
	if !batch.Finalized {
		return ErrBatchNotFinalized
	}
	if batch.Settled {
		return ErrBatchAlreadySettled
	}

	// All intents in a batch share one pool; the first carries the key.
	first, ok := h.intents[batch.IntentIDs[0]]
	if !ok {
		return ErrIntentNotFound
	}
	key := first.PoolKey

	netIn := params.NetAmountIn
	if netIn == nil {
		netIn = big.NewInt(0)
	}
	if netIn.Sign() < 0 {
		return ErrZeroAmount
	}
	if netIn.Sign() > 0 {
		if params.TokenIn == params.TokenOut {
			return ErrCurrencyNotInPool
		}
		if params.TokenIn != key.Currency0 && params.TokenIn != key.Currency1 {
			return ErrCurrencyNotInPool
		}
		if params.TokenOut != key.Currency0 && params.TokenOut != key.Currency1 {
			return ErrCurrencyNotInPool
		}
	}
	for _, t := range params.InternalTransfers {
		if _, ok := h.tokensByAddr[t.Token]; !ok {
			return ErrEncryptedTokenNotFound
		}
	}

	// Matched volume moves confidentially, never touching the AMM.
	for _, t := range params.InternalTransfers {
		tok := h.tokensByAddr[t.Token]
		if err := h.co.Allow(h.addr, t.Amount, tok.Address()); err != nil {
			return err
		}
		if _, err := tok.Transfer(h.addr, t.From, t.To, t.Amount); err != nil {
			return err
		}
	}

	amountOut := big.NewInt(0)
	if netIn.Sign() > 0 {
		if _, err := h.consumePrice(caller, params.BatchID, params.PriceUpdate, params.OraclePayment); err != nil {
			return err
		}

		out, err := h.executeNetSwap(key, netIn, params.TokenIn, params.TokenOut)
		if err != nil {
			return err
		}
		amountOut = out

		if h.strategy != nil {
			if err := h.strategy.OnNetSwap(key, new(big.Int).Set(netIn)); err != nil {
				return err
			}
		}

		if err := h.distribute(key, params.OutputToken, amountOut, params.UserShares); err != nil {
			return err
		}
	}

	batch.Settled = true
	for _, id := range batch.IntentIDs {
		if intent, ok := h.intents[id]; ok {
			intent.Processed = true
		}
	}

	if err := h.archive.putSettlement(SettlementRecord{
		BatchID:           params.BatchID,
		PoolID:            batch.PoolID,
		InternalTransfers: uint32(len(params.InternalTransfers)),
		NetAmountIn:       netIn,
		AmountOut:         amountOut,
		SettledAt:         h.now(),
	}); err != nil {
		return err
	}

	h.emitter.Emit(&BatchSettled{
		Batch:             params.BatchID,
		InternalTransfers: len(params.InternalTransfers),
		NetAmountIn:       new(big.Int).Set(netIn),
		AmountOut:         new(big.Int).Set(amountOut),
	})
	return nil
}

// consumePrice pays for and applies a signed oracle update, then reads
// the configured feed within the staleness bound. Empty update bytes skip
// the oracle entirely and return a zero price.
//
// The full payment is pulled from the payer; only the exact fee is
// forwarded to the oracle. Overpayment stays with the hook and is not
// refunded.
func (h *Hook) consumePrice(payer common.Address, batchID [32]byte, updates [][]byte, payment *big.Int) (oracle.Price, error) {
	if len(updates) == 0 {
		return oracle.Price{}, nil
	}

	fee := h.px.UpdateFee(updates)
	if payment == nil || payment.Cmp(fee) < 0 {
		return oracle.Price{}, oracle.ErrInsufficientFee
	}
	if err := h.ledger.Transfer(h.px.FeeToken(), payer, h.addr, payment); err != nil {
		return oracle.Price{}, err
	}
	if err := h.px.ApplyUpdate(h.addr, updates, fee); err != nil {
		return oracle.Price{}, err
	}

	price, err := h.px.PriceNoOlderThan(h.feedID, h.maxPriceAge)
	if err != nil {
		return oracle.Price{}, err
	}

	h.emitter.Emit(&PriceConsumed{
		Batch:       batchID,
		Price:       price.Price,
		Expo:        price.Expo,
		PublishTime: price.PublishTime,
	})
	return price, nil
}

// distribute mints each share's floor cut of the net trade output into
// the output encrypted token. Dust below the floor stays undistributed.
func (h *Hook) distribute(key dex.PoolKey, outputToken common.Address, amountOut *big.Int, shares []UserShare) error {
	if len(shares) == 0 {
		return nil
	}
	tok, ok := h.tokensByAddr[outputToken]
	if !ok {
		return ErrEncryptedTokenNotFound
	}
	if tok.PoolID() != key.ID() {
		return ErrCurrencyNotInPool
	}

	for _, s := range shares {
		if s.Denominator == 0 {
			return ErrZeroAmount
		}
		cut := new(big.Int).Mul(amountOut, new(big.Int).SetUint64(s.Numerator))
		cut.Div(cut, new(big.Int).SetUint64(s.Denominator))
		if cut.Sign() == 0 {
			continue
		}

		handle, err := h.co.TrivialEncrypt(h.addr, cut, fhe.TypeEuint64)
		if err != nil {
			return err
		}
		if err := h.co.Allow(h.addr, handle, tok.Address()); err != nil {
			return err
		}
		if err := tok.Mint(h.addr, s.User, handle); err != nil {
			return err
		}
	}
	return nil
}
