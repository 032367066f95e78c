// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package darkpool

import (
	"errors"
	"math/big"
	"testing"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/darkpool/dex"
	"github.com/luxfi/darkpool/oracle"
)

// readyBatch submits one intent and finalizes its batch, returning the
// batch id ready for settlement.
func (f *fixture) readyBatch(user common.Address, key dex.PoolKey, currency dex.Currency, amount uint64, dir uint8) [32]byte {
	f.t.Helper()
	f.submitIntent(user, key, currency, amount, dir)
	id, ok := f.hook.ActiveBatchID(key.ID())
	if !ok {
		f.t.Fatal("no active batch")
	}
	if err := f.hook.FinalizeBatch(key.ID()); err != nil {
		f.t.Fatalf("finalize: %v", err)
	}
	return id
}

type strategyFunc func(key dex.PoolKey, netAmountIn *big.Int) error

func (fn strategyFunc) OnNetSwap(key dex.PoolKey, netAmountIn *big.Int) error {
	return fn(key, netAmountIn)
}

func TestSettleBatchAuth(t *testing.T) {
	f := newFixture(t)

	if err := f.hook.SettleBatch(alice, SettleParams{}); !errors.Is(err, ErrNotRelayer) {
		t.Fatalf("got %v, want ErrNotRelayer", err)
	}
}

func TestSettleBatchStateMachine(t *testing.T) {
	f := newFixture(t)
	f.deposit(alice, f.key, f.c0, 1000)

	t.Run("unknown batch", func(t *testing.T) {
		err := f.hook.SettleBatch(relayer, SettleParams{BatchID: [32]byte{0xcc}})
		if !errors.Is(err, ErrBatchNotFound) {
			t.Fatalf("got %v, want ErrBatchNotFound", err)
		}
	})

	f.submitIntent(alice, f.key, f.c0, 100, DirectionZeroForOne)
	openID, _ := f.hook.ActiveBatchID(f.key.ID())

	t.Run("not finalized", func(t *testing.T) {
		err := f.hook.SettleBatch(relayer, SettleParams{BatchID: openID})
		if !errors.Is(err, ErrBatchNotFinalized) {
			t.Fatalf("got %v, want ErrBatchNotFinalized", err)
		}
	})

	if err := f.hook.FinalizeBatch(f.key.ID()); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := f.hook.SettleBatch(relayer, SettleParams{BatchID: openID}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	t.Run("already settled", func(t *testing.T) {
		// Different arguments must not matter once the flag flipped.
		err := f.hook.SettleBatch(relayer, SettleParams{
			BatchID:     openID,
			NetAmountIn: big.NewInt(50),
			TokenIn:     f.c0,
			TokenOut:    f.c1,
		})
		if !errors.Is(err, ErrBatchAlreadySettled) {
			t.Fatalf("got %v, want ErrBatchAlreadySettled", err)
		}
	})
}

// A fully matched batch settles through confidential transfers alone:
// no AMM trade, no oracle update, no plaintext movement.
func TestSettleFullyMatchedBatch(t *testing.T) {
	f := newFixture(t)
	f.deposit(alice, f.key, f.c0, 1000)
	f.deposit(bob, f.key, f.c1, 1000)

	f.submitIntent(alice, f.key, f.c0, 100, DirectionZeroForOne)
	f.submitIntent(bob, f.key, f.c1, 100, DirectionOneForZero)
	batchID, _ := f.hook.ActiveBatchID(f.key.ID())
	if err := f.hook.FinalizeBatch(f.key.ID()); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	rec := &recordingEmitter{}
	f.hook.SetEmitter(rec)

	tok0 := f.encTok(f.key, f.c0)
	tok1 := f.encTok(f.key, f.c1)
	err := f.hook.SettleBatch(relayer, SettleParams{
		BatchID: batchID,
		InternalTransfers: []InternalTransfer{
			{From: f.hook.Address(), To: bob, Token: tok0.Address(), Amount: f.relayerAmount(100)},
			{From: f.hook.Address(), To: alice, Token: tok1.Address(), Amount: f.relayerAmount(100)},
		},
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	// Matched volume swapped hands confidentially.
	if got := f.encBalance(tok0, alice); got != 900 {
		t.Fatalf("alice eTK0 = %d, want 900", got)
	}
	if got := f.encBalance(tok1, alice); got != 100 {
		t.Fatalf("alice eTK1 = %d, want 100", got)
	}
	if got := f.encBalance(tok0, bob); got != 100 {
		t.Fatalf("bob eTK0 = %d, want 100", got)
	}
	if got := f.encBalance(tok1, bob); got != 900 {
		t.Fatalf("bob eTK1 = %d, want 900", got)
	}
	if got := f.encBalance(tok0, f.hook.Address()); got != 0 {
		t.Fatalf("hook eTK0 = %d, want 0", got)
	}
	if got := f.encBalance(tok1, f.hook.Address()); got != 0 {
		t.Fatalf("hook eTK1 = %d, want 0", got)
	}

	// Flags flipped.
	batch, err := f.hook.GetBatch(batchID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if !batch.Settled {
		t.Fatal("batch not settled")
	}
	for _, id := range batch.IntentIDs {
		intent, err := f.hook.GetIntent(id)
		if err != nil {
			t.Fatalf("get intent: %v", err)
		}
		if !intent.Processed {
			t.Fatalf("intent %x not processed", id)
		}
	}

	// Neither the AMM nor the oracle were touched.
	pool, err := f.engine.GetPool(f.key)
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if pool.ProtocolFees0.Sign() != 0 || pool.ProtocolFees1.Sign() != 0 {
		t.Fatal("AMM traded during a fully matched batch")
	}
	if _, err := f.px.LatestPrice(testFeed); !errors.Is(err, oracle.ErrFeedNotFound) {
		t.Fatalf("oracle feed touched: %v", err)
	}
	for _, evt := range rec.events {
		if _, ok := evt.(*PriceConsumed); ok {
			t.Fatal("price consumed during a fully matched batch")
		}
	}

	// Reserves unchanged: no plaintext moved.
	r, _ := f.hook.Reserves(f.key.ID())
	if r.Currency0Reserve.Cmp(big.NewInt(1000)) != 0 || r.Currency1Reserve.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("reserves = %s/%s, want 1000/1000", r.Currency0Reserve, r.Currency1Reserve)
	}

	// Settlement summary archived and emitted.
	record, err := f.hook.SettlementRecord(batchID)
	if err != nil {
		t.Fatalf("settlement record: %v", err)
	}
	if record.InternalTransfers != 2 || record.NetAmountIn.Sign() != 0 || record.AmountOut.Sign() != 0 {
		t.Fatalf("record = %+v", record)
	}
	if record.SettledAt != testNow || record.PoolID != f.key.ID() {
		t.Fatalf("record = %+v", record)
	}

	last, ok := rec.events[len(rec.events)-1].(*BatchSettled)
	if !ok || last.Batch != batchID || last.InternalTransfers != 2 {
		t.Fatalf("settled event = %+v", rec.events[len(rec.events)-1])
	}
}

// A partially matched batch: matched volume moves internally, then the
// residual trades against the AMM under a fresh oracle price and the
// output is minted to the partially filled side.
func TestSettleNetResidual(t *testing.T) {
	f := newFixture(t)
	f.deposit(alice, f.key, f.c0, 1000)
	f.deposit(bob, f.key, f.c1, 100)

	f.submitIntent(alice, f.key, f.c0, 500, DirectionZeroForOne)
	f.submitIntent(bob, f.key, f.c1, 100, DirectionOneForZero)
	batchID, _ := f.hook.ActiveBatchID(f.key.ID())
	if err := f.hook.FinalizeBatch(f.key.ID()); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	rec := &recordingEmitter{}
	f.hook.SetEmitter(rec)

	tok0 := f.encTok(f.key, f.c0)
	tok1 := f.encTok(f.key, f.c1)
	err := f.hook.SettleBatch(relayer, SettleParams{
		BatchID: batchID,
		InternalTransfers: []InternalTransfer{
			{From: f.hook.Address(), To: bob, Token: tok0.Address(), Amount: f.relayerAmount(100)},
			{From: f.hook.Address(), To: alice, Token: tok1.Address(), Amount: f.relayerAmount(100)},
		},
		NetAmountIn:   big.NewInt(400),
		TokenIn:       f.c0,
		TokenOut:      f.c1,
		OutputToken:   tok1.Address(),
		UserShares:    []UserShare{{User: alice, Numerator: 1, Denominator: 1}},
		PriceUpdate:   [][]byte{f.signedUpdate(5_000_000_000, testNow-60)},
		OraclePayment: big.NewInt(10),
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	// 400 in against 100000 liquidity yields 398 out.
	if got := f.encBalance(tok1, alice); got != 498 {
		t.Fatalf("alice eTK1 = %d, want 498", got)
	}
	if got := f.encBalance(tok0, alice); got != 500 {
		t.Fatalf("alice eTK0 = %d, want 500", got)
	}

	// Reserves moved between the two sides by the trade legs, and the
	// hook's plaintext custody tracks them exactly.
	r, _ := f.hook.Reserves(f.key.ID())
	if r.Currency0Reserve.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("currency0 reserve = %s, want 600", r.Currency0Reserve)
	}
	if r.Currency1Reserve.Cmp(big.NewInt(498)) != 0 {
		t.Fatalf("currency1 reserve = %s, want 498", r.Currency1Reserve)
	}
	if got := f.ledger.BalanceOf(tkn0, f.hook.Address()); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("hook tkn0 = %s, want 600", got)
	}
	if got := f.ledger.BalanceOf(tkn1, f.hook.Address()); got.Cmp(big.NewInt(498)) != 0 {
		t.Fatalf("hook tkn1 = %s, want 498", got)
	}

	// The oracle got exactly its fee and holds the fresh price.
	if got := f.ledger.BalanceOf(tkn0, f.px.Address()); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("oracle fee balance = %s, want 10", got)
	}
	price, err := f.px.LatestPrice(testFeed)
	if err != nil {
		t.Fatalf("latest price: %v", err)
	}
	if price.Price != 5_000_000_000 || price.PublishTime != testNow-60 {
		t.Fatalf("price = %+v", price)
	}

	var consumed *PriceConsumed
	for _, evt := range rec.events {
		if e, ok := evt.(*PriceConsumed); ok {
			consumed = e
		}
	}
	if consumed == nil || consumed.Price != 5_000_000_000 || consumed.Expo != -8 || consumed.PublishTime != testNow-60 {
		t.Fatalf("price event = %+v", consumed)
	}

	record, err := f.hook.SettlementRecord(batchID)
	if err != nil {
		t.Fatalf("settlement record: %v", err)
	}
	if record.NetAmountIn.Cmp(big.NewInt(400)) != 0 || record.AmountOut.Cmp(big.NewInt(398)) != 0 {
		t.Fatalf("record = %+v", record)
	}
}

// Distribution floors each share; dust below the combined floors stays
// unminted rather than being assigned to any party.
func TestSettleProRataDistribution(t *testing.T) {
	f := newFixture(t)

	// A small pool makes the output exact: 200 in against 200 liquidity
	// yields exactly 100 out.
	key := f.newPool(dex.Fee100, 200)
	f.deposit(alice, key, f.c0, 300)
	f.deposit(trader, key, f.c1, 10)

	batchID := f.readyBatch(alice, key, f.c0, 200, DirectionZeroForOne)

	tok1 := f.encTok(key, f.c1)
	err := f.hook.SettleBatch(relayer, SettleParams{
		BatchID:     batchID,
		NetAmountIn: big.NewInt(200),
		TokenIn:     f.c0,
		TokenOut:    f.c1,
		OutputToken: tok1.Address(),
		UserShares: []UserShare{
			{User: alice, Numerator: 3, Denominator: 10},
			{User: bob, Numerator: 7, Denominator: 10},
		},
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	// floor(100*3/10) = 30, floor(100*7/10) = 70.
	if got := f.encBalance(tok1, alice); got != 30 {
		t.Fatalf("alice share = %d, want 30", got)
	}
	if got := f.encBalance(tok1, bob); got != 70 {
		t.Fatalf("bob share = %d, want 70", got)
	}

	r, _ := f.hook.Reserves(key.ID())
	if r.Currency0Reserve.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("currency0 reserve = %s, want 100", r.Currency0Reserve)
	}
	if r.Currency1Reserve.Cmp(big.NewInt(110)) != 0 {
		t.Fatalf("currency1 reserve = %s, want 110", r.Currency1Reserve)
	}
}

func TestSettleDistributionDust(t *testing.T) {
	f := newFixture(t)

	key := f.newPool(dex.Fee100, 200)
	f.deposit(alice, key, f.c0, 300)
	f.deposit(trader, key, f.c1, 10)

	batchID := f.readyBatch(alice, key, f.c0, 200, DirectionZeroForOne)

	tok1 := f.encTok(key, f.c1)
	err := f.hook.SettleBatch(relayer, SettleParams{
		BatchID:     batchID,
		NetAmountIn: big.NewInt(200),
		TokenIn:     f.c0,
		TokenOut:    f.c1,
		OutputToken: tok1.Address(),
		UserShares: []UserShare{
			{User: alice, Numerator: 1, Denominator: 3},
			{User: bob, Numerator: 1, Denominator: 3},
			{User: trader, Numerator: 1, Denominator: 3},
		},
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	// floor(100/3) = 33 each; the remaining 1 is never minted.
	if got := f.encBalance(tok1, alice); got != 33 {
		t.Fatalf("alice share = %d, want 33", got)
	}
	if got := f.encBalance(tok1, bob); got != 33 {
		t.Fatalf("bob share = %d, want 33", got)
	}
	if got := f.encBalance(tok1, trader); got != 10+33 {
		t.Fatalf("trader share = %d, want 43", got)
	}
	if got := f.encBalance(tok1, f.hook.Address()); got != 0 {
		t.Fatalf("hook share = %d, want 0", got)
	}
}

func TestSettleOracleGate(t *testing.T) {
	netParams := func(batchID [32]byte, outputToken common.Address, shares []UserShare) SettleParams {
		return SettleParams{
			BatchID:     batchID,
			NetAmountIn: big.NewInt(100),
			TokenIn:     dex.Currency{Address: tkn0},
			TokenOut:    dex.Currency{Address: tkn1},
			OutputToken: outputToken,
			UserShares:  shares,
		}
	}

	t.Run("empty update skips oracle", func(t *testing.T) {
		f := newFixture(t)
		f.deposit(alice, f.key, f.c0, 1000)
		f.deposit(bob, f.key, f.c1, 10)
		batchID := f.readyBatch(alice, f.key, f.c0, 100, DirectionZeroForOne)

		tok1 := f.encTok(f.key, f.c1)
		params := netParams(batchID, tok1.Address(), []UserShare{{User: alice, Numerator: 1, Denominator: 1}})
		if err := f.hook.SettleBatch(relayer, params); err != nil {
			t.Fatalf("settle: %v", err)
		}
		if _, err := f.px.LatestPrice(testFeed); !errors.Is(err, oracle.ErrFeedNotFound) {
			t.Fatalf("oracle feed touched: %v", err)
		}
	})

	t.Run("insufficient payment", func(t *testing.T) {
		f := newFixture(t)
		f.deposit(alice, f.key, f.c0, 1000)
		batchID := f.readyBatch(alice, f.key, f.c0, 100, DirectionZeroForOne)

		params := netParams(batchID, common.Address{}, nil)
		params.PriceUpdate = [][]byte{f.signedUpdate(5_000_000_000, testNow-60)}

		// Nil payment.
		if err := f.hook.SettleBatch(relayer, params); !errors.Is(err, oracle.ErrInsufficientFee) {
			t.Fatalf("got %v, want ErrInsufficientFee", err)
		}
		// Short payment.
		params.OraclePayment = big.NewInt(5)
		if err := f.hook.SettleBatch(relayer, params); !errors.Is(err, oracle.ErrInsufficientFee) {
			t.Fatalf("got %v, want ErrInsufficientFee", err)
		}

		batch, _ := f.hook.GetBatch(batchID)
		if batch.Settled {
			t.Fatal("batch settled despite oracle failure")
		}
		// Nothing was pulled from the relayer on the failed attempts.
		if got := f.ledger.BalanceOf(tkn0, relayer); got.Cmp(big.NewInt(10_000_000)) != 0 {
			t.Fatalf("relayer balance = %s, want 10000000", got)
		}
	})

	t.Run("stale price", func(t *testing.T) {
		f := newFixture(t)
		f.deposit(alice, f.key, f.c0, 1000)
		batchID := f.readyBatch(alice, f.key, f.c0, 100, DirectionZeroForOne)

		params := netParams(batchID, common.Address{}, nil)
		params.PriceUpdate = [][]byte{f.signedUpdate(5_000_000_000, testNow-601)}
		params.OraclePayment = big.NewInt(10)

		if err := f.hook.SettleBatch(relayer, params); !errors.Is(err, oracle.ErrPriceStale) {
			t.Fatalf("got %v, want ErrPriceStale", err)
		}
		batch, _ := f.hook.GetBatch(batchID)
		if batch.Settled {
			t.Fatal("batch settled despite stale price")
		}
	})

	t.Run("age exactly at bound", func(t *testing.T) {
		f := newFixture(t)
		f.deposit(alice, f.key, f.c0, 1000)
		f.deposit(bob, f.key, f.c1, 10)
		batchID := f.readyBatch(alice, f.key, f.c0, 100, DirectionZeroForOne)

		tok1 := f.encTok(f.key, f.c1)
		params := netParams(batchID, tok1.Address(), []UserShare{{User: alice, Numerator: 1, Denominator: 1}})
		params.PriceUpdate = [][]byte{f.signedUpdate(5_000_000_000, testNow-DefaultMaxPriceAge)}
		params.OraclePayment = big.NewInt(10)

		if err := f.hook.SettleBatch(relayer, params); err != nil {
			t.Fatalf("settle at staleness bound: %v", err)
		}
	})

	t.Run("unsigned update rejected", func(t *testing.T) {
		f := newFixture(t)
		f.deposit(alice, f.key, f.c0, 1000)
		batchID := f.readyBatch(alice, f.key, f.c0, 100, DirectionZeroForOne)

		raw := f.signedUpdate(5_000_000_000, testNow-60)
		raw[len(raw)-1] = 29 // invalid recovery id

		params := netParams(batchID, common.Address{}, nil)
		params.PriceUpdate = [][]byte{raw}
		params.OraclePayment = big.NewInt(10)

		if err := f.hook.SettleBatch(relayer, params); !errors.Is(err, oracle.ErrInvalidSignature) {
			t.Fatalf("got %v, want ErrInvalidSignature", err)
		}
	})

	t.Run("overpayment stays with hook", func(t *testing.T) {
		f := newFixture(t)
		f.deposit(alice, f.key, f.c0, 1000)
		f.deposit(bob, f.key, f.c1, 10)
		batchID := f.readyBatch(alice, f.key, f.c0, 100, DirectionZeroForOne)

		tok1 := f.encTok(f.key, f.c1)
		params := netParams(batchID, tok1.Address(), []UserShare{{User: alice, Numerator: 1, Denominator: 1}})
		params.PriceUpdate = [][]byte{f.signedUpdate(5_000_000_000, testNow-60)}
		params.OraclePayment = big.NewInt(25)

		if err := f.hook.SettleBatch(relayer, params); err != nil {
			t.Fatalf("settle: %v", err)
		}
		if got := f.ledger.BalanceOf(tkn0, f.px.Address()); got.Cmp(big.NewInt(10)) != 0 {
			t.Fatalf("oracle got %s, want exactly the 10 fee", got)
		}
		if got := f.ledger.BalanceOf(tkn0, relayer); got.Cmp(big.NewInt(9_999_975)) != 0 {
			t.Fatalf("relayer balance = %s, want 9999975", got)
		}
		// Hook custody: 1000 deposit - 100 net swap + 15 excess fee.
		if got := f.ledger.BalanceOf(tkn0, f.hook.Address()); got.Cmp(big.NewInt(915)) != 0 {
			t.Fatalf("hook balance = %s, want 915", got)
		}
	})
}

// A net trade too small to produce output aborts the settlement before
// any funds move.
func TestSettleNoSwapOutput(t *testing.T) {
	f := newFixture(t)

	key := f.newPool(dex.Fee100, 2)
	f.deposit(alice, key, f.c0, 10)

	batchID := f.readyBatch(alice, key, f.c0, 1, DirectionZeroForOne)

	err := f.hook.SettleBatch(relayer, SettleParams{
		BatchID:     batchID,
		NetAmountIn: big.NewInt(1),
		TokenIn:     f.c0,
		TokenOut:    f.c1,
	})
	if !errors.Is(err, ErrNoSwapOutput) {
		t.Fatalf("got %v, want ErrNoSwapOutput", err)
	}

	batch, _ := f.hook.GetBatch(batchID)
	if batch.Settled {
		t.Fatal("batch settled despite zero output")
	}
	r, _ := f.hook.Reserves(key.ID())
	if r.Currency0Reserve.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("currency0 reserve = %s, want 10", r.Currency0Reserve)
	}
	if got := f.ledger.BalanceOf(tkn0, f.hook.Address()); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("hook balance = %s, want 10", got)
	}
}

func TestSettleStrategyCallback(t *testing.T) {
	f := newFixture(t)
	f.deposit(alice, f.key, f.c0, 1000)
	f.deposit(bob, f.key, f.c1, 10)

	var gotKey dex.PoolKey
	var gotNet *big.Int
	calls := 0
	err := f.hook.SetRebalanceStrategy(owner, strategyFunc(func(key dex.PoolKey, netAmountIn *big.Int) error {
		gotKey, gotNet = key, netAmountIn
		calls++
		return nil
	}))
	if err != nil {
		t.Fatalf("set strategy: %v", err)
	}

	batchID := f.readyBatch(alice, f.key, f.c0, 400, DirectionZeroForOne)
	tok1 := f.encTok(f.key, f.c1)
	settleErr := f.hook.SettleBatch(relayer, SettleParams{
		BatchID:     batchID,
		NetAmountIn: big.NewInt(400),
		TokenIn:     f.c0,
		TokenOut:    f.c1,
		OutputToken: tok1.Address(),
		UserShares:  []UserShare{{User: alice, Numerator: 1, Denominator: 1}},
	})
	if settleErr != nil {
		t.Fatalf("settle: %v", settleErr)
	}

	if calls != 1 {
		t.Fatalf("strategy called %d times, want 1", calls)
	}
	if gotKey.ID() != f.key.ID() {
		t.Fatal("strategy got wrong pool key")
	}
	if gotNet.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("strategy net = %s, want 400", gotNet)
	}
}

func TestSettleStrategyFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.deposit(alice, f.key, f.c0, 1000)

	boom := errors.New("rebalance refused")
	if err := f.hook.SetRebalanceStrategy(owner, strategyFunc(func(dex.PoolKey, *big.Int) error {
		return boom
	})); err != nil {
		t.Fatalf("set strategy: %v", err)
	}

	batchID := f.readyBatch(alice, f.key, f.c0, 400, DirectionZeroForOne)
	err := f.hook.SettleBatch(relayer, SettleParams{
		BatchID:     batchID,
		NetAmountIn: big.NewInt(400),
		TokenIn:     f.c0,
		TokenOut:    f.c1,
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want strategy error", err)
	}
	batch, _ := f.hook.GetBatch(batchID)
	if batch.Settled {
		t.Fatal("batch settled despite strategy failure")
	}
}

// A strategy that calls back into a guarded entry point hits the
// reentrancy latch held for the duration of SettleBatch.
func TestSettleReentrancyGuard(t *testing.T) {
	f := newFixture(t)
	f.deposit(alice, f.key, f.c0, 1000)

	if err := f.hook.SetRebalanceStrategy(owner, strategyFunc(func(key dex.PoolKey, _ *big.Int) error {
		return f.hook.Deposit(relayer, key, dex.Currency{Address: tkn0}, big.NewInt(1))
	})); err != nil {
		t.Fatalf("set strategy: %v", err)
	}

	batchID := f.readyBatch(alice, f.key, f.c0, 400, DirectionZeroForOne)
	err := f.hook.SettleBatch(relayer, SettleParams{
		BatchID:     batchID,
		NetAmountIn: big.NewInt(400),
		TokenIn:     f.c0,
		TokenOut:    f.c1,
	})
	if !errors.Is(err, ErrReentrantCall) {
		t.Fatalf("got %v, want ErrReentrantCall", err)
	}
}

func TestSettleInternalTransferUnknownToken(t *testing.T) {
	f := newFixture(t)
	f.deposit(alice, f.key, f.c0, 1000)

	batchID := f.readyBatch(alice, f.key, f.c0, 100, DirectionZeroForOne)
	err := f.hook.SettleBatch(relayer, SettleParams{
		BatchID: batchID,
		InternalTransfers: []InternalTransfer{
			{From: f.hook.Address(), To: bob, Token: tkn2, Amount: f.relayerAmount(100)},
		},
	})
	if !errors.Is(err, ErrEncryptedTokenNotFound) {
		t.Fatalf("got %v, want ErrEncryptedTokenNotFound", err)
	}

	// Rejected before anything moved.
	tok0 := f.encTok(f.key, f.c0)
	if got := f.encBalance(tok0, f.hook.Address()); got != 100 {
		t.Fatalf("hook collateral = %d, want 100", got)
	}
}

func TestSettleNegativeNetAmount(t *testing.T) {
	f := newFixture(t)
	f.deposit(alice, f.key, f.c0, 1000)

	batchID := f.readyBatch(alice, f.key, f.c0, 100, DirectionZeroForOne)
	err := f.hook.SettleBatch(relayer, SettleParams{
		BatchID:     batchID,
		NetAmountIn: big.NewInt(-1),
	})
	if !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("got %v, want ErrZeroAmount", err)
	}
}

func TestSettleTokenValidation(t *testing.T) {
	f := newFixture(t)
	f.deposit(alice, f.key, f.c0, 1000)

	batchID := f.readyBatch(alice, f.key, f.c0, 100, DirectionZeroForOne)

	tests := []struct {
		name     string
		tokenIn  dex.Currency
		tokenOut dex.Currency
	}{
		{"same token both sides", f.c0, f.c0},
		{"token in not in pool", dex.Currency{Address: tkn2}, f.c1},
		{"token out not in pool", f.c0, dex.Currency{Address: tkn2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.hook.SettleBatch(relayer, SettleParams{
				BatchID:     batchID,
				NetAmountIn: big.NewInt(100),
				TokenIn:     tt.tokenIn,
				TokenOut:    tt.tokenOut,
			})
			if !errors.Is(err, ErrCurrencyNotInPool) {
				t.Fatalf("got %v, want ErrCurrencyNotInPool", err)
			}
		})
	}
}

// Plaintext value entering and leaving the hook is conserved across a
// mixed sequence of deposits, withdrawals, and a net-trading settlement.
func TestReserveConservation(t *testing.T) {
	f := newFixture(t)

	f.deposit(alice, f.key, f.c0, 1000)
	f.deposit(bob, f.key, f.c1, 500)
	if err := f.hook.Withdraw(alice, f.key, f.c0, big.NewInt(200), alice); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	batchID := f.readyBatch(alice, f.key, f.c0, 300, DirectionZeroForOne)
	tok1 := f.encTok(f.key, f.c1)
	err := f.hook.SettleBatch(relayer, SettleParams{
		BatchID:     batchID,
		NetAmountIn: big.NewInt(300),
		TokenIn:     f.c0,
		TokenOut:    f.c1,
		OutputToken: tok1.Address(),
		UserShares:  []UserShare{{User: alice, Numerator: 1, Denominator: 1}},
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	if err := f.hook.Withdraw(bob, f.key, f.c1, big.NewInt(100), bob); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	// 300 in against 100000 liquidity yields 299 out.
	r, _ := f.hook.Reserves(f.key.ID())
	wantC0 := big.NewInt(1000 - 200 - 300)
	wantC1 := big.NewInt(500 + 299 - 100)
	if r.Currency0Reserve.Cmp(wantC0) != 0 {
		t.Fatalf("currency0 reserve = %s, want %s", r.Currency0Reserve, wantC0)
	}
	if r.Currency1Reserve.Cmp(wantC1) != 0 {
		t.Fatalf("currency1 reserve = %s, want %s", r.Currency1Reserve, wantC1)
	}

	// The reserve ledger is fully backed by the hook's custody.
	if got := f.ledger.BalanceOf(tkn0, f.hook.Address()); got.Cmp(wantC0) != 0 {
		t.Fatalf("hook tkn0 custody = %s, want %s", got, wantC0)
	}
	if got := f.ledger.BalanceOf(tkn1, f.hook.Address()); got.Cmp(wantC1) != 0 {
		t.Fatalf("hook tkn1 custody = %s, want %s", got, wantC1)
	}

	if r.TotalDeposits.Cmp(big.NewInt(1500)) != 0 {
		t.Fatalf("total deposits = %s, want 1500", r.TotalDeposits)
	}
	if r.TotalWithdrawals.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("total withdrawals = %s, want 300", r.TotalWithdrawals)
	}
}
