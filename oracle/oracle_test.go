// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package oracle

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/darkpool/token"
)

var (
	feeToken = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	payer    = common.HexToAddress("0x0000000000000000000000000000000000001001")

	lxUSDFeed = [32]byte{0x4c, 0x58, 0x2f, 0x55, 0x53, 0x44} // "LX/USD"
)

func newTestOracle(t *testing.T) (*token.Ledger, *Oracle, *ecdsa.PrivateKey) {
	t.Helper()

	ledger := token.NewLedger()
	if err := ledger.Register(feeToken, "Wrapped LX", "WLX", 18); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := ledger.Mint(feeToken, payer, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	o := New(ledger, feeToken, common.PubkeyToAddress(key.PublicKey), big.NewInt(10))
	o.SetNowFunc(func() uint64 { return 10_000 })
	return ledger, o, key
}

// signedUpdate builds submittable update bytes for the given feed.
func signedUpdate(t *testing.T, key *ecdsa.PrivateKey, feedID [32]byte, price int64, publishTime uint64) []byte {
	t.Helper()
	raw, err := SignUpdate(Update{
		FeedID: feedID,
		Price: Price{
			Price:       price,
			Conf:        5,
			Expo:        -8,
			PublishTime: publishTime,
		},
	}, key)
	if err != nil {
		t.Fatalf("sign update: %v", err)
	}
	return raw
}

func TestUpdateFee(t *testing.T) {
	_, o, key := newTestOracle(t)

	if fee := o.UpdateFee(nil); fee.Sign() != 0 {
		t.Errorf("fee for no updates: got %s, want 0", fee)
	}

	updates := [][]byte{
		signedUpdate(t, key, lxUSDFeed, 100, 9_000),
		signedUpdate(t, key, lxUSDFeed, 101, 9_001),
		signedUpdate(t, key, lxUSDFeed, 102, 9_002),
	}
	if fee := o.UpdateFee(updates); fee.Int64() != 30 {
		t.Errorf("fee for 3 updates: got %s, want 30", fee)
	}
}

func TestApplyUpdateRoundTrip(t *testing.T) {
	ledger, o, key := newTestOracle(t)

	updates := [][]byte{signedUpdate(t, key, lxUSDFeed, 423_000_000_000, 9_800)}
	if err := o.ApplyUpdate(payer, updates, o.UpdateFee(updates)); err != nil {
		t.Fatalf("apply update: %v", err)
	}

	price, err := o.PriceNoOlderThan(lxUSDFeed, 600)
	if err != nil {
		t.Fatalf("price no older than: %v", err)
	}
	if price.Price != 423_000_000_000 {
		t.Errorf("price: got %d, want 423000000000", price.Price)
	}
	if price.Expo != -8 {
		t.Errorf("expo: got %d, want -8", price.Expo)
	}
	if price.PublishTime != 9_800 {
		t.Errorf("publish time: got %d, want 9800", price.PublishTime)
	}

	// Fee moved payer -> oracle.
	if bal := ledger.BalanceOf(feeToken, payer); bal.Int64() != 990 {
		t.Errorf("payer balance: got %s, want 990", bal)
	}
	if bal := ledger.BalanceOf(feeToken, o.Address()); bal.Int64() != 10 {
		t.Errorf("oracle balance: got %s, want 10", bal)
	}
}

func TestApplyUpdateInsufficientFee(t *testing.T) {
	ledger, o, key := newTestOracle(t)

	updates := [][]byte{signedUpdate(t, key, lxUSDFeed, 100, 9_800)}
	if err := o.ApplyUpdate(payer, updates, big.NewInt(9)); !errors.Is(err, ErrInsufficientFee) {
		t.Errorf("underpayment: got %v, want ErrInsufficientFee", err)
	}
	if err := o.ApplyUpdate(payer, updates, nil); !errors.Is(err, ErrInsufficientFee) {
		t.Errorf("nil payment: got %v, want ErrInsufficientFee", err)
	}

	if _, err := o.LatestPrice(lxUSDFeed); !errors.Is(err, ErrFeedNotFound) {
		t.Errorf("feed after rejected update: got %v, want ErrFeedNotFound", err)
	}
	if bal := ledger.BalanceOf(feeToken, payer); bal.Int64() != 1_000 {
		t.Errorf("payer balance after rejection: got %s, want 1000", bal)
	}
}

func TestApplyUpdateKeepsExcessPayment(t *testing.T) {
	ledger, o, key := newTestOracle(t)

	updates := [][]byte{signedUpdate(t, key, lxUSDFeed, 100, 9_800)}
	if err := o.ApplyUpdate(payer, updates, big.NewInt(25)); err != nil {
		t.Fatalf("apply with excess: %v", err)
	}

	// The full payment stays with the oracle; no refund path.
	if bal := ledger.BalanceOf(feeToken, o.Address()); bal.Int64() != 25 {
		t.Errorf("oracle balance: got %s, want 25", bal)
	}
	if bal := ledger.BalanceOf(feeToken, payer); bal.Int64() != 975 {
		t.Errorf("payer balance: got %s, want 975", bal)
	}
}

func TestApplyUpdateRejectsBadSignature(t *testing.T) {
	_, o, key := newTestOracle(t)

	raw := signedUpdate(t, key, lxUSDFeed, 100, 9_800)
	raw[len(raw)-1] = 29 // invalid recovery id

	err := o.ApplyUpdate(payer, [][]byte{raw}, big.NewInt(10))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("corrupted signature: got %v, want ErrInvalidSignature", err)
	}
}

func TestApplyUpdateRejectsUnknownPublisher(t *testing.T) {
	_, o, _ := newTestOracle(t)

	stranger, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	raw := signedUpdate(t, stranger, lxUSDFeed, 100, 9_800)
	if err := o.ApplyUpdate(payer, [][]byte{raw}, big.NewInt(10)); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("unknown publisher: got %v, want ErrInvalidSignature", err)
	}
}

func TestApplyUpdateRejectsMalformed(t *testing.T) {
	_, o, key := newTestOracle(t)

	raw := signedUpdate(t, key, lxUSDFeed, 100, 9_800)
	if err := o.ApplyUpdate(payer, [][]byte{raw[:60]}, big.NewInt(10)); !errors.Is(err, ErrInvalidUpdate) {
		t.Errorf("truncated update: got %v, want ErrInvalidUpdate", err)
	}
}

func TestApplyUpdateAtomic(t *testing.T) {
	ledger, o, key := newTestOracle(t)

	good := signedUpdate(t, key, lxUSDFeed, 100, 9_800)
	bad := []byte{0x01, 0x02}
	err := o.ApplyUpdate(payer, [][]byte{good, bad}, big.NewInt(20))
	if !errors.Is(err, ErrInvalidUpdate) {
		t.Fatalf("batch with malformed update: got %v, want ErrInvalidUpdate", err)
	}

	// Neither the good update nor the payment may land.
	if _, err := o.LatestPrice(lxUSDFeed); !errors.Is(err, ErrFeedNotFound) {
		t.Errorf("feed after failed batch: got %v, want ErrFeedNotFound", err)
	}
	if bal := ledger.BalanceOf(feeToken, payer); bal.Int64() != 1_000 {
		t.Errorf("payer balance after failed batch: got %s, want 1000", bal)
	}
}

func TestMonotonicPublishTime(t *testing.T) {
	_, o, key := newTestOracle(t)

	apply := func(price int64, publishTime uint64) {
		t.Helper()
		updates := [][]byte{signedUpdate(t, key, lxUSDFeed, price, publishTime)}
		if err := o.ApplyUpdate(payer, updates, big.NewInt(10)); err != nil {
			t.Fatalf("apply update: %v", err)
		}
	}

	apply(100, 9_500)
	apply(50, 9_400) // older, skipped
	if price, err := o.LatestPrice(lxUSDFeed); err != nil || price.Price != 100 {
		t.Errorf("after older update: got (%d, %v), want (100, nil)", price.Price, err)
	}

	apply(60, 9_600)
	if price, err := o.LatestPrice(lxUSDFeed); err != nil || price.Price != 60 {
		t.Errorf("after newer update: got (%d, %v), want (60, nil)", price.Price, err)
	}
}

func TestPriceNoOlderThan(t *testing.T) {
	_, o, key := newTestOracle(t)

	// now = 10_000, published at 9_500: age 500.
	updates := [][]byte{signedUpdate(t, key, lxUSDFeed, 100, 9_500)}
	if err := o.ApplyUpdate(payer, updates, big.NewInt(10)); err != nil {
		t.Fatalf("apply update: %v", err)
	}

	if _, err := o.PriceNoOlderThan(lxUSDFeed, 600); err != nil {
		t.Errorf("age 500, bound 600: %v", err)
	}
	if _, err := o.PriceNoOlderThan(lxUSDFeed, 400); !errors.Is(err, ErrPriceStale) {
		t.Errorf("age 500, bound 400: got %v, want ErrPriceStale", err)
	}

	unknown := [32]byte{0xff}
	if _, err := o.PriceNoOlderThan(unknown, 600); !errors.Is(err, ErrFeedNotFound) {
		t.Errorf("unknown feed: got %v, want ErrFeedNotFound", err)
	}
}
