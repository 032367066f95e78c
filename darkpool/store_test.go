// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package darkpool

import (
	"errors"
	"math/big"
	"testing"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
)

func TestArchiveRoundTrip(t *testing.T) {
	a := NewArchive(memdb.New())

	rec := SettlementRecord{
		BatchID:           [32]byte{1, 2, 3},
		PoolID:            [32]byte{4, 5, 6},
		InternalTransfers: 7,
		NetAmountIn:       big.NewInt(400),
		AmountOut:         big.NewInt(398),
		SettledAt:         testNow,
	}
	if err := a.putSettlement(rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := a.Settlement(rec.BatchID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.BatchID != rec.BatchID || got.PoolID != rec.PoolID {
		t.Fatalf("got %+v", got)
	}
	if got.InternalTransfers != 7 || got.SettledAt != testNow {
		t.Fatalf("got %+v", got)
	}
	if got.NetAmountIn.Cmp(rec.NetAmountIn) != 0 || got.AmountOut.Cmp(rec.AmountOut) != 0 {
		t.Fatalf("got %+v", got)
	}
}

func TestArchiveMissing(t *testing.T) {
	a := NewArchive(memdb.New())

	if _, err := a.Settlement([32]byte{0xee}); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("got %v, want database.ErrNotFound", err)
	}
}

// A nil database disables persistence without breaking settlement.
func TestArchiveNilDatabase(t *testing.T) {
	a := NewArchive(nil)

	if err := a.putSettlement(SettlementRecord{
		NetAmountIn: big.NewInt(1),
		AmountOut:   big.NewInt(1),
	}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := a.Settlement([32]byte{}); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("got %v, want database.ErrNotFound", err)
	}
}

func TestArchiveCorruptRecord(t *testing.T) {
	db := memdb.New()
	a := NewArchive(db)

	id := [32]byte{0xcd}
	if err := db.Put(settlementKey(id), []byte{1, 2, 3}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := a.Settlement(id); err == nil {
		t.Fatal("expected corrupt record error")
	}
}

func TestSwapRequestCodec(t *testing.T) {
	f := newFixture(t)

	data := encodeSwapRequest(f.key, true, big.NewInt(12345))
	key, zeroForOne, amountIn, err := decodeSwapRequest(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if key.ID() != f.key.ID() || !zeroForOne || amountIn.Cmp(big.NewInt(12345)) != 0 {
		t.Fatalf("decoded key=%x zeroForOne=%v amountIn=%s", key.ID(), zeroForOne, amountIn)
	}

	if _, _, _, err := decodeSwapRequest(data[:10]); err == nil {
		t.Fatal("expected length error")
	}
}
