// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package darkpool

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/luxfi/database"
)

var settlementPrefix = []byte("darkpool/settlement/")

// SettlementRecord is the persisted summary of one settled batch.
type SettlementRecord struct {
	BatchID           [32]byte
	PoolID            [32]byte
	InternalTransfers uint32
	NetAmountIn       *big.Int
	AmountOut         *big.Int
	SettledAt         uint64
}

// Record layout: poolID(32) | transfers(4) | netAmountIn(32) |
// amountOut(32) | settledAt(8). The batch id is the key.
const settlementRecordLength = 32 + 4 + 32 + 32 + 8

// Archive persists settlement summaries keyed by batch id.
type Archive struct {
	db database.Database
}

// NewArchive wraps a key-value store. A nil database disables
// persistence: writes become no-ops and reads miss.
func NewArchive(db database.Database) *Archive {
	return &Archive{db: db}
}

func settlementKey(batchID [32]byte) []byte {
	return append(settlementPrefix, batchID[:]...)
}

func (a *Archive) putSettlement(rec SettlementRecord) error {
	if a == nil || a.db == nil {
		return nil
	}

	data := make([]byte, settlementRecordLength)
	copy(data[0:32], rec.PoolID[:])
	binary.BigEndian.PutUint32(data[32:36], rec.InternalTransfers)
	rec.NetAmountIn.FillBytes(data[36:68])
	rec.AmountOut.FillBytes(data[68:100])
	binary.BigEndian.PutUint64(data[100:108], rec.SettledAt)

	return a.db.Put(settlementKey(rec.BatchID), data)
}

// Settlement loads the record for a settled batch. Returns
// database.ErrNotFound when no record exists.
func (a *Archive) Settlement(batchID [32]byte) (SettlementRecord, error) {
	if a == nil || a.db == nil {
		return SettlementRecord{}, database.ErrNotFound
	}

	data, err := a.db.Get(settlementKey(batchID))
	if err != nil {
		return SettlementRecord{}, err
	}
	if len(data) != settlementRecordLength {
		return SettlementRecord{}, fmt.Errorf("corrupt settlement record: %d bytes", len(data))
	}

	rec := SettlementRecord{BatchID: batchID}
	copy(rec.PoolID[:], data[0:32])
	rec.InternalTransfers = binary.BigEndian.Uint32(data[32:36])
	rec.NetAmountIn = new(big.Int).SetBytes(data[36:68])
	rec.AmountOut = new(big.Int).SetBytes(data[68:100])
	rec.SettledAt = binary.BigEndian.Uint64(data[100:108])
	return rec, nil
}
