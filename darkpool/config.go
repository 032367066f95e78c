// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package darkpool

import (
	"github.com/luxfi/geth/common"
)

// DefaultMaxPriceAge bounds oracle staleness at settlement when the
// config does not override it.
const DefaultMaxPriceAge uint64 = 600

// Config carries the deployment parameters for a Hook.
type Config struct {
	// Owner controls the administrative setters.
	Owner common.Address `json:"owner"`

	// Relayer is the only principal allowed to settle batches. It is
	// granted decrypt access to every submitted intent.
	Relayer common.Address `json:"relayer"`

	// Salt feeds the hook address derivation alongside Owner.
	Salt [32]byte `json:"salt"`

	// FeedID is the oracle price feed consulted before net trades.
	FeedID [32]byte `json:"feedID"`

	// MaxPriceAge overrides DefaultMaxPriceAge when nonzero.
	MaxPriceAge uint64 `json:"maxPriceAge,omitempty"`
}

// Verify rejects configs that would produce an unusable hook.
func (c Config) Verify() error {
	if c.Owner == (common.Address{}) {
		return ErrZeroAddress
	}
	if c.Relayer == (common.Address{}) {
		return ErrZeroAddress
	}
	return nil
}

func (c Config) maxPriceAge() uint64 {
	if c.MaxPriceAge == 0 {
		return DefaultMaxPriceAge
	}
	return c.MaxPriceAge
}
