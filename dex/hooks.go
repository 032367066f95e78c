// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"encoding/binary"
	"errors"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// Hooks is the callback contract a hook implements. The engine invokes
// BeforeSwap/AfterSwap around every trade on a pool whose key names the
// hook, driven by the permission bits encoded in the hook's address.
//
// BeforeSwap may return a standby credit: a delta with positive legs that
// the engine records as pull-authorized hook inventory for the enclosing
// unlock. Any input the locker leaves unsettled is covered from that
// standby before settlement verification. Negative legs are rejected.
type Hooks interface {
	// BeforeSwap runs before the trade math. sender is the current locker.
	BeforeSwap(sender common.Address, key PoolKey, params SwapParams, hookData []byte) (BalanceDelta, error)

	// AfterSwap runs after the trade math with the trade's signed delta.
	AfterSwap(sender common.Address, key PoolKey, params SwapParams, delta BalanceDelta, hookData []byte) error

	// Permissions reports which callbacks the hook requires. Read once at
	// registration and validated against the hook's address bits.
	Permissions() HookPermissions
}

// Locker is the callback contract for flash-accounting unlocks. The engine
// invokes UnlockCallback synchronously; all deltas accrued inside must net
// to zero by the time it returns.
type Locker interface {
	Address() common.Address
	UnlockCallback(data []byte) ([]byte, error)
}

// HookPermissions contains the flags derived from a hook address
// Following Uniswap v4 pattern where hook address encodes capabilities
type HookPermissions struct {
	BeforeInitialize      bool
	AfterInitialize       bool
	BeforeAddLiquidity    bool
	AfterAddLiquidity     bool
	BeforeRemoveLiquidity bool
	AfterRemoveLiquidity  bool
	BeforeSwap            bool
	AfterSwap             bool
	BeforeDonate          bool
	AfterDonate           bool
	BeforeFlash           bool
	AfterFlash            bool
}

// Hook errors
var (
	ErrHookNotRegistered  = errors.New("hook not registered")
	ErrHookInvalidAddress = errors.New("hook address doesn't match capabilities")
)

// HookRegistry binds hook addresses to their implementations
type HookRegistry struct {
	impls map[common.Address]Hooks
}

// NewHookRegistry creates a new hook registry
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{
		impls: make(map[common.Address]Hooks),
	}
}

// Register binds an implementation to a hook address after checking that
// the address bits encode exactly the permissions the hook claims.
func (hr *HookRegistry) Register(addr common.Address, impl Hooks) error {
	if err := ValidateHookAddress(addr, impl.Permissions()); err != nil {
		return err
	}
	hr.impls[addr] = impl
	return nil
}

// Get returns the implementation registered for a hook address
func (hr *HookRegistry) Get(addr common.Address) (Hooks, bool) {
	impl, ok := hr.impls[addr]
	return impl, ok
}

// ValidateHookAddress validates that a hook address encodes the claimed permissions
// Following Uniswap v4, the leading bits of the address encode hook capabilities
func ValidateHookAddress(addr common.Address, permissions HookPermissions) error {
	encoded := EncodeHookPermissions(permissions)

	// First 2 bytes of address must match permission flags
	addrFlags := binary.BigEndian.Uint16(addr[0:2])

	if addrFlags != uint16(encoded) {
		return ErrHookInvalidAddress
	}

	return nil
}

// EncodeHookPermissions encodes permissions into a HookFlags bitmap
func EncodeHookPermissions(p HookPermissions) HookFlags {
	var flags HookFlags

	if p.BeforeInitialize {
		flags |= HookBeforeInitialize
	}
	if p.AfterInitialize {
		flags |= HookAfterInitialize
	}
	if p.BeforeAddLiquidity {
		flags |= HookBeforeAddLiquidity
	}
	if p.AfterAddLiquidity {
		flags |= HookAfterAddLiquidity
	}
	if p.BeforeRemoveLiquidity {
		flags |= HookBeforeRemoveLiquidity
	}
	if p.AfterRemoveLiquidity {
		flags |= HookAfterRemoveLiquidity
	}
	if p.BeforeSwap {
		flags |= HookBeforeSwap
	}
	if p.AfterSwap {
		flags |= HookAfterSwap
	}
	if p.BeforeDonate {
		flags |= HookBeforeDonate
	}
	if p.AfterDonate {
		flags |= HookAfterDonate
	}
	if p.BeforeFlash {
		flags |= HookBeforeFlash
	}
	if p.AfterFlash {
		flags |= HookAfterFlash
	}

	return flags
}

// DecodeHookPermissions decodes a HookFlags bitmap into permissions
func DecodeHookPermissions(flags HookFlags) HookPermissions {
	return HookPermissions{
		BeforeInitialize:      flags&HookBeforeInitialize != 0,
		AfterInitialize:       flags&HookAfterInitialize != 0,
		BeforeAddLiquidity:    flags&HookBeforeAddLiquidity != 0,
		AfterAddLiquidity:     flags&HookAfterAddLiquidity != 0,
		BeforeRemoveLiquidity: flags&HookBeforeRemoveLiquidity != 0,
		AfterRemoveLiquidity:  flags&HookAfterRemoveLiquidity != 0,
		BeforeSwap:            flags&HookBeforeSwap != 0,
		AfterSwap:             flags&HookAfterSwap != 0,
		BeforeDonate:          flags&HookBeforeDonate != 0,
		AfterDonate:           flags&HookAfterDonate != 0,
		BeforeFlash:           flags&HookBeforeFlash != 0,
		AfterFlash:            flags&HookAfterFlash != 0,
	}
}

// GetHookPermissionsFromAddress extracts permissions from hook address
func GetHookPermissionsFromAddress(addr common.Address) HookPermissions {
	flags := HookFlags(binary.BigEndian.Uint16(addr[0:2]))
	return DecodeHookPermissions(flags)
}

// HasPermission checks if an address has a specific hook permission
func HasPermission(addr common.Address, flag HookFlags) bool {
	addrFlags := HookFlags(binary.BigEndian.Uint16(addr[0:2]))
	return addrFlags&flag != 0
}

// GenerateHookAddress generates a valid hook address for given permissions
// Uses CREATE2-style address derivation
func GenerateHookAddress(deployer common.Address, salt [32]byte, permissions HookPermissions) common.Address {
	flags := EncodeHookPermissions(permissions)

	h := blake3.New()
	h.Write([]byte{0xff}) // CREATE2 prefix
	h.Write(deployer.Bytes())
	h.Write(salt[:])

	var hash [32]byte
	h.Digest().Read(hash[:])

	// Set permission flags in first 2 bytes
	var addr common.Address
	copy(addr[:], hash[12:32])
	binary.BigEndian.PutUint16(addr[0:2], uint16(flags))

	return addr
}
