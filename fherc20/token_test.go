// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fherc20

import (
	"math/big"
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/darkpool/fhe"
)

var (
	hookAddr = common.HexToAddress("0x0000000000000000000000000000000000004888")
	alice    = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000b02")
	usdc     = common.HexToAddress("0x00000000000000000000000000000000000c0111")

	testPool = [32]byte{0xda, 0x4b}
)

func newTestToken(t *testing.T) (*fhe.Coprocessor, *Token) {
	t.Helper()
	co := fhe.NewCoprocessor(fhe.NewPlainBackend())
	tok := New(co, testPool, usdc, hookAddr, "Encrypted USD Coin", "eUSDC")
	tok.SetNowFunc(func() uint64 { return 1_000 })
	return co, tok
}

// encrypt lifts a plaintext amount as the hook and grants the token access,
// mirroring the grant the hook performs before every mint/burn/transfer.
func encrypt(t *testing.T, co *fhe.Coprocessor, tok *Token, v uint64) common.Hash {
	t.Helper()
	h, err := co.TrivialEncrypt(hookAddr, new(big.Int).SetUint64(v), fhe.TypeEuint64)
	require.NoError(t, err)
	require.NoError(t, co.Allow(hookAddr, h, tok.Address()))
	return h
}

func decryptBalance(t *testing.T, co *fhe.Coprocessor, tok *Token, holder common.Address) uint64 {
	t.Helper()
	h, ok := tok.BalanceOf(holder)
	require.True(t, ok, "holder should have a balance handle")
	v, err := co.DecryptU64(holder, h)
	require.NoError(t, err, "holder should be granted access to their balance")
	return v
}

// TestDeriveAddress tests deterministic per-(pool,currency) addressing
func TestDeriveAddress(t *testing.T) {
	a1 := DeriveAddress(testPool, usdc)
	a2 := DeriveAddress(testPool, usdc)
	require.Equal(t, a1, a2)

	otherPool := [32]byte{0xff}
	require.NotEqual(t, a1, DeriveAddress(otherPool, usdc))
	require.NotEqual(t, a1, DeriveAddress(testPool, alice))
}

// TestMint tests hook-gated minting and holder balance grants
func TestMint(t *testing.T) {
	co, tok := newTestToken(t)

	err := tok.Mint(alice, alice, encrypt(t, co, tok, 500))
	require.ErrorIs(t, err, ErrNotHook, "only the bound hook may mint")

	require.NoError(t, tok.Mint(hookAddr, alice, encrypt(t, co, tok, 500)))
	require.Equal(t, uint64(500), decryptBalance(t, co, tok, alice))

	require.NoError(t, tok.Mint(hookAddr, alice, encrypt(t, co, tok, 200)))
	require.Equal(t, uint64(700), decryptBalance(t, co, tok, alice))

	// A minted balance is readable by its holder only.
	h, ok := tok.BalanceOf(alice)
	require.True(t, ok)
	_, err = co.Decrypt(bob, h)
	require.ErrorIs(t, err, fhe.ErrAccessDenied)
}

// TestBurnFailClosed tests that burns reject uncovered amounts
func TestBurnFailClosed(t *testing.T) {
	co, tok := newTestToken(t)
	require.NoError(t, tok.Mint(hookAddr, alice, encrypt(t, co, tok, 300)))

	err := tok.Burn(alice, alice, encrypt(t, co, tok, 100))
	require.ErrorIs(t, err, ErrNotHook)

	err = tok.Burn(hookAddr, alice, encrypt(t, co, tok, 400))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Equal(t, uint64(300), decryptBalance(t, co, tok, alice), "failed burn must not change the balance")

	require.NoError(t, tok.Burn(hookAddr, alice, encrypt(t, co, tok, 300)))
	require.Equal(t, uint64(0), decryptBalance(t, co, tok, alice))
}

// TestTransferClamps tests that transfers move min(amount, balance) via select
func TestTransferClamps(t *testing.T) {
	tests := []struct {
		name     string
		balance  uint64
		amount   uint64
		wantFrom uint64
		wantTo   uint64
	}{
		{"covered", 300, 100, 200, 100},
		{"exact", 300, 300, 0, 300},
		{"uncovered clamps to zero", 300, 301, 300, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			co, tok := newTestToken(t)
			require.NoError(t, tok.Mint(hookAddr, alice, encrypt(t, co, tok, tt.balance)))
			tok.SetOperator(alice, hookAddr, 2_000)

			_, err := tok.Transfer(hookAddr, alice, bob, encrypt(t, co, tok, tt.amount))
			require.NoError(t, err, "clamped transfer never reverts on balance")

			require.Equal(t, tt.wantFrom, decryptBalance(t, co, tok, alice))
			require.Equal(t, tt.wantTo, decryptBalance(t, co, tok, bob))
		})
	}
}

// TestTransferAuthorization tests hook gating and the operator requirement
func TestTransferAuthorization(t *testing.T) {
	co, tok := newTestToken(t)
	require.NoError(t, tok.Mint(hookAddr, alice, encrypt(t, co, tok, 300)))

	_, err := tok.Transfer(bob, alice, bob, encrypt(t, co, tok, 100))
	require.ErrorIs(t, err, ErrNotHook)

	_, err = tok.Transfer(hookAddr, alice, bob, encrypt(t, co, tok, 100))
	require.ErrorIs(t, err, ErrNotOperator, "holder has not authorized the hook")

	tok.SetOperator(alice, hookAddr, 2_000)
	_, err = tok.Transfer(hookAddr, alice, bob, encrypt(t, co, tok, 100))
	require.NoError(t, err)

	// The hook moves its own balance without an operator grant.
	require.NoError(t, tok.Mint(hookAddr, hookAddr, encrypt(t, co, tok, 50)))
	_, err = tok.Transfer(hookAddr, hookAddr, alice, encrypt(t, co, tok, 50))
	require.NoError(t, err)
}

// TestOperatorExpiry tests expiry bounds and revocation
func TestOperatorExpiry(t *testing.T) {
	_, tok := newTestToken(t)

	tok.SetOperator(alice, hookAddr, 999)
	require.False(t, tok.IsOperator(alice, hookAddr), "expired grant")

	tok.SetOperator(alice, hookAddr, 1_000)
	require.True(t, tok.IsOperator(alice, hookAddr), "expiry is inclusive")

	tok.SetOperator(alice, hookAddr, 0)
	require.False(t, tok.IsOperator(alice, hookAddr), "zero expiry revokes")
}
