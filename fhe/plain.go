// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"math/big"
)

// PlainBackend is the transparent test backend: "ciphertexts" are 32-byte
// big-endian encodings of the plaintext value. It preserves the exact
// operation and access-control semantics of the coprocessor without any
// cryptography, which keeps the engine tests deterministic and fast.
type PlainBackend struct{}

// NewPlainBackend creates the transparent backend.
func NewPlainBackend() *PlainBackend {
	return &PlainBackend{}
}

const plainCtLen = 32

// typeBits returns the plaintext domain width for a ciphertext type.
func typeBits(ctType uint8) uint {
	switch ctType {
	case TypeEbool:
		return 1
	case TypeEuint4:
		return 4
	case TypeEuint8:
		return 8
	case TypeEuint16:
		return 16
	case TypeEuint32:
		return 32
	case TypeEuint64:
		return 64
	case TypeEuint128:
		return 128
	case TypeEuint160:
		return 160
	default:
		return 256
	}
}

// mask reduces a value into the type's domain.
func mask(v *big.Int, ctType uint8) *big.Int {
	m := new(big.Int).Lsh(big.NewInt(1), typeBits(ctType))
	m.Sub(m, big.NewInt(1))
	return new(big.Int).And(v, m)
}

func encodePlain(v *big.Int) []byte {
	return v.FillBytes(make([]byte, plainCtLen))
}

func decodePlain(ct []byte) (*big.Int, error) {
	if len(ct) != plainCtLen {
		return nil, ErrInvalidCiphertext
	}
	return new(big.Int).SetBytes(ct), nil
}

// Encrypt encodes a plaintext value.
func (b *PlainBackend) Encrypt(value *big.Int, ctType uint8) ([]byte, error) {
	if value == nil || value.Sign() < 0 {
		return nil, ErrInvalidInput
	}
	return encodePlain(mask(value, ctType)), nil
}

// Decrypt decodes a ciphertext back to its value.
func (b *PlainBackend) Decrypt(ct []byte, ctType uint8) (*big.Int, error) {
	v, err := decodePlain(ct)
	if err != nil {
		return nil, err
	}
	return mask(v, ctType), nil
}

// Validate checks the encoding and that the value fits the type's domain.
func (b *PlainBackend) Validate(ct []byte, ctType uint8) error {
	v, err := decodePlain(ct)
	if err != nil {
		return err
	}
	if v.BitLen() > int(typeBits(ctType)) {
		return ErrTypeMismatch
	}
	return nil
}

// Add computes lhs + rhs in the type's modular domain.
func (b *PlainBackend) Add(lhs, rhs []byte, ctType uint8) ([]byte, error) {
	l, err := decodePlain(lhs)
	if err != nil {
		return nil, err
	}
	r, err := decodePlain(rhs)
	if err != nil {
		return nil, err
	}
	return encodePlain(mask(new(big.Int).Add(l, r), ctType)), nil
}

// Sub computes lhs - rhs in the type's modular domain (two's complement
// wrap-around, matching the TFHE backend).
func (b *PlainBackend) Sub(lhs, rhs []byte, ctType uint8) ([]byte, error) {
	l, err := decodePlain(lhs)
	if err != nil {
		return nil, err
	}
	r, err := decodePlain(rhs)
	if err != nil {
		return nil, err
	}
	diff := new(big.Int).Sub(l, r)
	if diff.Sign() < 0 {
		diff.Add(diff, new(big.Int).Lsh(big.NewInt(1), typeBits(ctType)))
	}
	return encodePlain(mask(diff, ctType)), nil
}

// Le computes lhs <= rhs, returning an encrypted boolean.
func (b *PlainBackend) Le(lhs, rhs []byte, ctType uint8) ([]byte, error) {
	l, err := decodePlain(lhs)
	if err != nil {
		return nil, err
	}
	r, err := decodePlain(rhs)
	if err != nil {
		return nil, err
	}
	if l.Cmp(r) <= 0 {
		return encodePlain(big.NewInt(1)), nil
	}
	return encodePlain(big.NewInt(0)), nil
}

// Select returns ifTrue where cond is set, ifFalse otherwise.
func (b *PlainBackend) Select(cond, ifTrue, ifFalse []byte, ctType uint8) ([]byte, error) {
	c, err := decodePlain(cond)
	if err != nil {
		return nil, err
	}
	if c.Sign() != 0 {
		return ifTrue, nil
	}
	return ifFalse, nil
}
