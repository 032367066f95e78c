// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"math/big"

	"github.com/luxfi/fhe"
)

// TFHEBackend implements Backend on the real TFHE library. Unsigned
// ciphertexts are BitCiphertexts; encrypted booleans are single encrypted
// bits, the form comparison gates produce and Select consumes.
type TFHEBackend struct {
	params    fhe.Parameters
	secretKey *fhe.SecretKey
	publicKey *fhe.PublicKey
	encryptor *fhe.BitwiseEncryptor
	decryptor *fhe.BitwiseDecryptor
	evaluator *fhe.BitwiseEvaluator
}

// NewTFHEBackend generates a fresh key set and the bitwise operators.
func NewTFHEBackend() (*TFHEBackend, error) {
	params, err := fhe.NewParametersFromLiteral(fhe.PN10QP27)
	if err != nil {
		return nil, err
	}

	kg := fhe.NewKeyGenerator(params)
	secretKey, publicKey := kg.GenKeyPair()
	bsk := kg.GenBootstrapKey(secretKey)

	return &TFHEBackend{
		params:    params,
		secretKey: secretKey,
		publicKey: publicKey,
		encryptor: fhe.NewBitwiseEncryptor(params, secretKey),
		decryptor: fhe.NewBitwiseDecryptor(params, secretKey),
		evaluator: fhe.NewBitwiseEvaluator(params, bsk, secretKey),
	}, nil
}

// NetworkPublicKey returns the serialized public key off-chain encryptors
// use to produce externally verified inputs.
func (b *TFHEBackend) NetworkPublicKey() ([]byte, error) {
	return b.publicKey.MarshalBinary()
}

// typeToFhe converts a ciphertext type constant to the TFHE FheUintType.
func typeToFhe(ctType uint8) fhe.FheUintType {
	switch ctType {
	case TypeEbool:
		return fhe.FheBool
	case TypeEuint8:
		return fhe.FheUint8
	case TypeEuint16:
		return fhe.FheUint16
	case TypeEuint32:
		return fhe.FheUint32
	case TypeEuint64:
		return fhe.FheUint64
	case TypeEuint128:
		return fhe.FheUint128
	case TypeEuint256:
		return fhe.FheUint256
	case TypeEaddress:
		return fhe.FheUint160
	default:
		return fhe.FheUint32
	}
}

func marshalBits(ct *fhe.BitCiphertext) ([]byte, error) {
	if ct == nil {
		return nil, ErrOperationFailed
	}
	return ct.MarshalBinary()
}

func unmarshalBits(data []byte) (*fhe.BitCiphertext, error) {
	ct := new(fhe.BitCiphertext)
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, ErrInvalidCiphertext
	}
	return ct, nil
}

func marshalBit(ct *fhe.Ciphertext) ([]byte, error) {
	if ct == nil {
		return nil, ErrOperationFailed
	}
	return ct.MarshalBinary()
}

func unmarshalBit(data []byte) (*fhe.Ciphertext, error) {
	ct := new(fhe.Ciphertext)
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, ErrInvalidCiphertext
	}
	return ct, nil
}

// Encrypt encrypts a plaintext value under the network key.
func (b *TFHEBackend) Encrypt(value *big.Int, ctType uint8) ([]byte, error) {
	if value == nil || value.Sign() < 0 || !value.IsUint64() {
		return nil, ErrInvalidInput
	}
	if ctType == TypeEbool {
		// Booleans are single bits; derive one through a comparison so the
		// encoding matches what the comparison gates emit.
		lhs := b.encryptor.EncryptUint64(value.Uint64(), fhe.FheUint8)
		rhs := b.encryptor.EncryptUint64(0, fhe.FheUint8)
		bit, err := b.evaluator.Gt(lhs, rhs)
		if err != nil {
			return nil, ErrOperationFailed
		}
		return marshalBit(bit)
	}
	return marshalBits(b.encryptor.EncryptUint64(value.Uint64(), typeToFhe(ctType)))
}

// Decrypt recovers the plaintext value.
func (b *TFHEBackend) Decrypt(ct []byte, ctType uint8) (*big.Int, error) {
	if ctType == TypeEbool {
		bit, err := unmarshalBit(ct)
		if err != nil {
			return nil, err
		}
		v := b.decryptor.DecryptUint64(fhe.WrapBoolCiphertext(bit))
		return new(big.Int).SetUint64(v), nil
	}
	bits, err := unmarshalBits(ct)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(b.decryptor.DecryptUint64(bits)), nil
}

// Validate checks that the ciphertext deserializes to the claimed type.
func (b *TFHEBackend) Validate(ct []byte, ctType uint8) error {
	if ctType == TypeEbool {
		_, err := unmarshalBit(ct)
		return err
	}
	bits, err := unmarshalBits(ct)
	if err != nil {
		return err
	}
	if bits.NumBits() != int(typeBits(ctType)) {
		return ErrTypeMismatch
	}
	return nil
}

// Add computes lhs + rhs homomorphically.
func (b *TFHEBackend) Add(lhs, rhs []byte, ctType uint8) ([]byte, error) {
	l, err := unmarshalBits(lhs)
	if err != nil {
		return nil, err
	}
	r, err := unmarshalBits(rhs)
	if err != nil {
		return nil, err
	}
	result, err := b.evaluator.Add(l, r)
	if err != nil {
		return nil, ErrOperationFailed
	}
	return marshalBits(result)
}

// Sub computes lhs - rhs homomorphically.
func (b *TFHEBackend) Sub(lhs, rhs []byte, ctType uint8) ([]byte, error) {
	l, err := unmarshalBits(lhs)
	if err != nil {
		return nil, err
	}
	r, err := unmarshalBits(rhs)
	if err != nil {
		return nil, err
	}
	result, err := b.evaluator.Sub(l, r)
	if err != nil {
		return nil, ErrOperationFailed
	}
	return marshalBits(result)
}

// Le computes lhs <= rhs, returning an encrypted bit.
func (b *TFHEBackend) Le(lhs, rhs []byte, ctType uint8) ([]byte, error) {
	l, err := unmarshalBits(lhs)
	if err != nil {
		return nil, err
	}
	r, err := unmarshalBits(rhs)
	if err != nil {
		return nil, err
	}
	bit, err := b.evaluator.Le(l, r)
	if err != nil {
		return nil, ErrOperationFailed
	}
	return marshalBit(bit)
}

// Select muxes between two ciphertexts on an encrypted bit.
func (b *TFHEBackend) Select(cond, ifTrue, ifFalse []byte, ctType uint8) ([]byte, error) {
	bit, err := unmarshalBit(cond)
	if err != nil {
		return nil, err
	}
	t, err := unmarshalBits(ifTrue)
	if err != nil {
		return nil, err
	}
	f, err := unmarshalBits(ifFalse)
	if err != nil {
		return nil, err
	}
	result, err := b.evaluator.Select(bit, t, f)
	if err != nil {
		return nil, ErrOperationFailed
	}
	return marshalBits(result)
}
