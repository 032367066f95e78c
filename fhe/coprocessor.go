// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fhe implements the encrypted-value coprocessor used by the
// darkpool. Values live in the coprocessor as opaque 32-byte handles; an
// access-control list records which principals may operate on or decrypt
// each handle. The arithmetic itself is delegated to a Backend: either
// the TFHE implementation backed by github.com/luxfi/fhe or the
// transparent encoding used in tests.
package fhe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// Ciphertext type constants - must match github.com/luxfi/fhe FheUintType
const (
	TypeEbool    uint8 = 0 // FheBool - 1 bit
	TypeEuint4   uint8 = 1 // FheUint4 - 4 bits
	TypeEuint8   uint8 = 2 // FheUint8 - 8 bits
	TypeEuint16  uint8 = 3 // FheUint16 - 16 bits
	TypeEuint32  uint8 = 4 // FheUint32 - 32 bits
	TypeEuint64  uint8 = 5 // FheUint64 - 64 bits
	TypeEuint128 uint8 = 6 // FheUint128 - 128 bits
	TypeEuint160 uint8 = 7 // FheUint160 - 160 bits (Ethereum addresses)
	TypeEuint256 uint8 = 8 // FheUint256 - 256 bits
	TypeEaddress uint8 = 7 // Alias for TypeEuint160
)

// Errors - Coprocessor
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidProof      = errors.New("invalid input proof")
	ErrInvalidCiphertext = errors.New("invalid ciphertext handle")
	ErrUnknownHandle     = errors.New("unknown ciphertext handle")
	ErrAccessDenied      = errors.New("access to handle denied")
	ErrTypeMismatch      = errors.New("ciphertext type mismatch")
	ErrOperationFailed   = errors.New("FHE operation failed")
)

// Backend performs the actual ciphertext arithmetic. Encrypted booleans
// (comparison results) are ordinary ciphertexts of type TypeEbool.
type Backend interface {
	Encrypt(value *big.Int, ctType uint8) ([]byte, error)
	Decrypt(ct []byte, ctType uint8) (*big.Int, error)
	Validate(ct []byte, ctType uint8) error
	Add(lhs, rhs []byte, ctType uint8) ([]byte, error)
	Sub(lhs, rhs []byte, ctType uint8) ([]byte, error)
	Le(lhs, rhs []byte, ctType uint8) ([]byte, error)
	Select(cond, ifTrue, ifFalse []byte, ctType uint8) ([]byte, error)
}

// Coprocessor stores ciphertexts by handle and enforces the access-control
// relation on every operation: a principal may only use handles it has been
// granted, and operation results are granted to the principal that computed
// them.
type Coprocessor struct {
	mu      sync.RWMutex
	backend Backend
	seq     uint64

	ciphertexts map[common.Hash][]byte
	types       map[common.Hash]uint8
	acl         map[common.Hash]map[common.Address]bool
}

// NewCoprocessor creates a coprocessor over the given backend.
func NewCoprocessor(backend Backend) *Coprocessor {
	return &Coprocessor{
		backend:     backend,
		ciphertexts: make(map[common.Hash][]byte),
		types:       make(map[common.Hash]uint8),
		acl:         make(map[common.Hash]map[common.Address]bool),
	}
}

// InputProof computes the proof expected by Verify for a raw ciphertext.
// Off-chain encryptors attach it to externally supplied inputs.
func InputProof(ciphertext []byte) []byte {
	sum := blake3.Sum256(ciphertext)
	return sum[:]
}

// Verify converts an externally supplied ciphertext+proof pair into an
// internal handle, granting the submitting principal access. The proof
// binds the ciphertext to the submission; a mismatch rejects the input.
func (c *Coprocessor) Verify(caller common.Address, ciphertext, proof []byte, ctType uint8) (common.Hash, error) {
	if len(ciphertext) == 0 {
		return common.Hash{}, ErrInvalidInput
	}
	if !bytes.Equal(InputProof(ciphertext), proof) {
		return common.Hash{}, ErrInvalidProof
	}
	if err := c.backend.Validate(ciphertext, ctType); err != nil {
		return common.Hash{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store(ciphertext, ctType, caller), nil
}

// TrivialEncrypt lifts a plaintext value into a handle owned by the caller.
func (c *Coprocessor) TrivialEncrypt(caller common.Address, value *big.Int, ctType uint8) (common.Hash, error) {
	ct, err := c.backend.Encrypt(value, ctType)
	if err != nil {
		return common.Hash{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store(ct, ctType, caller), nil
}

// Add computes lhs + rhs. Both operands must share a type and be
// accessible to the caller; the result is granted to the caller.
func (c *Coprocessor) Add(caller common.Address, lhs, rhs common.Hash) (common.Hash, error) {
	return c.binaryOp(caller, lhs, rhs, c.backend.Add, sameType)
}

// Sub computes lhs - rhs under the same rules as Add.
func (c *Coprocessor) Sub(caller common.Address, lhs, rhs common.Hash) (common.Hash, error) {
	return c.binaryOp(caller, lhs, rhs, c.backend.Sub, sameType)
}

// Le computes lhs <= rhs, producing an encrypted boolean.
func (c *Coprocessor) Le(caller common.Address, lhs, rhs common.Hash) (common.Hash, error) {
	return c.binaryOp(caller, lhs, rhs, c.backend.Le, boolType)
}

// Select returns ifTrue where cond holds and ifFalse otherwise. cond must
// be an encrypted boolean; the branches must share a type.
func (c *Coprocessor) Select(caller common.Address, cond, ifTrue, ifFalse common.Hash) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	condCt, condType, err := c.operand(caller, cond)
	if err != nil {
		return common.Hash{}, err
	}
	if condType != TypeEbool {
		return common.Hash{}, ErrTypeMismatch
	}
	trueCt, trueType, err := c.operand(caller, ifTrue)
	if err != nil {
		return common.Hash{}, err
	}
	falseCt, falseType, err := c.operand(caller, ifFalse)
	if err != nil {
		return common.Hash{}, err
	}
	if trueType != falseType {
		return common.Hash{}, ErrTypeMismatch
	}

	result, err := c.backend.Select(condCt, trueCt, falseCt, trueType)
	if err != nil {
		return common.Hash{}, err
	}
	return c.store(result, trueType, caller), nil
}

// Allow grants a principal access to a handle. The caller must already
// hold access itself.
func (c *Coprocessor) Allow(caller common.Address, handle common.Hash, principal common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.ciphertexts[handle]; !ok {
		return ErrUnknownHandle
	}
	if !c.acl[handle][caller] {
		return ErrAccessDenied
	}
	c.acl[handle][principal] = true
	return nil
}

// IsAllowed reports whether the principal may operate on the handle.
func (c *Coprocessor) IsAllowed(handle common.Hash, principal common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.acl[handle][principal]
}

// TypeOf returns the ciphertext type tag of a handle.
func (c *Coprocessor) TypeOf(handle common.Hash) (uint8, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.types[handle]
	if !ok {
		return 0, ErrUnknownHandle
	}
	return t, nil
}

// Decrypt reveals the plaintext behind a handle to an authorized caller.
func (c *Coprocessor) Decrypt(caller common.Address, handle common.Hash) (*big.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ct, ctType, err := c.operand(caller, handle)
	if err != nil {
		return nil, err
	}
	return c.backend.Decrypt(ct, ctType)
}

// DecryptU64 is Decrypt narrowed to the 64-bit domain used for amounts.
func (c *Coprocessor) DecryptU64(caller common.Address, handle common.Hash) (uint64, error) {
	v, err := c.Decrypt(caller, handle)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, ErrTypeMismatch
	}
	return v.Uint64(), nil
}

// binaryOp runs a two-operand backend operation with ACL and type checks.
func (c *Coprocessor) binaryOp(
	caller common.Address,
	lhs, rhs common.Hash,
	op func(lhs, rhs []byte, ctType uint8) ([]byte, error),
	resultType func(operandType uint8) uint8,
) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lhsCt, lhsType, err := c.operand(caller, lhs)
	if err != nil {
		return common.Hash{}, err
	}
	rhsCt, rhsType, err := c.operand(caller, rhs)
	if err != nil {
		return common.Hash{}, err
	}
	if lhsType != rhsType {
		return common.Hash{}, ErrTypeMismatch
	}

	result, err := op(lhsCt, rhsCt, lhsType)
	if err != nil {
		return common.Hash{}, err
	}
	return c.store(result, resultType(lhsType), caller), nil
}

// operand fetches a ciphertext the caller is authorized to use. Callers
// hold the lock.
func (c *Coprocessor) operand(caller common.Address, handle common.Hash) ([]byte, uint8, error) {
	ct, ok := c.ciphertexts[handle]
	if !ok {
		return nil, 0, ErrUnknownHandle
	}
	if !c.acl[handle][caller] {
		return nil, 0, ErrAccessDenied
	}
	return ct, c.types[handle], nil
}

// store saves a ciphertext under a fresh handle granted to owner. Callers
// hold the lock. Handles mix in a sequence number so identical ciphertexts
// submitted twice never collide.
func (c *Coprocessor) store(ct []byte, ctType uint8, owner common.Address) common.Hash {
	c.seq++

	h := blake3.New()
	h.Write(ct)
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], c.seq)
	h.Write(seqBytes[:])
	h.Write([]byte{ctType})

	var handle common.Hash
	h.Digest().Read(handle[:])

	c.ciphertexts[handle] = ct
	c.types[handle] = ctType
	c.acl[handle] = map[common.Address]bool{owner: true}
	return handle
}

func sameType(operandType uint8) uint8 { return operandType }

func boolType(uint8) uint8 { return TypeEbool }
