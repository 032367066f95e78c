// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package oracle implements a push price oracle. Publishers sign binary
// price updates off-chain; anyone may submit them on-chain for a fee, and
// consumers read prices back with an explicit staleness bound.
package oracle

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/darkpool/token"
)

// Oracle account address (LP-9011 LXOracle)
const LXOracleAddress = "0x0000000000000000000000000000000000009011"

var oracleAddr = common.HexToAddress(LXOracleAddress)

// Update wire format:
//
//	feedID[32] || price int64 || conf uint64 || expo int32 || publishTime uint64 || sig[65]
//
// The signature covers the keccak256 digest of the first 60 bytes.
const (
	payloadLength = 32 + 8 + 8 + 4 + 8
	updateLength  = payloadLength + 65
)

// Errors - Oracle
var (
	ErrFeedNotFound     = errors.New("price feed not found")
	ErrPriceStale       = errors.New("price exceeds staleness bound")
	ErrInsufficientFee  = errors.New("insufficient update fee")
	ErrInvalidUpdate    = errors.New("malformed price update")
	ErrInvalidSignature = errors.New("invalid update signature")
)

// Price is a published price point. Expo scales Price: the real value is
// Price * 10^Expo, with Conf the confidence interval in the same scale.
type Price struct {
	Price       int64
	Conf        uint64
	Expo        int32
	PublishTime uint64
}

// Update is one feed observation awaiting signature.
type Update struct {
	FeedID [32]byte
	Price  Price
}

// SigningPayload returns the 60-byte prefix a publisher signs.
func (u Update) SigningPayload() []byte {
	buf := make([]byte, payloadLength)
	copy(buf[0:32], u.FeedID[:])
	binary.BigEndian.PutUint64(buf[32:40], uint64(u.Price.Price))
	binary.BigEndian.PutUint64(buf[40:48], u.Price.Conf)
	binary.BigEndian.PutUint32(buf[48:52], uint32(u.Price.Expo))
	binary.BigEndian.PutUint64(buf[52:60], u.Price.PublishTime)
	return buf
}

// SignUpdate produces submittable update bytes: payload plus the
// publisher's recoverable signature over its keccak256 digest.
func SignUpdate(u Update, key *ecdsa.PrivateKey) ([]byte, error) {
	payload := u.SigningPayload()
	digest := crypto.Keccak256(payload)
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, err
	}
	return append(payload, sig...), nil
}

// parseUpdate splits raw update bytes and recovers the signing address.
func parseUpdate(raw []byte) (Update, common.Address, error) {
	if len(raw) != updateLength {
		return Update{}, common.Address{}, ErrInvalidUpdate
	}

	var u Update
	copy(u.FeedID[:], raw[0:32])
	u.Price.Price = int64(binary.BigEndian.Uint64(raw[32:40]))
	u.Price.Conf = binary.BigEndian.Uint64(raw[40:48])
	u.Price.Expo = int32(binary.BigEndian.Uint32(raw[48:52]))
	u.Price.PublishTime = binary.BigEndian.Uint64(raw[52:60])

	digest := crypto.Keccak256(raw[:payloadLength])
	pubKey, err := crypto.SigToPub(digest, raw[payloadLength:])
	if err != nil {
		return Update{}, common.Address{}, ErrInvalidSignature
	}
	return u, common.PubkeyToAddress(*pubKey), nil
}

// Oracle stores the latest signed price per feed. Updates are fee-gated and
// must be signed by the trusted publisher; stale submissions (publish time
// not newer than the stored one) are skipped without error.
type Oracle struct {
	mu sync.RWMutex

	addr      common.Address
	ledger    *token.Ledger
	feeToken  common.Address
	updateFee *big.Int
	publisher common.Address

	feeds map[[32]byte]Price

	log log.Logger
	now func() uint64
}

// New creates an oracle. Fees are charged in feeToken, updateFee per update.
func New(ledger *token.Ledger, feeToken common.Address, publisher common.Address, updateFee *big.Int) *Oracle {
	return &Oracle{
		addr:      oracleAddr,
		ledger:    ledger,
		feeToken:  feeToken,
		updateFee: new(big.Int).Set(updateFee),
		publisher: publisher,
		feeds:     make(map[[32]byte]Price),
		log:       log.NewTestLogger(log.InfoLevel),
		now:       func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetNowFunc overrides the oracle clock, primarily for deterministic testing.
func (o *Oracle) SetNowFunc(now func() uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = now
}

// Address returns the oracle's fee account
func (o *Oracle) Address() common.Address {
	return o.addr
}

// FeeToken returns the token update fees are paid in.
func (o *Oracle) FeeToken() common.Address {
	return o.feeToken
}

// UpdateFee returns the fee required to apply the given updates.
func (o *Oracle) UpdateFee(updates [][]byte) *big.Int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return new(big.Int).Mul(o.updateFee, big.NewInt(int64(len(updates))))
}

// ApplyUpdate verifies and applies signed price updates. The payer is
// charged the full payment (the oracle keeps any excess over the fee, so
// callers forwarding third-party value should pass exactly UpdateFee).
// All updates are validated before any state or balance changes.
func (o *Oracle) ApplyUpdate(payer common.Address, updates [][]byte, payment *big.Int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	fee := new(big.Int).Mul(o.updateFee, big.NewInt(int64(len(updates))))
	if payment == nil || payment.Cmp(fee) < 0 {
		return ErrInsufficientFee
	}

	parsed := make([]Update, 0, len(updates))
	for _, raw := range updates {
		u, signer, err := parseUpdate(raw)
		if err != nil {
			return err
		}
		if signer != o.publisher {
			return ErrInvalidSignature
		}
		parsed = append(parsed, u)
	}

	if payment.Sign() > 0 {
		if err := o.ledger.Transfer(o.feeToken, payer, o.addr, payment); err != nil {
			return err
		}
	}

	for _, u := range parsed {
		stored, ok := o.feeds[u.FeedID]
		if ok && u.Price.PublishTime <= stored.PublishTime {
			continue
		}
		o.feeds[u.FeedID] = u.Price
	}
	return nil
}

// PriceNoOlderThan returns the feed's price if it was published within
// maxAge time units of now.
func (o *Oracle) PriceNoOlderThan(feedID [32]byte, maxAge uint64) (Price, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	price, ok := o.feeds[feedID]
	if !ok {
		return Price{}, ErrFeedNotFound
	}

	now := o.now()
	if now > price.PublishTime && now-price.PublishTime > maxAge {
		return Price{}, ErrPriceStale
	}
	return price, nil
}

// LatestPrice returns the feed's price without a staleness check.
func (o *Oracle) LatestPrice(feedID [32]byte) (Price, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	price, ok := o.feeds[feedID]
	if !ok {
		return Price{}, ErrFeedNotFound
	}
	return price, nil
}
