// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package darkpool implements a privacy-preserving batch swap hook on top
// of the pool engine. Users deposit plaintext funds and receive encrypted
// balances, then submit intents whose amount and direction stay hidden.
// A trusted relayer matches opposing intents off-chain; settlement moves
// the matched volume as confidential transfers and routes only the net
// remainder through the AMM, gated by a signed oracle price. Around every
// AMM trade the hook shuttles idle capital into and out of a lending
// venue so nothing sits unproductive between trades.
package darkpool

import (
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/darkpool/dex"
	"github.com/luxfi/darkpool/fhe"
	"github.com/luxfi/darkpool/fherc20"
	"github.com/luxfi/darkpool/lending"
	"github.com/luxfi/darkpool/oracle"
	"github.com/luxfi/darkpool/token"
)

// operatorNoExpiry marks an operator grant that never lapses.
const operatorNoExpiry = ^uint64(0)

// RebalanceStrategy is notified after every settlement net trade so an
// external component can rebalance inventory. Implementations run inside
// the settlement call; returning an error aborts it.
type RebalanceStrategy interface {
	OnNetSwap(key dex.PoolKey, netAmountIn *big.Int) error
}

// Hook is the batch intent-matching and settlement engine. It registers
// itself with the pool engine for BeforeSwap/AfterSwap callbacks and acts
// as the hook principal of every encrypted token it creates.
type Hook struct {
	mu     sync.Mutex
	inCall bool

	addr    common.Address
	owner   common.Address
	relayer common.Address

	engine   *dex.PoolManager
	ledger   *token.Ledger
	co       *fhe.Coprocessor
	px       *oracle.Oracle
	venue    lending.Venue     // nil disables the shuttle
	strategy RebalanceStrategy // nil disables the callback

	feedID      [32]byte
	maxPriceAge uint64

	reserves     map[[32]byte]*PoolReserves
	tokens       map[[32]byte]map[common.Address]*fherc20.Token
	tokensByAddr map[common.Address]*fherc20.Token
	intents      map[[32]byte]*Intent
	batches      map[[32]byte]*Batch
	activeBatch  map[[32]byte][32]byte
	batchSeq     map[[32]byte]uint64

	maxSwapAmount map[common.Address]*big.Int

	netOut *big.Int // transient net-swap output cell

	archive *Archive
	emitter Emitter
	log     log.Logger
	now     func() uint64
}

var (
	_ dex.Hooks  = (*Hook)(nil)
	_ dex.Locker = (*Hook)(nil)
)

// New derives the hook's address from the owner and salt, registers it
// with the pool engine, and wires the settlement archive over db. A nil
// db disables archiving.
func New(cfg Config, engine *dex.PoolManager, ledger *token.Ledger, co *fhe.Coprocessor, px *oracle.Oracle, db database.Database) (*Hook, error) {
	if err := cfg.Verify(); err != nil {
		return nil, err
	}

	h := &Hook{
		owner:         cfg.Owner,
		relayer:       cfg.Relayer,
		engine:        engine,
		ledger:        ledger,
		co:            co,
		px:            px,
		feedID:        cfg.FeedID,
		maxPriceAge:   cfg.maxPriceAge(),
		reserves:      make(map[[32]byte]*PoolReserves),
		tokens:        make(map[[32]byte]map[common.Address]*fherc20.Token),
		tokensByAddr:  make(map[common.Address]*fherc20.Token),
		intents:       make(map[[32]byte]*Intent),
		batches:       make(map[[32]byte]*Batch),
		activeBatch:   make(map[[32]byte][32]byte),
		batchSeq:      make(map[[32]byte]uint64),
		maxSwapAmount: make(map[common.Address]*big.Int),
		archive:       NewArchive(db),
		emitter:       NoopEmitter{},
		log:           log.NewTestLogger(log.InfoLevel),
		now:           func() uint64 { return uint64(time.Now().Unix()) },
	}
	h.addr = dex.GenerateHookAddress(cfg.Owner, cfg.Salt, h.Permissions())

	if err := engine.RegisterHooks(h.addr, h); err != nil {
		return nil, err
	}
	return h, nil
}

// Address returns the hook's derived address. The first two bytes encode
// its callback permissions.
func (h *Hook) Address() common.Address { return h.addr }

// Owner returns the administrative principal.
func (h *Hook) Owner() common.Address { return h.owner }

// Relayer returns the principal allowed to settle batches.
func (h *Hook) Relayer() common.Address { return h.relayer }

// Permissions implements dex.Hooks. The hook only needs the trade
// callbacks that drive the liquidity shuttle.
func (h *Hook) Permissions() dex.HookPermissions {
	return dex.HookPermissions{
		BeforeSwap: true,
		AfterSwap:  true,
	}
}

// SetNowFunc overrides the clock, for tests. The encrypted tokens the
// hook creates share this clock.
func (h *Hook) SetNowFunc(now func() uint64) {
	h.now = now
}

// SetEmitter routes events to sink. A nil sink restores the default.
func (h *Hook) SetEmitter(sink Emitter) {
	if sink == nil {
		h.emitter = NoopEmitter{}
		return
	}
	h.emitter = sink
}

// =========================================================================
// Reentrancy latch
// =========================================================================

// enter marks an entry point busy. Nested calls back into any latched
// entry point during an in-progress call fail instead of interleaving.
func (h *Hook) enter() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inCall {
		return ErrReentrantCall
	}
	h.inCall = true
	return nil
}

func (h *Hook) exit() {
	h.mu.Lock()
	h.inCall = false
	h.mu.Unlock()
}

// =========================================================================
// Pool lifecycle
// =========================================================================

// InitializePool creates the underlying AMM pool for a key bound to this
// hook and opens its reserve ledger.
func (h *Hook) InitializePool(key dex.PoolKey, sqrtPriceX96 *big.Int) (int32, error) {
	if key.Hooks != h.addr {
		return 0, ErrHookMismatch
	}
	tick, err := h.engine.Initialize(key, sqrtPriceX96)
	if err != nil {
		return 0, err
	}
	h.poolReserves(key.ID())
	return tick, nil
}

func (h *Hook) poolReserves(poolID [32]byte) *PoolReserves {
	r, ok := h.reserves[poolID]
	if !ok {
		r = newPoolReserves()
		h.reserves[poolID] = r
	}
	return r
}

// Reserves returns a copy of a pool's reserve ledger.
func (h *Hook) Reserves(poolID [32]byte) (PoolReserves, bool) {
	r, ok := h.reserves[poolID]
	if !ok {
		return PoolReserves{}, false
	}
	return PoolReserves{
		Currency0Reserve: new(big.Int).Set(r.Currency0Reserve),
		Currency1Reserve: new(big.Int).Set(r.Currency1Reserve),
		TotalDeposits:    new(big.Int).Set(r.TotalDeposits),
		TotalWithdrawals: new(big.Int).Set(r.TotalWithdrawals),
	}, true
}

// =========================================================================
// Encrypted token registry
// =========================================================================

// encryptedToken returns the pool's encrypted token for a currency,
// creating it on first use. The symbol is derived from the underlying
// token, with a placeholder when the lookup fails.
func (h *Hook) encryptedToken(poolID [32]byte, currency dex.Currency) (*fherc20.Token, error) {
	byCurrency := h.tokens[poolID]
	if byCurrency == nil {
		byCurrency = make(map[common.Address]*fherc20.Token)
		h.tokens[poolID] = byCurrency
	}
	if tok, ok := byCurrency[currency.Address]; ok {
		return tok, nil
	}

	symbol, err := h.ledger.Symbol(currency.Address)
	if err != nil || symbol == "" {
		symbol = "TOKEN"
	}
	name, err := h.ledger.Name(currency.Address)
	if err != nil || name == "" {
		name = "Token"
	}

	tok := fherc20.New(h.co, poolID, currency.Address, h.addr, "Encrypted "+name, "e"+symbol)
	tok.SetNowFunc(func() uint64 { return h.now() })
	byCurrency[currency.Address] = tok
	h.tokensByAddr[tok.Address()] = tok
	return tok, nil
}

func (h *Hook) lookupEncryptedToken(poolID [32]byte, currency dex.Currency) (*fherc20.Token, error) {
	tok, ok := h.tokens[poolID][currency.Address]
	if !ok {
		return nil, ErrEncryptedTokenNotFound
	}
	return tok, nil
}

// EncryptedToken returns the encrypted token backing a pool currency, if
// any deposit has created it.
func (h *Hook) EncryptedToken(key dex.PoolKey, currency dex.Currency) (*fherc20.Token, error) {
	return h.lookupEncryptedToken(key.ID(), currency)
}

// =========================================================================
// Deposit / Withdraw
// =========================================================================

// Deposit pulls plaintext funds from the caller into the hook's custody
// and mints the same amount into the pool's encrypted token.
func (h *Hook) Deposit(caller common.Address, key dex.PoolKey, currency dex.Currency, amount *big.Int) error {
	if err := h.enter(); err != nil {
		return err
	}
	defer h.exit()

	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if key.Hooks != h.addr {
		return ErrHookMismatch
	}
	if currency != key.Currency0 && currency != key.Currency1 {
		return ErrCurrencyNotInPool
	}

	poolID := key.ID()
	if err := h.ledger.Transfer(currency.Address, caller, h.addr, amount); err != nil {
		return err
	}

	tok, err := h.encryptedToken(poolID, currency)
	if err != nil {
		return err
	}
	handle, err := h.co.TrivialEncrypt(h.addr, amount, fhe.TypeEuint64)
	if err != nil {
		return err
	}
	if err := h.co.Allow(h.addr, handle, tok.Address()); err != nil {
		return err
	}
	if err := tok.Mint(h.addr, caller, handle); err != nil {
		return err
	}

	r := h.poolReserves(poolID)
	if currency == key.Currency0 {
		r.Currency0Reserve.Add(r.Currency0Reserve, amount)
	} else {
		r.Currency1Reserve.Add(r.Currency1Reserve, amount)
	}
	r.TotalDeposits.Add(r.TotalDeposits, amount)

	h.emitter.Emit(&Deposited{
		Pool:     poolID,
		Currency: currency.Address,
		Caller:   caller,
		Amount:   new(big.Int).Set(amount),
	})
	return nil
}

// Withdraw burns the caller's encrypted balance and pays the plaintext
// amount to recipient. The burn is fail-closed: an insufficient encrypted
// balance aborts before any plaintext moves.
func (h *Hook) Withdraw(caller common.Address, key dex.PoolKey, currency dex.Currency, amount *big.Int, recipient common.Address) error {
	if err := h.enter(); err != nil {
		return err
	}
	defer h.exit()

	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if recipient == (common.Address{}) {
		return ErrZeroAddress
	}
	if currency != key.Currency0 && currency != key.Currency1 {
		return ErrCurrencyNotInPool
	}

	poolID := key.ID()
	tok, err := h.lookupEncryptedToken(poolID, currency)
	if err != nil {
		return err
	}

	handle, err := h.co.TrivialEncrypt(h.addr, amount, fhe.TypeEuint64)
	if err != nil {
		return err
	}
	if err := h.co.Allow(h.addr, handle, tok.Address()); err != nil {
		return err
	}
	if err := tok.Burn(h.addr, caller, handle); err != nil {
		return err
	}

	r := h.poolReserves(poolID)
	if currency == key.Currency0 {
		r.Currency0Reserve.Sub(r.Currency0Reserve, amount)
	} else {
		r.Currency1Reserve.Sub(r.Currency1Reserve, amount)
	}
	r.TotalWithdrawals.Add(r.TotalWithdrawals, amount)

	if err := h.recallFromVenue(currency.Address, amount); err != nil {
		return err
	}
	if err := h.ledger.Transfer(currency.Address, h.addr, recipient, amount); err != nil {
		return err
	}

	h.emitter.Emit(&Withdrawn{
		Pool:      poolID,
		Currency:  currency.Address,
		Caller:    caller,
		Recipient: recipient,
		Amount:    new(big.Int).Set(amount),
	})
	return nil
}

// recallFromVenue tops the hook's balance of asset up to amount, pulling
// any shortfall back from the lending venue where the shuttle parked it.
func (h *Hook) recallFromVenue(asset common.Address, amount *big.Int) error {
	bal := h.ledger.BalanceOf(asset, h.addr)
	if bal.Cmp(amount) >= 0 || h.venue == nil {
		return nil
	}
	short := new(big.Int).Sub(amount, bal)
	return h.venue.Withdraw(asset, short, h.addr)
}

// =========================================================================
// Views
// =========================================================================

// GetIntent returns a stored intent.
func (h *Hook) GetIntent(id [32]byte) (*Intent, error) {
	intent, ok := h.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	return intent, nil
}

// GetBatch returns a stored batch.
func (h *Hook) GetBatch(id [32]byte) (*Batch, error) {
	batch, ok := h.batches[id]
	if !ok {
		return nil, ErrBatchNotFound
	}
	return batch, nil
}

// ActiveBatchID returns the open batch for a pool, if one exists.
func (h *Hook) ActiveBatchID(poolID [32]byte) ([32]byte, bool) {
	id, ok := h.activeBatch[poolID]
	return id, ok
}

// SettlementRecord loads the archived summary for a settled batch.
func (h *Hook) SettlementRecord(batchID [32]byte) (SettlementRecord, error) {
	return h.archive.Settlement(batchID)
}

// =========================================================================
// Administration
// =========================================================================

// SetRelayer replaces the settlement relayer.
func (h *Hook) SetRelayer(caller, relayer common.Address) error {
	if caller != h.owner {
		return ErrNotOwner
	}
	if relayer == (common.Address{}) {
		return ErrZeroAddress
	}
	h.relayer = relayer
	return nil
}

// SetLendingVenue points the shuttle at a venue. A nil venue disables
// shuttling entirely.
func (h *Hook) SetLendingVenue(caller common.Address, venue lending.Venue) error {
	if caller != h.owner {
		return ErrNotOwner
	}
	h.venue = venue
	return nil
}

// SetRebalanceStrategy installs the post-net-swap callback. Nil disables.
func (h *Hook) SetRebalanceStrategy(caller common.Address, strategy RebalanceStrategy) error {
	if caller != h.owner {
		return ErrNotOwner
	}
	h.strategy = strategy
	return nil
}

// SetMaxSwapAmount configures the per-currency shuttle circuit breaker.
// A nil or zero amount clears the cap.
func (h *Hook) SetMaxSwapAmount(caller, currency common.Address, amount *big.Int) error {
	if caller != h.owner {
		return ErrNotOwner
	}
	if amount == nil || amount.Sign() == 0 {
		delete(h.maxSwapAmount, currency)
		return nil
	}
	h.maxSwapAmount[currency] = new(big.Int).Set(amount)
	return nil
}

// SetPriceFeed changes the oracle feed consulted at settlement.
func (h *Hook) SetPriceFeed(caller common.Address, feedID [32]byte) error {
	if caller != h.owner {
		return ErrNotOwner
	}
	h.feedID = feedID
	return nil
}
