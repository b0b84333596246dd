// Package rfq owns the auction lifecycle: creating RFQs, collecting and
// validating maker quotes off the relay session, picking winners, and driving
// accepted quotes through the settlement bridge. Every RFQ carries its own
// locks; auctions on independent RFQs and vaults never contend.
package rfq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/covault/vaultrfq/internal/domain"
	"github.com/covault/vaultrfq/internal/pricing"
	"github.com/covault/vaultrfq/internal/relay"
	"github.com/covault/vaultrfq/internal/vault"
)

const (
	// persistTimeout bounds store and bus writes triggered from relay
	// callbacks, which carry no caller context.
	persistTimeout = 5 * time.Second

	// eventsChannel and eventsStream are the external fan-out targets.
	eventsChannel = "ch:rfq:events"
	eventsStream  = "rfq:events"

	// settleLockTTL bounds the per-vault settlement lock.
	settleLockTTL = 30 * time.Second
)

// RelayLink is the slice of the relay session the engine depends on.
// *relay.Session satisfies it; tests substitute a fake.
type RelayLink interface {
	CreateRFQ(msg relay.CreateRFQMessage) error
	SubscribeQuotes(rfqID string) error
	AcceptQuote(rfqID, quoteID string) error
	CancelRFQ(rfqID string) error
	Unsubscribe(rfqID string)
	State() relay.State
	OnQuote(h relay.QuoteHandler)
	OnStateChange(h relay.StateHandler)
}

// Settler submits the accepted quote to the ledger and returns a transaction
// reference. Implemented by the settlement bridge.
type Settler interface {
	Settle(ctx context.Context, v domain.Vault, r domain.RFQ, q domain.Quote) (string, error)
}

// QuoteCallback is the per-RFQ subscription slot.
type QuoteCallback func(domain.Quote)

// EventHandler observes the global event stream.
type EventHandler func(domain.Event)

// Config tunes quote validation and auction defaults.
type Config struct {
	// MaxDeviationBps bounds the gap between a quoted premium and fair value.
	MaxDeviationBps int64

	// RiskFreeRate is the annualized rate fed to Black-Scholes.
	RiskFreeRate float64

	// FallbackVol is used when the spot history is too short for a
	// historical estimate.
	FallbackVol float64

	// VolWindow is how many cached spot samples feed the historical
	// volatility estimate.
	VolWindow int

	// TradingDaysPerYear annualizes historical volatility.
	TradingDaysPerYear int

	// DefaultQuoteTimeout applies when RFQ params carry none.
	DefaultQuoteTimeout time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxDeviationBps:     pricing.DefaultMaxDeviationBps,
		RiskFreeRate:        0.05,
		FallbackVol:         0.6,
		VolWindow:           30,
		TradingDaysPerYear:  252,
		DefaultQuoteTimeout: 5 * time.Minute,
	}
}

// rfqState pairs one RFQ with its locks. mu guards the RFQ fields and is
// never held across I/O; acceptMu serializes accepts with every other
// transition out of open (cancel, expiry) so a settlement in flight cannot
// be undercut and a terminal status is never overwritten.
type rfqState struct {
	mu       sync.Mutex
	acceptMu sync.Mutex
	r        domain.RFQ
	callback QuoteCallback
}

// Engine is the RFQ negotiation engine.
type Engine struct {
	cfg     Config
	link    RelayLink
	book    *vault.Book
	settler Settler
	spot    domain.SpotCache
	store   domain.RFQStore    // optional
	bus     domain.EventBus    // optional
	locks   domain.LockManager // optional, multi-instance settlement guard
	logger  *slog.Logger

	mu   sync.RWMutex
	rfqs map[string]*rfqState

	handlerMu sync.RWMutex
	handlers  []EventHandler
}

// NewEngine wires an engine to its collaborators and registers the relay
// callbacks. store, bus, and locks may be nil.
func NewEngine(
	cfg Config,
	link RelayLink,
	book *vault.Book,
	settler Settler,
	spot domain.SpotCache,
	store domain.RFQStore,
	bus domain.EventBus,
	locks domain.LockManager,
	logger *slog.Logger,
) *Engine {
	if cfg.DefaultQuoteTimeout <= 0 {
		cfg.DefaultQuoteTimeout = 5 * time.Minute
	}

	e := &Engine{
		cfg:     cfg,
		link:    link,
		book:    book,
		settler: settler,
		spot:    spot,
		store:   store,
		bus:     bus,
		locks:   locks,
		logger:  logger.With(slog.String("component", "rfq_engine")),
		rfqs:    make(map[string]*rfqState),
	}

	link.OnQuote(e.handleQuote)
	link.OnStateChange(e.handleSessionState)

	return e
}

// CreateRFQ validates the auction parameters, registers the RFQ as open, and
// broadcasts it over the relay. New auctions are relay-dependent work: they
// are refused with domain.ErrRelayDown while the session is not connected.
func (e *Engine) CreateRFQ(ctx context.Context, params domain.RFQParams) (domain.RFQ, error) {
	if err := validateParams(params); err != nil {
		return domain.RFQ{}, err
	}
	if params.QuoteTimeout <= 0 {
		params.QuoteTimeout = e.cfg.DefaultQuoteTimeout
	}

	acct, err := e.book.Get(params.Asset)
	if err != nil {
		return domain.RFQ{}, err
	}
	if !acct.CanAcceptExposure(params.Notional()) {
		return domain.RFQ{}, fmt.Errorf(
			"rfq: notional %d over remaining capacity %d: %w",
			params.Notional(), acct.RemainingCapacity(), domain.ErrCapacityExceeded,
		)
	}

	if e.link.State() != relay.StateConnected {
		return domain.RFQ{}, fmt.Errorf("rfq: create: %w", domain.ErrRelayDown)
	}

	now := time.Now().UTC()
	r := domain.RFQ{
		ID:        uuid.New().String(),
		Params:    params,
		Status:    domain.RFQStatusOpen,
		CreatedAt: now,
	}

	if e.store != nil {
		if err := e.store.Create(ctx, r); err != nil {
			return domain.RFQ{}, fmt.Errorf("rfq: persist create: %w", err)
		}
	}

	e.mu.Lock()
	e.rfqs[r.ID] = &rfqState{r: r}
	e.mu.Unlock()

	msg := relay.CreateRFQMessage{
		RFQID:        r.ID,
		Underlying:   params.Asset,
		OptionType:   string(params.OptionType),
		Strike:       params.Strike(),
		Expiry:       params.Expiry.Unix(),
		Size:         params.Size(),
		PremiumFloor: float64(params.PremiumFloorTicks) / float64(domain.AmountScale),
		Timestamp:    now.Unix(),
	}
	if err := e.link.CreateRFQ(msg); err != nil {
		e.dropState(r.ID)
		e.persistTerminal(r.ID, domain.RFQStatusCancelled, nil)
		return domain.RFQ{}, fmt.Errorf("rfq: broadcast create: %w", err)
	}
	if err := e.link.SubscribeQuotes(r.ID); err != nil {
		e.dropState(r.ID)
		e.persistTerminal(r.ID, domain.RFQStatusCancelled, nil)
		if cerr := e.link.CancelRFQ(r.ID); cerr != nil {
			e.logger.Warn("relay cancel after failed subscribe",
				slog.String("rfq", r.ID), slog.String("error", cerr.Error()))
		}
		return domain.RFQ{}, fmt.Errorf("rfq: subscribe quotes: %w", err)
	}

	e.logger.Info("rfq created",
		slog.String("rfq", r.ID),
		slog.String("asset", params.Asset),
		slog.String("option", string(params.OptionType)),
		slog.Float64("strike", params.Strike()),
		slog.Time("deadline", r.Deadline()),
	)

	return r, nil
}

// SubscribeQuotes registers the per-RFQ callback slot. One callback per RFQ;
// registering again replaces the previous one.
func (e *Engine) SubscribeQuotes(rfqID string, cb QuoteCallback) error {
	st, err := e.state(rfqID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	st.callback = cb
	st.mu.Unlock()
	return nil
}

// UnsubscribeQuotes clears the per-RFQ callback slot.
func (e *Engine) UnsubscribeQuotes(rfqID string) error {
	st, err := e.state(rfqID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	st.callback = nil
	st.mu.Unlock()
	return nil
}

// ExecuteOption accepts a quote: it reserves vault capacity, notifies the
// relay, submits the settlement transaction, and marks the RFQ filled on
// terminal success. Competing calls for the same RFQ are serialized; exactly
// one wins and the rest observe a non-open status.
//
// The capacity reservation is the authoritative check: it happens atomically
// under the vault lock immediately before submission, so a vault that lost
// capacity since auction start rejects here with domain.ErrCapacityExceeded
// before anything is signed or sent.
func (e *Engine) ExecuteOption(ctx context.Context, rfqID, quoteID string) (domain.Fill, error) {
	st, err := e.state(rfqID)
	if err != nil {
		return domain.Fill{}, err
	}

	st.acceptMu.Lock()
	defer st.acceptMu.Unlock()

	now := time.Now().UTC()

	st.mu.Lock()
	if st.r.Status != domain.RFQStatusOpen {
		status := st.r.Status
		st.mu.Unlock()
		return domain.Fill{}, fmt.Errorf("rfq: %s is %s: %w", rfqID, status, domain.ErrRFQClosed)
	}
	if st.r.Expired(now) {
		st.mu.Unlock()
		e.expireLocked(st, now)
		return domain.Fill{}, fmt.Errorf("rfq: %s deadline passed: %w", rfqID, domain.ErrRFQClosed)
	}

	var quote domain.Quote
	found := false
	for _, q := range st.r.Quotes {
		if q.ID == quoteID {
			quote = q
			found = true
			break
		}
	}
	r := st.r
	st.mu.Unlock()

	if !found {
		return domain.Fill{}, fmt.Errorf("rfq: quote %s: %w", quoteID, domain.ErrNotFound)
	}
	if quote.Expired(now) {
		return domain.Fill{}, domain.NewValidationError("quoteId", "quote expired")
	}

	acct, err := e.book.Get(r.Params.Asset)
	if err != nil {
		return domain.Fill{}, err
	}

	// Serialize settlement per vault across engine instances.
	if e.locks != nil {
		release, err := e.locks.Acquire(ctx, "settle:"+r.Params.Asset, settleLockTTL)
		if err != nil {
			return domain.Fill{}, fmt.Errorf("rfq: settlement lock: %w", err)
		}
		defer release()
	}

	notional := r.Params.Notional()
	totalPremium := domain.MulDiv(quote.PremiumTicks, r.Params.SizeUnits, domain.AmountScale)

	// Authoritative capacity check and reservation in one step.
	if _, err := acct.RecordExposure(notional, totalPremium); err != nil {
		return domain.Fill{}, fmt.Errorf("rfq: accept %s: %w", rfqID, err)
	}

	// Past this point any failure must release the reservation.
	abort := func(cause error) (domain.Fill, error) {
		acct.ReleaseExposure(notional, totalPremium)
		return domain.Fill{}, cause
	}

	if err := e.link.AcceptQuote(rfqID, quoteID); err != nil {
		return abort(fmt.Errorf("rfq: notify relay: %w", err))
	}

	txRef, err := e.settler.Settle(ctx, acct.Snapshot(), r, quote)
	if err != nil {
		return abort(fmt.Errorf("rfq: settle %s: %w", rfqID, err))
	}

	fill := domain.Fill{
		QuoteID:      quote.ID,
		Counterparty: quote.Maker,
		PremiumTicks: quote.PremiumTicks,
		TxRef:        txRef,
		FilledAt:     now,
	}

	st.mu.Lock()
	st.r.Status = domain.RFQStatusFilled
	st.r.Fill = &fill
	st.callback = nil
	st.mu.Unlock()

	e.persistTerminal(rfqID, domain.RFQStatusFilled, &fill)
	e.link.Unsubscribe(rfqID)

	e.logger.Info("rfq filled",
		slog.String("rfq", rfqID),
		slog.String("quote", quoteID),
		slog.String("maker", quote.Maker),
		slog.String("tx", txRef),
	)

	e.emit(domain.Event{Type: domain.EventRFQFilled, RFQID: rfqID, Fill: &fill, At: now})

	return fill, nil
}

// CancelRFQ withdraws an open auction. It takes the accept lock first, so a
// cancel landing while ExecuteOption is mid-settlement waits for the accept
// to finish and then observes the filled status; an accept arriving after
// the cancel observes cancelled. A quote racing in concurrently loses and is
// discarded. The local transition succeeds even while the relay is down.
func (e *Engine) CancelRFQ(rfqID string) error {
	st, err := e.state(rfqID)
	if err != nil {
		return err
	}

	st.acceptMu.Lock()
	defer st.acceptMu.Unlock()

	now := time.Now().UTC()

	st.mu.Lock()
	if st.r.Status != domain.RFQStatusOpen {
		status := st.r.Status
		st.mu.Unlock()
		return fmt.Errorf("rfq: %s is %s: %w", rfqID, status, domain.ErrRFQClosed)
	}
	st.r.Status = domain.RFQStatusCancelled
	st.callback = nil
	st.mu.Unlock()

	e.persistTerminal(rfqID, domain.RFQStatusCancelled, nil)

	if err := e.link.CancelRFQ(rfqID); err != nil {
		// The RFQ is cancelled locally regardless; makers will see their
		// quotes dropped and the relay cleans up on its own timeout.
		e.logger.Warn("relay cancel notification failed",
			slog.String("rfq", rfqID),
			slog.String("error", err.Error()),
		)
	}

	e.logger.Info("rfq cancelled", slog.String("rfq", rfqID))
	e.emit(domain.Event{Type: domain.EventRFQCancelled, RFQID: rfqID, At: now})
	return nil
}

// ExpireDue transitions every open RFQ whose deadline has passed. The caller
// drives it (the app runs a ticker); quote intake and accept also check
// deadlines lazily, so the guarantee does not depend on the ticker's period.
// Returns the IDs expired in this pass.
func (e *Engine) ExpireDue(now time.Time) []string {
	e.mu.RLock()
	states := make([]*rfqState, 0, len(e.rfqs))
	for _, st := range e.rfqs {
		states = append(states, st)
	}
	e.mu.RUnlock()

	var expired []string
	for _, st := range states {
		st.mu.Lock()
		due := st.r.Status == domain.RFQStatusOpen && st.r.Expired(now)
		id := st.r.ID
		st.mu.Unlock()

		if due {
			e.expire(st, now)
			expired = append(expired, id)
		}
	}
	return expired
}

// GetRFQ returns a copy of one RFQ.
func (e *Engine) GetRFQ(rfqID string) (domain.RFQ, error) {
	st, err := e.state(rfqID)
	if err != nil {
		return domain.RFQ{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return copyRFQ(st.r), nil
}

// GetAllRFQs returns copies of every registered RFQ, newest first.
func (e *Engine) GetAllRFQs() []domain.RFQ {
	e.mu.RLock()
	states := make([]*rfqState, 0, len(e.rfqs))
	for _, st := range e.rfqs {
		states = append(states, st)
	}
	e.mu.RUnlock()

	out := make([]domain.RFQ, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, copyRFQ(st.r))
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// OnEvent registers a handler on the global event stream. Handlers run
// synchronously on the emitting goroutine and must not block.
func (e *Engine) OnEvent(h EventHandler) {
	e.handlerMu.Lock()
	defer e.handlerMu.Unlock()
	e.handlers = append(e.handlers, h)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

func (e *Engine) state(rfqID string) (*rfqState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st, ok := e.rfqs[rfqID]
	if !ok {
		return nil, fmt.Errorf("rfq: %s: %w", rfqID, domain.ErrNotFound)
	}
	return st, nil
}

func (e *Engine) dropState(rfqID string) {
	e.mu.Lock()
	delete(e.rfqs, rfqID)
	e.mu.Unlock()
}

// handleQuote runs on the relay read goroutine for every inbound quote. The
// quote is appended only while the RFQ is open and only when it survives
// premium-floor and fair-value validation; everything else is logged and
// dropped without being stored.
func (e *Engine) handleQuote(msg relay.QuoteMessage) {
	st, err := e.state(msg.RFQID)
	if err != nil {
		e.logger.Warn("dropping quote for unknown rfq", slog.String("rfq", msg.RFQID))
		return
	}

	now := time.Now().UTC()

	st.mu.Lock()
	if st.r.Status != domain.RFQStatusOpen {
		status := st.r.Status
		st.mu.Unlock()
		e.logger.Info("dropping late quote",
			slog.String("rfq", msg.RFQID),
			slog.String("quote", msg.QuoteID),
			slog.String("status", string(status)),
		)
		return
	}
	if st.r.Expired(now) {
		st.mu.Unlock()
		e.expire(st, now)
		e.logger.Info("dropping quote past deadline",
			slog.String("rfq", msg.RFQID),
			slog.String("quote", msg.QuoteID),
		)
		return
	}
	params := st.r.Params
	st.mu.Unlock()

	if msg.Premium < 0 {
		e.logger.Warn("dropping quote with negative premium",
			slog.String("rfq", msg.RFQID), slog.String("quote", msg.QuoteID))
		return
	}

	premiumTicks := domain.ToTicks(msg.Premium)
	if premiumTicks < params.PremiumFloorTicks {
		e.logger.Info("dropping quote below premium floor",
			slog.String("rfq", msg.RFQID),
			slog.String("quote", msg.QuoteID),
			slog.Float64("premium", msg.Premium),
		)
		return
	}

	if reason, ok := e.checkFairValue(msg.Premium, params, now); !ok {
		e.logger.Info("dropping quote off fair value",
			slog.String("rfq", msg.RFQID),
			slog.String("quote", msg.QuoteID),
			slog.String("reason", reason),
		)
		return
	}

	q := domain.Quote{
		ID:                msg.QuoteID,
		RFQID:             msg.RFQID,
		Maker:             msg.Maker,
		SettlementAccount: msg.SettlementAccount,
		PremiumTicks:      premiumTicks,
		ReceivedAt:        now,
	}
	if msg.ExpiresAt > 0 {
		q.ExpiresAt = time.Unix(msg.ExpiresAt, 0).UTC()
	}

	// Append under the lock; a cancel that won the race since the check
	// above flips the status first, so re-verify.
	st.mu.Lock()
	if st.r.Status != domain.RFQStatusOpen {
		st.mu.Unlock()
		e.logger.Info("dropping quote, rfq closed during validation",
			slog.String("rfq", msg.RFQID), slog.String("quote", msg.QuoteID))
		return
	}
	st.r.Quotes = append(st.r.Quotes, q)
	cb := st.callback
	st.mu.Unlock()

	if e.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := e.store.AppendQuote(ctx, msg.RFQID, q); err != nil {
			e.logger.Error("persist quote failed",
				slog.String("rfq", msg.RFQID), slog.String("error", err.Error()))
		}
		cancel()
	}

	if cb != nil {
		cb(q)
	}

	e.emit(domain.Event{Type: domain.EventQuoteReceived, RFQID: msg.RFQID, Quote: &q, At: now})
}

// checkFairValue prices the RFQ's contract off cached spot and compares the
// quoted premium. A missing spot price or unpriceable contract rejects the
// quote; fair value is never fabricated.
func (e *Engine) checkFairValue(quoted float64, params domain.RFQParams, now time.Time) (string, bool) {
	spot, _, err := e.spot.GetSpot(context.Background(), params.Asset)
	if err != nil {
		return "no spot price for " + params.Asset, false
	}

	vol := e.cfg.FallbackVol
	if history, err := e.spot.History(context.Background(), params.Asset, e.cfg.VolWindow); err == nil {
		if hv, err := pricing.HistoricalVolatility(history, e.cfg.TradingDaysPerYear); err == nil && hv > 0 {
			vol = hv
		}
	}

	tte := params.Expiry.Sub(now).Hours() / (24 * 365)
	res, err := pricing.BlackScholes(spot, params.Strike(), tte, e.cfg.RiskFreeRate, vol)
	if err != nil {
		return "unpriceable contract: " + err.Error(), false
	}

	fair := res.Call
	if params.OptionType == domain.OptionPut {
		fair = res.Put
	}

	check := pricing.ValidateQuote(quoted, fair, e.cfg.MaxDeviationBps)
	if !check.Valid {
		return check.Reason, false
	}
	return "", true
}

// handleSessionState forwards terminal relay failures onto the event stream.
// Open RFQs are left alone: they keep expiring on their own deadlines and
// resume receiving quotes if the session comes back.
func (e *Engine) handleSessionState(state relay.State, err error) {
	if state != relay.StateDown {
		return
	}

	detail := "relay connection failed"
	if err != nil {
		detail = err.Error()
	}
	e.logger.Error("relay session down", slog.String("error", detail))
	e.emit(domain.Event{Type: domain.EventConnectionError, Detail: detail, At: time.Now().UTC()})
}

// expire transitions one RFQ to expired if it is still open, waiting out any
// accept in flight.
func (e *Engine) expire(st *rfqState, now time.Time) {
	st.acceptMu.Lock()
	defer st.acceptMu.Unlock()
	e.expireLocked(st, now)
}

// expireLocked is expire for callers already holding st.acceptMu.
func (e *Engine) expireLocked(st *rfqState, now time.Time) {
	st.mu.Lock()
	if st.r.Status != domain.RFQStatusOpen {
		st.mu.Unlock()
		return
	}
	st.r.Status = domain.RFQStatusExpired
	st.callback = nil
	id := st.r.ID
	st.mu.Unlock()

	e.persistTerminal(id, domain.RFQStatusExpired, nil)
	e.link.Unsubscribe(id)

	e.logger.Info("rfq expired", slog.String("rfq", id))
	e.emit(domain.Event{Type: domain.EventRFQExpired, RFQID: id, At: now})
}

// persistTerminal records a terminal transition in the store.
func (e *Engine) persistTerminal(rfqID string, status domain.RFQStatus, fill *domain.Fill) {
	if e.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if fill != nil {
		if err := e.store.SetFill(ctx, rfqID, *fill); err != nil {
			e.logger.Error("persist fill failed",
				slog.String("rfq", rfqID), slog.String("error", err.Error()))
		}
	}
	if err := e.store.UpdateStatus(ctx, rfqID, status); err != nil {
		e.logger.Error("persist status failed",
			slog.String("rfq", rfqID), slog.String("error", err.Error()))
	}
}

// emit dispatches an event to in-memory handlers synchronously and mirrors it
// to the external bus without blocking the caller.
func (e *Engine) emit(ev domain.Event) {
	e.handlerMu.RLock()
	handlers := make([]EventHandler, len(e.handlers))
	copy(handlers, e.handlers)
	e.handlerMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}

	if e.bus == nil {
		return
	}
	go func() {
		payload, err := json.Marshal(ev)
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := e.bus.Publish(ctx, eventsChannel, payload); err != nil {
			e.logger.Warn("event publish failed", slog.String("error", err.Error()))
		}
		if err := e.bus.StreamAppend(ctx, eventsStream, payload); err != nil {
			e.logger.Warn("event stream append failed", slog.String("error", err.Error()))
		}
	}()
}

// validateParams fails fast with a field-named error on the first invalid
// parameter.
func validateParams(p domain.RFQParams) error {
	if p.Asset == "" {
		return domain.NewValidationError("asset", "must not be empty")
	}
	if p.Side != domain.SideBuy && p.Side != domain.SideSell {
		return domain.NewValidationError("side", "must be buy or sell")
	}
	if p.OptionType != domain.OptionCall && p.OptionType != domain.OptionPut {
		return domain.NewValidationError("optionType", "must be call or put")
	}
	if p.StrikeTicks <= 0 {
		return domain.NewValidationError("strike", "must be positive")
	}
	if !p.Expiry.After(time.Now()) {
		return domain.NewValidationError("expiry", "must be in the future")
	}
	if p.SizeUnits <= 0 {
		return domain.NewValidationError("quantity", "must be positive")
	}
	if p.VaultAddress == "" || !isHexAddress(p.VaultAddress) {
		return domain.NewValidationError("vaultAddress", "must be a 0x-prefixed 20-byte hex address")
	}
	if p.PremiumFloorTicks < 0 {
		return domain.NewValidationError("premiumFloor", "must be non-negative")
	}
	if p.MinQuotes < 0 {
		return domain.NewValidationError("minQuotes", "must be non-negative")
	}
	return nil
}

func isHexAddress(s string) bool {
	if len(s) != 42 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// AsValidationError unwraps err into a *domain.ValidationError when possible.
func AsValidationError(err error) (*domain.ValidationError, bool) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// copyRFQ deep-copies the quote slice so callers cannot mutate engine state.
func copyRFQ(r domain.RFQ) domain.RFQ {
	out := r
	out.Quotes = make([]domain.Quote, len(r.Quotes))
	copy(out.Quotes, r.Quotes)
	if r.Fill != nil {
		f := *r.Fill
		out.Fill = &f
	}
	return out
}
