// Package portfolio owns the open positions of a session and the statistics
// derived from their closes.
//
// The Tracker is the only writer of Position fields. Every lifecycle step
// (open, break-even, partial close, close, gateway-reported close) goes
// through it, and other components see PositionView copies.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"goldscalper/internal/execution"
	"goldscalper/internal/model"
)

var (
	// ErrCapacityExceeded means opening would exceed the concurrent
	// position cap. No position is created.
	ErrCapacityExceeded = errors.New("portfolio: capacity exceeded")

	// ErrInFlight means a gateway call for the position is outstanding.
	ErrInFlight = errors.New("portfolio: gateway call in flight")

	// ErrUnknownPosition means no active position matches the identifier.
	ErrUnknownPosition = errors.New("portfolio: unknown position")

	// ErrInvalidLevels means stop-loss or take-profit sit on the wrong side
	// of entry.
	ErrInvalidLevels = errors.New("portfolio: protective levels on wrong side of entry")

	// ErrAlreadyApplied means a one-time adjustment was already made.
	ErrAlreadyApplied = errors.New("portfolio: adjustment already applied")

	// ErrTicketReused means the gateway returned a ticket seen before.
	ErrTicketReused = errors.New("portfolio: ticket reused")
)

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	MaxConcurrentPositions int
	Instrument             model.Instrument
	// CallTimeout bounds each gateway call. Zero means no extra deadline.
	CallTimeout time.Duration
	// Clock stamps pending orders. Defaults to time.Now.
	Clock func() time.Time
}

type entry struct {
	pos      model.Position
	inFlight bool
	since    time.Time // when the order was submitted or restored
}

// PendingOrder is a submitted order still waiting for a fill.
type PendingOrder struct {
	OrderID string
	Side    model.Side
	Since   time.Time
}

// Tracker tracks all positions of one session. Its mutex is the session's
// single mutual-exclusion boundary for positions and statistics. It is
// released while a gateway call is outstanding; the position is marked in
// flight instead.
type Tracker struct {
	mu  sync.Mutex
	gw  execution.Gateway
	cfg TrackerConfig

	positions map[string]*entry // key = client order id
	byTicket  map[string]string // ticket → client order id
	closed    map[string]struct{}
	stats     *Stats

	lastEntry map[model.Side]time.Time
	lastLoss  time.Time
}

// NewTracker creates a Tracker recording into stats.
func NewTracker(gw execution.Gateway, stats *Stats, cfg TrackerConfig) *Tracker {
	if cfg.Instrument.Symbol == "" {
		cfg.Instrument = model.XAUUSD()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Tracker{
		gw:        gw,
		cfg:       cfg,
		positions: make(map[string]*entry),
		byTicket:  make(map[string]string),
		closed:    make(map[string]struct{}),
		stats:     stats,
		lastEntry: make(map[model.Side]time.Time),
	}
}

// Open submits an entry decision. The position is Pending (and counts toward
// the cap) from the moment it is created until the gateway confirms it.
//
// On a gateway timeout the position stays Pending and is returned together
// with the error; resolve it with ConfirmFill or Abandon. Any other gateway
// error discards it.
func (t *Tracker) Open(ctx context.Context, d model.Decision) (model.Position, error) {
	if !d.IsEntry() {
		return model.Position{}, fmt.Errorf("portfolio: open with %s decision", d.Kind)
	}
	if !model.ProtectiveLevelsValid(d.Side, d.Entry, d.StopLoss, d.TakeProfit) {
		return model.Position{}, fmt.Errorf("%w: %s entry=%d sl=%d tp=%d", ErrInvalidLevels, d.Side, d.Entry, d.StopLoss, d.TakeProfit)
	}

	t.mu.Lock()
	if n := len(t.positions); n >= t.cfg.MaxConcurrentPositions {
		t.mu.Unlock()
		return model.Position{}, fmt.Errorf("%w: %d of %d", ErrCapacityExceeded, n, t.cfg.MaxConcurrentPositions)
	}
	id := uuid.NewString()
	e := &entry{
		pos: model.Position{
			OrderID:    id,
			Side:       d.Side,
			EntryPrice: d.Entry,
			StopLoss:   d.StopLoss,
			TakeProfit: d.TakeProfit,
			LotSize:    t.cfg.Instrument.NormalizeLots(d.LotSize),
			State:      model.StatePending,
			Reason:     d.Reason,
		},
		inFlight: true,
		since:    t.cfg.Clock(),
	}
	t.positions[id] = e
	req := execution.OrderRequest{
		ClientID:   id,
		Symbol:     t.cfg.Instrument.Symbol,
		Side:       d.Side,
		LotSize:    e.pos.LotSize,
		Price:      d.Entry,
		StopLoss:   d.StopLoss,
		TakeProfit: d.TakeProfit,
		Comment:    d.Reason,
	}
	t.mu.Unlock()

	cctx, cancel := t.callContext(ctx)
	fill, err := t.gw.SubmitOrder(cctx, req)
	cancel()

	t.mu.Lock()
	defer t.mu.Unlock()
	e.inFlight = false
	if err != nil {
		err = execution.Wrap("submit", "", id, err)
		if execution.IsTimeout(err) {
			return e.pos, err
		}
		delete(t.positions, id)
		return model.Position{}, err
	}
	if err := t.fillLocked(e, fill); err != nil {
		delete(t.positions, id)
		return model.Position{}, err
	}
	return e.pos, nil
}

// ConfirmFill promotes a Pending position left behind by a timed-out submit.
func (t *Tracker) ConfirmFill(orderID string, fill execution.Fill) (model.Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.positions[orderID]
	if !ok || e.pos.State != model.StatePending {
		return model.Position{}, fmt.Errorf("%w: pending order %s", ErrUnknownPosition, orderID)
	}
	if e.inFlight {
		return e.pos, fmt.Errorf("%w: order %s", ErrInFlight, orderID)
	}
	if err := t.fillLocked(e, fill); err != nil {
		return e.pos, err
	}
	return e.pos, nil
}

// Pending lists the Pending orders not currently in flight, oldest first.
func (t *Tracker) Pending() []PendingOrder {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []PendingOrder
	for _, e := range t.positions {
		if e.pos.State == model.StatePending && !e.inFlight {
			out = append(out, PendingOrder{OrderID: e.pos.OrderID, Side: e.pos.Side, Since: e.since})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}

// Abandon drops a Pending position that the gateway never filled.
func (t *Tracker) Abandon(orderID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.positions[orderID]
	if !ok || e.pos.State != model.StatePending {
		return fmt.Errorf("%w: pending order %s", ErrUnknownPosition, orderID)
	}
	if e.inFlight {
		return fmt.Errorf("%w: order %s", ErrInFlight, orderID)
	}
	delete(t.positions, orderID)
	return nil
}

func (t *Tracker) fillLocked(e *entry, fill execution.Fill) error {
	if fill.Ticket == "" {
		return fmt.Errorf("portfolio: fill for %s without ticket", e.pos.OrderID)
	}
	if _, seen := t.closed[fill.Ticket]; seen {
		return fmt.Errorf("%w: %s", ErrTicketReused, fill.Ticket)
	}
	if _, seen := t.byTicket[fill.Ticket]; seen {
		return fmt.Errorf("%w: %s", ErrTicketReused, fill.Ticket)
	}
	e.pos.Ticket = fill.Ticket
	if fill.Price > 0 {
		e.pos.EntryPrice = fill.Price
	}
	if fill.LotSize.IsPositive() {
		e.pos.LotSize = fill.LotSize
	}
	e.pos.OpenedAt = fill.FilledAt
	e.pos.State = model.StateOpen
	t.byTicket[fill.Ticket] = e.pos.OrderID
	t.lastEntry[e.pos.Side] = fill.FilledAt
	t.stats.RecordOpen()
	return nil
}

// begin marks the active position for ticket as in flight.
func (t *Tracker) begin(ticket string) (*entry, error) {
	id, ok := t.byTicket[ticket]
	if !ok {
		return nil, fmt.Errorf("%w: ticket %s", ErrUnknownPosition, ticket)
	}
	e := t.positions[id]
	if e.inFlight {
		return nil, fmt.Errorf("%w: ticket %s", ErrInFlight, ticket)
	}
	e.inFlight = true
	return e, nil
}

// end clears the in-flight mark. Returns false if the position was closed by
// a gateway report while the call was outstanding.
func (t *Tracker) end(ticket string) (*entry, bool) {
	id, ok := t.byTicket[ticket]
	if !ok {
		return nil, false
	}
	e := t.positions[id]
	e.inFlight = false
	return e, true
}

// PromoteBreakEven moves the stop-loss to the entry price. It applies at most
// once per position; later calls return ErrAlreadyApplied.
func (t *Tracker) PromoteBreakEven(ctx context.Context, ticket string) (model.Position, error) {
	t.mu.Lock()
	e, err := t.begin(ticket)
	if err != nil {
		t.mu.Unlock()
		return model.Position{}, err
	}
	if e.pos.BreakEvenApplied {
		e.inFlight = false
		t.mu.Unlock()
		return e.pos, fmt.Errorf("%w: break-even on %s", ErrAlreadyApplied, ticket)
	}
	stop := e.pos.EntryPrice
	if !model.ProtectiveLevelsValid(e.pos.Side, e.pos.EntryPrice, stop, e.pos.TakeProfit) {
		e.inFlight = false
		t.mu.Unlock()
		return e.pos, fmt.Errorf("%w: break-even stop %d", ErrInvalidLevels, stop)
	}
	t.mu.Unlock()

	cctx, cancel := t.callContext(ctx)
	_, err = t.gw.ModifyOrder(cctx, ticket, execution.Modification{StopLoss: stop})
	cancel()

	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.end(ticket)
	if err != nil {
		return model.Position{}, execution.Wrap("modify", ticket, "", err)
	}
	if !ok {
		return model.Position{}, fmt.Errorf("%w: ticket %s closed during modify", ErrUnknownPosition, ticket)
	}
	e.pos.StopLoss = stop
	e.pos.BreakEvenApplied = true
	return e.pos, nil
}

// TrailStop moves the stop-loss to stop if that tightens it. The stop may
// reach entry but not pass it; reaching entry counts as break-even.
func (t *Tracker) TrailStop(ctx context.Context, ticket string, stop int64) (model.Position, error) {
	t.mu.Lock()
	e, err := t.begin(ticket)
	if err != nil {
		t.mu.Unlock()
		return model.Position{}, err
	}
	p := e.pos
	if !model.ProtectiveLevelsValid(p.Side, p.EntryPrice, stop, p.TakeProfit) {
		e.inFlight = false
		t.mu.Unlock()
		return p, fmt.Errorf("%w: trailing stop %d", ErrInvalidLevels, stop)
	}
	if p.StopLoss != 0 && (stop-p.StopLoss)*p.Side.Sign() <= 0 {
		e.inFlight = false
		t.mu.Unlock()
		return p, fmt.Errorf("%w: stop %d on %s already at or beyond %d", ErrAlreadyApplied, p.StopLoss, ticket, stop)
	}
	t.mu.Unlock()

	cctx, cancel := t.callContext(ctx)
	_, err = t.gw.ModifyOrder(cctx, ticket, execution.Modification{StopLoss: stop})
	cancel()

	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.end(ticket)
	if err != nil {
		return model.Position{}, execution.Wrap("modify", ticket, "", err)
	}
	if !ok {
		return model.Position{}, fmt.Errorf("%w: ticket %s closed during modify", ErrUnknownPosition, ticket)
	}
	e.pos.StopLoss = stop
	if stop == e.pos.EntryPrice {
		e.pos.BreakEvenApplied = true
	}
	return e.pos, nil
}

// PartialClose closes fraction of the position's lots, once per position.
// Returns the gateway acknowledgement.
func (t *Tracker) PartialClose(ctx context.Context, ticket string, fraction decimal.Decimal) (execution.Ack, error) {
	if !fraction.IsPositive() || fraction.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return execution.Ack{}, fmt.Errorf("portfolio: partial close fraction %s outside (0, 1)", fraction)
	}
	t.mu.Lock()
	e, err := t.begin(ticket)
	if err != nil {
		t.mu.Unlock()
		return execution.Ack{}, err
	}
	if e.pos.PartialClosed {
		e.inFlight = false
		t.mu.Unlock()
		return execution.Ack{}, fmt.Errorf("%w: partial close on %s", ErrAlreadyApplied, ticket)
	}
	t.mu.Unlock()

	cctx, cancel := t.callContext(ctx)
	ack, err := t.gw.ModifyOrder(cctx, ticket, execution.Modification{CloseFraction: fraction})
	cancel()

	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.end(ticket)
	if err != nil {
		return execution.Ack{}, execution.Wrap("modify", ticket, "", err)
	}
	if !ok {
		return ack, fmt.Errorf("%w: ticket %s closed during partial close", ErrUnknownPosition, ticket)
	}
	if ack.RemainingLots.IsPositive() {
		e.pos.LotSize = ack.RemainingLots
	} else {
		e.pos.LotSize = e.pos.LotSize.Sub(ack.ClosedLots)
	}
	e.pos.PartialClosed = true
	e.pos.State = model.StatePartiallyClosed
	return ack, nil
}

// Close closes the position through the gateway and records the trade.
func (t *Tracker) Close(ctx context.Context, ticket, reason string) (model.ClosedTrade, error) {
	t.mu.Lock()
	if _, err := t.begin(ticket); err != nil {
		t.mu.Unlock()
		return model.ClosedTrade{}, err
	}
	t.mu.Unlock()

	cctx, cancel := t.callContext(ctx)
	tr, err := t.gw.CloseOrder(cctx, ticket)
	cancel()

	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.end(ticket)
	if err != nil {
		return model.ClosedTrade{}, execution.Wrap("close", ticket, "", err)
	}
	if !ok {
		// A gateway report already closed and recorded it.
		return tr, nil
	}
	if reason != "" {
		tr.CloseReason = reason
	}
	t.finishLocked(e, &tr)
	return tr, nil
}

// HandleGatewayClose applies a closure the gateway initiated (stop-loss or
// take-profit hit). Unknown and already-closed tickets are ignored; the
// return value reports whether the trade was applied.
func (t *Tracker) HandleGatewayClose(tr model.ClosedTrade) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byTicket[tr.Ticket]
	if !ok {
		return false
	}
	if tr.CloseReason == "" {
		tr.CloseReason = model.CloseGateway
	}
	t.finishLocked(t.positions[id], &tr)
	return true
}

func (t *Tracker) finishLocked(e *entry, tr *model.ClosedTrade) {
	if tr.Side == "" {
		tr.Side = e.pos.Side
	}
	if tr.EntryPrice == 0 {
		tr.EntryPrice = e.pos.EntryPrice
	}
	if tr.OpenedAt.IsZero() {
		tr.OpenedAt = e.pos.OpenedAt
	}
	e.pos.State = model.StateClosed
	delete(t.positions, e.pos.OrderID)
	delete(t.byTicket, e.pos.Ticket)
	t.closed[e.pos.Ticket] = struct{}{}
	if t.stats.RecordClose(*tr) && tr.PnL.IsNegative() && tr.ClosedAt.After(t.lastLoss) {
		t.lastLoss = tr.ClosedAt
	}
}

func (t *Tracker) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.cfg.CallTimeout > 0 {
		return context.WithTimeout(ctx, t.cfg.CallTimeout)
	}
	return context.WithCancel(ctx)
}

// Views returns read-only copies of all non-closed positions, oldest first.
func (t *Tracker) Views() []model.PositionView {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.PositionView, 0, len(t.positions))
	for _, e := range t.positions {
		out = append(out, model.PositionView{Position: e.pos, InFlight: e.inFlight})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out
}

// Count returns the number of non-closed positions, pending included.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.positions)
}

// Position returns the active position for ticket.
func (t *Tracker) Position(ticket string) (model.Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byTicket[ticket]
	if !ok {
		return model.Position{}, false
	}
	return t.positions[id].pos, true
}

// Stats returns a copy of the session statistics.
func (t *Tracker) Stats() SessionStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats.Snapshot()
}

// Activity returns the latest fill time per side and the latest losing close.
func (t *Tracker) Activity() (lastLong, lastShort, lastLoss time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastEntry[model.SideLong], t.lastEntry[model.SideShort], t.lastLoss
}

// State is the persisted form of a session's positions and statistics.
type State struct {
	Stats          SessionStats     `json:"stats"`
	Positions      []model.Position `json:"positions"`
	ClosedTickets  []string         `json:"closed_tickets"`
	LastLongEntry  time.Time        `json:"last_long_entry"`
	LastShortEntry time.Time        `json:"last_short_entry"`
	LastLossClose  time.Time        `json:"last_loss_close"`
}

// Snapshot captures the tracker for persistence.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := State{
		Stats:          t.stats.Snapshot(),
		Positions:      make([]model.Position, 0, len(t.positions)),
		LastLongEntry:  t.lastEntry[model.SideLong],
		LastShortEntry: t.lastEntry[model.SideShort],
		LastLossClose:  t.lastLoss,
	}
	for _, e := range t.positions {
		st.Positions = append(st.Positions, e.pos)
	}
	sort.Slice(st.Positions, func(i, j int) bool { return st.Positions[i].OrderID < st.Positions[j].OrderID })
	for tk := range t.closed {
		st.ClosedTickets = append(st.ClosedTickets, tk)
	}
	sort.Strings(st.ClosedTickets)
	return st
}

// Restore replaces the tracker contents with a persisted State. Only valid
// before the session starts trading.
func (t *Tracker) Restore(st State) error {
	active := 0
	for _, p := range st.Positions {
		if p.State != model.StateClosed {
			active++
		}
	}
	if active > t.cfg.MaxConcurrentPositions {
		return fmt.Errorf("%w: restoring %d positions with cap %d", ErrCapacityExceeded, active, t.cfg.MaxConcurrentPositions)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	positions := make(map[string]*entry, len(st.Positions))
	byTicket := make(map[string]string, len(st.Positions))
	for _, p := range st.Positions {
		if p.State == model.StateClosed {
			continue
		}
		if p.OrderID == "" {
			p.OrderID = uuid.NewString()
		}
		if !model.ProtectiveLevelsValid(p.Side, p.EntryPrice, p.StopLoss, p.TakeProfit) {
			return fmt.Errorf("%w: restored ticket %s", ErrInvalidLevels, p.Ticket)
		}
		positions[p.OrderID] = &entry{pos: p, since: t.cfg.Clock()}
		if p.Ticket != "" {
			byTicket[p.Ticket] = p.OrderID
		}
	}
	closed := make(map[string]struct{}, len(st.ClosedTickets))
	for _, tk := range st.ClosedTickets {
		closed[tk] = struct{}{}
	}

	t.positions, t.byTicket, t.closed = positions, byTicket, closed
	t.stats.Restore(st.Stats, st.ClosedTickets)
	t.lastEntry = map[model.Side]time.Time{model.SideLong: st.LastLongEntry, model.SideShort: st.LastShortEntry}
	t.lastLoss = st.LastLossClose
	return nil
}
