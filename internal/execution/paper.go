package execution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"goldscalper/internal/model"
)

// PaperConfig controls the fill simulation.
type PaperConfig struct {
	Instrument     model.Instrument
	SlippagePoints int64 `mapstructure:"slippage_points" json:"slippage_points"`
	ClosureBuffer  int   `mapstructure:"closure_buffer" json:"closure_buffer"`
	TicketBase     int64 `mapstructure:"ticket_base" json:"ticket_base"`
}

// paperPosition is the gateway-side view of an open order.
type paperPosition struct {
	ticket     string
	side       model.Side
	entry      int64
	stopLoss   int64
	takeProfit int64
	lots       decimal.Decimal
	openedAt   time.Time
	realized   decimal.Decimal // from partial closes
}

// PaperGateway simulates a venue against the bar feed it wraps: market fills
// at the last close plus slippage, and stop-loss / take-profit hits checked
// against each new bar's range. Useful for backtesting and paper trading.
type PaperGateway struct {
	mu        sync.Mutex
	cfg       PaperConfig
	source    model.BarStream
	streaming bool

	seq       int64
	positions map[string]*paperPosition
	fills     []Fill
	last      model.PriceBar
	haveLast  bool

	closures chan model.ClosedTrade
}

// NewPaperGateway creates a paper gateway fed by source.
func NewPaperGateway(cfg PaperConfig, source model.BarStream) *PaperGateway {
	if cfg.ClosureBuffer <= 0 {
		cfg.ClosureBuffer = 256
	}
	if cfg.Instrument.Symbol == "" {
		cfg.Instrument = model.XAUUSD()
	}
	return &PaperGateway{
		cfg:       cfg,
		source:    source,
		positions: make(map[string]*paperPosition),
		fills:     make([]Fill, 0, 256),
		closures:  make(chan model.ClosedTrade, cfg.ClosureBuffer),
	}
}

// Closures returns the channel of gateway-initiated closures.
func (p *PaperGateway) Closures() <-chan model.ClosedTrade {
	return p.closures
}

// GetFills returns a snapshot of all fills.
func (p *PaperGateway) GetFills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

// FillFor returns the fill recorded for clientID, if any.
func (p *PaperGateway) FillFor(ctx context.Context, clientID string) (Fill, bool, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.fills) - 1; i >= 0; i-- {
		if p.fills[i].ClientID == clientID {
			return p.fills[i], true, nil
		}
	}
	return Fill{}, false, nil
}

// OpenTickets returns the number of positions the gateway holds.
func (p *PaperGateway) OpenTickets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.positions)
}

func (p *PaperGateway) SubmitOrder(ctx context.Context, req OrderRequest) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	price := req.Price
	if p.haveLast {
		price = p.last.Close
	}
	if price <= 0 {
		return Fill{}, fmt.Errorf("%w: no market price", ErrRejected)
	}
	fillPrice := price + req.Side.Sign()*p.cfg.SlippagePoints
	if !model.ProtectiveLevelsValid(req.Side, fillPrice, req.StopLoss, req.TakeProfit) {
		return Fill{}, fmt.Errorf("%w: invalid stops sl=%d tp=%d at %d", ErrRejected, req.StopLoss, req.TakeProfit, fillPrice)
	}
	lots := p.cfg.Instrument.NormalizeLots(req.LotSize)

	p.seq++
	ticket := fmt.Sprintf("%d", p.cfg.TicketBase+p.seq)
	now := p.clock()
	p.positions[ticket] = &paperPosition{
		ticket:     ticket,
		side:       req.Side,
		entry:      fillPrice,
		stopLoss:   req.StopLoss,
		takeProfit: req.TakeProfit,
		lots:       lots,
		openedAt:   now,
		realized:   decimal.Zero,
	}
	fill := Fill{Ticket: ticket, ClientID: req.ClientID, Price: fillPrice, LotSize: lots, FilledAt: now}
	p.fills = append(p.fills, fill)

	log.Printf("[paper] %s %s lots=%s price=%d (slip=%d) sl=%d tp=%d ticket=%s",
		req.Side, p.cfg.Instrument.Symbol, lots, fillPrice, p.cfg.SlippagePoints, req.StopLoss, req.TakeProfit, ticket)
	return fill, nil
}

func (p *PaperGateway) ModifyOrder(ctx context.Context, ticket string, mod Modification) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[ticket]
	if !ok {
		return Ack{}, fmt.Errorf("%w: %s", ErrUnknownTicket, ticket)
	}

	sl, tp := pos.stopLoss, pos.takeProfit
	if mod.StopLoss != 0 {
		sl = mod.StopLoss
	}
	if mod.TakeProfit != 0 {
		tp = mod.TakeProfit
	}
	if !model.ProtectiveLevelsValid(pos.side, pos.entry, sl, tp) {
		return Ack{}, fmt.Errorf("%w: invalid stops sl=%d tp=%d for entry %d", ErrRejected, sl, tp, pos.entry)
	}

	ack := Ack{Ticket: ticket, ClosedLots: decimal.Zero, RealizedPnL: decimal.Zero}
	if mod.CloseFraction.IsPositive() {
		closeLots := p.cfg.Instrument.NormalizeLots(pos.lots.Mul(mod.CloseFraction))
		if closeLots.GreaterThanOrEqual(pos.lots) {
			return Ack{}, fmt.Errorf("%w: partial close of %s leaves nothing of %s lots", ErrRejected, closeLots, pos.lots)
		}
		exit := p.exitPrice(pos.side)
		pnl := p.cfg.Instrument.PnL((exit-pos.entry)*pos.side.Sign(), closeLots)
		pos.lots = pos.lots.Sub(closeLots)
		pos.realized = pos.realized.Add(pnl)
		ack.ClosedLots, ack.RealizedPnL, ack.Price = closeLots, pnl, exit
		log.Printf("[paper] partial close ticket=%s lots=%s at %d pnl=%s", ticket, closeLots, exit, pnl)
	}
	pos.stopLoss, pos.takeProfit = sl, tp
	ack.RemainingLots = pos.lots
	return ack, nil
}

func (p *PaperGateway) CloseOrder(ctx context.Context, ticket string) (model.ClosedTrade, error) {
	if err := ctx.Err(); err != nil {
		return model.ClosedTrade{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[ticket]
	if !ok {
		return model.ClosedTrade{}, fmt.Errorf("%w: %s", ErrUnknownTicket, ticket)
	}
	return p.closeLocked(pos, p.exitPrice(pos.side), model.CloseSignal), nil
}

// StreamBars wraps the source feed so every bar is checked for stop-loss and
// take-profit hits before the caller sees it.
func (p *PaperGateway) StreamBars(ctx context.Context) (model.BarStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.source == nil {
		return nil, errors.New("paper: no bar source configured")
	}
	if p.streaming {
		return nil, errors.New("paper: bar stream already taken")
	}
	p.streaming = true
	return &paperStream{gw: p}, nil
}

// OnBar advances the simulated market by one bar and closes every position
// whose stop-loss or take-profit lies inside the bar's range. A bar touching
// both levels is assumed to hit the stop first.
func (p *PaperGateway) OnBar(ctx context.Context, bar model.PriceBar) error {
	p.mu.Lock()
	p.last, p.haveLast = bar, true
	var hit []model.ClosedTrade
	for _, pos := range p.positions {
		exit, reason, ok := levelHit(pos, bar)
		if !ok {
			continue
		}
		hit = append(hit, p.closeLocked(pos, exit, reason))
	}
	p.mu.Unlock()

	for _, tr := range hit {
		select {
		case p.closures <- tr:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func levelHit(pos *paperPosition, bar model.PriceBar) (int64, string, bool) {
	if pos.side == model.SideLong {
		if pos.stopLoss > 0 && bar.Low <= pos.stopLoss {
			return pos.stopLoss, model.CloseStopLoss, true
		}
		if pos.takeProfit > 0 && bar.High >= pos.takeProfit {
			return pos.takeProfit, model.CloseTakeProfit, true
		}
		return 0, "", false
	}
	if pos.stopLoss > 0 && bar.High >= pos.stopLoss {
		return pos.stopLoss, model.CloseStopLoss, true
	}
	if pos.takeProfit > 0 && bar.Low <= pos.takeProfit {
		return pos.takeProfit, model.CloseTakeProfit, true
	}
	return 0, "", false
}

func (p *PaperGateway) closeLocked(pos *paperPosition, exit int64, reason string) model.ClosedTrade {
	pnl := pos.realized.Add(p.cfg.Instrument.PnL((exit-pos.entry)*pos.side.Sign(), pos.lots))
	delete(p.positions, pos.ticket)
	tr := model.ClosedTrade{
		Ticket:      pos.ticket,
		Side:        pos.side,
		EntryPrice:  pos.entry,
		ExitPrice:   exit,
		LotSize:     pos.lots,
		PnL:         pnl,
		OpenedAt:    pos.openedAt,
		ClosedAt:    p.clock(),
		CloseReason: reason,
	}
	log.Printf("[paper] closed ticket=%s %s at %d pnl=%s (%s)", pos.ticket, pos.side, exit, pnl, reason)
	return tr
}

// exitPrice is the market exit for a position, slippage against it.
func (p *PaperGateway) exitPrice(side model.Side) int64 {
	return p.last.Close - side.Sign()*p.cfg.SlippagePoints
}

// clock follows bar time so replays are deterministic.
func (p *PaperGateway) clock() time.Time {
	if p.haveLast && !p.last.Time.IsZero() {
		return p.last.Time
	}
	return time.Now().UTC()
}

type paperStream struct {
	gw *PaperGateway
}

func (s *paperStream) Next(ctx context.Context) (model.PriceBar, error) {
	bar, err := s.gw.source.Next(ctx)
	if err != nil {
		return model.PriceBar{}, err
	}
	if err := s.gw.OnBar(ctx, bar); err != nil {
		return model.PriceBar{}, err
	}
	return bar, nil
}
