package session

import (
	"context"
	"time"

	"goldscalper/internal/execution"
	"goldscalper/internal/metrics"
	"goldscalper/internal/model"
)

// observedGateway records latency and outcome of every gateway call.
type observedGateway struct {
	execution.Gateway
	m *metrics.Metrics
}

func observe(gw execution.Gateway, m *metrics.Metrics) execution.Gateway {
	if m == nil {
		return gw
	}
	return &observedGateway{Gateway: gw, m: m}
}

func (g *observedGateway) SubmitOrder(ctx context.Context, req execution.OrderRequest) (execution.Fill, error) {
	start := time.Now()
	fill, err := g.Gateway.SubmitOrder(ctx, req)
	g.record("submit", start, err)
	return fill, err
}

func (g *observedGateway) ModifyOrder(ctx context.Context, ticket string, mod execution.Modification) (execution.Ack, error) {
	start := time.Now()
	ack, err := g.Gateway.ModifyOrder(ctx, ticket, mod)
	g.record("modify", start, err)
	return ack, err
}

func (g *observedGateway) CloseOrder(ctx context.Context, ticket string) (model.ClosedTrade, error) {
	start := time.Now()
	tr, err := g.Gateway.CloseOrder(ctx, ticket)
	g.record("close", start, err)
	return tr, err
}

func (g *observedGateway) record(op string, start time.Time, err error) {
	timeout := err != nil && execution.IsTimeout(execution.Wrap(op, "", "", err))
	g.m.ObserveGateway(op, start, err, timeout)
}
