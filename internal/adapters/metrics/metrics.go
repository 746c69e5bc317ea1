// Package metrics exposes the trading session to Prometheus. The
// collector is a plain event bus subscriber; the decision core never
// sees it.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"riskcore/internal/events"
)

// Collector aggregates bus events into Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	ordersApproved  prometheus.Counter
	ordersRejected  *prometheus.CounterVec
	ordersFilled    *prometheus.CounterVec
	positionsOpened prometheus.Counter
	positionsClosed *prometheus.CounterVec
	realizedPnL     prometheus.Counter
	realizedLoss    prometheus.Counter
	stopMoves       prometheus.Counter
	breakerTrips    prometheus.Counter
	panics          prometheus.Counter
	lastPrice       *prometheus.GaugeVec
}

// NewCollector builds a collector with its own registry, so the exposed
// endpoint carries only trading metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		ordersApproved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskcore_orders_approved_total",
			Help: "Orders approved by the risk gate.",
		}),
		ordersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskcore_orders_rejected_total",
			Help: "Orders rejected, by reason.",
		}, []string{"reason"}),
		ordersFilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskcore_orders_filled_total",
			Help: "Market orders settled, by side.",
		}, []string{"side"}),
		positionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskcore_positions_opened_total",
			Help: "Positions opened or merged into.",
		}),
		positionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskcore_positions_closed_total",
			Help: "Positions closed, by reason.",
		}, []string{"reason"}),
		realizedPnL: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskcore_realized_profit_total",
			Help: "Cumulative realized profit on winning closes.",
		}),
		realizedLoss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskcore_realized_loss_total",
			Help: "Cumulative realized loss on losing closes.",
		}),
		stopMoves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskcore_trailing_stop_moves_total",
			Help: "Trailing stop ratchets, breakeven lifts included.",
		}),
		breakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskcore_circuit_breaker_trips_total",
			Help: "Circuit breaker activations.",
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskcore_panic_total",
			Help: "Panic force-close invocations.",
		}),
		lastPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "riskcore_last_price",
			Help: "Last observed price per symbol.",
		}, []string{"symbol"}),
	}
	c.registry.MustRegister(
		c.ordersApproved, c.ordersRejected, c.ordersFilled,
		c.positionsOpened, c.positionsClosed,
		c.realizedPnL, c.realizedLoss,
		c.stopMoves, c.breakerTrips, c.panics, c.lastPrice,
	)
	return c
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Run subscribes to the bus and folds events into metrics until the
// context is cancelled or the bus closes the subscription.
func (c *Collector) Run(ctx context.Context, bus *events.Bus) {
	ch, cancel := bus.Subscribe(128)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			c.observe(evt)
		}
	}
}

func (c *Collector) observe(evt events.Event) {
	switch evt.Type {
	case events.TypePriceUpdate:
		if p, ok := evt.Payload.(events.PriceUpdate); ok {
			c.lastPrice.WithLabelValues(p.Symbol).Set(p.Price)
		}
	case events.TypeOrderApproved:
		c.ordersApproved.Inc()
	case events.TypeOrderRejected:
		if p, ok := evt.Payload.(events.OrderRejected); ok {
			reason := string(p.Reason)
			if reason == "" {
				reason = string(p.Violation)
			}
			c.ordersRejected.WithLabelValues(reason).Inc()
		}
	case events.TypeOrderFilled:
		if p, ok := evt.Payload.(events.OrderFilled); ok {
			c.ordersFilled.WithLabelValues(string(p.Side)).Inc()
		}
	case events.TypePositionOpened:
		c.positionsOpened.Inc()
	case events.TypePositionClosed:
		if p, ok := evt.Payload.(events.PositionClosed); ok {
			c.positionsClosed.WithLabelValues(string(p.Reason)).Inc()
			if p.PnL >= 0 {
				c.realizedPnL.Add(p.PnL)
			} else {
				c.realizedLoss.Add(-p.PnL)
			}
		}
	case events.TypeStopTrailed, events.TypeStopBreakeven:
		c.stopMoves.Inc()
	case events.TypeCircuitBreaker:
		c.breakerTrips.Inc()
	case events.TypePanic:
		c.panics.Inc()
	}
}
