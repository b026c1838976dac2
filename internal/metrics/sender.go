// Package metrics decorates platform senders with Prometheus instrumentation.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
)

const (
	statusSucceeded = "succeeded"
	statusFailed    = "failed"

	summaryMaxAge = 5 * time.Minute
)

// Collector owns the push delivery metrics. One Collector is shared by every
// decorated sender so their series land in the same vectors.
type Collector struct {
	sendDuration *prometheus.SummaryVec
	sendTotal    *prometheus.CounterVec
	endpoints    *prometheus.CounterVec
	gone         *prometheus.CounterVec
}

// NewCollector creates the metric vectors and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		sendDuration: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Name:       "push_send_duration_seconds",
				Help:       "Time spent handing one variant batch to its platform sender.",
				Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.95: 0.005, 0.99: 0.001},
				MaxAge:     summaryMaxAge,
			},
			[]string{"kind", "status"},
		),
		sendTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "push_send_total",
				Help: "Sender invocations by platform and outcome.",
			},
			[]string{"kind", "status"},
		),
		endpoints: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "push_send_endpoints_total",
				Help: "Device endpoints handed to platform senders.",
			},
			[]string{"kind"},
		),
		gone: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "push_endpoints_gone_total",
				Help: "Endpoints a push network reported as permanently gone.",
			},
			[]string{"kind"},
		),
	}

	for _, collector := range []prometheus.Collector{c.sendDuration, c.sendTotal, c.endpoints, c.gone} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) observe(kind push.Kind, endpoints int, start time.Time, err error) {
	status := statusSucceeded
	if err != nil {
		status = statusFailed
	}
	c.endpoints.WithLabelValues(kind.String()).Add(float64(endpoints))
	c.sendTotal.WithLabelValues(kind.String(), status).Inc()
	c.sendDuration.WithLabelValues(kind.String(), status).Observe(time.Since(start).Seconds())
}

// Sender wraps next so every call is counted and timed under kind.
// A nil next stays nil, which keeps the platform disabled in the router.
func (c *Collector) Sender(kind push.Kind, next push.Sender) push.Sender {
	if next == nil {
		return nil
	}
	return &sender{collector: c, kind: kind, next: next}
}

// SimplePushSender wraps the SimplePush sender the same way. Gone endpoints are
// counted separately and do not mark the send as failed.
func (c *Collector) SimplePushSender(next push.SimplePushSender) push.SimplePushSender {
	if next == nil {
		return nil
	}
	return &simplePushSender{collector: c, next: next}
}

type sender struct {
	collector *Collector
	kind      push.Kind
	next      push.Sender
}

func (s *sender) SendPushMessage(ctx context.Context, variant push.Variant, endpoints []string, msg *push.Message) error {
	start := time.Now()
	err := s.next.SendPushMessage(ctx, variant, endpoints, msg)
	s.collector.observe(s.kind, len(endpoints), start, err)
	return err
}

type simplePushSender struct {
	collector *Collector
	next      push.SimplePushSender
}

func (s *simplePushSender) SendMessage(ctx context.Context, endpoints []string, payload string) error {
	start := time.Now()
	err := s.next.SendMessage(ctx, endpoints, payload)
	gone, retryable := push.SplitGone(err)
	if len(gone) > 0 {
		s.collector.gone.WithLabelValues(push.KindSimplePush.String()).Add(float64(len(gone)))
	}
	s.collector.observe(push.KindSimplePush, len(endpoints), start, retryable)
	return err
}
