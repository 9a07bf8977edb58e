// Package metrics exposes Prometheus instrumentation for agent calls,
// retries, persisted records and HTTP requests.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/retry"
)

const namespace = "agentcouncil"

// Collector owns the council's metric vectors.
type Collector struct {
	gatherer prometheus.Gatherer

	agentCalls      *prometheus.CounterVec
	agentCallDur    *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	records         *prometheus.CounterVec
	recordFailures  *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewCollector creates the metric vectors and registers them with reg. A nil
// reg uses a fresh private registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Collector{
		gatherer: reg,
		agentCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_calls_total",
				Help:      "Total number of remote agent calls, per attempt",
			},
			[]string{"provider", "status"},
		),
		agentCallDur: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "agent_call_duration_seconds",
				Help:      "Latency of remote agent calls",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"provider"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of retries scheduled by the resilient call wrapper",
			},
			[]string{"attempt"},
		),
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_total",
				Help:      "Total number of finished records by kind and status",
			},
			[]string{"kind", "status"},
		),
		recordFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "record_failures_total",
				Help:      "Total number of records the persistence sink failed to store",
			},
			[]string{"kind"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}

	reg.MustRegister(
		c.agentCalls,
		c.agentCallDur,
		c.retries,
		c.records,
		c.recordFailures,
		c.requests,
		c.requestDuration,
	)
	return c
}

// Handler serves the collected metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Transport instruments every call made through next.
func (c *Collector) Transport(next core.Transport) core.Transport {
	return core.TransportFunc(func(ctx context.Context, b core.AgentBinding, req core.CallRequest) (string, error) {
		start := time.Now()
		out, err := next.Call(ctx, b, req)

		status := "success"
		if err != nil {
			status = "error"
		}
		c.agentCalls.WithLabelValues(string(b.Provider), status).Inc()
		c.agentCallDur.WithLabelValues(string(b.Provider)).Observe(time.Since(start).Seconds())
		return out, err
	})
}

// Recorder counts every record passed to next. A nil next only counts.
func (c *Collector) Recorder(next core.Recorder) core.Recorder {
	if next == nil {
		next = core.NopRecorder{}
	}
	return core.RecorderFunc(func(ctx context.Context, rec core.Record) error {
		c.records.WithLabelValues(string(rec.RecordKind()), rec.RecordStatus()).Inc()
		err := next.Record(ctx, rec)
		if err != nil {
			c.recordFailures.WithLabelValues(string(rec.RecordKind())).Inc()
		}
		return err
	})
}

// Policy returns p with retries counted. An existing OnRetry hook still runs.
func (c *Collector) Policy(p retry.Policy) retry.Policy {
	prev := p.OnRetry
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.retries.WithLabelValues(strconv.Itoa(attempt)).Inc()
		if prev != nil {
			prev(attempt, delay, err)
		}
	}
	return p
}

// ObserveRequest records one served HTTP request.
func (c *Collector) ObserveRequest(route string, code int, d time.Duration) {
	c.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	c.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}
