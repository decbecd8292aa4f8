// Copyright 2021 The hopx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package metrics exports Prometheus metrics about hopx executions by
// installing handlers into a hopx.HandlerGroup.
package metrics

import (
	"net"
	"strconv"
	"strings"

	"github.com/gogama/hopx"
	"github.com/gogama/hopx/request"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector records execution metrics. Create one with NewCollector
// and attach it to a client's handlers with Install.
type Collector struct {
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	active     *prometheus.GaugeVec
	hops       *prometheus.CounterVec
	redirects  *prometheus.CounterVec
	retries    *prometheus.CounterVec
	received   *prometheus.CounterVec
}

// NewCollector creates a collector and registers its metrics with
// registry. If registry is nil, the default Prometheus registerer is
// used.
func NewCollector(registry prometheus.Registerer) *Collector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Collector{
		executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hopx_executions_total",
				Help: "Total number of finished executions by outcome",
			},
			[]string{"method", "host", "outcome"},
		),

		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "hopx_execution_duration_seconds",
				Help: "Execution duration in seconds, across all hops",
				Buckets: []float64{
					0.001, // 1ms
					0.005, // 5ms
					0.01,  // 10ms
					0.05,  // 50ms
					0.1,   // 100ms
					0.5,   // 500ms
					1.0,   // 1s
					2.0,   // 2s
					5.0,   // 5s
					10.0,  // 10s
				},
			},
			[]string{"method", "status_code", "host"},
		),

		active: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hopx_active_executions",
				Help: "Number of executions in progress",
			},
			[]string{"method"},
		),

		hops: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hopx_hops_total",
				Help: "Total number of hops sent",
			},
			[]string{"method", "host"},
		),

		redirects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hopx_redirects_total",
				Help: "Total number of redirects followed",
			},
			[]string{"status_code", "host"},
		),

		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hopx_retries_total",
				Help: "Total number of hops re-sent on a fresh connection",
			},
			[]string{"method", "host"},
		),

		received: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hopx_response_bytes_total",
				Help: "Total number of decoded response body bytes received",
			},
			[]string{"host"},
		),
	}
}

// Install adds the collector's handlers to the back of g's chains.
func (c *Collector) Install(g *hopx.HandlerGroup) {
	g.PushBack(hopx.BeforeExecutionStart, hopx.HandlerFunc(c.start))
	g.PushBack(hopx.BeforeHop, hopx.HandlerFunc(c.hop))
	g.PushBack(hopx.BeforeRedirect, hopx.HandlerFunc(c.redirect))
	g.PushBack(hopx.OnData, hopx.HandlerFunc(c.data))
	g.PushBack(hopx.AfterExecutionEnd, hopx.HandlerFunc(c.end))
}

func (c *Collector) start(_ hopx.Event, e *request.Execution) {
	c.active.WithLabelValues(planMethod(e)).Inc()
}

func (c *Collector) hop(_ hopx.Event, e *request.Execution) {
	c.hops.WithLabelValues(method(e), host(e)).Inc()
}

// redirect runs once the next hop's State is in place, so the status
// code comes from the response being followed.
func (c *Collector) redirect(_ hopx.Event, e *request.Execution) {
	c.redirects.WithLabelValues(strconv.Itoa(e.StatusCode()), host(e)).Inc()
}

func (c *Collector) data(_ hopx.Event, e *request.Execution) {
	c.received.WithLabelValues(host(e)).Add(float64(len(e.Chunk)))
}

func (c *Collector) end(_ hopx.Event, e *request.Execution) {
	m, h := method(e), host(e)
	c.active.WithLabelValues(planMethod(e)).Dec()
	c.executions.WithLabelValues(m, h, Outcome(e.Phase)).Inc()
	if e.Retried > 0 {
		c.retries.WithLabelValues(m, h).Add(float64(e.Retried))
	}
	c.duration.WithLabelValues(m, strconv.Itoa(e.StatusCode()), h).Observe(e.Duration().Seconds())
}

// Outcome returns the outcome label for a terminal phase: "complete",
// "error" or "aborted".
func Outcome(ph request.Phase) string {
	switch ph {
	case request.Complete:
		return "complete"
	case request.Aborted:
		return "aborted"
	}
	return "error"
}

// NormalizeHost lowercases host and strips the default ports ":80"
// and ":443" to reduce label cardinality.
func NormalizeHost(host string) string {
	host = strings.ToLower(host)
	h, port, err := net.SplitHostPort(host)
	if err != nil || (port != "80" && port != "443") {
		return host
	}
	if strings.Contains(h, ":") {
		return "[" + h + "]"
	}
	return h
}

// method returns the method of the current hop, which a redirect may
// have changed from the plan's.
func method(e *request.Execution) string {
	if e.State != nil {
		return e.State.Method
	}
	return planMethod(e)
}

func planMethod(e *request.Execution) string {
	if e.Plan.Method == "" {
		return "GET"
	}
	return strings.ToUpper(e.Plan.Method)
}

func host(e *request.Execution) string {
	if e.State == nil || e.State.URL == nil {
		return ""
	}
	return NormalizeHost(e.State.URL.Host)
}
