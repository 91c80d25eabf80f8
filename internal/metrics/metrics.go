// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

// Package metrics is the ambient observability layer: Prometheus counters
// and gauges for the coordination engine's lifecycle events, exposed on
// the debug HTTP listener alongside /health. Core business logic never
// imports this package directly; it reports through the narrow Recorder
// interfaces declared by internal/dispatch and internal/heartbeat, both of
// which accept a nil recorder to disable reporting.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the coordination engine reports.
type Metrics struct {
	registry *prometheus.Registry

	Registrations  prometheus.Counter
	Reaps          prometheus.Counter
	LockConflicts  prometheus.Counter
	MessagesSent   prometheus.Counter
	MessagesDelivered prometheus.Counter
	ActiveAgents   *prometheus.GaugeVec
}

// New builds a fresh Metrics registered on its own registry (not the
// global default, so tests can construct as many independent instances as
// they like).
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		Registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcp_coordinator_registrations_total",
			Help: "Total number of register_agent calls.",
		}),
		Reaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcp_coordinator_reaps_total",
			Help: "Total number of agents cleaned up by the heartbeat reaper.",
		}),
		LockConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcp_coordinator_lock_conflicts_total",
			Help: "Total number of file-lock announce conflicts.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcp_coordinator_messages_sent_total",
			Help: "Total number of messages enqueued across all inboxes.",
		}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcp_coordinator_messages_delivered_total",
			Help: "Total number of messages returned by check_messages.",
		}),
		ActiveAgents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mcp_coordinator_active_agents",
			Help: "Number of active agents, labeled by project.",
		}, []string{"project_id"}),
	}

	registry.MustRegister(m.Registrations, m.Reaps, m.LockConflicts, m.MessagesSent, m.MessagesDelivered, m.ActiveAgents)
	return m
}

// Handler returns the HTTP handler serving /metrics in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// The methods below implement dispatch.Recorder and heartbeat.ReapRecorder,
// letting the tool registry and the reaper report outcomes without
// importing the concrete Prometheus types.

// IncRegistration records one register_agent call.
func (m *Metrics) IncRegistration() { m.Registrations.Inc() }

// IncReap records one agent cleaned up by the heartbeat reaper.
func (m *Metrics) IncReap() { m.Reaps.Inc() }

// IncLockConflict records one file-lock announce conflict.
func (m *Metrics) IncLockConflict() { m.LockConflicts.Inc() }

// AddMessagesSent records n messages enqueued across inboxes.
func (m *Metrics) AddMessagesSent(n int) { m.MessagesSent.Add(float64(n)) }

// AddMessagesDelivered records n messages returned by check_messages.
func (m *Metrics) AddMessagesDelivered(n int) { m.MessagesDelivered.Add(float64(n)) }

// SetActiveAgents sets the active-agent gauge for one project.
func (m *Metrics) SetActiveAgents(project string, n int) {
	m.ActiveAgents.WithLabelValues(project).Set(float64(n))
}
