// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package observability expõe métricas das conexões N-Quic como um
// prometheus.Collector.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nishisan-dev/n-quic/internal/transport"
)

// StatsProvider fornece a fotografia de métricas de uma conexão.
type StatsProvider interface {
	Stats() transport.StatsSnapshot
}

type metricInfo struct {
	desc     *prometheus.Desc
	supplier func(s transport.StatsSnapshot, labels []string) prometheus.Metric
}

// TransportCollector coleta métricas de todas as conexões registradas.
// Conexões entram com Add e saem com Remove; labels por conexão são o
// session id e o estado da FSM, tirados da fotografia de métricas.
type TransportCollector struct {
	mu      sync.Mutex
	conns   map[string]StatsProvider
	metrics []metricInfo
}

// NewTransportCollector cria o collector com o prefixo de métrica dado
// (ex: "nquic") e labels constantes do processo.
func NewTransportCollector(prefix string, constLabels prometheus.Labels) *TransportCollector {
	t := &TransportCollector{conns: make(map[string]StatsProvider)}
	t.addMetrics(prefix, constLabels)
	return t
}

func (t *TransportCollector) addMetrics(prefix string, constLabels prometheus.Labels) {
	labelNames := []string{"session", "state"}

	gauge := func(name, help string, value func(transport.StatsSnapshot) float64) metricInfo {
		desc := prometheus.NewDesc(prefix+"_"+name, help, labelNames, constLabels)
		return metricInfo{
			desc: desc,
			supplier: func(s transport.StatsSnapshot, labels []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, value(s), labels...)
			},
		}
	}
	counter := func(name, help string, value func(transport.StatsSnapshot) float64) metricInfo {
		desc := prometheus.NewDesc(prefix+"_"+name, help, labelNames, constLabels)
		return metricInfo{
			desc: desc,
			supplier: func(s transport.StatsSnapshot, labels []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(desc, prometheus.CounterValue, value(s), labels...)
			},
		}
	}

	t.metrics = []metricInfo{
		counter("packets_sent_total", "Packets transmitted on the connection.",
			func(s transport.StatsSnapshot) float64 { return float64(s.PacketsSent) }),
		counter("packets_received_total", "Packets received on the connection.",
			func(s transport.StatsSnapshot) float64 { return float64(s.PacketsReceived) }),
		counter("packets_retransmitted_total", "Packets rebuilt after loss declaration.",
			func(s transport.StatsSnapshot) float64 { return float64(s.PacketsRetransmitted) }),
		counter("bytes_sent_total", "Bytes transmitted on the connection.",
			func(s transport.StatsSnapshot) float64 { return float64(s.BytesSent) }),
		counter("bytes_received_total", "Bytes received on the connection.",
			func(s transport.StatsSnapshot) float64 { return float64(s.BytesReceived) }),
		counter("parse_errors_total", "Malformed datagrams dropped by the parser.",
			func(s transport.StatsSnapshot) float64 { return float64(s.ParseErrors) }),
		gauge("congestion_window_bytes", "Current congestion window.",
			func(s transport.StatsSnapshot) float64 { return float64(s.CongestionWindow) }),
		gauge("bytes_in_flight", "Ack-eliciting bytes sent and not yet acked or lost.",
			func(s transport.StatsSnapshot) float64 { return float64(s.BytesInFlight) }),
		gauge("pending_acks", "Received packet numbers not yet acknowledged back.",
			func(s transport.StatsSnapshot) float64 { return float64(s.PendingAcks) }),
	}
}

// Describe implementa prometheus.Collector.
func (t *TransportCollector) Describe(descs chan<- *prometheus.Desc) {
	for _, m := range t.metrics {
		descs <- m.desc
	}
}

// Collect implementa prometheus.Collector.
func (t *TransportCollector) Collect(metrics chan<- prometheus.Metric) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.conns {
		s := p.Stats()
		labels := []string{s.Session, s.State}
		for _, m := range t.metrics {
			metrics <- m.supplier(s, labels)
		}
	}
}

// Add registra uma conexão no collector, chaveada pelo session id.
func (t *TransportCollector) Add(session string, p StatsProvider) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[session] = p
}

// Remove tira a conexão do collector.
func (t *TransportCollector) Remove(session string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, session)
}
