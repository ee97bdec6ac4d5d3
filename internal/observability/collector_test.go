// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nishisan-dev/n-quic/internal/transport"
)

type fakeProvider struct {
	snapshot transport.StatsSnapshot
}

func (f *fakeProvider) Stats() transport.StatsSnapshot { return f.snapshot }

func gather(t *testing.T, c *TransportCollector) map[string]bool {
	t.Helper()
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("registering collector: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gathering metrics: %v", err)
	}
	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestTransportCollector_CollectsRegisteredConns(t *testing.T) {
	c := NewTransportCollector("nquic", prometheus.Labels{"instance": "test"})

	c.Add("sess-1", &fakeProvider{snapshot: transport.StatsSnapshot{
		Session:          "sess-1",
		State:            "connected",
		PacketsSent:      10,
		PacketsReceived:  4,
		BytesSent:        5120,
		CongestionWindow: 12000,
		BytesInFlight:    600,
	}})

	names := gather(t, c)
	for _, want := range []string{
		"nquic_packets_sent_total",
		"nquic_packets_received_total",
		"nquic_packets_retransmitted_total",
		"nquic_bytes_sent_total",
		"nquic_bytes_received_total",
		"nquic_parse_errors_total",
		"nquic_congestion_window_bytes",
		"nquic_bytes_in_flight",
		"nquic_pending_acks",
	} {
		if !names[want] {
			t.Errorf("expected metric %s, got %v", want, names)
		}
	}
}

func TestTransportCollector_EmptyAfterRemove(t *testing.T) {
	c := NewTransportCollector("nquic", nil)
	c.Add("sess-1", &fakeProvider{})
	c.Remove("sess-1")

	if names := gather(t, c); len(names) != 0 {
		t.Errorf("expected no metric families, got %v", names)
	}
}
