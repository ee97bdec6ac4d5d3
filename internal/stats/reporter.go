// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stats

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nishisan-dev/n-quic/internal/transport"
)

// Source fornece a fotografia de métricas de uma conexão viva.
type Source interface {
	Stats() transport.StatsSnapshot
}

// connSnapshot captura o estado de uma conexão para o log estruturado.
type connSnapshot struct {
	Session              string `json:"session"`
	State                string `json:"state"`
	PacketsSent          uint64 `json:"packets_sent"`
	PacketsReceived      uint64 `json:"packets_received"`
	PacketsRetransmitted uint64 `json:"packets_retransmitted,omitempty"`
	BytesSent            uint64 `json:"bytes_sent"`
	BytesReceived        uint64 `json:"bytes_received"`
	ParseErrors          uint64 `json:"parse_errors,omitempty"`
	CongestionWindow     int    `json:"cwnd"`
	BytesInFlight        int    `json:"bytes_in_flight"`
	PendingAcks          int    `json:"pending_acks"`
}

// Reporter agenda dumps periódicos das métricas de transporte e do
// sistema no log, com uma expressão cron (ex: "@every 5m").
type Reporter struct {
	cron      *cron.Cron
	logger    *slog.Logger
	startTime time.Time

	mu      sync.Mutex
	sources map[string]Source
}

// NewReporter cria um Reporter com o agendamento dado.
func NewReporter(schedule string, logger *slog.Logger) (*Reporter, error) {
	r := &Reporter{
		logger:    logger.With("component", "stats_reporter"),
		startTime: time.Now(),
		sources:   make(map[string]Source),
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(schedule, r.report); err != nil {
		return nil, fmt.Errorf("adding stats cron job %q: %w", schedule, err)
	}
	r.cron = c
	return r, nil
}

// Register passa a incluir a conexão nos reports. A chave é o session
// id da conexão.
func (r *Reporter) Register(session string, src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[session] = src
}

// Unregister remove a conexão dos reports.
func (r *Reporter) Unregister(session string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sources, session)
}

// Start inicia o agendador.
func (r *Reporter) Start() {
	r.cron.Start()
	r.logger.Info("stats reporter started")
}

// Stop para o agendador e aguarda jobs em andamento.
func (r *Reporter) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("stats reporter stopped")
}

// report emite um dump estruturado de todas as conexões registradas.
func (r *Reporter) report() {
	r.mu.Lock()
	snapshots := make([]connSnapshot, 0, len(r.sources))
	for _, src := range r.sources {
		s := src.Stats()
		snapshots = append(snapshots, connSnapshot{
			Session:              s.Session,
			State:                s.State,
			PacketsSent:          s.PacketsSent,
			PacketsReceived:      s.PacketsReceived,
			PacketsRetransmitted: s.PacketsRetransmitted,
			BytesSent:            s.BytesSent,
			BytesReceived:        s.BytesReceived,
			ParseErrors:          s.ParseErrors,
			CongestionWindow:     s.CongestionWindow,
			BytesInFlight:        s.BytesInFlight,
			PendingAcks:          s.PendingAcks,
		})
	}
	r.mu.Unlock()

	sys := CollectSystemStats()
	connsJSON, _ := json.Marshal(snapshots)

	r.logger.Info("transport stats",
		"uptime_seconds", int64(Uptime(r.startTime)),
		"connections", len(snapshots),
		"cpu_percent", sys.CPUPercent,
		"memory_percent", sys.MemoryPercent,
		"load_average", sys.LoadAverage,
		"conns", json.RawMessage(connsJSON),
	)
}
