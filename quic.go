// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package nquic expõe o socket N-Quic: um transporte confiável,
// orientado a streams, multiplexado sobre UDP, com interface
// listen/accept/connect/send/recv/close.
//
// O engine é single-threaded e cooperativo: cada chamada roda até o fim
// na thread do caller. Um socket não pode ser compartilhado entre
// threads sem exclusão mútua externa; o padrão é uma thread por conexão.
package nquic

import (
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nishisan-dev/n-quic/internal/config"
	"github.com/nishisan-dev/n-quic/internal/logging"
	"github.com/nishisan-dev/n-quic/internal/observability"
	"github.com/nishisan-dev/n-quic/internal/stats"
	"github.com/nishisan-dev/n-quic/internal/transport"
)

// Config é a configuração de um socket N-Quic.
type Config = config.Config

// Stats é a fotografia de métricas de uma conexão.
type Stats = transport.StatsSnapshot

// Collector expõe as conexões registradas como prometheus.Collector.
type Collector = observability.TransportCollector

// DefaultConfig retorna a configuração padrão.
func DefaultConfig() *Config { return config.Default() }

// LoadConfig lê e valida um arquivo YAML de configuração.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// NewCollector cria um Collector Prometheus com o prefixo de métrica
// dado (ex: "nquic").
func NewCollector(prefix string, constLabels prometheus.Labels) *Collector {
	return observability.NewTransportCollector(prefix, constLabels)
}

// QuicSocket é um socket N-Quic. Dono exclusivo do seu controller e do
// socket de datagramas subjacente.
type QuicSocket struct {
	localIP net.IP
	cfg     *Config
	dscp    int

	logger    *slog.Logger
	logCloser io.Closer

	conn transport.DatagramConn
	ctrl *transport.Controller

	// sessionLog é o arquivo de log dedicado da conexão, quando
	// logging.session_dir está configurado.
	sessionLog io.Closer

	reporter     *stats.Reporter
	ownsReporter bool
}

// Option configura um QuicSocket na criação.
type Option func(*QuicSocket)

// WithConfig usa a configuração dada em vez da default.
func WithConfig(cfg *Config) Option {
	return func(s *QuicSocket) { s.cfg = cfg }
}

// WithLogger usa o logger dado em vez de construir um da configuração.
func WithLogger(logger *slog.Logger) Option {
	return func(s *QuicSocket) { s.logger = logger }
}

// New cria um QuicSocket desconectado vinculado ao IP local dado
// ("" ou "0.0.0.0" para wildcard).
func New(localIP string, opts ...Option) (*QuicSocket, error) {
	s := &QuicSocket{}
	for _, opt := range opts {
		opt(s)
	}

	if s.cfg == nil {
		s.cfg = config.Default()
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}

	if localIP == "" {
		localIP = "0.0.0.0"
	}
	ip := net.ParseIP(localIP)
	if ip == nil {
		return nil, fmt.Errorf("nquic: invalid local ip %q", localIP)
	}
	s.localIP = ip

	dscp, err := transport.ParseDSCP(s.cfg.Transport.DSCP)
	if err != nil {
		return nil, err
	}
	s.dscp = dscp

	if s.logger == nil {
		logger, closer := logging.NewLogger(s.cfg.Logging.Level, s.cfg.Logging.Format, s.cfg.Logging.File)
		s.logger = logger
		s.logCloser = closer
	}

	if s.cfg.Stats.Enabled {
		reporter, err := stats.NewReporter(s.cfg.Stats.Schedule, s.logger)
		if err != nil {
			return nil, err
		}
		s.reporter = reporter
		s.ownsReporter = true
		s.reporter.Start()
	}

	s.ctrl, s.sessionLog = s.newController()
	return s, nil
}

func (s *QuicSocket) newController() (*transport.Controller, io.Closer) {
	pacer := transport.NewPacer(s.cfg.Transport.PacingRate)
	ctrl := transport.NewController(s.logger, s.cfg.Transport.ReorderingThreshold, pacer)

	var sessionLog io.Closer
	if s.cfg.Logging.SessionDir != "" {
		connLogger, closer, path, err := logging.NewConnectionLogger(s.logger, s.cfg.Logging.SessionDir, ctrl.Context().Session)
		if err != nil {
			s.logger.Warn("could not open connection log, using global logger only", "error", err)
		} else {
			ctrl.SetLogger(connLogger)
			sessionLog = closer
			s.logger.Debug("connection log opened", "path", path)
		}
	}

	ctrl.SetSocketFactory(func(local, peer *net.UDPAddr) (transport.DatagramConn, error) {
		sock, err := transport.ListenUDP(local, s.dscp)
		if err != nil {
			return nil, err
		}
		if err := sock.Connect(peer); err != nil {
			sock.Close()
			return nil, err
		}
		return sock, nil
	})
	if s.reporter != nil {
		s.reporter.Register(ctrl.Context().Session, ctrl)
	}
	return ctrl, sessionLog
}

// Connect executa o handshake síncrono com addr ("host:porta") e
// retorna quando a conexão está estabelecida.
func (s *QuicSocket) Connect(address string) error {
	raddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", address, err)
	}

	conn, err := transport.ListenUDP(&net.UDPAddr{IP: s.localIP, Port: 0}, s.dscp)
	if err != nil {
		return err
	}
	s.conn = conn

	if err := s.ctrl.CreateConnection(conn, raddr); err != nil {
		conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

// Listen vincula o socket à porta e entra em escuta de conexões.
func (s *QuicSocket) Listen(port int) error {
	conn, err := transport.ListenUDP(&net.UDPAddr{IP: s.localIP, Port: port}, s.dscp)
	if err != nil {
		return err
	}
	s.conn = conn
	return s.ctrl.Listen(conn)
}

// Accept bloqueia até um cliente completar o handshake e retorna um
// socket novo conectado ao peer. O listener continua utilizável para
// aceitar outros clientes.
func (s *QuicSocket) Accept() (*QuicSocket, error) {
	if err := s.ctrl.AcceptConnection(s.conn); err != nil {
		return nil, err
	}

	accepted := &QuicSocket{
		localIP:    s.localIP,
		cfg:        s.cfg,
		dscp:       s.dscp,
		logger:     s.logger,
		conn:       s.ctrl.ConnSocket(),
		ctrl:       s.ctrl,
		sessionLog: s.sessionLog,
		reporter:   s.reporter,
	}

	// Rearma o listener com um controller e tabelas de stream novos.
	s.ctrl, s.sessionLog = s.newController()
	if err := s.ctrl.Listen(s.conn); err != nil {
		return nil, err
	}
	return accepted, nil
}

// LocalAddr retorna o endereço local do socket de datagramas, ou nil
// antes de Connect/Listen.
func (s *QuicSocket) LocalAddr() *net.UDPAddr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Send transmite data no stream. Retorna false sse o peer fechou a
// conexão.
func (s *QuicSocket) Send(streamID uint8, data []byte) (bool, error) {
	return s.ctrl.SendStreamData(streamID, data, s.conn)
}

// Recv entrega até n bytes contíguos do stream. Pode retornar menos que
// n; a flag indica CONNECTION_CLOSE emitido pelo peer.
func (s *QuicSocket) Recv(streamID uint8, n int) ([]byte, bool, error) {
	return s.ctrl.ReadStreamData(streamID, n, s.conn)
}

// Close envia CONNECTION_CLOSE ao peer e fecha o socket.
func (s *QuicSocket) Close() error {
	var err error
	if s.conn != nil {
		err = s.ctrl.InitiateTermination(s.conn)
	}
	s.shutdown()
	return err
}

// Release fecha o socket sem avisar o peer — usado ao reconhecer um
// fechamento iniciado por ele.
func (s *QuicSocket) Release() error {
	var err error
	if s.conn != nil {
		err = s.ctrl.RespondToTermination(s.conn)
	}
	s.shutdown()
	return err
}

func (s *QuicSocket) shutdown() {
	if s.reporter != nil {
		s.reporter.Unregister(s.ctrl.Context().Session)
		if s.ownsReporter {
			s.reporter.Stop()
			s.reporter = nil
		}
	}
	if s.sessionLog != nil {
		s.sessionLog.Close()
		s.sessionLog = nil
	}
	if s.logCloser != nil {
		s.logCloser.Close()
		s.logCloser = nil
	}
}

// Stats retorna a fotografia de métricas da conexão.
func (s *QuicSocket) Stats() Stats {
	return s.ctrl.Stats()
}

// RegisterMetrics registra a conexão no Collector Prometheus.
func (s *QuicSocket) RegisterMetrics(c *Collector) {
	c.Add(s.ctrl.Context().Session, s.ctrl)
}

// UnregisterMetrics remove a conexão do Collector.
func (s *QuicSocket) UnregisterMetrics(c *Collector) {
	c.Remove(s.ctrl.Context().Session)
}

func (s *QuicSocket) String() string {
	ctx := s.ctrl.Context()
	return fmt.Sprintf("QuicSocket{state=%s %s}", s.ctrl.State(), ctx)
}
