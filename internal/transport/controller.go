// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/nishisan-dev/n-quic/internal/wire"
)

// State é o estado da máquina de handshake do controller.
type State int

const (
	StateDisconnected State = iota
	StateInitializing
	StateListeningInitial
	StateListeningHandshake
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateInitializing:
		return "initializing"
	case StateListeningInitial:
		return "listening_initial"
	case StateListeningHandshake:
		return "listening_handshake"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrHandshakeState indica uma transição de FSM inválida pedida pelo
// caller (ex: connect em socket que não está disconnected).
var ErrHandshakeState = errors.New("transport: invalid handshake state")

// drainInterval é a pausa entre passes de drain quando não há
// datagramas, para não girar a CPU no spin de handshake/janela.
const drainInterval = 200 * time.Microsecond

// inbound é um pacote decodificado mais o endereço de origem.
type inbound struct {
	pkt  *wire.Packet
	from *net.UDPAddr
}

// SocketFactory cria o socket de datagramas por conexão que o servidor
// vincula ao receber o primeiro INITIAL, liberando o socket de escuta
// para aceitar outros clientes.
type SocketFactory func(local, peer *net.UDPAddr) (DatagramConn, error)

// Controller orquestra o engine de uma conexão: FSM de handshake,
// despacho de pacotes, codificação de ACK ranges, retransmissão e a
// contabilidade de acknowledgements.
//
// O controller é single-threaded e cooperativo: cada operação roda até
// o fim na thread do caller, e o socket de datagramas é o único ponto
// de suspensão. Não há timers internos; perda só é detectada quando um
// ACK expõe um gap.
type Controller struct {
	logger *slog.Logger

	ctx        *ConnectionContext
	packetizer *Packetizer
	cc         *SenderController
	pacer      *Pacer

	sendStreams map[uint8]*SendStream
	recvStreams map[uint8]*ReceiveStream

	// acks é o conjunto de packet numbers recebidos ainda não
	// confirmados-de-volta; alimenta a emissão de ACK ranges.
	acks *AckTracker

	// largestAcked é o maior packet number nosso confirmado pelo peer.
	// hasLargestAcked distingue "nenhum ainda" do valor zero; o primeiro
	// valor observado vale incondicionalmente.
	largestAcked    uint32
	hasLargestAcked bool

	// buffered guarda pacotes chegados fora de fase durante o handshake;
	// drenado a cada passe de processamento.
	buffered []*wire.Packet

	// outQueue guarda pacotes aguardando janela de congestionamento.
	outQueue []*wire.Packet

	serverInitialReceived   bool
	serverHandshakeReceived bool
	clientInitialReceived   bool
	clientHandshakeReceived bool

	peerClosed bool
	state      State

	// socketFactory cria o socket por conexão no accept; nil mantém o
	// socket de escuta (usado nos testes com sockets em memória).
	socketFactory SocketFactory
	connSocket    DatagramConn

	counters transportCounters
}

// NewController cria um controller desconectado.
func NewController(logger *slog.Logger, reorderingThreshold uint32, pacer *Pacer) *Controller {
	ctx := NewConnectionContext()
	return &Controller{
		logger:      logger.With("component", "controller", "session", ctx.Session),
		ctx:         ctx,
		packetizer:  NewPacketizer(),
		cc:          NewSenderController(reorderingThreshold),
		pacer:       pacer,
		sendStreams: make(map[uint8]*SendStream),
		recvStreams: make(map[uint8]*ReceiveStream),
		acks:        NewAckTracker(),
		state:       StateDisconnected,
	}
}

// SetSocketFactory define como o socket por conexão é criado no accept.
func (c *Controller) SetSocketFactory(f SocketFactory) { c.socketFactory = f }

// SetLogger troca o logger do controller (ex: para anexar o arquivo de
// log por conexão). Deve ser chamado antes de qualquer operação.
func (c *Controller) SetLogger(logger *slog.Logger) {
	c.logger = logger.With("component", "controller", "session", c.ctx.Session)
}

// Context retorna o contexto de conexão.
func (c *Controller) Context() *ConnectionContext { return c.ctx }

// State retorna o estado corrente da FSM.
func (c *Controller) State() State { return c.state }

// PeerClosed informa se o peer emitiu CONNECTION_CLOSE.
func (c *Controller) PeerClosed() bool { return c.peerClosed }

// ConnSocket retorna o socket por conexão criado durante o accept.
func (c *Controller) ConnSocket() DatagramConn { return c.connSocket }

// CreateConnection executa o handshake de cliente: envia INITIAL e
// drena o socket até a FSM alcançar CONNECTED. Bloqueia a thread do
// caller; cancelamento é fechar o socket de datagramas.
func (c *Controller) CreateConnection(conn DatagramConn, addr *net.UDPAddr) error {
	if c.state != StateDisconnected {
		return fmt.Errorf("%w: connect on %s socket", ErrHandshakeState, c.state)
	}
	if err := c.ctx.MintLocalID(); err != nil {
		return err
	}
	c.ctx.PeerAddr = addr
	c.ctx.LocalAddr = conn.LocalAddr()
	c.state = StateInitializing

	if err := c.writePacket(conn, c.packetizer.NewInitial(c.ctx)); err != nil {
		return fmt.Errorf("sending initial: %w", err)
	}
	c.logger.Debug("client initial sent", "peer", addr.String())

	for c.state != StateConnected {
		if c.peerClosed {
			return fmt.Errorf("%w: socket closed during handshake", ErrSocketClosed)
		}
		c.drainAndProcess(conn)
		if c.state != StateConnected {
			time.Sleep(drainInterval)
		}
	}

	// Associa o 5-tuple do kernel agora que o peer é definitivo.
	if err := conn.Connect(addr); err != nil {
		return err
	}
	c.logger.Info("connection established", "peer", addr.String(), "peer_cid", fmt.Sprintf("%08x", c.ctx.PeerID))
	return nil
}

// Listen coloca o controller em escuta de INITIALs.
func (c *Controller) Listen(conn DatagramConn) error {
	if c.state != StateDisconnected {
		return fmt.Errorf("%w: listen on %s socket", ErrHandshakeState, c.state)
	}
	c.ctx.LocalAddr = conn.LocalAddr()
	c.state = StateListeningInitial
	c.logger.Info("listening", "addr", c.ctx.LocalAddr.String())
	return nil
}

// AcceptConnection bloqueia até um cliente completar o handshake.
// Ao receber o primeiro INITIAL o controller vincula o socket por
// conexão; ao receber o HANDSHAKE do cliente a FSM chega a CONNECTED e
// este controller passa a ser o controller da conexão aceita (o caller
// o transfere para um socket novo e rearma o listener).
func (c *Controller) AcceptConnection(listenConn DatagramConn) error {
	if c.state != StateListeningInitial {
		return fmt.Errorf("%w: accept on %s socket", ErrHandshakeState, c.state)
	}

	for c.state != StateConnected {
		if c.peerClosed {
			return fmt.Errorf("%w: socket closed during accept", ErrSocketClosed)
		}
		src := listenConn
		if c.connSocket != nil {
			src = c.connSocket
		}
		c.drainAndProcess(src)
		if c.state != StateConnected {
			time.Sleep(drainInterval)
		}
	}
	c.logger.Info("connection accepted", "peer", c.ctx.PeerAddr.String(), "peer_cid", fmt.Sprintf("%08x", c.ctx.PeerID))
	return nil
}

// SendStreamData segmenta e transmite data no stream, respeitando a
// janela de congestionamento. Pacotes sem janela são re-enfileirados;
// entre tentativas o socket é drenado (acks liberam janela). Retorna
// false sse o peer fechou a conexão.
func (c *Controller) SendStreamData(streamID uint8, data []byte, conn DatagramConn) (bool, error) {
	c.drainAndProcess(conn)
	if c.peerClosed {
		return false, nil
	}
	if c.state != StateConnected {
		return false, fmt.Errorf("%w: send on %s socket", ErrHandshakeState, c.state)
	}

	pkts, err := c.packetizer.NewStreamData(streamID, data, c.ctx, c.sendStream(streamID))
	if err != nil {
		return false, err
	}
	c.outQueue = append(c.outQueue, pkts...)

	for len(c.outQueue) > 0 {
		if err := c.flushOutQueue(conn); err != nil {
			return false, err
		}
		if len(c.outQueue) == 0 {
			break
		}
		time.Sleep(drainInterval)
		c.drainAndProcess(conn)
		if c.peerClosed {
			return false, nil
		}
	}
	return true, nil
}

// ReadStreamData drena o socket, processa o que chegou e entrega até n
// bytes contíguos do stream, mais a flag de fechamento pelo peer.
func (c *Controller) ReadStreamData(streamID uint8, n int, conn DatagramConn) ([]byte, bool, error) {
	c.drainAndProcess(conn)
	// Retransmissões pendentes não podem esperar o próximo send.
	if err := c.flushOutQueue(conn); err != nil {
		return nil, c.peerClosed, err
	}
	return c.receiveStream(streamID).Read(n), c.peerClosed, nil
}

// InitiateTermination envia CONNECTION_CLOSE ao peer e fecha o socket.
func (c *Controller) InitiateTermination(conn DatagramConn) error {
	if c.state == StateClosed {
		return nil
	}
	if c.state == StateConnected && !c.peerClosed {
		pkt, err := c.packetizer.NewConnectionClose(c.ctx, 0, "connection closed")
		if err != nil {
			return err
		}
		// CLOSE não disputa janela; erro de envio não impede o fechamento.
		if err := c.cc.SendNonAckEliciting(pkt, conn, c.ctx); err != nil {
			c.logger.Warn("failed to send connection close", "error", err)
		} else {
			c.counters.packetsSent.Add(1)
		}
	}
	c.state = StateClosed
	c.logger.Info("connection closed")
	return conn.Close()
}

// RespondToTermination fecha localmente, sem CONNECTION_CLOSE — usado
// ao reconhecer um fechamento iniciado pelo peer.
func (c *Controller) RespondToTermination(conn DatagramConn) error {
	if c.state == StateClosed {
		return nil
	}
	c.state = StateClosed
	c.logger.Info("connection released")
	return conn.Close()
}

// Stats retorna uma fotografia das métricas da conexão.
func (c *Controller) Stats() StatsSnapshot {
	return StatsSnapshot{
		Session:              c.ctx.Session,
		State:                c.state.String(),
		PacketsSent:          c.counters.packetsSent.Load(),
		PacketsReceived:      c.counters.packetsReceived.Load(),
		PacketsRetransmitted: c.counters.packetsRetransmitted.Load(),
		BytesSent:            c.counters.bytesSent.Load(),
		BytesReceived:        c.counters.bytesReceived.Load(),
		ParseErrors:          c.counters.parseErrors.Load(),
		AcksSent:             c.counters.acksSent.Load(),
		CongestionWindow:     c.cc.CongestionWindow(),
		BytesInFlight:        c.cc.BytesInFlight(),
		PendingAcks:          c.acks.Len(),
	}
}

// sendStream retorna o SendStream do id, criando-o na primeira escrita.
func (c *Controller) sendStream(streamID uint8) *SendStream {
	s, ok := c.sendStreams[streamID]
	if !ok {
		s = &SendStream{}
		c.sendStreams[streamID] = s
	}
	return s
}

// receiveStream retorna o ReceiveStream do id, criando-o no primeiro
// STREAM frame recebido (criação implícita, comportamento herdado).
func (c *Controller) receiveStream(streamID uint8) *ReceiveStream {
	s, ok := c.recvStreams[streamID]
	if !ok {
		s = NewReceiveStream()
		c.recvStreams[streamID] = s
	}
	return s
}

// drainAndProcess lê todos os datagramas disponíveis sem bloquear,
// descarta os malformados e processa o lote.
func (c *Controller) drainAndProcess(conn DatagramConn) {
	var batch []inbound
	for {
		b, from, err := conn.RecvFrom()
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				break
			}
			// Socket fechado ou erro de I/O: fim de entrada.
			c.peerClosed = true
			break
		}
		pkt, perr := wire.ParsePacket(b)
		if perr != nil {
			c.counters.parseErrors.Add(1)
			c.logger.Debug("dropping malformed datagram", "error", perr, "bytes", len(b))
			continue
		}
		c.counters.packetsReceived.Add(1)
		c.counters.bytesReceived.Add(uint64(len(b)))
		batch = append(batch, inbound{pkt: pkt, from: from})
	}
	c.processPackets(conn, batch)
}

// processPackets processa um lote: pacotes bufferizados de passes
// anteriores primeiro, long headers antes de short headers.
func (c *Controller) processPackets(conn DatagramConn, batch []inbound) {
	if len(c.buffered) > 0 {
		held := c.buffered
		c.buffered = nil
		merged := make([]inbound, 0, len(held)+len(batch))
		for _, pkt := range held {
			merged = append(merged, inbound{pkt: pkt, from: c.ctx.PeerAddr})
		}
		batch = append(merged, batch...)
	}
	if len(batch) == 0 {
		return
	}

	for _, in := range batch {
		if in.pkt.Header.IsLong() {
			c.handleLongHeader(conn, in)
		}
	}
	for _, in := range batch {
		if !in.pkt.Header.IsLong() {
			c.handleShortHeader(conn, in.pkt)
		}
	}
}

func (c *Controller) handleLongHeader(conn DatagramConn, in inbound) {
	h := in.pkt.Header.(*wire.LongHeader)
	switch h.PacketType {
	case wire.TypeInitial:
		c.handleInitial(conn, h, in.from)
	case wire.TypeHandshake:
		c.handleHandshake(conn, in.pkt)
	default:
		// RETRY e 0-RTT ficam fora do subset implementado.
		c.logger.Debug("ignoring unsupported long header", "type", fmt.Sprintf("0x%02x", h.PacketType))
	}
}

func (c *Controller) handleInitial(conn DatagramConn, h *wire.LongHeader, from *net.UDPAddr) {
	switch c.state {
	case StateInitializing:
		// Cliente: resposta do servidor; aprende o CID do peer.
		c.ctx.LearnPeerID(h.SrcID)
		c.serverInitialReceived = true

	case StateListeningInitial:
		// Servidor: primeiro contato de um cliente.
		c.ctx.PeerAddr = from
		c.ctx.LearnPeerID(h.SrcID)
		if err := c.ctx.MintLocalID(); err != nil {
			c.logger.Error("failed to mint connection id", "error", err)
			return
		}
		c.clientInitialReceived = true

		// Vincula o socket por conexão para liberar o listener.
		if c.socketFactory != nil {
			sock, err := c.socketFactory(conn.LocalAddr(), from)
			if err != nil {
				c.logger.Error("failed to bind per-connection socket", "error", err)
				return
			}
			c.connSocket = sock
		} else {
			c.connSocket = conn
		}
		c.ctx.LocalAddr = c.connSocket.LocalAddr()

		for _, pkt := range c.packetizer.NewConnectionResponse(c.ctx) {
			if err := c.writePacket(c.connSocket, pkt); err != nil {
				c.logger.Warn("failed to send handshake response", "error", err)
			}
		}
		c.state = StateListeningHandshake
		c.logger.Debug("initial received, response pair sent", "peer", from.String())

	default:
		// INITIAL duplicado ou tardio.
	}
}

func (c *Controller) handleHandshake(conn DatagramConn, pkt *wire.Packet) {
	switch c.state {
	case StateInitializing:
		if !c.serverInitialReceived {
			// Fora de fase: espera o INITIAL do servidor chegar.
			c.buffered = append(c.buffered, pkt)
			return
		}
		c.serverHandshakeReceived = true
		if err := c.writePacket(conn, c.packetizer.NewHandshake(c.ctx)); err != nil {
			c.logger.Warn("failed to send client handshake", "error", err)
			return
		}
		c.ctx.Connected = true
		c.state = StateConnected

	case StateListeningHandshake:
		c.clientHandshakeReceived = true
		c.ctx.Connected = true
		c.state = StateConnected

	default:
		// HANDSHAKE duplicado ou tardio.
	}
}

func (c *Controller) handleShortHeader(conn DatagramConn, pkt *wire.Packet) {
	if c.state != StateConnected {
		// Entrega fora de fase durante o handshake.
		c.buffered = append(c.buffered, pkt)
		return
	}

	for _, f := range pkt.Frames {
		switch f := f.(type) {
		case *wire.StreamFrame:
			c.receiveStream(f.StreamID).OnFrame(f)
		case *wire.AckFrame:
			c.handleAckFrame(f)
		case *wire.ConnectionCloseFrame:
			c.peerClosed = true
			c.logger.Info("peer issued connection close", "code", f.ErrorCode, "reason", f.Reason)
		case *wire.CryptoFrame, *wire.PaddingFrame:
			// Sem efeito no subset implementado.
		}
	}

	c.acks.Record(pkt.Header.Number())
	if pkt.AckEliciting() {
		c.emitAck(conn)
	}
}

// handleAckFrame atualiza o largest acked, credita a janela, expurga
// acks-de-acks e dispara detecção de perda com retransmissão.
func (c *Controller) handleAckFrame(f *wire.AckFrame) {
	if !c.hasLargestAcked || f.LargestAcked > c.largestAcked {
		c.largestAcked = f.LargestAcked
		c.hasLargestAcked = true
	}

	popped := c.cc.OnAckReceived(DecodeAckRanges(f))

	// Se um pacote nosso que carregava um ACK foi confirmado, os packet
	// numbers que aquele ACK nomeava não precisam mais ser re-confirmados:
	// saem do conjunto de recebidos. Sem isso a cadeia de ack-de-ack não
	// termina nunca.
	for _, rec := range popped {
		for _, fr := range rec.Packet.Frames {
			if af, ok := fr.(*wire.AckFrame); ok {
				for _, pn := range DecodeAckRanges(af) {
					c.acks.Remove(pn)
				}
			}
		}
	}

	lost := c.cc.DetectLoss(c.largestAcked)
	if len(lost) == 0 {
		return
	}
	retrans := c.packetizer.Retransmit(lost, c.ctx)
	c.counters.packetsRetransmitted.Add(uint64(len(retrans)))
	for _, rec := range lost {
		c.logger.Debug("packet declared lost", "pn", rec.PacketNumber, "largest_acked", c.largestAcked)
	}
	c.outQueue = append(c.outQueue, retrans...)
}

// emitAck codifica e envia o ACK corrente pela via não ack-eliciting
// (não disputa a janela de congestionamento).
func (c *Controller) emitAck(conn DatagramConn) {
	pkt := c.packetizer.NewAck(c.ctx, c.acks)
	if pkt == nil {
		return
	}
	if err := c.cc.SendNonAckEliciting(pkt, conn, c.ctx); err != nil {
		c.logger.Warn("failed to send ack", "error", err)
		return
	}
	c.counters.packetsSent.Add(1)
	c.counters.acksSent.Add(1)
}

// flushOutQueue envia o que a janela de congestionamento permitir.
// ConnectionRefused é transiente: o pacote permanece na fila para o
// próximo passe.
func (c *Controller) flushOutQueue(conn DatagramConn) error {
	for len(c.outQueue) > 0 {
		if !c.cc.CanSend() {
			return nil
		}
		pkt := c.outQueue[0]
		size := len(pkt.Raw())
		if err := c.pacer.Wait(size); err != nil {
			return err
		}
		if err := c.cc.Send(pkt, conn, c.ctx); err != nil {
			if errors.Is(err, ErrConnectionRefused) {
				return nil
			}
			return err
		}
		c.outQueue = c.outQueue[1:]
		c.counters.packetsSent.Add(1)
		c.counters.bytesSent.Add(uint64(size))
	}
	return nil
}

// writePacket transmite um pacote fora do controle de congestionamento
// (pacotes de handshake). Não registra para retransmissão.
func (c *Controller) writePacket(conn DatagramConn, pkt *wire.Packet) error {
	raw := pkt.Raw()
	if err := c.pacer.Wait(len(raw)); err != nil {
		return err
	}
	if err := conn.SendTo(raw, c.ctx.PeerAddr); err != nil {
		return err
	}
	c.counters.packetsSent.Add(1)
	c.counters.bytesSent.Add(uint64(len(raw)))
	return nil
}
