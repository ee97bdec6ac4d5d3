// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"math"
	"sort"
	"time"

	"github.com/nishisan-dev/n-quic/internal/wire"
)

// Constantes de congestionamento (RFC 9002).
const (
	// MaxDatagramSize é o tamanho de datagrama assumido pelo controle
	// de congestionamento.
	MaxDatagramSize = 1200
	// InitialCongestionWindow é 10 × MaxDatagramSize.
	InitialCongestionWindow = 10 * MaxDatagramSize
	// MinimumCongestionWindow é 2 × MaxDatagramSize.
	MinimumCongestionWindow = 2 * MaxDatagramSize

	// DefaultReorderingThreshold é o limiar de reordenação para
	// declaração de perda: um pacote in-flight com
	// largest_acked − pn ≥ limiar é considerado perdido.
	DefaultReorderingThreshold = 3
)

// SentPacketRecord registra um pacote enviado enquanto ele ainda pode
// precisar de retransmissão ou afetar o estado de congestionamento.
// Removido no ack ou na declaração de perda — exatamente uma vez.
type SentPacketRecord struct {
	PacketNumber uint32
	InFlight     bool
	AckEliciting bool
	SentBytes    int
	TimeSent     time.Time
	Packet       *wire.Packet
}

// SenderController é o controlador de congestionamento do lado emissor:
// slow start, congestion avoidance e recovery, com detecção de perda
// por limiar de reordenação.
type SenderController struct {
	congestionWindow   int
	bytesInFlight      int
	slowStartThreshold int

	sentPackets map[uint32]*SentPacketRecord

	// recoveryStart marca o início do loss epoch corrente (zero = fora
	// de recovery). lastLossSent é o maior time_sent entre os pacotes já
	// declarados perdidos; enquanto lastLossSent ≤ recoveryStart a perda
	// pertence ao epoch corrente e não reduz a janela de novo.
	recoveryStart time.Time
	lastLossSent  time.Time

	reorderingThreshold uint32

	// now é o relógio monotônico; substituível em teste.
	now func() time.Time
}

// NewSenderController cria o controlador com a janela inicial e o
// slow start threshold em infinito.
func NewSenderController(reorderingThreshold uint32) *SenderController {
	if reorderingThreshold == 0 {
		reorderingThreshold = DefaultReorderingThreshold
	}
	return &SenderController{
		congestionWindow:    InitialCongestionWindow,
		slowStartThreshold:  math.MaxInt,
		sentPackets:         make(map[uint32]*SentPacketRecord),
		reorderingThreshold: reorderingThreshold,
		now:                 time.Now,
	}
}

// CanSend informa se há janela para mais um pacote in-flight.
func (sc *SenderController) CanSend() bool {
	return sc.bytesInFlight < sc.congestionWindow
}

// InSlowStart informa se o controlador está em slow start.
func (sc *SenderController) InSlowStart() bool {
	return sc.congestionWindow < sc.slowStartThreshold
}

// Send serializa e transmite um pacote ack-eliciting, contabilizando-o
// como in-flight. O caller garante CanSend() antes.
func (sc *SenderController) Send(pkt *wire.Packet, conn DatagramConn, ctx *ConnectionContext) error {
	raw := pkt.Raw()
	if err := conn.SendTo(raw, ctx.PeerAddr); err != nil {
		return err
	}
	sc.bytesInFlight += len(raw)
	sc.sentPackets[pkt.Header.Number()] = &SentPacketRecord{
		PacketNumber: pkt.Header.Number(),
		InFlight:     true,
		AckEliciting: true,
		SentBytes:    len(raw),
		TimeSent:     sc.now(),
		Packet:       pkt,
	}
	return nil
}

// SendNonAckEliciting transmite um pacote que não disputa a janela
// (ACK, PADDING, CONNECTION_CLOSE). O registro fica fora do
// bytes-in-flight mas é mantido para a supressão de ack-de-ack.
func (sc *SenderController) SendNonAckEliciting(pkt *wire.Packet, conn DatagramConn, ctx *ConnectionContext) error {
	raw := pkt.Raw()
	if err := conn.SendTo(raw, ctx.PeerAddr); err != nil {
		return err
	}
	sc.sentPackets[pkt.Header.Number()] = &SentPacketRecord{
		PacketNumber: pkt.Header.Number(),
		InFlight:     false,
		AckEliciting: false,
		SentBytes:    len(raw),
		TimeSent:     sc.now(),
		Packet:       pkt,
	}
	return nil
}

// OnAckReceived processa os packet numbers confirmados e retorna os
// registros removidos (o controller usa os registros para expurgar do
// conjunto de recebidos os acks-de-acks).
func (sc *SenderController) OnAckReceived(pns []uint32) []*SentPacketRecord {
	var popped []*SentPacketRecord
	for _, pn := range pns {
		rec, ok := sc.sentPackets[pn]
		if !ok {
			continue
		}
		delete(sc.sentPackets, pn)
		popped = append(popped, rec)

		if !rec.InFlight {
			continue
		}
		sc.bytesInFlight -= rec.SentBytes

		// Acks de pacotes enviados antes do início do recovery não
		// crescem a janela; um ack de pacote enviado depois encerra o
		// recovery.
		if !sc.recoveryStart.IsZero() && !rec.TimeSent.After(sc.recoveryStart) {
			continue
		}
		if sc.InSlowStart() {
			sc.congestionWindow += rec.SentBytes
		} else {
			sc.congestionWindow += MaxDatagramSize * rec.SentBytes / sc.congestionWindow
		}
		sc.recoveryStart = time.Time{}
		sc.lastLossSent = time.Time{}
	}
	return popped
}

// DetectLoss declara perdidos os pacotes ack-eliciting in-flight cujo
// packet number ficou reorderingThreshold ou mais atrás do maior
// confirmado, e retorna seus registros para retransmissão.
//
// A redução multiplicativa acontece no máximo uma vez por loss epoch.
func (sc *SenderController) DetectLoss(largestAcked uint32) []*SentPacketRecord {
	var lostPNs []uint32
	for pn, rec := range sc.sentPackets {
		if !rec.AckEliciting || !rec.InFlight {
			continue
		}
		if pn < largestAcked && largestAcked-pn >= sc.reorderingThreshold {
			lostPNs = append(lostPNs, pn)
		}
	}
	if len(lostPNs) == 0 {
		return nil
	}
	sort.Slice(lostPNs, func(i, j int) bool { return lostPNs[i] < lostPNs[j] })

	var lost []*SentPacketRecord
	for _, pn := range lostPNs {
		rec := sc.sentPackets[pn]
		delete(sc.sentPackets, pn)
		sc.bytesInFlight -= rec.SentBytes
		if rec.TimeSent.After(sc.lastLossSent) {
			sc.lastLossSent = rec.TimeSent
		}
		lost = append(lost, rec)
	}

	inRecovery := !sc.recoveryStart.IsZero() && !sc.lastLossSent.After(sc.recoveryStart)
	if !inRecovery {
		sc.slowStartThreshold = sc.congestionWindow / 2
		sc.congestionWindow = sc.slowStartThreshold
		if sc.congestionWindow < MinimumCongestionWindow {
			sc.congestionWindow = MinimumCongestionWindow
		}
		sc.recoveryStart = sc.now()
	}
	return lost
}

// BytesInFlight retorna a soma de sent_bytes dos pacotes in-flight.
func (sc *SenderController) BytesInFlight() int {
	return sc.bytesInFlight
}

// CongestionWindow retorna a janela de congestionamento corrente.
func (sc *SenderController) CongestionWindow() int {
	return sc.congestionWindow
}

// SlowStartThreshold retorna o limiar corrente de slow start.
func (sc *SenderController) SlowStartThreshold() int {
	return sc.slowStartThreshold
}

// TrackedPackets retorna quantos pacotes enviados ainda têm registro.
func (sc *SenderController) TrackedPackets() int {
	return len(sc.sentPackets)
}
