// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"fmt"

	"github.com/nishisan-dev/n-quic/internal/wire"
)

// Packetizer monta pacotes tipados a partir da intenção (dados de
// stream, ACK, close) e é o único dono do contador de packet numbers
// do endpoint. Números são estritamente crescentes e nunca reusados,
// inclusive em retransmissões.
type Packetizer struct {
	nextPacketNumber uint32
}

// NewPacketizer cria um packetizer com o contador zerado.
func NewPacketizer() *Packetizer {
	return &Packetizer{}
}

func (p *Packetizer) next() uint32 {
	n := p.nextPacketNumber
	p.nextPacketNumber++
	return n
}

// NewInitial monta um pacote INITIAL sem frames.
func (p *Packetizer) NewInitial(ctx *ConnectionContext) *wire.Packet {
	return wire.NewPacket(&wire.LongHeader{
		PacketType:   wire.TypeInitial,
		Version:      wire.Version,
		DstID:        ctx.PeerID,
		SrcID:        ctx.LocalID,
		PacketNumber: p.next(),
	})
}

// NewHandshake monta um pacote HANDSHAKE sem frames.
func (p *Packetizer) NewHandshake(ctx *ConnectionContext) *wire.Packet {
	return wire.NewPacket(&wire.LongHeader{
		PacketType:   wire.TypeHandshake,
		Version:      wire.Version,
		DstID:        ctx.PeerID,
		SrcID:        ctx.LocalID,
		PacketNumber: p.next(),
	})
}

// NewConnectionResponse monta o par [INITIAL, HANDSHAKE] que o servidor
// emite em resposta ao INITIAL de um cliente.
func (p *Packetizer) NewConnectionResponse(ctx *ConnectionContext) []*wire.Packet {
	return []*wire.Packet{p.NewInitial(ctx), p.NewHandshake(ctx)}
}

// NewConnectionClose monta um pacote short header com um único frame
// CONNECTION_CLOSE.
func (p *Packetizer) NewConnectionClose(ctx *ConnectionContext, errorCode uint8, reason string) (*wire.Packet, error) {
	frame, err := wire.NewConnectionCloseFrame(errorCode, reason)
	if err != nil {
		return nil, fmt.Errorf("building connection close: %w", err)
	}
	return wire.NewPacket(&wire.ShortHeader{
		DstID:        ctx.PeerID,
		PacketNumber: p.next(),
	}, frame), nil
}

// NewStreamData segmenta data em chunks de até wire.MaxStreamDataChunk
// bytes e monta um pacote short header por chunk, um STREAM frame cada.
// O offset de cada frame é o offset corrente do SendStream, avançado
// pelo tamanho do chunk; a ordem dos chunks preserva a ordem dos bytes.
func (p *Packetizer) NewStreamData(streamID uint8, data []byte, ctx *ConnectionContext, send *SendStream) ([]*wire.Packet, error) {
	var packets []*wire.Packet
	for len(data) > 0 {
		chunk := data
		if len(chunk) > wire.MaxStreamDataChunk {
			chunk = chunk[:wire.MaxStreamDataChunk]
		}
		data = data[len(chunk):]

		frame, err := wire.NewStreamFrame(streamID, send.Offset(), chunk)
		if err != nil {
			return nil, fmt.Errorf("building stream frame: %w", err)
		}
		send.Advance(uint64(len(chunk)))

		packets = append(packets, wire.NewPacket(&wire.ShortHeader{
			DstID:        ctx.PeerID,
			PacketNumber: p.next(),
		}, frame))
	}
	return packets, nil
}

// NewAck codifica o conjunto de packet numbers recebidos em um pacote
// ACK. Retorna nil quando o conjunto está vazio.
func (p *Packetizer) NewAck(ctx *ConnectionContext, acks *AckTracker) *wire.Packet {
	frame := acks.BuildAckFrame(0)
	if frame == nil {
		return nil
	}
	return wire.NewPacket(&wire.ShortHeader{
		DstID:        ctx.PeerID,
		PacketNumber: p.next(),
	}, frame)
}

// Retransmit remonta pacotes perdidos: mesmos frames e campos de
// header, mas com packet number novo e maior.
func (p *Packetizer) Retransmit(lost []*SentPacketRecord, ctx *ConnectionContext) []*wire.Packet {
	var packets []*wire.Packet
	for _, rec := range lost {
		var header wire.Header
		switch h := rec.Packet.Header.(type) {
		case *wire.LongHeader:
			clone := *h
			clone.PacketNumber = p.next()
			header = &clone
		case *wire.ShortHeader:
			clone := *h
			clone.PacketNumber = p.next()
			header = &clone
		}
		packets = append(packets, wire.NewPacket(header, rec.Packet.Frames...))
	}
	return packets
}
