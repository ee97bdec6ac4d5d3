// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import (
	"errors"
	"reflect"
	"testing"
)

func TestParsePacket_RoundTrip(t *testing.T) {
	stream, _ := NewStreamFrame(1, 100, []byte("0123456789"))
	closeFrame, _ := NewConnectionCloseFrame(1, "going away")
	ack := &AckFrame{LargestAcked: 19, FirstRange: 1, Ranges: []AckRange{{Gap: 2, Length: 3}}}

	tests := []struct {
		name   string
		packet *Packet
	}{
		{"initial empty", NewPacket(&LongHeader{PacketType: TypeInitial, Version: Version, DstID: 0, SrcID: 77, PacketNumber: 0})},
		{"handshake empty", NewPacket(&LongHeader{PacketType: TypeHandshake, Version: Version, DstID: 88, SrcID: 77, PacketNumber: 1})},
		{"data with stream", NewPacket(&ShortHeader{DstID: 88, PacketNumber: 2}, stream)},
		{"data with ack", NewPacket(&ShortHeader{DstID: 88, PacketNumber: 3}, ack)},
		{"data with close", NewPacket(&ShortHeader{DstID: 88, PacketNumber: 4}, closeFrame)},
		{"data with padding run", NewPacket(&ShortHeader{DstID: 88, PacketNumber: 5}, &PaddingFrame{}, &PaddingFrame{}, stream)},
		{"data multi frame", NewPacket(&ShortHeader{DstID: 88, PacketNumber: 6}, ack, stream)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParsePacket(tt.packet.Raw())
			if err != nil {
				t.Fatalf("ParsePacket: %v", err)
			}
			if !reflect.DeepEqual(parsed, tt.packet) {
				t.Errorf("round trip mismatch:\nexpected %#v\ngot      %#v", tt.packet, parsed)
			}
		})
	}
}

func TestParsePacket_Errors(t *testing.T) {
	stream, _ := NewStreamFrame(1, 0, []byte("hello"))
	good := NewPacket(&ShortHeader{DstID: 1, PacketNumber: 0}, stream).Raw()

	longGood := NewPacket(&LongHeader{PacketType: TypeInitial, Version: Version, SrcID: 5, PacketNumber: 0}).Raw()

	badCIDLen := make([]byte, len(longGood))
	copy(badCIDLen, longGood)
	badCIDLen[2] = 8

	badPNLen := make([]byte, len(longGood))
	copy(badPNLen, longGood)
	badPNLen[12] = 2

	// Declara 2 bytes de payload que o datagrama não carrega.
	overLength := make([]byte, len(longGood))
	copy(overLength, longGood)
	overLength[18] = 2

	badFrame := make([]byte, len(good))
	copy(badFrame, good)
	badFrame[ShortHeaderSize] = 0xFF

	// O length do stream frame declara mais dados do que restam.
	overStream := make([]byte, len(good))
	copy(overStream, good)
	overStream[ShortHeaderSize+11] = 0xFF

	tests := []struct {
		name     string
		datagram []byte
		want     error
	}{
		{"empty datagram", nil, ErrTruncatedPacket},
		{"unknown long type", []byte{0x90}, ErrUnknownPacketType},
		{"unknown short type", []byte{0x20}, ErrUnknownPacketType},
		{"truncated long header", longGood[:10], ErrTruncatedPacket},
		{"truncated short header", good[:5], ErrTruncatedPacket},
		{"bad cid length", badCIDLen, ErrMalformedHeader},
		{"bad pn length", badPNLen, ErrMalformedHeader},
		{"payload length overrun", overLength, ErrTruncatedPacket},
		{"unknown frame type", badFrame, ErrUnknownFrameType},
		{"stream frame overrun", overStream, ErrTruncatedPacket},
		{"truncated stream frame header", good[:ShortHeaderSize+4], ErrTruncatedPacket},
		{"truncated ack frame", append(append([]byte{}, good[:ShortHeaderSize]...), FrameTypeAck, 0, 0), ErrTruncatedPacket},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePacket(tt.datagram)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestParsePacket_NeverReadsBeyondBounds(t *testing.T) {
	// Qualquer prefixo de um pacote válido deve falhar com erro, nunca
	// com panic por índice fora dos limites.
	stream, _ := NewStreamFrame(3, 1000, []byte("the quick brown fox"))
	ack := &AckFrame{LargestAcked: 50, FirstRange: 3, Ranges: []AckRange{{Gap: 1, Length: 2}, {Gap: 4, Length: 1}}}
	full := NewPacket(&ShortHeader{DstID: 9, PacketNumber: 30}, ack, stream).Raw()

	// Prefixos que terminam exatamente em fronteira de frame são pacotes
	// válidos menores; todos os demais devem retornar erro. Nenhum prefixo
	// pode causar panic por leitura fora dos limites.
	frameBoundaries := map[int]bool{}
	frameBoundaries[ShortHeaderSize] = true
	frameBoundaries[ShortHeaderSize+len(ack.Raw())] = true
	frameBoundaries[len(full)] = true
	for i := 0; i <= len(full); i++ {
		_, err := ParsePacket(full[:i])
		if frameBoundaries[i] {
			if err != nil {
				t.Errorf("prefix of %d bytes (frame boundary): unexpected error %v", i, err)
			}
		} else if err == nil {
			t.Errorf("prefix of %d bytes parsed without error", i)
		}
	}
}
