// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"bytes"
	"testing"

	"github.com/nishisan-dev/n-quic/internal/wire"
)

func testContext() *ConnectionContext {
	ctx := NewConnectionContext()
	ctx.LocalID = 0x11111111
	ctx.PeerID = 0x22222222
	ctx.HasPeerID = true
	return ctx
}

func TestPacketizer_HandshakePackets(t *testing.T) {
	p := NewPacketizer()
	ctx := testContext()

	initial := p.NewInitial(ctx)
	hs := p.NewHandshake(ctx)

	ih := initial.Header.(*wire.LongHeader)
	if ih.PacketType != wire.TypeInitial || ih.PacketNumber != 0 {
		t.Errorf("expected INITIAL pn 0, got type 0x%02x pn %d", ih.PacketType, ih.PacketNumber)
	}
	if ih.SrcID != ctx.LocalID || ih.DstID != ctx.PeerID {
		t.Errorf("unexpected cids: src %08x dst %08x", ih.SrcID, ih.DstID)
	}
	if len(initial.Frames) != 0 {
		t.Errorf("expected empty INITIAL, got %d frames", len(initial.Frames))
	}

	hh := hs.Header.(*wire.LongHeader)
	if hh.PacketType != wire.TypeHandshake || hh.PacketNumber != 1 {
		t.Errorf("expected HANDSHAKE pn 1, got type 0x%02x pn %d", hh.PacketType, hh.PacketNumber)
	}
}

func TestPacketizer_ConnectionResponsePair(t *testing.T) {
	p := NewPacketizer()
	ctx := testContext()

	pair := p.NewConnectionResponse(ctx)
	if len(pair) != 2 {
		t.Fatalf("expected 2 packets, got %d", len(pair))
	}

	first := pair[0].Header.(*wire.LongHeader)
	second := pair[1].Header.(*wire.LongHeader)
	if first.PacketType != wire.TypeInitial || first.PacketNumber != 0 {
		t.Errorf("expected INITIAL pn 0, got type 0x%02x pn %d", first.PacketType, first.PacketNumber)
	}
	if second.PacketType != wire.TypeHandshake || second.PacketNumber != 1 {
		t.Errorf("expected HANDSHAKE pn 1, got type 0x%02x pn %d", second.PacketType, second.PacketNumber)
	}
}

func TestPacketizer_StreamDataSegmentation(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		packets int
	}{
		{"empty send", 0, 0},
		{"single byte", 1, 1},
		{"exactly max payload", wire.MaxStreamDataChunk, 1},
		{"max payload plus one", wire.MaxStreamDataChunk + 1, 2},
		{"three chunks", 2*wire.MaxStreamDataChunk + 100, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPacketizer()
			ctx := testContext()
			send := &SendStream{}

			data := bytes.Repeat([]byte{0xAB}, tt.size)
			pkts, err := p.NewStreamData(1, data, ctx, send)
			if err != nil {
				t.Fatalf("NewStreamData: %v", err)
			}
			if len(pkts) != tt.packets {
				t.Fatalf("expected %d packets, got %d", tt.packets, len(pkts))
			}

			// Offsets consecutivos preservam a ordem dos bytes, e o
			// offset do stream avança pelo total.
			var rebuilt []byte
			wantOffset := uint64(0)
			for _, pkt := range pkts {
				f := pkt.Frames[0].(*wire.StreamFrame)
				if f.Offset != wantOffset {
					t.Errorf("expected offset %d, got %d", wantOffset, f.Offset)
				}
				if len(f.Data) > wire.MaxStreamDataChunk {
					t.Errorf("chunk of %d bytes exceeds max %d", len(f.Data), wire.MaxStreamDataChunk)
				}
				wantOffset += uint64(len(f.Data))
				rebuilt = append(rebuilt, f.Data...)
			}
			if !bytes.Equal(rebuilt, data) {
				t.Error("chunks do not rebuild the original bytes")
			}
			if send.Offset() != uint64(tt.size) {
				t.Errorf("expected send offset %d, got %d", tt.size, send.Offset())
			}
		})
	}
}

func TestPacketizer_PacketNumbersStrictlyIncreasing(t *testing.T) {
	p := NewPacketizer()
	ctx := testContext()
	send := &SendStream{}

	var numbers []uint32
	collect := func(pkts ...*wire.Packet) {
		for _, pkt := range pkts {
			numbers = append(numbers, pkt.Header.Number())
		}
	}

	collect(p.NewInitial(ctx))
	pkts, _ := p.NewStreamData(1, bytes.Repeat([]byte{1}, 1000), ctx, send)
	collect(pkts...)

	tracker := NewAckTracker()
	tracker.Record(0)
	collect(p.NewAck(ctx, tracker))

	// Retransmissão também consome números novos.
	rec := &SentPacketRecord{Packet: pkts[0], PacketNumber: pkts[0].Header.Number()}
	collect(p.Retransmit([]*SentPacketRecord{rec}, ctx)...)

	closePkt, err := p.NewConnectionClose(ctx, 0, "done")
	if err != nil {
		t.Fatalf("NewConnectionClose: %v", err)
	}
	collect(closePkt)

	for i := 1; i < len(numbers); i++ {
		if numbers[i] <= numbers[i-1] {
			t.Fatalf("packet numbers not strictly increasing: %v", numbers)
		}
	}
}

func TestPacketizer_NewAck(t *testing.T) {
	p := NewPacketizer()
	ctx := testContext()

	if pkt := p.NewAck(ctx, NewAckTracker()); pkt != nil {
		t.Errorf("expected nil ack for empty set, got %+v", pkt)
	}

	tracker := NewAckTracker()
	tracker.Record(3)
	tracker.Record(4)

	pkt := p.NewAck(ctx, tracker)
	if pkt == nil {
		t.Fatal("expected ack packet")
	}
	if pkt.AckEliciting() {
		t.Error("ack packet must not be ack-eliciting")
	}
	f := pkt.Frames[0].(*wire.AckFrame)
	if f.LargestAcked != 4 || f.FirstRange != 1 {
		t.Errorf("unexpected ack frame %+v", f)
	}
}

func TestPacketizer_ConnectionClose(t *testing.T) {
	p := NewPacketizer()
	ctx := testContext()

	pkt, err := p.NewConnectionClose(ctx, 2, "going away")
	if err != nil {
		t.Fatalf("NewConnectionClose: %v", err)
	}
	if pkt.Header.IsLong() {
		t.Error("expected short header")
	}
	f := pkt.Frames[0].(*wire.ConnectionCloseFrame)
	if f.ErrorCode != 2 || f.Reason != "going away" {
		t.Errorf("unexpected close frame %+v", f)
	}
	if pkt.AckEliciting() {
		t.Error("close packet must not be ack-eliciting")
	}
}
