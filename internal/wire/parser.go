// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"fmt"
)

// longHeaderBit é o bit mais significativo do primeiro byte.
const longHeaderBit = 0x80

// ParsePacket decodifica um datagrama completo em um Packet.
//
// O parse é total: nunca lê além dos limites do datagrama. Qualquer
// violação estrutural (truncamento, tipo desconhecido, length declarado
// maior que os bytes restantes) retorna erro e o caller descarta o
// datagrama.
func ParsePacket(datagram []byte) (*Packet, error) {
	if len(datagram) == 0 {
		return nil, fmt.Errorf("%w: empty datagram", ErrTruncatedPacket)
	}

	if datagram[0]&longHeaderBit != 0 {
		return parseLongHeaderPacket(datagram)
	}
	return parseShortHeaderPacket(datagram)
}

func parseLongHeaderPacket(datagram []byte) (*Packet, error) {
	switch datagram[0] {
	case TypeInitial, TypeZeroRTT, TypeHandshake, TypeRetry:
	default:
		return nil, fmt.Errorf("%w: first byte 0x%02x", ErrUnknownPacketType, datagram[0])
	}
	if len(datagram) < LongHeaderSize {
		return nil, fmt.Errorf("%w: long header needs %d bytes, got %d", ErrTruncatedPacket, LongHeaderSize, len(datagram))
	}
	if datagram[2] != ConnectionIDLen || datagram[7] != ConnectionIDLen {
		return nil, fmt.Errorf("%w: connection id length must be %d", ErrMalformedHeader, ConnectionIDLen)
	}
	if datagram[12] != PacketNumberLen {
		return nil, fmt.Errorf("%w: packet number length must be %d", ErrMalformedHeader, PacketNumberLen)
	}

	h := &LongHeader{
		PacketType:    datagram[0],
		Version:       datagram[1],
		DstID:         binary.BigEndian.Uint32(datagram[3:7]),
		SrcID:         binary.BigEndian.Uint32(datagram[8:12]),
		PacketNumber:  binary.BigEndian.Uint32(datagram[13:17]),
		PayloadLength: binary.BigEndian.Uint16(datagram[17:19]),
	}

	payload := datagram[LongHeaderSize:]
	if int(h.PayloadLength) != len(payload) {
		return nil, fmt.Errorf("%w: declared payload %d bytes, datagram carries %d", ErrTruncatedPacket, h.PayloadLength, len(payload))
	}

	frames, err := parseFrames(payload)
	if err != nil {
		return nil, err
	}
	return &Packet{Header: h, Frames: frames}, nil
}

func parseShortHeaderPacket(datagram []byte) (*Packet, error) {
	if datagram[0] != TypeData {
		return nil, fmt.Errorf("%w: first byte 0x%02x", ErrUnknownPacketType, datagram[0])
	}
	if len(datagram) < ShortHeaderSize {
		return nil, fmt.Errorf("%w: short header needs %d bytes, got %d", ErrTruncatedPacket, ShortHeaderSize, len(datagram))
	}

	h := &ShortHeader{
		DstID:        binary.BigEndian.Uint32(datagram[1:5]),
		PacketNumber: binary.BigEndian.Uint32(datagram[5:9]),
	}

	frames, err := parseFrames(datagram[ShortHeaderSize:])
	if err != nil {
		return nil, err
	}
	return &Packet{Header: h, Frames: frames}, nil
}

// parseFrames consome o payload frame a frame até esgotar os bytes.
func parseFrames(b []byte) ([]Frame, error) {
	var frames []Frame
	for len(b) > 0 {
		var (
			f   Frame
			n   int
			err error
		)
		switch b[0] {
		case FrameTypePadding:
			f, n = &PaddingFrame{}, 1
		case FrameTypeStream:
			f, n, err = parseStreamFrame(b)
		case FrameTypeCrypto:
			f, n, err = parseCryptoFrame(b)
		case FrameTypeAck:
			f, n, err = parseAckFrame(b)
		case FrameTypeConnectionClose:
			f, n, err = parseConnectionCloseFrame(b)
		default:
			return nil, fmt.Errorf("%w: frame byte 0x%02x", ErrUnknownFrameType, b[0])
		}
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
		b = b[n:]
	}
	return frames, nil
}

func parseStreamFrame(b []byte) (*StreamFrame, int, error) {
	if len(b) < StreamFrameOverhead {
		return nil, 0, fmt.Errorf("%w: stream frame header", ErrTruncatedPacket)
	}
	length := int(binary.BigEndian.Uint16(b[10:12]))
	total := StreamFrameOverhead + length
	if len(b) < total {
		return nil, 0, fmt.Errorf("%w: stream frame declares %d data bytes, %d remain", ErrTruncatedPacket, length, len(b)-StreamFrameOverhead)
	}
	data := make([]byte, length)
	copy(data, b[StreamFrameOverhead:total])
	return &StreamFrame{
		StreamID: b[1],
		Offset:   binary.BigEndian.Uint64(b[2:10]),
		Data:     data,
	}, total, nil
}

func parseCryptoFrame(b []byte) (*CryptoFrame, int, error) {
	if len(b) < CryptoFrameOverhead {
		return nil, 0, fmt.Errorf("%w: crypto frame header", ErrTruncatedPacket)
	}
	length := int(binary.BigEndian.Uint16(b[9:11]))
	total := CryptoFrameOverhead + length
	if len(b) < total {
		return nil, 0, fmt.Errorf("%w: crypto frame declares %d data bytes, %d remain", ErrTruncatedPacket, length, len(b)-CryptoFrameOverhead)
	}
	data := make([]byte, length)
	copy(data, b[CryptoFrameOverhead:total])
	return &CryptoFrame{
		Offset: binary.BigEndian.Uint64(b[1:9]),
		Data:   data,
	}, total, nil
}

func parseAckFrame(b []byte) (*AckFrame, int, error) {
	if len(b) < AckFrameOverhead {
		return nil, 0, fmt.Errorf("%w: ack frame header", ErrTruncatedPacket)
	}
	rangeCount := int(binary.BigEndian.Uint32(b[9:13]))
	total := AckFrameOverhead + rangeCount*AckRangeSize
	if len(b) < total {
		return nil, 0, fmt.Errorf("%w: ack frame declares %d ranges, %d bytes remain", ErrTruncatedPacket, rangeCount, len(b)-AckFrameOverhead)
	}

	f := &AckFrame{
		LargestAcked: binary.BigEndian.Uint32(b[1:5]),
		AckDelay:     binary.BigEndian.Uint32(b[5:9]),
		FirstRange:   binary.BigEndian.Uint32(b[13:17]),
	}
	off := AckFrameOverhead
	for i := 0; i < rangeCount; i++ {
		f.Ranges = append(f.Ranges, AckRange{
			Gap:    binary.BigEndian.Uint32(b[off : off+4]),
			Length: binary.BigEndian.Uint32(b[off+4 : off+8]),
		})
		off += AckRangeSize
	}
	return f, total, nil
}

func parseConnectionCloseFrame(b []byte) (*ConnectionCloseFrame, int, error) {
	if len(b) < ConnectionCloseFrameOverhead {
		return nil, 0, fmt.Errorf("%w: connection close frame header", ErrTruncatedPacket)
	}
	reasonLen := int(b[2])
	total := ConnectionCloseFrameOverhead + reasonLen
	if len(b) < total {
		return nil, 0, fmt.Errorf("%w: close reason declares %d bytes, %d remain", ErrTruncatedPacket, reasonLen, len(b)-ConnectionCloseFrameOverhead)
	}
	return &ConnectionCloseFrame{
		ErrorCode: b[1],
		Reason:    string(b[ConnectionCloseFrameOverhead:total]),
	}, total, nil
}
