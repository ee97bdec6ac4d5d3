// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Frame é a variante comum a todos os frames do protocolo.
type Frame interface {
	// Raw serializa o frame no layout fixo big-endian.
	Raw() []byte
	// AckEliciting informa se o frame exige ACK do receptor.
	// Frames diferentes de ACK, PADDING e CONNECTION_CLOSE são
	// ack-eliciting.
	AckEliciting() bool
}

// StreamFrame carrega bytes de um stream a partir de um offset absoluto.
// Layout: type(1)=0x08 | stream_id(1) | offset(8) | length(2) | data.
type StreamFrame struct {
	StreamID uint8
	Offset   uint64
	Data     []byte
}

// NewStreamFrame valida os campos e constrói um StreamFrame.
// Retorna ErrFieldRange se len(data) não cabe no campo length de 16 bits.
func NewStreamFrame(streamID uint8, offset uint64, data []byte) (*StreamFrame, error) {
	if len(data) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: stream data length %d exceeds %d", ErrFieldRange, len(data), math.MaxUint16)
	}
	return &StreamFrame{StreamID: streamID, Offset: offset, Data: data}, nil
}

func (f *StreamFrame) Raw() []byte {
	buf := make([]byte, StreamFrameOverhead+len(f.Data))
	buf[0] = FrameTypeStream
	buf[1] = f.StreamID
	binary.BigEndian.PutUint64(buf[2:10], f.Offset)
	binary.BigEndian.PutUint16(buf[10:12], uint16(len(f.Data)))
	copy(buf[12:], f.Data)
	return buf
}

func (f *StreamFrame) AckEliciting() bool { return true }

// CryptoFrame carrega material de handshake criptográfico. O engine não
// o emite (o handshake implementado não transporta payload CRYPTO), mas
// o frame faz parte da gramática do wire e é aceito pelo parser.
// Layout: type(1)=0x06 | offset(8) | length(2) | data.
type CryptoFrame struct {
	Offset uint64
	Data   []byte
}

// NewCryptoFrame valida os campos e constrói um CryptoFrame.
func NewCryptoFrame(offset uint64, data []byte) (*CryptoFrame, error) {
	if len(data) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: crypto data length %d exceeds %d", ErrFieldRange, len(data), math.MaxUint16)
	}
	return &CryptoFrame{Offset: offset, Data: data}, nil
}

func (f *CryptoFrame) Raw() []byte {
	buf := make([]byte, CryptoFrameOverhead+len(f.Data))
	buf[0] = FrameTypeCrypto
	binary.BigEndian.PutUint64(buf[1:9], f.Offset)
	binary.BigEndian.PutUint16(buf[9:11], uint16(len(f.Data)))
	copy(buf[11:], f.Data)
	return buf
}

func (f *CryptoFrame) AckEliciting() bool { return true }

// AckRange codifica um run contíguo de packet numbers confirmados,
// relativo ao run anterior em ordem decrescente de packet number.
type AckRange struct {
	Gap    uint32
	Length uint32
}

// AckFrame confirma conjuntos de packet numbers em forma de ranges.
// Layout: type(1)=0x02 | largest_acked(4) | ack_delay(4) | range_count(4) |
// first_range(4) | ranges(range_count × gap(4)|length(4)).
type AckFrame struct {
	LargestAcked uint32
	AckDelay     uint32
	FirstRange   uint32
	Ranges       []AckRange
}

func (f *AckFrame) Raw() []byte {
	buf := make([]byte, AckFrameOverhead+len(f.Ranges)*AckRangeSize)
	buf[0] = FrameTypeAck
	binary.BigEndian.PutUint32(buf[1:5], f.LargestAcked)
	binary.BigEndian.PutUint32(buf[5:9], f.AckDelay)
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(f.Ranges)))
	binary.BigEndian.PutUint32(buf[13:17], f.FirstRange)
	off := AckFrameOverhead
	for _, r := range f.Ranges {
		binary.BigEndian.PutUint32(buf[off:off+4], r.Gap)
		binary.BigEndian.PutUint32(buf[off+4:off+8], r.Length)
		off += AckRangeSize
	}
	return buf
}

func (f *AckFrame) AckEliciting() bool { return false }

// PaddingFrame é um único byte 0x00.
type PaddingFrame struct{}

func (f *PaddingFrame) Raw() []byte        { return []byte{FrameTypePadding} }
func (f *PaddingFrame) AckEliciting() bool { return false }

// ConnectionCloseFrame encerra a conexão com um código e uma razão.
// Layout: type(1)=0x1c | error_code(1) | reason_len(1) | reason.
type ConnectionCloseFrame struct {
	ErrorCode uint8
	Reason    string
}

// NewConnectionCloseFrame valida a razão e constrói o frame.
func NewConnectionCloseFrame(errorCode uint8, reason string) (*ConnectionCloseFrame, error) {
	if len(reason) > math.MaxUint8 {
		return nil, fmt.Errorf("%w: close reason length %d exceeds %d", ErrFieldRange, len(reason), math.MaxUint8)
	}
	return &ConnectionCloseFrame{ErrorCode: errorCode, Reason: reason}, nil
}

func (f *ConnectionCloseFrame) Raw() []byte {
	buf := make([]byte, ConnectionCloseFrameOverhead+len(f.Reason))
	buf[0] = FrameTypeConnectionClose
	buf[1] = f.ErrorCode
	buf[2] = uint8(len(f.Reason))
	copy(buf[3:], f.Reason)
	return buf
}

func (f *ConnectionCloseFrame) AckEliciting() bool { return false }
