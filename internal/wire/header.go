// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import "encoding/binary"

// Header é a variante comum aos dois formatos de header.
type Header interface {
	// Raw serializa o header no layout fixo big-endian.
	Raw() []byte
	// Number retorna o packet number carregado pelo header.
	Number() uint32
	// DestinationID retorna o connection ID de destino.
	DestinationID() uint32
	// IsLong informa se o header é long (handshake) ou short (dados).
	IsLong() bool
}

// LongHeader é o header de 19 bytes dos pacotes INITIAL/HANDSHAKE/RETRY.
// Layout: first_byte(1) | version(1) | dst_cid_len(1) | dst_cid(4) |
// src_cid_len(1) | src_cid(4) | pkt_num_len(1) | pkt_num(4) | payload_len(2).
type LongHeader struct {
	PacketType    byte
	Version       byte
	DstID         uint32
	SrcID         uint32
	PacketNumber  uint32
	PayloadLength uint16
}

func (h *LongHeader) Raw() []byte {
	buf := make([]byte, LongHeaderSize)
	buf[0] = h.PacketType
	buf[1] = h.Version
	buf[2] = ConnectionIDLen
	binary.BigEndian.PutUint32(buf[3:7], h.DstID)
	buf[7] = ConnectionIDLen
	binary.BigEndian.PutUint32(buf[8:12], h.SrcID)
	buf[12] = PacketNumberLen
	binary.BigEndian.PutUint32(buf[13:17], h.PacketNumber)
	binary.BigEndian.PutUint16(buf[17:19], h.PayloadLength)
	return buf
}

func (h *LongHeader) Number() uint32        { return h.PacketNumber }
func (h *LongHeader) DestinationID() uint32 { return h.DstID }
func (h *LongHeader) IsLong() bool          { return true }

// ShortHeader é o header de 9 bytes dos pacotes DATA.
// Layout: first_byte(1) | dst_cid(4) | pkt_num(4).
type ShortHeader struct {
	DstID        uint32
	PacketNumber uint32
}

func (h *ShortHeader) Raw() []byte {
	buf := make([]byte, ShortHeaderSize)
	buf[0] = TypeData
	binary.BigEndian.PutUint32(buf[1:5], h.DstID)
	binary.BigEndian.PutUint32(buf[5:9], h.PacketNumber)
	return buf
}

func (h *ShortHeader) Number() uint32        { return h.PacketNumber }
func (h *ShortHeader) DestinationID() uint32 { return h.DstID }
func (h *ShortHeader) IsLong() bool          { return false }
