// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package wire implementa o codec binário N-Quic: headers longos/curtos
// e frames com layout fixo, big-endian, sobre datagramas UDP.
package wire

import "errors"

// Version é a versão do protocolo no octeto de versão do long header.
// Não é QUIC IETF — o protocolo só é compatível consigo mesmo.
const Version byte = 0x01

// Primeiro byte dos pacotes. O bit mais significativo distingue long
// header (setado) de short header (limpo); o restante codifica o tipo.
const (
	TypeInitial   byte = 0xC0
	TypeZeroRTT   byte = 0xD0
	TypeHandshake byte = 0xE0
	TypeRetry     byte = 0xF0
	TypeData      byte = 0x40
)

// Tipos de frame.
const (
	FrameTypePadding         byte = 0x00
	FrameTypeAck             byte = 0x02
	FrameTypeCrypto          byte = 0x06
	FrameTypeStream          byte = 0x08
	FrameTypeConnectionClose byte = 0x1C
)

// Tamanhos fixos do wire format, em bytes.
const (
	LongHeaderSize  = 19
	ShortHeaderSize = 9

	ConnectionIDLen = 4
	PacketNumberLen = 4

	// Overhead de cada frame sem contar o payload variável.
	StreamFrameOverhead          = 12
	CryptoFrameOverhead          = 11
	AckFrameOverhead             = 17
	AckRangeSize                 = 8
	ConnectionCloseFrameOverhead = 3

	// SafeDatagramPayload é o tamanho máximo de datagrama que o engine
	// emite. MaxStreamDataChunk é quanto sobra para dados de stream após
	// o header e o overhead do frame (512 − 19 − 12 = 481).
	SafeDatagramPayload = 512
	MaxStreamDataChunk  = SafeDatagramPayload - LongHeaderSize - StreamFrameOverhead
)

// Erros do codec.
var (
	// ErrTruncatedPacket indica datagrama menor do que o layout declara.
	ErrTruncatedPacket = errors.New("wire: truncated packet")
	// ErrUnknownPacketType indica primeiro byte fora da tabela de tipos.
	ErrUnknownPacketType = errors.New("wire: unknown packet type")
	// ErrUnknownFrameType indica byte de frame fora da tabela de tipos.
	ErrUnknownFrameType = errors.New("wire: unknown frame type")
	// ErrMalformedHeader indica campos de tamanho fora do layout fixo.
	ErrMalformedHeader = errors.New("wire: malformed header")
	// ErrFieldRange indica valor fora da faixa na construção de um frame.
	// É um erro de programação do caller, não um erro de parse.
	ErrFieldRange = errors.New("wire: field value out of range")
)
