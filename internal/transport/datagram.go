// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package transport implementa o engine N-Quic: packetizer, controle de
// congestionamento, reassembly de streams e a máquina de estados de
// handshake sobre um socket de datagramas não confiável.
package transport

import (
	"errors"
	"net"
)

// Erros da camada de datagramas.
var (
	// ErrWouldBlock indica que não há datagrama disponível agora.
	// Esperado durante o drain não bloqueante; encerra o loop de leitura.
	ErrWouldBlock = errors.New("transport: operation would block")
	// ErrConnectionRefused indica ICMP port unreachable do peer.
	// Tratado como transiente: o pacote permanece na fila para o próximo passe.
	ErrConnectionRefused = errors.New("transport: connection refused")
	// ErrSocketClosed indica socket de datagramas fechado.
	ErrSocketClosed = errors.New("transport: datagram socket closed")
)

// DatagramConn é o transporte de datagramas bidirecional, não confiável
// e sem conexão do qual o engine depende. A implementação UDP real vive
// em udp.go; os testes usam um par em memória.
type DatagramConn interface {
	// SendTo envia um datagrama para addr. Se a conexão já foi associada
	// via Connect, addr pode ser nil.
	SendTo(b []byte, addr *net.UDPAddr) error
	// RecvFrom lê um datagrama sem bloquear. Retorna ErrWouldBlock
	// quando não há nada para ler.
	RecvFrom() ([]byte, *net.UDPAddr, error)
	// Connect associa o 5-tuple do kernel ao peer (pós handshake).
	Connect(addr *net.UDPAddr) error
	// LocalAddr retorna o endereço local do socket.
	LocalAddr() *net.UDPAddr
	// Close fecha o socket.
	Close() error
}
