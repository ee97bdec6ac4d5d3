// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"net"
	"sync/atomic"
)

// datagram é um payload mais o endereço de origem.
type datagram struct {
	b    []byte
	from *net.UDPAddr
}

// memConn é um DatagramConn em memória para testes: um par de pontas
// ligadas por canais, sem rede.
type memConn struct {
	in     chan datagram
	peer   *memConn
	local  *net.UDPAddr
	closed atomic.Bool
	// dropNext descarta os próximos n datagramas enviados (simula perda).
	dropNext atomic.Int32
}

// newMemPair cria duas pontas conectadas.
func newMemPair() (*memConn, *memConn) {
	a := &memConn{
		in:    make(chan datagram, 1024),
		local: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 10001},
	}
	b := &memConn{
		in:    make(chan datagram, 1024),
		local: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 10002},
	}
	a.peer, b.peer = b, a
	return a, b
}

func (m *memConn) SendTo(b []byte, addr *net.UDPAddr) error {
	if m.closed.Load() {
		return ErrSocketClosed
	}
	if m.dropNext.Load() > 0 {
		m.dropNext.Add(-1)
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case m.peer.in <- datagram{b: cp, from: m.local}:
	default:
		// Fila cheia: datagrama descartado, como UDP faria.
	}
	return nil
}

func (m *memConn) RecvFrom() ([]byte, *net.UDPAddr, error) {
	if m.closed.Load() {
		return nil, nil, ErrSocketClosed
	}
	select {
	case d := <-m.in:
		return d.b, d.from, nil
	default:
		return nil, nil, ErrWouldBlock
	}
}

func (m *memConn) Connect(addr *net.UDPAddr) error { return nil }

func (m *memConn) LocalAddr() *net.UDPAddr { return m.local }

func (m *memConn) Close() error {
	m.closed.Store(true)
	return nil
}
