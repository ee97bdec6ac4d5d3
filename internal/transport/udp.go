// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// maxDatagramRead é o tamanho do buffer de leitura por datagrama.
// Maior que SafeDatagramPayload para não truncar datagramas de peers
// que mandem mais; o parser descarta o excedente como violação
// estrutural.
const maxDatagramRead = 2048

// UDPConn implementa DatagramConn sobre um *net.UDPConn com leituras
// não bloqueantes via deadline imediato.
type UDPConn struct {
	conn      *net.UDPConn
	connected bool
}

// ListenUDP abre um socket UDP em laddr com SO_REUSEPORT, permitindo
// que o socket por conexão do servidor compartilhe a porta do listener.
// Se dscp > 0, aplica a marcação DSCP no socket.
func ListenUDP(laddr *net.UDPAddr, dscp int) (*UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sysErr error
			if err := c.Control(func(fd uintptr) {
				sysErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			}); err != nil {
				return err
			}
			return sysErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp", laddr.String())
	if err != nil {
		return nil, fmt.Errorf("binding udp socket on %s: %w", laddr, err)
	}
	conn := pc.(*net.UDPConn)

	if dscp > 0 {
		if err := ApplyDSCP(conn, dscp); err != nil {
			conn.Close()
			return nil, err
		}
	}

	return &UDPConn{conn: conn}, nil
}

// SendTo envia um datagrama. ECONNREFUSED é traduzido para
// ErrConnectionRefused para o controller tratar como transiente.
func (u *UDPConn) SendTo(b []byte, addr *net.UDPAddr) error {
	var err error
	if u.connected {
		_, err = u.conn.Write(b)
	} else {
		if addr == nil {
			return fmt.Errorf("transport: SendTo on unconnected socket requires address")
		}
		_, err = u.conn.WriteToUDP(b, addr)
	}
	if err != nil {
		if errors.Is(err, unix.ECONNREFUSED) {
			return ErrConnectionRefused
		}
		if errors.Is(err, net.ErrClosed) {
			return ErrSocketClosed
		}
		return fmt.Errorf("sending datagram: %w", err)
	}
	return nil
}

// RecvFrom lê um datagrama sem bloquear. Um deadline já expirado faz o
// kernel retornar imediatamente; timeout vira ErrWouldBlock.
func (u *UDPConn) RecvFrom() ([]byte, *net.UDPAddr, error) {
	if err := u.conn.SetReadDeadline(time.Now()); err != nil {
		return nil, nil, fmt.Errorf("arming read deadline: %w", err)
	}

	buf := make([]byte, maxDatagramRead)
	n, addr, err := u.conn.ReadFromUDP(buf)
	if err != nil {
		if os.IsTimeout(err) {
			return nil, nil, ErrWouldBlock
		}
		if errors.Is(err, unix.ECONNREFUSED) {
			// Unreachable transiente do peer; não há datagrama.
			return nil, nil, ErrWouldBlock
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, nil, ErrSocketClosed
		}
		return nil, nil, fmt.Errorf("receiving datagram: %w", err)
	}
	return buf[:n], addr, nil
}

// Connect associa o socket ao peer. Depois disso o kernel entrega aqui
// apenas datagramas vindos de addr, liberando o listener para novos
// clientes.
func (u *UDPConn) Connect(addr *net.UDPAddr) error {
	raw, err := u.conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("getting raw conn: %w", err)
	}

	sa, err := udpAddrToSockaddr(addr)
	if err != nil {
		return err
	}

	var sysErr error
	if err := raw.Control(func(fd uintptr) {
		sysErr = unix.Connect(int(fd), sa)
	}); err != nil {
		return fmt.Errorf("control fd for connect: %w", err)
	}
	if sysErr != nil {
		return fmt.Errorf("connecting udp socket to %s: %w", addr, sysErr)
	}
	u.connected = true
	return nil
}

// LocalAddr retorna o endereço local do socket.
func (u *UDPConn) LocalAddr() *net.UDPAddr {
	return u.conn.LocalAddr().(*net.UDPAddr)
}

// Close fecha o socket.
func (u *UDPConn) Close() error {
	return u.conn.Close()
}

func udpAddrToSockaddr(addr *net.UDPAddr) (unix.Sockaddr, error) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}
	if ip6 := addr.IP.To16(); ip6 != nil {
		sa := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa.Addr[:], ip6)
		return sa, nil
	}
	return nil, fmt.Errorf("transport: unsupported address %s", addr)
}
