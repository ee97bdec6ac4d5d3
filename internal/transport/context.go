// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/rs/xid"
)

// ConnectionContext reúne a identidade de uma conexão: endereços,
// connection IDs local e do peer, e o estado de conectividade. Cada
// endpoint cunha o próprio ID local e aprende o do peer no primeiro
// pacote long header recebido.
type ConnectionContext struct {
	LocalAddr *net.UDPAddr
	PeerAddr  *net.UDPAddr

	LocalID uint32
	PeerID  uint32
	// HasPeerID evita ambiguidade com o valor zero de PeerID.
	HasPeerID bool

	Connected bool

	// Session é um id opaco para correlação de logs e métricas.
	// Não aparece no wire.
	Session string
}

// NewConnectionContext cria um contexto com session id cunhado.
func NewConnectionContext() *ConnectionContext {
	return &ConnectionContext{Session: xid.New().String()}
}

// MintLocalID sorteia o connection ID local de 32 bits.
func (c *ConnectionContext) MintLocalID() error {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Errorf("minting local connection id: %w", err)
	}
	c.LocalID = binary.BigEndian.Uint32(buf[:])
	return nil
}

// LearnPeerID registra o connection ID do peer. A primeira observação
// vale incondicionalmente; as seguintes são ignoradas.
func (c *ConnectionContext) LearnPeerID(id uint32) {
	if c.HasPeerID {
		return
	}
	c.PeerID = id
	c.HasPeerID = true
}

func (c *ConnectionContext) String() string {
	return fmt.Sprintf("local=%s peer=%s local_cid=%08x peer_cid=%08x connected=%v",
		c.LocalAddr, c.PeerAddr, c.LocalID, c.PeerID, c.Connected)
}
