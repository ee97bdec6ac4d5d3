// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"bytes"
	"sync"

	"github.com/nishisan-dev/n-quic/internal/wire"
)

// SendStream rastreia o offset de transmissão de um stream.
// O offset é cumulativo e nunca retrocede.
type SendStream struct {
	mu     sync.Mutex
	offset uint64
}

// Offset retorna o offset de envio corrente.
func (s *SendStream) Offset() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// Advance avança o offset de envio em n bytes.
func (s *SendStream) Advance(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset += n
}

// ReceiveStream remonta bytes de um stream em ordem.
//
// A zona contígua (buf) guarda bytes já em ordem ainda não entregues à
// aplicação; offset é o total de bytes já aceitos na zona contígua.
// Frames fora de ordem ficam pendentes, indexados pelo offset, até que
// o offset contíguo os alcance — aí são drenados transitivamente.
type ReceiveStream struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	offset  uint64
	pending map[uint64]*wire.StreamFrame
}

// NewReceiveStream cria um ReceiveStream vazio.
func NewReceiveStream() *ReceiveStream {
	return &ReceiveStream{pending: make(map[uint64]*wire.StreamFrame)}
}

// OnFrame aceita um STREAM frame recebido do peer.
//
// Frames cujo offset é exatamente o offset contíguo são anexados na
// hora; frames futuros ficam pendentes; frames com offset menor que o
// contíguo são duplicatas e são descartados.
func (r *ReceiveStream) OnFrame(f *wire.StreamFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case f.Offset == r.offset:
		r.buf.Write(f.Data)
		r.offset += uint64(len(f.Data))
		r.drainPending()
	case f.Offset > r.offset:
		if _, dup := r.pending[f.Offset]; !dup {
			r.pending[f.Offset] = f
		}
	default:
		// Duplicata: o prefixo já foi aceito.
	}
}

// drainPending descarrega frames pendentes cujo offset alcançou a zona
// contígua, transitivamente. Deve ser chamada com r.mu held.
func (r *ReceiveStream) drainPending() {
	for {
		f, ok := r.pending[r.offset]
		if !ok {
			return
		}
		delete(r.pending, r.offset)
		r.buf.Write(f.Data)
		r.offset += uint64(len(f.Data))
	}
}

// Read entrega até n bytes do início da zona contígua, removendo-os.
// Os bytes entregues formam um prefixo do stream do peer, sem lacunas
// e sem reordenação.
func (r *ReceiveStream) Read(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > r.buf.Len() {
		n = r.buf.Len()
	}
	out := make([]byte, n)
	copy(out, r.buf.Next(n))
	return out
}

// ContiguousOffset retorna o total de bytes já aceitos em ordem.
// Monotonicamente não decrescente.
func (r *ReceiveStream) ContiguousOffset() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offset
}

// Buffered retorna quantos bytes contíguos aguardam leitura.
func (r *ReceiveStream) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Len()
}

// PendingFrames retorna quantos frames fora de ordem aguardam.
func (r *ReceiveStream) PendingFrames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
