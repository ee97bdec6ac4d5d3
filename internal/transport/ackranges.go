// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"sort"

	"github.com/nishisan-dev/n-quic/internal/wire"
)

// AckTracker acumula os packet numbers recebidos cujo acknowledgement
// ainda não foi confirmado pelo peer. O conjunto alimenta a codificação
// de ACK ranges; entradas saem quando um ACK frame que as nomeia é ele
// próprio confirmado, evitando crescimento sem limite.
type AckTracker struct {
	received map[uint32]bool
}

// NewAckTracker cria um AckTracker vazio.
func NewAckTracker() *AckTracker {
	return &AckTracker{received: make(map[uint32]bool)}
}

// Record registra um packet number recebido.
func (a *AckTracker) Record(pn uint32) {
	a.received[pn] = true
}

// Remove esquece um packet number cujo acknowledgement foi confirmado.
func (a *AckTracker) Remove(pn uint32) {
	delete(a.received, pn)
}

// Empty informa se não há nada a confirmar.
func (a *AckTracker) Empty() bool {
	return len(a.received) == 0
}

// Len retorna o número de packet numbers pendentes de confirmação.
func (a *AckTracker) Len() int {
	return len(a.received)
}

// BuildAckFrame codifica o conjunto corrente em um ACK frame.
// Retorna nil quando o conjunto está vazio.
//
// Os packet numbers são ordenados e agrupados em runs consecutivos.
// O run mais alto vira largest_acked + first_range (tamanho − 1); os
// demais são emitidos em ordem decrescente, cada um com
// gap = menor pn do run anterior (mais alto) − maior pn deste run − 1 e
// length = tamanho do run.
func (a *AckTracker) BuildAckFrame(ackDelay uint32) *wire.AckFrame {
	if len(a.received) == 0 {
		return nil
	}

	pns := make([]uint32, 0, len(a.received))
	for pn := range a.received {
		pns = append(pns, pn)
	}
	sort.Slice(pns, func(i, j int) bool { return pns[i] < pns[j] })

	type run struct{ start, end uint32 }
	runs := []run{{start: pns[0], end: pns[0]}}
	for _, pn := range pns[1:] {
		last := &runs[len(runs)-1]
		if pn == last.end+1 {
			last.end = pn
			continue
		}
		runs = append(runs, run{start: pn, end: pn})
	}

	top := runs[len(runs)-1]
	frame := &wire.AckFrame{
		LargestAcked: top.end,
		AckDelay:     ackDelay,
		FirstRange:   top.end - top.start,
	}

	prevStart := top.start
	for i := len(runs) - 2; i >= 0; i-- {
		r := runs[i]
		frame.Ranges = append(frame.Ranges, wire.AckRange{
			Gap:    prevStart - r.end - 1,
			Length: r.end - r.start + 1,
		})
		prevStart = r.start
	}
	return frame
}

// DecodeAckRanges expande um ACK frame de volta para a lista de packet
// numbers confirmados, em ordem decrescente.
//
// Ranges malformados que levariam a underflow encerram a decodificação
// no ponto em que estão — o parse nunca produz números inexistentes.
func DecodeAckRanges(f *wire.AckFrame) []uint32 {
	if f.FirstRange > f.LargestAcked {
		return nil
	}

	var pns []uint32
	smallest := f.LargestAcked - f.FirstRange
	for pn := f.LargestAcked; ; pn-- {
		pns = append(pns, pn)
		if pn == smallest {
			break
		}
	}

	for _, r := range f.Ranges {
		if r.Length == 0 || smallest < r.Gap+1 {
			break
		}
		top := smallest - r.Gap - 1
		if top+1 < r.Length {
			break
		}
		bottom := top - r.Length + 1
		for pn := top; ; pn-- {
			pns = append(pns, pn)
			if pn == bottom {
				break
			}
		}
		smallest = bottom
	}
	return pns
}
