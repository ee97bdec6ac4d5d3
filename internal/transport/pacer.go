// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"context"

	"golang.org/x/time/rate"
)

// maxPacingBurst limita o burst do token bucket. Alinhado a um punhado
// de datagramas cheios para não serializar demais nem liberar rajadas
// longas.
const maxPacingBurst = 16 * MaxDatagramSize

// Pacer espaça as escritas de datagramas com um token bucket, limitando
// a taxa de transmissão a bytesPerSec bytes/segundo. Um Pacer nil não
// aplica pacing (bypass).
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer cria um Pacer com a taxa máxima em bytes/segundo.
// Se bytesPerSec <= 0, retorna nil (sem pacing).
func NewPacer(bytesPerSec int64) *Pacer {
	if bytesPerSec <= 0 {
		return nil
	}

	burst := int(bytesPerSec)
	if burst > maxPacingBurst {
		burst = maxPacingBurst
	}

	return &Pacer{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

// Wait bloqueia até haver tokens para n bytes, respeitando a taxa.
// Escritas maiores que o burst consomem tokens em pedaços.
func (p *Pacer) Wait(n int) error {
	if p == nil {
		return nil
	}

	for n > 0 {
		chunk := n
		if chunk > p.limiter.Burst() {
			chunk = p.limiter.Burst()
		}
		if err := p.limiter.WaitN(context.Background(), chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
