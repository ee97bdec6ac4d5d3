// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package nquic

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// CompressionMode seleciona o algoritmo de compressão de um stream.
type CompressionMode byte

const (
	// CompressionGzip usa gzip paralelo (pgzip) — default.
	CompressionGzip CompressionMode = 0x00
	// CompressionZstd usa zstd (klauspost/compress).
	CompressionZstd CompressionMode = 0x01
)

// Erros dos helpers de stream comprimido.
var (
	ErrPeerClosed         = errors.New("nquic: peer closed the connection")
	ErrUnknownCompression = errors.New("nquic: unknown compression mode")
)

// recvPollInterval é a pausa entre tentativas de leitura quando o
// stream ainda não tem bytes contíguos.
const recvPollInterval = 500 * time.Microsecond

// streamWriter adapta um stream do socket para io.Writer.
type streamWriter struct {
	sock     *QuicSocket
	streamID uint8
}

func (w *streamWriter) Write(p []byte) (int, error) {
	ok, err := w.sock.Send(w.streamID, p)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrPeerClosed
	}
	return len(p), nil
}

// streamReader adapta um stream do socket para io.Reader. Bloqueia até
// haver bytes contíguos; CONNECTION_CLOSE do peer com o stream drenado
// vira io.EOF.
type streamReader struct {
	sock     *QuicSocket
	streamID uint8
}

func (r *streamReader) Read(p []byte) (int, error) {
	for {
		b, closed, err := r.sock.Recv(r.streamID, len(p))
		if err != nil {
			return 0, err
		}
		if len(b) > 0 {
			return copy(p, b), nil
		}
		if closed {
			return 0, io.EOF
		}
		time.Sleep(recvPollInterval)
	}
}

// NewCompressedStreamWriter embrulha um stream do socket com compressão.
// O Close do writer emite o trailer da compressão; fechar a conexão
// continua sendo responsabilidade do caller.
func NewCompressedStreamWriter(sock *QuicSocket, streamID uint8, mode CompressionMode) (io.WriteCloser, error) {
	w := &streamWriter{sock: sock, streamID: streamID}

	switch mode {
	case CompressionGzip:
		gz, err := pgzip.NewWriterLevel(w, pgzip.BestSpeed)
		if err != nil {
			return nil, fmt.Errorf("creating gzip writer: %w", err)
		}
		return gz, nil
	case CompressionZstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, fmt.Errorf("creating zstd writer: %w", err)
		}
		return zw, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownCompression, byte(mode))
	}
}

// NewCompressedStreamReader embrulha um stream do socket com
// descompressão, casando com o writer do peer.
func NewCompressedStreamReader(sock *QuicSocket, streamID uint8, mode CompressionMode) (io.ReadCloser, error) {
	r := &streamReader{sock: sock, streamID: streamID}

	switch mode {
	case CompressionGzip:
		gz, err := pgzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		// Um stream comprimido por conexão de stream; sem multistream o
		// reader devolve io.EOF no trailer em vez de bloquear esperando
		// outro stream gzip.
		gz.Multistream(false)
		return gz, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownCompression, byte(mode))
	}
}
