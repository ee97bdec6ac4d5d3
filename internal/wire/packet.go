// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

// Packet é um header mais a sequência de frames do payload.
type Packet struct {
	Header Header
	Frames []Frame
}

// NewPacket monta um pacote e, para long headers, estampa o
// payload_length com o tamanho serializado dos frames.
func NewPacket(h Header, frames ...Frame) *Packet {
	p := &Packet{Header: h, Frames: frames}
	if lh, ok := h.(*LongHeader); ok {
		lh.PayloadLength = uint16(p.payloadLen())
	}
	return p
}

// Raw serializa o pacote: header.Raw() seguido dos frames em ordem.
func (p *Packet) Raw() []byte {
	buf := make([]byte, 0, p.headerLen()+p.payloadLen())
	buf = append(buf, p.Header.Raw()...)
	for _, f := range p.Frames {
		buf = append(buf, f.Raw()...)
	}
	return buf
}

// AckEliciting informa se o pacote contém ao menos um frame
// ack-eliciting. Apenas pacotes ack-eliciting contam como in-flight.
func (p *Packet) AckEliciting() bool {
	for _, f := range p.Frames {
		if f.AckEliciting() {
			return true
		}
	}
	return false
}

func (p *Packet) headerLen() int {
	if p.Header.IsLong() {
		return LongHeaderSize
	}
	return ShortHeaderSize
}

func (p *Packet) payloadLen() int {
	n := 0
	for _, f := range p.Frames {
		n += len(f.Raw())
	}
	return n
}
