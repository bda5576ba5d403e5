// Package wire encodes property messages into self-delimiting frames: a fixed
// big-endian header followed by a TLV payload.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// Magic is "GDR1".
	Magic          uint32 = 0x47445231
	Version        uint16 = 1
	HeaderLen      uint16 = 24
	fieldHeaderLen        = 2 + 1 + 4
)

var (
	ErrShortHeader        = errors.New("wire: short fixed header")
	ErrInvalidMagic       = errors.New("wire: invalid magic")
	ErrUnsupportedVersion = errors.New("wire: unsupported version")
	ErrInvalidHeaderLen   = errors.New("wire: invalid header length")
	ErrPayloadTooLarge    = errors.New("wire: payload too large")
	ErrTruncated          = errors.New("wire: truncated data")
	ErrFieldTypeMismatch  = errors.New("wire: field type mismatch")
	ErrMissingField       = errors.New("wire: missing field")
)

// Header is the fixed frame header.
type Header struct {
	Magic      uint32
	Version    uint16
	HeaderLen  uint16
	Sequence   uint64
	Kind       uint32
	PayloadLen uint32
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame decode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

// DefaultLimits leaves room for a 16-bit RGB frame of a typical guide camera.
func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 64 * 1024 * 1024}
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if limits.MaxPayloadBytes > 0 && h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, ErrTruncated
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	if uint64(len(f.Payload)) > uint64(^uint32(0)) {
		return ErrPayloadTooLarge
	}
	payloadLen := uint32(len(f.Payload))
	if limits.MaxPayloadBytes > 0 && payloadLen > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}

	h := f.Header
	h.Magic = Magic
	h.Version = Version
	h.HeaderLen = HeaderLen
	h.PayloadLen = payloadLen

	if _, err := w.Write(EncodeHeader(h)); err != nil {
		return err
	}
	if payloadLen > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return err
		}
	}
	return nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint64(buf[8:16], h.Sequence)
	binary.BigEndian.PutUint32(buf[16:20], h.Kind)
	binary.BigEndian.PutUint32(buf[20:24], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(HeaderLen) {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(b))
	}
	h := Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:  binary.BigEndian.Uint16(b[6:8]),
		Sequence:   binary.BigEndian.Uint64(b[8:16]),
		Kind:       binary.BigEndian.Uint32(b[16:20]),
		PayloadLen: binary.BigEndian.Uint32(b[20:24]),
	}
	if h.Magic != Magic {
		return Header{}, ErrInvalidMagic
	}
	if h.Version != Version {
		return Header{}, ErrUnsupportedVersion
	}
	if h.HeaderLen != HeaderLen {
		return Header{}, ErrInvalidHeaderLen
	}
	return h, nil
}
