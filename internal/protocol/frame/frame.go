package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// HeaderLen is the fixed wire header: length, checksum, row_parity, col_parity.
	HeaderLen = 16

	// ParityWidth is the number of column lanes in the parity matrix.
	ParityWidth = 8

	// PackedLanes is how many column lanes are carried in the col_parity field.
	PackedLanes = 4
)

var (
	ErrShortHeader      = errors.New("frame: short fixed header")
	ErrPayloadTooLarge  = errors.New("frame: payload too large")
	ErrChecksumMismatch = errors.New("frame: checksum mismatch")
	ErrParityMismatch   = errors.New("frame: parity mismatch")
	ErrInvalidText      = errors.New("frame: payload is not valid utf-8")
)

// Header is the fixed wire header. All fields are little-endian on the wire.
type Header struct {
	Length    uint32
	Checksum  uint32
	RowParity uint32
	ColParity uint32
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

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 1024 * 1024,
	}
}

// Checksum returns the IEEE CRC-32 of p.
func Checksum(p []byte) uint32 {
	return crc32.ChecksumIEEE(p)
}

// Parity returns the row parity (XOR of every byte, low byte only) and the
// packed column parity (lanes 0..3 of byte_index mod 8, lane 0 least significant).
func Parity(p []byte) (row uint32, col uint32) {
	var acc byte
	var lanes [ParityWidth]byte
	for i, b := range p {
		acc ^= b
		lanes[i%ParityWidth] ^= b
	}
	return uint32(acc), binary.LittleEndian.Uint32(lanes[:PackedLanes])
}

// Encode builds a frame whose header matches payload.
func Encode(payload []byte) Frame {
	row, col := Parity(payload)
	return Frame{
		Header: Header{
			Length:    uint32(len(payload)),
			Checksum:  Checksum(payload),
			RowParity: row,
			ColParity: col,
		},
		Payload: payload,
	}
}

// Verify checks the checksum first and the parity pair second.
func Verify(f Frame) error {
	if got := Checksum(f.Payload); got != f.Header.Checksum {
		return fmt.Errorf("%w: recv=%08X calc=%08X", ErrChecksumMismatch, f.Header.Checksum, got)
	}
	row, col := Parity(f.Payload)
	if byte(row) != byte(f.Header.RowParity) || col != f.Header.ColParity {
		return fmt.Errorf("%w: row=%02X/%02X col=%08X/%08X",
			ErrParityMismatch, byte(f.Header.RowParity), byte(row), f.Header.ColParity, col)
	}
	return nil
}

// ReadFrame reads one header and up to Length payload bytes. A stream that ends
// mid-payload returns the short payload with a nil error; Verify rejects it.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if limits.MaxPayloadBytes > 0 && h.Length > limits.MaxPayloadBytes {
		return Frame{}, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, h.Length, limits.MaxPayloadBytes)
	}

	payload := make([]byte, h.Length)
	n, err := io.ReadFull(r, payload)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Frame{}, err
	}
	return Frame{Header: h, Payload: payload[:n]}, nil
}

// ReadText reads and verifies one frame and returns its payload as text with
// trailing whitespace removed. A verified payload that is not UTF-8 yields
// ErrInvalidText.
func ReadText(r io.Reader, limits Limits) (string, error) {
	f, err := ReadFrame(r, limits)
	if err != nil {
		return "", err
	}
	if err := Verify(f); err != nil {
		return "", err
	}
	if !utf8.Valid(f.Payload) {
		return "", ErrInvalidText
	}
	return strings.TrimRightFunc(string(f.Payload), unicode.IsSpace), nil
}

func WriteFrame(w io.Writer, f Frame) error {
	buf := make([]byte, 0, HeaderLen+len(f.Payload))
	buf = append(buf, EncodeHeader(f.Header)...)
	buf = append(buf, f.Payload...)
	_, err := w.Write(buf)
	return err
}

// WriteText frames s and writes it in a single call.
func WriteText(w io.Writer, s string) error {
	return WriteFrame(w, Encode([]byte(s)))
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	binary.LittleEndian.PutUint32(buf[0:4], h.Length)
	binary.LittleEndian.PutUint32(buf[4:8], h.Checksum)
	binary.LittleEndian.PutUint32(buf[8:12], h.RowParity)
	binary.LittleEndian.PutUint32(buf[12:16], h.ColParity)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Length:    binary.LittleEndian.Uint32(b[0:4]),
		Checksum:  binary.LittleEndian.Uint32(b[4:8]),
		RowParity: binary.LittleEndian.Uint32(b[8:12]),
		ColParity: binary.LittleEndian.Uint32(b[12:16]),
	}, nil
}

// IsCorruption reports whether err is an integrity or decode failure the
// session can recover from, as opposed to a transport failure.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrChecksumMismatch) ||
		errors.Is(err, ErrParityMismatch) ||
		errors.Is(err, ErrInvalidText)
}

// FaultLabel names the failure class of err for logs and metrics:
// ok, checksum, parity, text or transport.
func FaultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrChecksumMismatch):
		return "checksum"
	case errors.Is(err, ErrParityMismatch):
		return "parity"
	case errors.Is(err, ErrInvalidText):
		return "text"
	default:
		return "transport"
	}
}
