// Package envelope encodes and decodes the native binary payload: a fixed
// deployment header, an inner length, a length-prefixed temp-id and a block of
// TLV extension sections.
package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/bluetrace/internal/protocol/tlv"
)

const (
	HeaderLen      = 5
	InnerLenOffset = HeaderLen
	TempIDOffset   = InnerLenOffset + 2
	BodyOffset     = TempIDOffset + 2
)

var (
	ErrHeaderMismatch = errors.New("envelope: header mismatch")
	ErrTruncated      = errors.New("envelope: truncated data")
	ErrMissingTempID  = errors.New("envelope: missing temp id")
	ErrTempIDTooLong  = errors.New("envelope: temp id too long")
)

// Header identifies protocol, version and jurisdiction. It is constant for a
// deployment and doubles as the magic number of the native format.
type Header struct {
	ProtocolAndVersion uint8
	CountryCode        uint16
	StateCode          uint16
}

// DefaultHeader is the reference deployment header.
func DefaultHeader() Header {
	return Header{
		ProtocolAndVersion: 0x91,
		CountryCode:        124,
		StateCode:          48,
	}
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	buf[0] = h.ProtocolAndVersion
	binary.BigEndian.PutUint16(buf[1:3], h.CountryCode)
	binary.BigEndian.PutUint16(buf[3:5], h.StateCode)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("envelope: invalid header length: %d", len(b))
	}
	return Header{
		ProtocolAndVersion: b[0],
		CountryCode:        binary.BigEndian.Uint16(b[1:3]),
		StateCode:          binary.BigEndian.Uint16(b[3:5]),
	}, nil
}

// Payload is the decoded content of one native envelope. Fields whose section
// is absent keep their zero value.
type Payload struct {
	TempID  string
	Model   string
	TxPower uint16
	RSSI    int8
}

// Codec encodes and decodes envelopes for a single deployment header.
type Codec struct {
	header      Header
	headerBytes []byte
}

func NewCodec(h Header) *Codec {
	return &Codec{header: h, headerBytes: EncodeHeader(h)}
}

func (c *Codec) Header() Header {
	return c.header
}

// Encode builds the envelope. Sections are always written rssi, tx power,
// model, in that order.
func (c *Codec) Encode(tempID, model string, txPower uint16, rssi int8) ([]byte, error) {
	if tempID == "" {
		return nil, ErrMissingTempID
	}
	if len(tempID) > 0xFFFF {
		return nil, fmt.Errorf("%w: len=%d", ErrTempIDTooLong, len(tempID))
	}

	sections, err := tlv.EncodeSections([]tlv.Section{
		tlv.Int8Section(tlv.CodeRSSI, rssi),
		tlv.Uint16Section(tlv.CodeTxPower, txPower),
		tlv.StringSection(tlv.CodeModel, model),
	})
	if err != nil {
		return nil, err
	}

	innerLen := 2 + len(tempID) + len(sections)
	if innerLen > 0xFFFF {
		return nil, fmt.Errorf("%w: inner len=%d", ErrTempIDTooLong, innerLen)
	}

	buf := make([]byte, BodyOffset, BodyOffset+len(tempID)+len(sections))
	copy(buf[0:HeaderLen], c.headerBytes)
	binary.BigEndian.PutUint16(buf[InnerLenOffset:TempIDOffset], uint16(innerLen))
	binary.BigEndian.PutUint16(buf[TempIDOffset:BodyOffset], uint16(len(tempID)))
	buf = append(buf, tempID...)
	buf = append(buf, sections...)
	return buf, nil
}

// Decode parses a native envelope. The header must match exactly. The TLV
// block is bounded by the declared inner length and scanned until exhausted;
// a truncated trailing section ends the scan without error. For duplicate
// section codes the last occurrence wins.
func (c *Codec) Decode(b []byte) (Payload, error) {
	if len(b) < HeaderLen || !bytes.Equal(b[:HeaderLen], c.headerBytes) {
		return Payload{}, ErrHeaderMismatch
	}
	if len(b) < BodyOffset {
		return Payload{}, ErrTruncated
	}

	innerLen := int(binary.BigEndian.Uint16(b[InnerLenOffset:TempIDOffset]))
	limit := TempIDOffset + innerLen
	if limit > len(b) {
		limit = len(b)
	}

	idLen := int(binary.BigEndian.Uint16(b[TempIDOffset:BodyOffset]))
	if BodyOffset+idLen > limit {
		return Payload{}, fmt.Errorf("%w: temp id len=%d", ErrTruncated, idLen)
	}

	p := Payload{TempID: string(b[BodyOffset : BodyOffset+idLen])}
	sections := tlv.ReadSections(b[BodyOffset+idLen : limit])

	if s, ok := tlv.Last(sections, tlv.CodeRSSI); ok {
		if v, err := s.Int8(); err == nil {
			p.RSSI = v
		}
	}
	if s, ok := tlv.Last(sections, tlv.CodeTxPower); ok {
		if v, err := s.Uint16(); err == nil {
			p.TxPower = v
		}
	}
	if s, ok := tlv.Last(sections, tlv.CodeModel); ok {
		p.Model = s.String()
	}
	return p, nil
}

// Split separates a buffer of back-to-back envelopes using each inner length.
// It stops at the first envelope that is not fully present.
func Split(b []byte) [][]byte {
	out := make([][]byte, 0)
	index := 0
	for len(b)-index >= TempIDOffset {
		innerLen := int(binary.BigEndian.Uint16(b[index+InnerLenOffset : index+TempIDOffset]))
		end := index + TempIDOffset + innerLen
		if end > len(b) {
			break
		}
		p := make([]byte, end-index)
		copy(p, b[index:end])
		out = append(out, p)
		index = end
	}
	return out
}

// ShortName renders a short, log-safe prefix of a payload.
func ShortName(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if len(b) <= 3 {
		return base64.StdEncoding.EncodeToString(b)
	}
	s := base64.StdEncoding.EncodeToString(b[3:])
	if len(s) > 6 {
		s = s[:6]
	}
	return s
}
