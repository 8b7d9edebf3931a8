package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// HeaderLen is the size of a section header: one code byte and one length byte.
const HeaderLen = 2

// MaxValueLen is the largest value a single section can carry.
const MaxValueLen = 0xFF

var (
	ErrValueTooLong = errors.New("tlv: section value too long")
	ErrInvalidLen   = errors.New("tlv: invalid section value length")
)

// Section codes carried inside the envelope extension block.
const (
	CodeRSSI    uint8 = 0x40
	CodeTxPower uint8 = 0x41
	CodeModel   uint8 = 0x42
)

// Section is one decoded TLV section.
type Section struct {
	Code  uint8
	Value []byte
}

func EncodeSection(s Section) ([]byte, error) {
	if len(s.Value) > MaxValueLen {
		return nil, fmt.Errorf("%w: code=0x%02x len=%d", ErrValueTooLong, s.Code, len(s.Value))
	}
	buf := make([]byte, HeaderLen+len(s.Value))
	buf[0] = s.Code
	buf[1] = uint8(len(s.Value))
	copy(buf[HeaderLen:], s.Value)
	return buf, nil
}

func EncodeSections(sections []Section) ([]byte, error) {
	out := make([]byte, 0)
	for _, s := range sections {
		b, err := EncodeSection(s)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// ReadSections returns every complete section in payload. Scanning stops at the
// first section whose header or value runs past the end of the buffer; the
// sections read before that point are returned.
func ReadSections(payload []byte) []Section {
	sections := make([]Section, 0, 3)
	sc := NewScanner(payload)
	for sc.Next() {
		sections = append(sections, sc.Section())
	}
	return sections
}

// Scanner iterates sections of a buffer. Reset rewinds it to the start.
type Scanner struct {
	buf     []byte
	off     int
	current Section
	done    bool
}

func NewScanner(payload []byte) *Scanner {
	return &Scanner{buf: payload}
}

// Next advances to the next complete section and reports whether one was found.
func (s *Scanner) Next() bool {
	if s.done {
		return false
	}
	remaining := len(s.buf) - s.off
	if remaining < HeaderLen {
		s.done = true
		return false
	}
	code := s.buf[s.off]
	l := int(s.buf[s.off+1])
	if remaining-HeaderLen < l {
		s.done = true
		return false
	}
	start := s.off + HeaderLen
	val := make([]byte, l)
	copy(val, s.buf[start:start+l])
	s.current = Section{Code: code, Value: val}
	s.off = start + l
	return true
}

func (s *Scanner) Section() Section {
	return s.current
}

// Consumed reports how many bytes of the buffer belong to complete sections read so far.
func (s *Scanner) Consumed() int {
	return s.off
}

func (s *Scanner) Reset() {
	s.off = 0
	s.current = Section{}
	s.done = false
}

// Last returns the last section with the given code.
func Last(sections []Section, code uint8) (Section, bool) {
	for i := len(sections) - 1; i >= 0; i-- {
		if sections[i].Code == code {
			return sections[i], true
		}
	}
	return Section{}, false
}

func Int8Section(code uint8, v int8) Section {
	return Section{Code: code, Value: []byte{byte(v)}}
}

func Uint16Section(code uint8, v uint16) Section {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, v)
	return Section{Code: code, Value: buf}
}

// StringSection truncates v to at most MaxValueLen bytes without splitting a rune.
func StringSection(code uint8, v string) Section {
	b := []byte(v)
	if len(b) > MaxValueLen {
		n := MaxValueLen
		for n > 0 && !utf8.RuneStart(b[n]) {
			n--
		}
		b = b[:n]
	}
	return Section{Code: code, Value: b}
}

func (s Section) Int8() (int8, error) {
	if len(s.Value) < 1 {
		return 0, fmt.Errorf("%w: code=0x%02x len=%d", ErrInvalidLen, s.Code, len(s.Value))
	}
	return int8(s.Value[0]), nil
}

func (s Section) Uint16() (uint16, error) {
	if len(s.Value) < 2 {
		return 0, fmt.Errorf("%w: code=0x%02x len=%d", ErrInvalidLen, s.Code, len(s.Value))
	}
	return binary.BigEndian.Uint16(s.Value[:2]), nil
}

func (s Section) String() string {
	return string(s.Value)
}
