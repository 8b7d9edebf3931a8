package envelope

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/danmuck/bluetrace/internal/protocol/tlv"
)

const testTempID = "AAAAAAAAAAAAAAAA"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := NewCodec(DefaultHeader())
	b, err := c.Encode(testTempID, "iPhone12", 10, -60)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	p, err := c.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := Payload{TempID: testTempID, Model: "iPhone12", TxPower: 10, RSSI: -60}
	if p != want {
		t.Fatalf("unexpected payload: %+v want %+v", p, want)
	}
}

func TestEncodeWireLayout(t *testing.T) {
	c := NewCodec(DefaultHeader())
	b, err := c.Encode("ID", "m", 0x0102, -1)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{
		0x91, 0x00, 124, 0x00, 48, // header
		0x00, 0x0E, // inner length: 2 + 2 + 3 + 4 + 3
		0x00, 0x02, 'I', 'D',
		tlv.CodeRSSI, 0x01, 0xFF,
		tlv.CodeTxPower, 0x02, 0x01, 0x02,
		tlv.CodeModel, 0x01, 'm',
	}
	if !bytes.Equal(b, want) {
		t.Fatalf("unexpected bytes:\n got %x\nwant %x", b, want)
	}
}

func TestEncodeRequiresTempID(t *testing.T) {
	c := NewCodec(DefaultHeader())
	if _, err := c.Encode("", "iPhone12", 10, -60); !errors.Is(err, ErrMissingTempID) {
		t.Fatalf("expected ErrMissingTempID, got %v", err)
	}
}

func TestDecodeRejectsHeaderMismatch(t *testing.T) {
	c := NewCodec(DefaultHeader())
	valid, _ := c.Encode(testTempID, "iPhone12", 10, -60)

	cases := map[string][]byte{
		"empty":         nil,
		"short":         {0x91, 0x00, 124},
		"first byte":    append([]byte{0x90}, valid[1:]...),
		"country code":  append([]byte{0x91, 0x00, 125}, valid[3:]...),
		"state code":    append([]byte{0x91, 0x00, 124, 0x00, 49}, valid[5:]...),
		"json document": []byte(`{"mc":"x","rs":-50,"id":"dGVzdA==","o":1,"v":2}`),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := c.Decode(b); !errors.Is(err, ErrHeaderMismatch) {
				t.Fatalf("expected ErrHeaderMismatch, got %v", err)
			}
		})
	}
}

func TestDecodeUsesDeploymentHeader(t *testing.T) {
	other := NewCodec(Header{ProtocolAndVersion: 0x91, CountryCode: 36, StateCode: 1})
	b, _ := other.Encode(testTempID, "x", 1, 1)
	if _, err := NewCodec(DefaultHeader()).Decode(b); !errors.Is(err, ErrHeaderMismatch) {
		t.Fatalf("expected mismatch across deployments, got %v", err)
	}
	if _, err := other.Decode(b); err != nil {
		t.Fatalf("same deployment decode: %v", err)
	}
}

func TestDecodeToleratesTruncatedTrailingSection(t *testing.T) {
	c := NewCodec(DefaultHeader())
	b, _ := c.Encode(testTempID, "iPhone12", 10, -60)
	// model section declares 8 bytes; drop 3 of them
	truncated := b[:len(b)-3]

	p, err := c.Decode(truncated)
	if err != nil {
		t.Fatalf("decode truncated: %v", err)
	}
	if p.TempID != testTempID || p.RSSI != -60 || p.TxPower != 10 {
		t.Fatalf("sections before truncation lost: %+v", p)
	}
	if p.Model != "" {
		t.Fatalf("expected zero-value model, got %q", p.Model)
	}
}

func TestDecodeMissingSectionsDefaultToZero(t *testing.T) {
	c := NewCodec(DefaultHeader())
	b := EncodeHeader(DefaultHeader())
	b = binary.BigEndian.AppendUint16(b, 2+3)
	b = binary.BigEndian.AppendUint16(b, 3)
	b = append(b, "abc"...)

	p, err := c.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p != (Payload{TempID: "abc"}) {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestDecodeRejectsTempIDPastBoundary(t *testing.T) {
	c := NewCodec(DefaultHeader())
	b := EncodeHeader(DefaultHeader())
	b = binary.BigEndian.AppendUint16(b, 20)
	b = binary.BigEndian.AppendUint16(b, 18)
	b = append(b, "short"...)
	if _, err := c.Decode(b); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	if _, err := c.Decode(EncodeHeader(DefaultHeader())); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated for header-only input, got %v", err)
	}
}

func TestDecodeDoesNotReadPastInnerLength(t *testing.T) {
	c := NewCodec(DefaultHeader())
	b, _ := c.Encode(testTempID, "iPhone12", 10, -60)
	// trailing bytes outside the declared inner length are ignored
	b = append(b, tlv.CodeRSSI, 0x01, 0x05)
	p, err := c.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.RSSI != -60 {
		t.Fatalf("read past inner length: rssi=%d", p.RSSI)
	}
}

func TestDecodeDuplicateSectionsLastWins(t *testing.T) {
	c := NewCodec(DefaultHeader())
	sections, _ := tlv.EncodeSections([]tlv.Section{
		tlv.Int8Section(tlv.CodeRSSI, -10),
		tlv.StringSection(tlv.CodeModel, "first"),
		tlv.Int8Section(tlv.CodeRSSI, -20),
		tlv.StringSection(tlv.CodeModel, "second"),
	})
	b := EncodeHeader(DefaultHeader())
	b = binary.BigEndian.AppendUint16(b, uint16(2+2+len(sections)))
	b = binary.BigEndian.AppendUint16(b, 2)
	b = append(b, "id"...)
	b = append(b, sections...)

	p, err := c.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.RSSI != -20 || p.Model != "second" {
		t.Fatalf("expected last duplicate to win, got %+v", p)
	}
}

func TestDecodeSectionsInAnyOrder(t *testing.T) {
	c := NewCodec(DefaultHeader())
	sections, _ := tlv.EncodeSections([]tlv.Section{
		tlv.StringSection(tlv.CodeModel, "Pixel"),
		{Code: 0x55, Value: []byte{1, 2, 3}},
		tlv.Uint16Section(tlv.CodeTxPower, 7),
		tlv.Int8Section(tlv.CodeRSSI, -70),
	})
	b := EncodeHeader(DefaultHeader())
	b = binary.BigEndian.AppendUint16(b, uint16(2+2+len(sections)))
	b = binary.BigEndian.AppendUint16(b, 2)
	b = append(b, "id"...)
	b = append(b, sections...)

	p, err := c.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := Payload{TempID: "id", Model: "Pixel", TxPower: 7, RSSI: -70}
	if p != want {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestSplitConcatenatedEnvelopes(t *testing.T) {
	c := NewCodec(DefaultHeader())
	a, _ := c.Encode("first", "a", 1, -1)
	b, _ := c.Encode("second-id", "bb", 2, -2)
	joined := append(append([]byte{}, a...), b...)
	joined = append(joined, 0x91, 0x00) // partial trailer

	parts := Split(joined)
	if len(parts) != 2 {
		t.Fatalf("expected 2 envelopes, got %d", len(parts))
	}
	if !bytes.Equal(parts[0], a) || !bytes.Equal(parts[1], b) {
		t.Fatalf("split mismatch")
	}
	p, err := c.Decode(parts[1])
	if err != nil || p.TempID != "second-id" {
		t.Fatalf("decode split part: %+v err=%v", p, err)
	}
}

func TestShortName(t *testing.T) {
	if got := ShortName(nil); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if got := ShortName([]byte{1, 2}); got != "AQI=" {
		t.Fatalf("unexpected short payload name: %q", got)
	}
	if got := ShortName([]byte{0, 0, 0, 'h', 'e', 'l', 'l', 'o', '!'}); got != "aGVsbG" {
		t.Fatalf("unexpected name: %q", got)
	}
}
