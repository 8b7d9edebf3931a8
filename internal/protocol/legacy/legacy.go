// Package legacy decodes the JSON payloads exchanged by clients that only speak
// the characteristic-based protocol.
package legacy

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ProtocolName tags legacy payloads handled by this package.
const ProtocolName = "opentrace"

var ErrSchemaMismatch = errors.New("legacy: payload matches no known schema")

// Format identifies which legacy schema a payload was decoded with.
type Format string

const (
	FormatCentralWriteV2              Format = "centralWriteDataV2"
	FormatPeripheralCharacteristicsV2 Format = "peripheralCharacteristicsDataV2"
)

// CentralWriteDataV2 is written by a central to a peripheral's characteristic.
type CentralWriteDataV2 struct {
	MC string  `json:"mc"`
	RS float64 `json:"rs"`
	ID string  `json:"id"`
	O  int     `json:"o"`
	V  int     `json:"v"`
}

// PeripheralCharacteristicsDataV2 is read from a peripheral's characteristic.
// It carries no rssi.
type PeripheralCharacteristicsDataV2 struct {
	MP string `json:"mp"`
	ID string `json:"id"`
	O  int    `json:"o"`
	V  int    `json:"v"`
}

const centralWriteV2Schema = `{
	"type": "object",
	"required": ["mc", "rs", "id", "o", "v"],
	"properties": {
		"mc": {"type": "string"},
		"rs": {"type": "number"},
		"id": {"type": "string"},
		"o": {"type": "integer"},
		"v": {"type": "integer"}
	}
}`

const peripheralV2Schema = `{
	"type": "object",
	"required": ["mp", "id", "o", "v"],
	"properties": {
		"mp": {"type": "string"},
		"id": {"type": "string"},
		"o": {"type": "integer"},
		"v": {"type": "integer"}
	}
}`

var (
	centralWriteV2 = mustCompile("central-write-v2", centralWriteV2Schema)
	peripheralV2   = mustCompile("peripheral-characteristics-v2", peripheralV2Schema)
)

func mustCompile(name, schema string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://bluetrace.schemas.local/legacy/%s.schema.json", name)
	if err := c.AddResource(schemaURL, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("legacy schema load failed (%s): %v", name, err))
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("legacy schema compile failed (%s): %v", name, err))
	}
	return compiled
}

// Integral floats such as 1.0 satisfy the schemas' integer type, so o and v
// are read as numbers and converted once validation has passed.
type centralWireV2 struct {
	MC string  `json:"mc"`
	RS float64 `json:"rs"`
	ID string  `json:"id"`
	O  float64 `json:"o"`
	V  float64 `json:"v"`
}

type peripheralWireV2 struct {
	MP string  `json:"mp"`
	ID string  `json:"id"`
	O  float64 `json:"o"`
	V  float64 `json:"v"`
}

// Decoded is a legacy payload after classification. RSSI is only meaningful
// for FormatCentralWriteV2.
type Decoded struct {
	Format  Format
	Model   string
	RSSI    float64
	TempID  string
	OrgID   int
	Version int
}

// Decode tries the central-write schema first and the peripheral schema
// second. The temp-id must be valid base64 for either to match.
func Decode(data []byte) (Decoded, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Decoded{}, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}

	if err := centralWriteV2.Validate(doc); err == nil {
		var v centralWireV2
		if err := json.Unmarshal(data, &v); err == nil && validTempID(v.ID) {
			return Decoded{
				Format:  FormatCentralWriteV2,
				Model:   v.MC,
				RSSI:    v.RS,
				TempID:  v.ID,
				OrgID:   int(v.O),
				Version: int(v.V),
			}, nil
		}
	}

	if err := peripheralV2.Validate(doc); err == nil {
		var v peripheralWireV2
		if err := json.Unmarshal(data, &v); err == nil && validTempID(v.ID) {
			return Decoded{
				Format:  FormatPeripheralCharacteristicsV2,
				Model:   v.MP,
				TempID:  v.ID,
				OrgID:   int(v.O),
				Version: int(v.V),
			}, nil
		}
	}

	return Decoded{}, ErrSchemaMismatch
}

// TempIDBytes returns the base64-decoded temp-id.
func (d Decoded) TempIDBytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(d.TempID)
}

func EncodeCentralWriteV2(v CentralWriteDataV2) ([]byte, error) {
	if v.ID == "" {
		return nil, errors.New("legacy: missing temp id")
	}
	return json.Marshal(v)
}

func validTempID(id string) bool {
	_, err := base64.StdEncoding.DecodeString(id)
	return err == nil
}
