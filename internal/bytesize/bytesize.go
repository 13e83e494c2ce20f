// Package bytesize parses and prints transfer sizes such as "128KiB",
// "32k" or "8 sectors" for configuration files and CLI flags.
package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
)

// ByteSize is a size in bytes.
//
// Accepted forms:
//   - Plain numbers: 4096
//   - Binary units (x1024): Ki/KiB, Mi/MiB, Gi/GiB, Ti/TiB
//   - Decimal units (x1000): K/KB, M/MB, G/GB, T/TB
//   - Sectors (x512): s, sector, sectors
type ByteSize uint64

const (
	B      ByteSize = 1
	Sector ByteSize = 512

	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
	TB ByteSize = 1000 * GB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB
)

var pattern = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s*([a-z]*)\s*$`)

var multipliers = map[string]ByteSize{
	"":        B,
	"b":       B,
	"s":       Sector,
	"sector":  Sector,
	"sectors": Sector,
	"k":       KB,
	"kb":      KB,
	"m":       MB,
	"mb":      MB,
	"g":       GB,
	"gb":      GB,
	"t":       TB,
	"tb":      TB,
	"ki":      KiB,
	"kib":     KiB,
	"mi":      MiB,
	"mib":     MiB,
	"gi":      GiB,
	"gib":     GiB,
	"ti":      TiB,
	"tib":     TiB,
}

// binaryUnits is ordered largest first for String.
var binaryUnits = []struct {
	size ByteSize
	name string
}{
	{TiB, "TiB"},
	{GiB, "GiB"},
	{MiB, "MiB"},
	{KiB, "KiB"},
}

// Parse parses a size string.
func Parse(s string) (ByteSize, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("empty byte size string")
	}

	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid byte size format: %q", s)
	}

	mult, ok := multipliers[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit: %q", m[2])
	}

	if strings.Contains(m[1], ".") {
		num, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number in byte size: %q", m[1])
		}
		return ByteSize(num * float64(mult)), nil
	}

	num, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number in byte size: %q", m[1])
	}
	return ByteSize(num) * mult, nil
}

// MustParse is Parse for constants. It panics on error.
func MustParse(s string) ByteSize {
	b, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return b
}

// UnmarshalText implements encoding.TextUnmarshaler, which mapstructure and
// yaml use for config fields.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := Parse(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// MarshalText implements encoding.TextMarshaler. The output parses back to
// the same value.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// String prints the largest binary unit that divides b exactly, falling
// back to plain bytes.
func (b ByteSize) String() string {
	for _, u := range binaryUnits {
		if b >= u.size && b%u.size == 0 {
			return fmt.Sprintf("%d%s", b/u.size, u.name)
		}
	}
	return strconv.FormatUint(uint64(b), 10)
}

// Human prints b rounded to two decimals in the largest fitting unit. It is
// meant for reports and does not round-trip.
func (b ByteSize) Human() string {
	for _, u := range binaryUnits {
		if b >= u.size {
			return fmt.Sprintf("%.2f%s", float64(b)/float64(u.size), u.name)
		}
	}
	return fmt.Sprintf("%dB", b)
}

// Int64 returns b as an int64. Sizes above 8EiB overflow.
func (b ByteSize) Int64() int64 { return int64(b) }

// Int returns b as an int.
func (b ByteSize) Int() int { return int(b) }

// JSONSchema describes ByteSize as either a string with a unit or a plain
// integer.
func (ByteSize) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "string", Pattern: `^\s*\d+(\.\d+)?\s*[a-zA-Z]*\s*$`},
			{Type: "integer", Minimum: "0"},
		},
		Description: "Size in bytes, optionally with a unit (KiB, MiB, KB, sectors)",
	}
}
