package attribution

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Uint128 is an aggregation key piece or bucket.
type Uint128 struct {
	Hi uint64
	Lo uint64
}

// Or returns the bitwise OR of u and v.
func (u Uint128) Or(v Uint128) Uint128 {
	return Uint128{Hi: u.Hi | v.Hi, Lo: u.Lo | v.Lo}
}

// Less orders keys numerically.
func (u Uint128) Less(v Uint128) bool {
	if u.Hi != v.Hi {
		return u.Hi < v.Hi
	}
	return u.Lo < v.Lo
}

// IsZero reports whether u is zero.
func (u Uint128) IsZero() bool {
	return u.Hi == 0 && u.Lo == 0
}

// String renders u as lowercase hex with a 0x prefix.
func (u Uint128) String() string {
	if u.Hi == 0 {
		return "0x" + strconv.FormatUint(u.Lo, 16)
	}
	return fmt.Sprintf("0x%x%016x", u.Hi, u.Lo)
}

// ParseUint128 parses a 0x-prefixed hex string of at most 32 digits, or a
// decimal that fits in 64 bits.
func ParseUint128(s string) (Uint128, error) {
	s = strings.TrimSpace(s)
	hex, ok := strings.CutPrefix(strings.ToLower(s), "0x")
	if !ok {
		lo, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return Uint128{}, fmt.Errorf("parse uint128 %q: %w", s, err)
		}
		return Uint128{Lo: lo}, nil
	}
	if hex == "" || len(hex) > 32 {
		return Uint128{}, fmt.Errorf("parse uint128 %q: want 1 to 32 hex digits", s)
	}
	var u Uint128
	if len(hex) > 16 {
		hi, err := strconv.ParseUint(hex[:len(hex)-16], 16, 64)
		if err != nil {
			return Uint128{}, fmt.Errorf("parse uint128 %q: %w", s, err)
		}
		u.Hi = hi
		hex = hex[len(hex)-16:]
	}
	lo, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return Uint128{}, fmt.Errorf("parse uint128 %q: %w", s, err)
	}
	u.Lo = lo
	return u, nil
}

func (u Uint128) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

func (u *Uint128) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("uint128 must be a string: %w", err)
	}
	v, err := ParseUint128(s)
	if err != nil {
		return err
	}
	*u = v
	return nil
}

func (u Uint128) MarshalYAML() (any, error) {
	return u.String(), nil
}

func (u *Uint128) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseUint128(node.Value)
	if err != nil {
		return err
	}
	*u = v
	return nil
}
