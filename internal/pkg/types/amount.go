package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Amount is a ledger token amount in micro-units (1e-6 of the base token).
// Ledger payloads carry amounts as decimal strings; unparseable values are
// treated as absent by the decoding layer rather than as errors.
type Amount uint64

// ParseAmount parses a decimal micro-unit string into an Amount.
func ParseAmount(s string) (Amount, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Amount(v), nil
}

// String returns the amount as a decimal micro-unit string.
func (a Amount) String() string {
	return strconv.FormatUint(uint64(a), 10)
}

// MarshalJSON encodes the amount as a JSON string, matching the ledger's
// wire representation.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n uint64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid amount payload: %w", err)
		}
		*a = Amount(n)
		return nil
	}

	v, err := ParseAmount(s)
	if err != nil {
		return err
	}

	*a = v
	return nil
}
