package core

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// UnmarshalJSON reads one feed entry leniently. Numbers sent as strings are
// accepted, as are fractional timestamps and 0/1 or "true"/"false" for bin.
// A field that cannot be read at all fails with a *ValidationError naming it.
func (a *RawAuction) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return &ValidationError{Field: "auction", Reason: "not an object"}
	}

	var (
		out RawAuction
		err error
	)
	if out.AuctionID, err = textField(fields, "auction_id"); err != nil {
		return err
	}
	if out.Price, err = floatField(fields, "price"); err != nil {
		return err
	}
	if out.Timestamp, err = millisField(fields, "timestamp"); err != nil {
		return err
	}
	if out.Bin, err = boolField(fields, "bin"); err != nil {
		return err
	}
	if out.ItemBytes, err = textField(fields, "item_bytes"); err != nil {
		return err
	}
	*a = out
	return nil
}

// scalar classifies a raw JSON value. Absent and null yield kind 0.
func scalar(fields map[string]json.RawMessage, name string) (byte, string) {
	raw := bytes.TrimSpace(fields[name])
	if len(raw) == 0 || string(raw) == "null" {
		return 0, ""
	}
	switch c := raw[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return '?', ""
		}
		return '"', strings.TrimSpace(s)
	case c == '-' || (c >= '0' && c <= '9'):
		return '0', string(raw)
	case c == 't' || c == 'f':
		return 'b', string(raw)
	default:
		return '?', ""
	}
}

func textField(fields map[string]json.RawMessage, name string) (string, error) {
	switch kind, v := scalar(fields, name); kind {
	case 0:
		return "", nil
	case '"', '0':
		return v, nil
	default:
		return "", &ValidationError{Field: name, Reason: "not text"}
	}
}

func floatField(fields map[string]json.RawMessage, name string) (float64, error) {
	switch kind, v := scalar(fields, name); kind {
	case 0:
		return 0, nil
	case '"', '0':
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, &ValidationError{Field: name, Reason: "not a number"}
		}
		return f, nil
	default:
		return 0, &ValidationError{Field: name, Reason: "not a number"}
	}
}

func millisField(fields map[string]json.RawMessage, name string) (int64, error) {
	kind, v := scalar(fields, name)
	if kind == 0 {
		return 0, nil
	}
	if kind == '"' || kind == '0' {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, nil
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return int64(f), nil
		}
	}
	return 0, &ValidationError{Field: name, Reason: "not a timestamp"}
}

func boolField(fields map[string]json.RawMessage, name string) (bool, error) {
	kind, v := scalar(fields, name)
	switch kind {
	case 0:
		return false, nil
	case 'b', '"':
		if b, err := strconv.ParseBool(v); err == nil {
			return b, nil
		}
	case '0':
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f != 0, nil
		}
	}
	return false, &ValidationError{Field: name, Reason: "not a boolean"}
}
