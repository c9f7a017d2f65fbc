package light

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrDecode is wrapped by every DecodeState failure.
var ErrDecode = errors.New("decode light state")

// DecodeState reads a v1 group body and returns the state under "action":
//
//	{"action": {"on": true, "bri": 254, ...}, ...}
//
// Unknown keys are skipped at every level. Decoding stops after the first
// "action" object, so whatever follows it is not validated.
func DecodeState(r io.Reader) (State, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	if err := expectDelim(dec, '{'); err != nil {
		return State{}, err
	}
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return State{}, err
		}
		if key != "action" {
			if err := skipValue(dec); err != nil {
				return State{}, err
			}
			continue
		}
		return decodeAction(dec)
	}
	return State{}, fmt.Errorf("%w: missing action data", ErrDecode)
}

func decodeAction(dec *json.Decoder) (State, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return State{}, err
	}

	var on *bool
	var bri *int
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return State{}, err
		}
		switch key {
		case "on":
			if on != nil {
				return State{}, fmt.Errorf("%w: on already set", ErrDecode)
			}
			v, err := readBool(dec)
			if err != nil {
				return State{}, err
			}
			on = &v
		case "bri":
			if bri != nil {
				return State{}, fmt.Errorf("%w: bri already set", ErrDecode)
			}
			v, err := readInt(dec)
			if err != nil {
				return State{}, err
			}
			bri = &v
		default:
			if err := skipValue(dec); err != nil {
				return State{}, err
			}
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return State{}, err
	}

	if on == nil || bri == nil {
		return State{}, fmt.Errorf("%w: missing data (on set: %t, bri set: %t)", ErrDecode, on != nil, bri != nil)
	}
	// 255 is what the bridge accepts as "max"; it reports it back as 254.
	if *bri < MinBri || *bri > MaxBri+1 {
		return State{}, fmt.Errorf("%w: bri %d out of range", ErrDecode, *bri)
	}
	return State{On: *on, Brightness: Percentage(*bri)}, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: expected %q, got %v", ErrDecode, want, tok)
	}
	return nil
}

func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("%w: expected object key, got %v", ErrDecode, tok)
	}
	return key, nil
}

func readBool(dec *json.Decoder) (bool, error) {
	tok, err := dec.Token()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	v, ok := tok.(bool)
	if !ok {
		return false, fmt.Errorf("%w: expected boolean for on, got %v", ErrDecode, tok)
	}
	return v, nil
}

// readInt accepts integral numbers, including forms like 128.0.
func readInt(dec *json.Decoder) (int, error) {
	tok, err := dec.Token()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	num, ok := tok.(json.Number)
	if !ok {
		return 0, fmt.Errorf("%w: expected number for bri, got %v", ErrDecode, tok)
	}
	if i, err := num.Int64(); err == nil {
		if i < math.MinInt32 || i > math.MaxInt32 {
			return 0, fmt.Errorf("%w: bri %s out of range", ErrDecode, num)
		}
		return int(i), nil
	}
	f, err := num.Float64()
	if err != nil || f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, fmt.Errorf("%w: expected integer for bri, got %s", ErrDecode, num)
	}
	return int(f), nil
}

func skipValue(dec *json.Decoder) error {
	var discard json.RawMessage
	if err := dec.Decode(&discard); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return nil
}
