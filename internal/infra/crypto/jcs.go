package crypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// CanonicalizeJSON rewrites a JSON document into its canonical form:
// object keys sorted, no insignificant whitespace, numbers in shortest
// round-trip notation. Every signed payload and every params hash goes
// through this, so verification is reproducible byte-for-byte.
func CanonicalizeJSON(input []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return nil, errors.New("invalid JSON: trailing data")
	}

	var enc canonicalEncoder
	if err := enc.encode(value); err != nil {
		return nil, err
	}
	return enc.buf.Bytes(), nil
}

// CanonicalizeAny canonicalizes an arbitrary Go value, marshaling it
// to JSON first when it is not already a JSON-shaped value.
func CanonicalizeAny(v any) ([]byte, error) {
	switch value := v.(type) {
	case json.RawMessage:
		return CanonicalizeJSON([]byte(value))
	case []byte:
		return CanonicalizeJSON(value)
	}
	if jsonShaped(v) {
		var enc canonicalEncoder
		if err := enc.encode(v); err != nil {
			return nil, err
		}
		return enc.buf.Bytes(), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return CanonicalizeJSON(b)
}

func jsonShaped(v any) bool {
	switch v.(type) {
	case nil, bool, string, json.Number, map[string]any, []any:
		return true
	}
	_, ok := numericValue(v)
	return ok
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

type canonicalEncoder struct {
	buf bytes.Buffer
}

func (e *canonicalEncoder) encode(value any) error {
	switch v := value.(type) {
	case nil:
		e.buf.WriteString("null")
	case bool:
		if v {
			e.buf.WriteString("true")
		} else {
			e.buf.WriteString("false")
		}
	case string:
		e.str(v)
	case json.Number:
		f, err := strconv.ParseFloat(v.String(), 64)
		if err != nil {
			return fmt.Errorf("invalid JSON number: %w", err)
		}
		return e.number(f)
	case map[string]any:
		return e.object(v)
	case []any:
		return e.array(v)
	default:
		f, ok := numericValue(value)
		if !ok {
			return fmt.Errorf("unsupported JSON type %T", value)
		}
		return e.number(f)
	}
	return nil
}

func (e *canonicalEncoder) object(obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	e.buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		e.str(k)
		e.buf.WriteByte(':')
		if err := e.encode(obj[k]); err != nil {
			return err
		}
	}
	e.buf.WriteByte('}')
	return nil
}

func (e *canonicalEncoder) array(arr []any) error {
	e.buf.WriteByte('[')
	for i, item := range arr {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		if err := e.encode(item); err != nil {
			return err
		}
	}
	e.buf.WriteByte(']')
	return nil
}

const hexDigits = "0123456789abcdef"

func (e *canonicalEncoder) str(s string) {
	e.buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			e.buf.WriteByte('\\')
			e.buf.WriteRune(r)
		case '\b':
			e.buf.WriteString(`\b`)
		case '\f':
			e.buf.WriteString(`\f`)
		case '\n':
			e.buf.WriteString(`\n`)
		case '\r':
			e.buf.WriteString(`\r`)
		case '\t':
			e.buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				e.buf.WriteString(`\u00`)
				e.buf.WriteByte(hexDigits[r>>4])
				e.buf.WriteByte(hexDigits[r&0x0f])
			} else {
				e.buf.WriteRune(r)
			}
		}
	}
	e.buf.WriteByte('"')
}

// number writes the shortest round-trip decimal form: plain notation
// for exponents in (-7, 21), scientific outside that range.
func (e *canonicalEncoder) number(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return errors.New("invalid JSON number")
	}
	if f == 0 {
		e.buf.WriteString("0")
		return nil
	}
	if f < 0 {
		e.buf.WriteByte('-')
		f = math.Abs(f)
	}

	form := strconv.FormatFloat(f, 'e', -1, 64)
	mantissa, expPart, ok := strings.Cut(form, "e")
	if !ok {
		return fmt.Errorf("invalid float format: %q", form)
	}
	exp, err := strconv.Atoi(expPart)
	if err != nil {
		return fmt.Errorf("invalid float exponent: %w", err)
	}
	digits := strings.ReplaceAll(mantissa, ".", "")

	switch point := exp + 1; {
	case exp <= -7 || exp >= 21:
		if len(digits) == 1 {
			e.buf.WriteString(digits)
		} else {
			e.buf.WriteString(digits[:1])
			e.buf.WriteByte('.')
			e.buf.WriteString(digits[1:])
		}
		e.buf.WriteByte('e')
		e.buf.WriteString(strconv.Itoa(exp))
	case point >= len(digits):
		e.buf.WriteString(digits)
		e.buf.WriteString(strings.Repeat("0", point-len(digits)))
	case point <= 0:
		e.buf.WriteString("0.")
		e.buf.WriteString(strings.Repeat("0", -point))
		e.buf.WriteString(digits)
	default:
		e.buf.WriteString(digits[:point])
		e.buf.WriteByte('.')
		e.buf.WriteString(digits[point:])
	}
	return nil
}
