package chain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

var (
	ErrFloatNotAllowed = errors.New("canonical: floats are not allowed")
	ErrUnsupportedType = errors.New("canonical: unsupported type")
	// ErrDuplicateKey means two object keys are equal once NFC-normalised, so the
	// object has no single canonical form.
	ErrDuplicateKey = errors.New("canonical: duplicate object key")
)

// Canonicalize encodes v as canonical JSON: object keys sorted, strings NFC-normalised,
// integers only, null object members dropped. json.RawMessage values are parsed and
// re-encoded so that stored formatting never changes a hash.
//
// Only the shapes hash payloads are built from are accepted: nil, bool, string, int,
// int64, json.Number, json.RawMessage, []string, []any and map[string]any.
func Canonicalize(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(x))
	case string:
		return encodeString(buf, x)
	case int:
		buf.WriteString(strconv.Itoa(x))
	case int64:
		buf.WriteString(strconv.FormatInt(x, 10))
	case json.Number:
		n, err := strconv.ParseInt(x.String(), 10, 64)
		if err != nil {
			return ErrFloatNotAllowed
		}
		buf.WriteString(strconv.FormatInt(n, 10))
	case float32, float64:
		return ErrFloatNotAllowed
	case json.RawMessage:
		parsed, err := parseRaw(x)
		if err != nil {
			return err
		}
		return encodeCanonical(buf, parsed)
	case []string:
		buf.WriteByte('[')
		for i, s := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, s); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case []any:
		buf.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		return encodeObject(buf, x)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	encoded, err := json.Marshal(norm.NFC.String(s))
	if err != nil {
		return err
	}
	buf.Write(encoded)
	return nil
}

func encodeObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	values := make(map[string]any, len(obj))
	for k, v := range obj {
		nk := norm.NFC.String(k)
		if _, dup := values[nk]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateKey, nk)
		}
		values[nk] = v
		if v != nil {
			keys = append(keys, nk)
		}
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encodeCanonical(buf, values[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// parseRaw decodes raw JSON into nil, bool, string, json.Number, []any and
// map[string]any. Unlike json.Unmarshal it rejects objects that repeat a key.
func parseRaw(raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	v, err := parseToken(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("canonical: trailing data after JSON value")
	}
	return v, nil
}

func parseToken(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '[':
		items := []any{}
		for dec.More() {
			item, err := parseToken(dec)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		_, err := dec.Token()
		return items, err
	case '{':
		obj := map[string]any{}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key := keyTok.(string)
			if _, dup := obj[key]; dup {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, key)
			}
			val, err := parseToken(dec)
			if err != nil {
				return nil, err
			}
			obj[key] = val
		}
		_, err := dec.Token()
		return obj, err
	}
	return nil, fmt.Errorf("canonical: unexpected delimiter %q", delim)
}
