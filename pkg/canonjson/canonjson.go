// Package canonjson emits deterministic JSON: object keys sorted by UTF-16
// code unit order, no whitespace, finite numbers only. Every hash and
// signature in the kernel is computed over bytes produced here.
package canonjson

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"
)

var ErrNotCanonicalizable = errors.New("value is not canonicalizable")

// Canonicalize normalizes v into plain JSON values (nil, bool, string,
// json.Number, []any, map[string]any). Non-finite numbers, negative zero and
// values without a JSON representation are rejected.
func Canonicalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotCanonicalizable, err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotCanonicalizable, err)
	}
	if err := validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Marshal canonicalizes v and returns its canonical JSON encoding.
func Marshal(v any) ([]byte, error) {
	norm, err := Canonicalize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encode(&buf, norm); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func validate(v any) error {
	switch t := v.(type) {
	case nil, bool, string:
		return nil
	case json.Number:
		return validateNumber(t)
	case []any:
		for _, item := range t {
			if err := validate(item); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		for _, item := range t {
			if err := validate(item); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrNotCanonicalizable, v)
	}
}

func validateNumber(n json.Number) error {
	s := n.String()
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid number %q", ErrNotCanonicalizable, s)
	}
	if f == 0 && strings.HasPrefix(s, "-") {
		return fmt.Errorf("%w: negative zero", ErrNotCanonicalizable)
	}
	return nil
}

func encode(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		return encodeString(buf, t)
	case json.Number:
		buf.WriteString(t.String())
	case []any:
		buf.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return lessUTF16(keys[i], keys[j]) })
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encode(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrNotCanonicalizable, v)
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("%w: %v", ErrNotCanonicalizable, err)
	}
	// json.Encoder terminates every value with a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}

// lessUTF16 orders keys by UTF-16 code units, which differs from Go's native
// byte order for strings containing supplementary-plane characters.
func lessUTF16(a, b string) bool {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}
	return len(ua) < len(ub)
}
