package canonjson

import (
	"math"
	"testing"
)

func TestMarshalDeterministicAcrossKeyOrder(t *testing.T) {
	a := map[string]any{
		"b": 2,
		"a": map[string]any{"y": 2, "x": 1},
	}
	b := map[string]any{
		"a": map[string]any{"x": 1, "y": 2},
		"b": 2,
	}
	ba, err := Marshal(a)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	bb, err := Marshal(b)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if string(ba) != string(bb) {
		t.Fatalf("expected identical encodings, got %s vs %s", ba, bb)
	}
	if string(ba) != `{"a":{"x":1,"y":2},"b":2}` {
		t.Fatalf("unexpected encoding: %s", ba)
	}
}

func TestMarshalNoWhitespaceAndSortedKeys(t *testing.T) {
	got, err := Marshal(map[string]any{"z": []any{1, "two", nil, true}, "a": "x"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	want := `{"a":"x","z":[1,"two",null,true]}`
	if string(got) != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestMarshalDoesNotEscapeHTML(t *testing.T) {
	got, err := Marshal(map[string]any{"u": "a<b>&c"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if string(got) != `{"u":"a<b>&c"}` {
		t.Fatalf("unexpected encoding: %s", got)
	}
}

func TestMarshalRejectsNonFinite(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := Marshal(map[string]any{"n": v}); err == nil {
			t.Fatalf("expected error for %v", v)
		}
	}
}

func TestMarshalRejectsNegativeZeroLiteral(t *testing.T) {
	if err := validateNumber("-0"); err == nil {
		t.Fatalf("expected negative zero rejection")
	}
	if err := validateNumber("-0.0"); err == nil {
		t.Fatalf("expected negative zero rejection")
	}
	if err := validateNumber("-0.5"); err != nil {
		t.Fatalf("-0.5 is a valid number: %v", err)
	}
}

func TestMarshalRejectsNonPlainValues(t *testing.T) {
	if _, err := Marshal(map[string]any{"c": make(chan int)}); err == nil {
		t.Fatalf("expected error for channel value")
	}
}

func TestMarshalIntegerPrecisionPreserved(t *testing.T) {
	got, err := Marshal(map[string]any{"cents": int64(9007199254740993)})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if string(got) != `{"cents":9007199254740993}` {
		t.Fatalf("integer precision lost: %s", got)
	}
}

func TestKeyOrderUsesUTF16CodeUnits(t *testing.T) {
	// U+10000 encodes as a surrogate pair (0xD800 0xDC00) which sorts before
	// U+FF21 in UTF-16 code unit order, unlike in UTF-8 byte order.
	got, err := Marshal(map[string]any{"\U00010000": 1, "Ａ": 2})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if string(got) != "{\"\U00010000\":1,\"Ａ\":2}" {
		t.Fatalf("unexpected key order: %s", got)
	}
}
