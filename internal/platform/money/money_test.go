package money

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"12", 1200},
		{"12.5", 1250},
		{"12.345", 1235},
		{" 99.99 ", 9999},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("Parse(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}

	if _, err := Parse("-1"); !errors.Is(err, ErrNegative) {
		t.Fatalf("expected ErrNegative, got %v", err)
	}
	if _, err := Parse("abc"); err == nil {
		t.Fatal("expected error for malformed amount")
	}
}

func TestRendering(t *testing.T) {
	if got := String(123456); got != "1234.56" {
		t.Fatalf("String = %s", got)
	}
	if got := Number(500); got != json.Number("5.00") {
		t.Fatalf("Number = %s", got)
	}
	if got := FromFloat(19.99); got != 1999 {
		t.Fatalf("FromFloat = %d", got)
	}
	if got := ToFloat(1999); got != 19.99 {
		t.Fatalf("ToFloat = %v", got)
	}
	if got, err := Mul(1999, 3); err != nil || got != 5997 {
		t.Fatalf("Mul = %d, %v", got, err)
	}
	if got, err := Add(1999, 1); err != nil || got != 2000 {
		t.Fatalf("Add = %d, %v", got, err)
	}
}

func TestRangeChecks(t *testing.T) {
	for _, in := range []string{"100000000000000000000", "92233720368547758.08"} {
		if got, err := Parse(in); !errors.Is(err, ErrOutOfRange) {
			t.Fatalf("Parse(%q) = %d, %v; want ErrOutOfRange", in, got, err)
		}
	}
	got, err := Parse("92233720368547758.07")
	if err != nil || got != math.MaxInt64 {
		t.Fatalf("largest amount: got %d, %v", got, err)
	}

	if got, err := Mul(900000000000000000, 100); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Mul overflow = %d, %v", got, err)
	}
	if got, err := Add(math.MaxInt64, 1); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Add overflow = %d, %v", got, err)
	}
}
