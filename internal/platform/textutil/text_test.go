package textutil

import "testing"

func TestPlainText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"strips tags", `<b>Leave</b> at <script>alert(1)</script>door`, 0, "Leave at door"},
		{"collapses whitespace", "  Jl.   Merdeka\n\t12 ", 0, "Jl. Merdeka 12"},
		{"keeps ampersand", "Tom & Jerry", 0, "Tom & Jerry"},
		{"truncates runes", "ééééé", 3, "ééé"},
		{"empty", "", 10, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := PlainText(tc.in, tc.max); got != tc.want {
				t.Fatalf("PlainText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestReferenceNumberFoldsWidthAndCase(t *testing.T) {
	if got := ReferenceNumber("ｔｒｘ－１２３ ab"); got != "TRX-123AB" {
		t.Fatalf("unexpected reference %q", got)
	}
	if got := ReferenceNumber(" gcash/88_1 "); got != "GCASH/88_1" {
		t.Fatalf("unexpected reference %q", got)
	}
}
