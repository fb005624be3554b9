package venue

import (
	"math"
	"testing"
)

// RFC 4231-style known-answer checks so a refactor of the signing helpers
// cannot silently change the wire signature.
func TestOKXSign(t *testing.T) {
	t.Parallel()
	got := okxSign("key", "message")
	want := "bp7ym3X//Ft6uuUn1Y/a2y/kLnIZARl2kXNDBl9Y7Uo="
	if got != want {
		t.Errorf("okxSign = %q, want %q", got, want)
	}
}

func TestHMACSHA256Hex(t *testing.T) {
	t.Parallel()
	got := hmacSHA256Hex("key", "message")
	want := "6e9ef29b75fffc5b7abae527d58fdadb2fe42e7219011976917343065f58ed4a"
	if got != want {
		t.Errorf("hmacSHA256Hex = %q, want %q", got, want)
	}
}

func TestParseOKXLevelsAppliesMultiplier(t *testing.T) {
	t.Parallel()
	raw := []okxLevel{
		{"50000.5", "3", "0", "1"},
		{"bad", "3"}, // unparseable rows are skipped
		{"49999"},    // short rows too
	}
	got := parseOKXLevels(raw, 0.01)
	if len(got) != 1 {
		t.Fatalf("parsed %d levels, want 1", len(got))
	}
	if got[0].Price != 50000.5 {
		t.Errorf("price = %v, want 50000.5", got[0].Price)
	}
	// 3 contracts × 0.01 coin per contract.
	if math.Abs(got[0].Size-0.03) > 1e-12 {
		t.Errorf("size = %v, want 0.03 coin", got[0].Size)
	}
}

func TestParseLevels(t *testing.T) {
	t.Parallel()
	raw := [][]string{
		{"50000.5", "0.25"},
		{"x", "1"},
	}
	got := parseLevels(raw)
	if len(got) != 1 {
		t.Fatalf("parsed %d levels, want 1", len(got))
	}
	if got[0].Price != 50000.5 || got[0].Size != 0.25 {
		t.Errorf("level = %+v, want {50000.5 0.25}", got[0])
	}
}
