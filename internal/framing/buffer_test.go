package framing

import (
	"strings"
	"testing"
)

// TestExtractNext verifies single extraction against a buffer holding
// zero, one or several complete records.
func TestExtractNext(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		delim    string
		want     string
		wantOK   bool
		leftover string
	}{
		{"first record", "abc\ndef\ng", "\n", "abc\n", true, "def\ng"},
		{"no delimiter", "def", "\n", "", false, "def"},
		{"empty buffer", "", "\n", "", false, ""},
		{"empty delimiter", "abc\n", "", "", false, "abc\n"},
		{"multi-byte delimiter", "a\r\nb\r\n", "\r\n", "a\r\n", true, "b\r\n"},
		{"delimiter only", "\n", "\n", "\n", true, ""},
		{"partial multi-byte delimiter", "a\r", "\r\n", "", false, "a\r"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b Buffer
			b.Append([]byte(tt.input))

			got, ok := b.ExtractNext(tt.delim)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ExtractNext() = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
			if b.String() != tt.leftover {
				t.Errorf("leftover = %q, want %q", b.String(), tt.leftover)
			}
		})
	}
}

// TestExtractNext_Repeated verifies that a second extraction without a
// delimiter present leaves the remainder unchanged.
func TestExtractNext_Repeated(t *testing.T) {
	var b Buffer
	b.Append([]byte("abc\ndef\ng"))

	if rec, _ := b.ExtractNext("\n"); rec != "abc\n" {
		t.Fatalf("first = %q", rec)
	}
	if rec, _ := b.ExtractNext("\n"); rec != "def\n" {
		t.Fatalf("second = %q", rec)
	}
	if rec, ok := b.ExtractNext("\n"); ok {
		t.Fatalf("third = %q, want no record", rec)
	}
	if b.String() != "g" {
		t.Errorf("leftover = %q, want %q", b.String(), "g")
	}
}

func TestDrain(t *testing.T) {
	var b Buffer
	b.Append([]byte("ab\ncd\n"))

	var got []string
	n := b.Drain("\n", func(r string) { got = append(got, r) })

	if n != 2 || len(got) != 2 || got[0] != "ab\n" || got[1] != "cd\n" {
		t.Errorf("Drain() = %d %q", n, got)
	}
	if b.Len() != 0 {
		t.Errorf("buffer not empty: %q", b.String())
	}
}

// TestDrain_AcrossAppends verifies that a record split over several
// reads is delivered once it completes.
func TestDrain_AcrossAppends(t *testing.T) {
	var b Buffer
	var got []string
	collect := func(r string) { got = append(got, r) }

	for _, chunk := range []string{"he", "llo\nwo", "rld", "\n"} {
		b.Append([]byte(chunk))
		b.Drain("\n", collect)
	}
	if strings.Join(got, "|") != "hello\n|world\n" {
		t.Errorf("records = %q", got)
	}
}

// TestDrain_SplitRune verifies a multi-byte character split across two
// appends survives extraction.
func TestDrain_SplitRune(t *testing.T) {
	word := []byte("héllo\n")
	var b Buffer
	b.Append(word[:2]) // cuts 'é' in half
	b.Append(word[2:])

	rec, ok := b.ExtractNext("\n")
	if !ok || rec != "héllo\n" {
		t.Errorf("ExtractNext() = %q, %v", rec, ok)
	}
}

func TestReset(t *testing.T) {
	var b Buffer
	b.Append([]byte("stale"))
	b.Reset()
	if b.Len() != 0 {
		t.Errorf("Len() = %d after Reset", b.Len())
	}
	b.Append([]byte("x\n"))
	if rec, ok := b.ExtractNext("\n"); !ok || rec != "x\n" {
		t.Errorf("after Reset: %q %v", rec, ok)
	}
}

func BenchmarkDrain(b *testing.B) {
	chunk := []byte(strings.Repeat("0123456789abcdef\n", 64))
	var buf Buffer

	b.SetBytes(int64(len(chunk)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Append(chunk)
		buf.Drain("\n", func(string) {})
	}
}
