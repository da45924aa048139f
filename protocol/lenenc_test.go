package protocol

import (
	"bytes"
	"testing"
)

func TestLengthEncodedInt_RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 250, 251, 252, 1<<16 - 1, 1 << 16, 1<<24 - 1, 1 << 24, 1<<32 - 1, 1 << 40, 1<<64 - 1}
	for _, v := range values {
		enc := PutLengthEncodedInt(nil, v)
		got, isNull, n := ReadLengthEncodedInt(enc)
		if isNull {
			t.Fatalf("value %d: unexpected null", v)
		}
		if n != len(enc) {
			t.Fatalf("value %d: consumed %d, want %d", v, n, len(enc))
		}
		if got != v {
			t.Fatalf("value %d: round-tripped to %d", v, got)
		}
	}
}

func TestLengthEncodedInt_ShortestForm(t *testing.T) {
	cases := []struct {
		v    uint64
		want int
	}{
		{0, 1},
		{250, 1},
		{251, 3},
		{1<<16 - 1, 3},
		{1 << 16, 4},
		{1<<24 - 1, 4},
		{1 << 24, 9},
	}
	for _, c := range cases {
		enc := PutLengthEncodedInt(nil, c.v)
		if len(enc) != c.want {
			t.Errorf("value %d: encoded to %d bytes, want %d", c.v, len(enc), c.want)
		}
	}
}

func TestLengthEncodedInt_Null(t *testing.T) {
	_, isNull, n := ReadLengthEncodedInt([]byte{0xfb})
	if !isNull || n != 1 {
		t.Fatalf("expected null sentinel consuming 1 byte, got isNull=%v n=%d", isNull, n)
	}
}

func TestLengthEncodedInt_Truncated(t *testing.T) {
	// A 2-byte-int sentinel followed by only one byte is not decodable.
	_, _, n := ReadLengthEncodedInt([]byte{0xfc, 0x01})
	if n != 0 {
		t.Fatalf("expected 0 consumed on truncated input, got %d", n)
	}
}

func TestLengthEncodedString_RoundTrip(t *testing.T) {
	want := []byte("SELECT 1 FROM dual")
	enc := PutLengthEncodedString(nil, want)
	got, n, ok := ReadLengthEncodedString(enc)
	if !ok {
		t.Fatal("expected ok")
	}
	if n != len(enc) {
		t.Fatalf("consumed %d, want %d", n, len(enc))
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestReadNullTerminatedString(t *testing.T) {
	buf := append([]byte("root"), 0, 'x')
	s, n, ok := ReadNullTerminatedString(buf)
	if !ok {
		t.Fatal("expected ok")
	}
	if string(s) != "root" || n != 5 {
		t.Fatalf("got s=%q n=%d", s, n)
	}
}

func TestReadNullTerminatedString_NoTerminator(t *testing.T) {
	_, _, ok := ReadNullTerminatedString([]byte("noterm"))
	if ok {
		t.Fatal("expected not ok")
	}
}
