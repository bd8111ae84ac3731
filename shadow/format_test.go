package shadow

import (
	"os"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	buf := encodeHeader(4096, 7, 256)
	if len(buf) != HeaderSize {
		t.Fatalf("expected %d byte header, got %d", HeaderSize, len(buf))
	}
	h, err := decodeHeader(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.PageSize != 4096 || h.Tick != 7 || h.HeaderSize != HeaderSize || h.IndexByteLen != 256 {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestHeaderCorruptionDetected(t *testing.T) {
	buf := encodeHeader(4096, 7, 256)
	buf[10] ^= 0xFF // corrupt a tick byte without touching the magic
	if _, err := decodeHeader(buf); err == nil {
		t.Fatalf("expected corruption error for a flipped tick byte")
	}

	buf = encodeHeader(4096, 7, 256)
	buf[0] = 'X'
	if _, err := decodeHeader(buf); err == nil {
		t.Fatalf("expected corruption error for a bad magic")
	}
}

func TestIndexRoundTrip(t *testing.T) {
	entries := []IndexEntry{
		{HDF5PageOffset: 1, MDFilePageOffset: 10, Length: 4096, Checksum: 0xABCD},
		{HDF5PageOffset: 2, MDFilePageOffset: 11, Length: 4096, Checksum: 0x1234},
	}
	buf := encodeIndex(42, entries)

	tick, got, err := decodeIndex(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tick != 42 {
		t.Fatalf("expected tick 42, got %d", tick)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	for i, e := range entries {
		if got[i].HDF5PageOffset != e.HDF5PageOffset || got[i].MDFilePageOffset != e.MDFilePageOffset ||
			got[i].Length != e.Length || got[i].Checksum != e.Checksum {
			t.Fatalf("entry %d mismatch: got %+v want %+v", i, got[i], e)
		}
	}
}

func TestIndexEmptyRoundTrip(t *testing.T) {
	buf := encodeIndex(1, nil)
	tick, got, err := decodeIndex(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tick != 1 || len(got) != 0 {
		t.Fatalf("expected empty index at tick 1, got tick=%d len=%d", tick, len(got))
	}
}

func TestWriteReadHeaderAndIndexViaFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "shadow-*.bin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer f.Close()

	entries := []IndexEntry{
		{HDF5PageOffset: 3, MDFilePageOffset: 9, Length: 128, Checksum: 7},
	}
	if err := WriteIndex(f, 5, entries); err != nil {
		t.Fatalf("WriteIndex: %v", err)
	}
	if err := WriteHeader(f, 4096, 5, IndexByteLen(len(entries))); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}

	h, err := ReadHeader(f)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.Tick != 5 || h.PageSize != 4096 {
		t.Fatalf("unexpected header: %+v", h)
	}

	tick, got, err := ReadIndex(f, h.IndexByteLen)
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	if tick != 5 || len(got) != 1 || got[0].HDF5PageOffset != 3 {
		t.Fatalf("unexpected index: tick=%d entries=%+v", tick, got)
	}
}
