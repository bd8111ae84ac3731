package shadow

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/hdfgroup/vfdswmr/storage/pools"
)

// On-disk layout constants (§4.1 of the design). Every integer is
// little-endian; magics are 4 ASCII bytes, the fourth being a fixed
// padding byte so the field stays word-aligned.
const (
	headerMagic = "HDR\x00"
	indexMagic  = "IDX\x00"

	// HeaderSize is the fixed size of the header frame in bytes:
	// magic(4) + page_size(4) + tick(8) + header_size(8) + index_len(8) + crc(4).
	HeaderSize = 4 + 4 + 8 + 8 + 8 + 4

	// entrySize is the fixed size of one index entry in bytes:
	// hdf5_page_offset(4) + md_file_page_offset(4) + length(4) + chksum(4).
	entrySize = 16

	// indexFrameFixedSize is the index frame's size excluding the
	// variable-length entry array: magic(4) + tick(8) + count(4) + crc(4).
	indexFrameFixedSize = 4 + 8 + 4 + 4
)

// Header is the decoded form of the shadow file's header frame, always
// resident at offset 0.
type Header struct {
	PageSize     uint32
	Tick         uint64
	HeaderSize   uint64
	IndexByteLen uint64
}

// IndexEntry is the on-disk (and in-memory) representation of one shadow
// index entry (§3 of the design). EntryPtr, TickOfLastChange,
// TickOfLastFlush, DelayedFlush, Clean and MovedToHDF5File are in-memory
// bookkeeping fields not present on disk.
type IndexEntry struct {
	HDF5PageOffset   uint32
	MDFilePageOffset uint32
	Length           uint32
	Checksum         uint32

	EntryPtr         []byte
	TickOfLastChange uint64
	TickOfLastFlush  uint64
	DelayedFlush     uint64
	Clean            bool
	MovedToHDF5File  bool
}

// IndexByteLen returns the encoded size, in bytes, of an index frame
// holding n entries.
func IndexByteLen(n int) uint64 {
	return uint64(indexFrameFixedSize + n*entrySize)
}

// encodeHeader serializes a header frame. The CRC covers every preceding
// byte.
func encodeHeader(pageSize uint32, tick uint64, indexByteLen uint64) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], headerMagic)
	binary.LittleEndian.PutUint32(buf[4:8], pageSize)
	binary.LittleEndian.PutUint64(buf[8:16], tick)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(HeaderSize))
	binary.LittleEndian.PutUint64(buf[24:32], indexByteLen)
	crc := crc32.ChecksumIEEE(buf[:32])
	binary.LittleEndian.PutUint32(buf[32:36], crc)
	return buf
}

// decodeHeader parses and validates a header frame.
func decodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("shadow: short header frame (%d bytes): %w", len(buf), ErrCorruption)
	}
	if string(buf[0:4]) != headerMagic {
		return nil, fmt.Errorf("shadow: bad header magic: %w", ErrCorruption)
	}
	gotCRC := binary.LittleEndian.Uint32(buf[32:36])
	wantCRC := crc32.ChecksumIEEE(buf[:32])
	if gotCRC != wantCRC {
		return nil, fmt.Errorf("shadow: header crc mismatch: %w", ErrCorruption)
	}
	return &Header{
		PageSize:     binary.LittleEndian.Uint32(buf[4:8]),
		Tick:         binary.LittleEndian.Uint64(buf[8:16]),
		HeaderSize:   binary.LittleEndian.Uint64(buf[16:24]),
		IndexByteLen: binary.LittleEndian.Uint64(buf[24:32]),
	}, nil
}

// encodeIndex serializes an index frame for the given tick and entries.
// The frame is assembled in a pooled buffer — every tick publication
// builds one of these, so reusing the backing array avoids an
// allocation proportional to index size on the hot path.
func encodeIndex(tick uint64, entries []IndexEntry) []byte {
	n := len(entries)
	scratch := pools.GetBuffer()
	defer pools.PutBuffer(scratch)

	var hdr [16]byte
	copy(hdr[0:4], indexMagic)
	binary.LittleEndian.PutUint64(hdr[4:12], tick)
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(n))
	scratch.Write(hdr[:])

	var entryBuf [entrySize]byte
	for _, e := range entries {
		binary.LittleEndian.PutUint32(entryBuf[0:4], e.HDF5PageOffset)
		binary.LittleEndian.PutUint32(entryBuf[4:8], e.MDFilePageOffset)
		binary.LittleEndian.PutUint32(entryBuf[8:12], e.Length)
		binary.LittleEndian.PutUint32(entryBuf[12:16], e.Checksum)
		scratch.Write(entryBuf[:])
	}

	crc := crc32.ChecksumIEEE(scratch.Bytes())
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], crc)
	scratch.Write(crcBuf[:])

	out := make([]byte, scratch.Len())
	copy(out, scratch.Bytes())
	return out
}

// decodeIndex parses and validates an index frame.
func decodeIndex(buf []byte) (tick uint64, entries []IndexEntry, err error) {
	if len(buf) < indexFrameFixedSize {
		return 0, nil, fmt.Errorf("shadow: short index frame (%d bytes): %w", len(buf), ErrCorruption)
	}
	if string(buf[0:4]) != indexMagic {
		return 0, nil, fmt.Errorf("shadow: bad index magic: %w", ErrCorruption)
	}
	tick = binary.LittleEndian.Uint64(buf[4:12])
	n := int(binary.LittleEndian.Uint32(buf[12:16]))
	off := 16
	want := off + n*entrySize + 4
	if len(buf) < want {
		return 0, nil, fmt.Errorf("shadow: short index frame for %d entries: %w", n, ErrCorruption)
	}
	gotCRC := binary.LittleEndian.Uint32(buf[off+n*entrySize : want])
	wantCRC := crc32.ChecksumIEEE(buf[:off+n*entrySize])
	if gotCRC != wantCRC {
		return 0, nil, fmt.Errorf("shadow: index crc mismatch: %w", ErrCorruption)
	}
	entries = make([]IndexEntry, n)
	for i := 0; i < n; i++ {
		entries[i] = IndexEntry{
			HDF5PageOffset:   binary.LittleEndian.Uint32(buf[off : off+4]),
			MDFilePageOffset: binary.LittleEndian.Uint32(buf[off+4 : off+8]),
			Length:           binary.LittleEndian.Uint32(buf[off+8 : off+12]),
			Checksum:         binary.LittleEndian.Uint32(buf[off+12 : off+16]),
		}
		off += entrySize
	}
	return tick, entries, nil
}

// checksumBytes computes the per-entry content checksum stored in the
// index, independent of the frame-level CRCs above: it lets a reader
// detect a torn write of the entry's payload even when the index frame
// itself is intact.
func checksumBytes(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

// seekAndWrite writes b to f at offset, failing wrapped in ErrShadowIO on
// short write or seek failure.
func seekAndWrite(f *os.File, offset int64, b []byte) error {
	if _, err := f.Seek(offset, 0); err != nil {
		return fmt.Errorf("shadow: seek to %d: %w: %v", offset, ErrShadowIO, err)
	}
	n, err := f.Write(b)
	if err != nil {
		return fmt.Errorf("shadow: write at %d: %w: %v", offset, ErrShadowIO, err)
	}
	if n != len(b) {
		return fmt.Errorf("shadow: short write at %d (%d/%d bytes): %w", offset, n, len(b), ErrShadowIO)
	}
	return nil
}

// seekAndRead reads exactly len(b) bytes from f at offset.
func seekAndRead(f *os.File, offset int64, b []byte) error {
	if _, err := f.Seek(offset, 0); err != nil {
		return fmt.Errorf("shadow: seek to %d: %w: %v", offset, ErrShadowIO, err)
	}
	n, err := f.Read(b)
	if err != nil {
		return fmt.Errorf("shadow: read at %d: %w: %v", offset, ErrShadowIO, err)
	}
	if n != len(b) {
		return fmt.Errorf("shadow: short read at %d (%d/%d bytes): %w", offset, n, len(b), ErrShadowIO)
	}
	return nil
}

// WriteHeader writes the header frame at offset 0 and syncs the write, the
// last step of every publication (the commit point).
func WriteHeader(f *os.File, pageSize uint32, tick uint64, indexByteLen uint64) error {
	buf := encodeHeader(pageSize, tick, indexByteLen)
	if err := seekAndWrite(f, 0, buf); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("shadow: fsync header: %w: %v", ErrShadowIO, err)
	}
	return nil
}

// WriteIndex writes the index frame immediately after the header region.
func WriteIndex(f *os.File, tick uint64, entries []IndexEntry) error {
	buf := encodeIndex(tick, entries)
	if err := seekAndWrite(f, int64(HeaderSize), buf); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("shadow: fsync index: %w: %v", ErrShadowIO, err)
	}
	return nil
}

// ReadHeader reads and validates the header frame at offset 0. A reader
// polls this every tick to check for an advance, so the read buffer comes
// from the pool rather than a fresh allocation each time.
func ReadHeader(f *os.File) (*Header, error) {
	bp := pools.GetByteSlice()
	defer pools.PutByteSlice(bp)
	*bp = append(*bp, make([]byte, HeaderSize)...)
	buf := *bp

	if err := seekAndRead(f, 0, buf); err != nil {
		return nil, err
	}
	return decodeHeader(buf)
}

// ReadIndex reads and validates the index frame, given the header's
// reported index byte length.
func ReadIndex(f *os.File, indexByteLen uint64) (tick uint64, entries []IndexEntry, err error) {
	bp := pools.GetByteSlice()
	defer pools.PutByteSlice(bp)
	*bp = append(*bp, make([]byte, indexByteLen)...)
	buf := *bp

	if err := seekAndRead(f, int64(HeaderSize), buf); err != nil {
		return 0, nil, err
	}
	return decodeIndex(buf)
}
