package shadow

import (
	"os"

	"github.com/hdfgroup/vfdswmr/collab"
)

// FileVFD is the real, file-backed implementation of collab.ReaderVFD: it
// opens the shadow file read-only and reads its header (and, on request,
// its index) via the codec in format.go. A writer's own in-process Reader
// never uses this directly — it is for genuinely separate reader
// processes/handles opening the shadow file the writer created.
type FileVFD struct {
	f *os.File
}

// OpenFileVFD opens path (the writer's shadow-file path) for reading.
func OpenFileVFD(path string) (*FileVFD, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ErrShadowIO
	}
	return &FileVFD{f: f}, nil
}

// Close releases the underlying file handle.
func (v *FileVFD) Close() error {
	return v.f.Close()
}

// GetTickAndIndex implements collab.ReaderVFD: it always reads the
// header (the cheap poll), and additionally reads and decodes the index
// frame when loadIndex is true. A CRC or magic mismatch in either frame
// surfaces as ErrCorruption, per §4.1's torn-publication detection.
func (v *FileVFD) GetTickAndIndex(loadIndex bool) (uint64, []collab.IndexRecord, error) {
	h, err := ReadHeader(v.f)
	if err != nil {
		return 0, nil, err
	}
	if !loadIndex {
		return h.Tick, nil, nil
	}

	indexTick, entries, err := ReadIndex(v.f, h.IndexByteLen)
	if err != nil {
		return 0, nil, err
	}
	if indexTick != h.Tick {
		// The writer publishes (entries) -> (index) -> (header); racing a
		// reader can observe an index frame from the publication in
		// flight when it rereads the header after. Surface as
		// corruption so the caller retries on the next poll (§4.1).
		return 0, nil, ErrCorruption
	}

	records := make([]collab.IndexRecord, len(entries))
	for i, e := range entries {
		records[i] = collab.IndexRecord{
			HDF5PageOffset:   e.HDF5PageOffset,
			MDFilePageOffset: e.MDFilePageOffset,
			Length:           e.Length,
		}
	}
	return h.Tick, records, nil
}
