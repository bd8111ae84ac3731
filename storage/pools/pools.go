// Package pools provides reusable buffer pools for the hot paths that
// encode and decode shadow-file frames and diagnostics responses, so a
// tick's worth of publications doesn't churn the allocator on every
// header and index write.
package pools

import (
	"bytes"
	"encoding/json"
	"sync"
)

// BufferPool provides reusable byte buffers sized for a shadow-file
// index frame (well under a page for the common case of a few dozen
// entries).
var BufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// ByteSlicePool provides reusable byte slices for fixed-size frame
// reads (headers, index frames read back for verification).
var ByteSlicePool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, 4096)
		return &b
	},
}

// JSONEncoder bundles a buffer with a json.Encoder bound to it:
// encoding/json's Encoder has no way to rebind its writer after
// construction, so the pool has to keep the pair together rather than
// pooling *json.Encoder on its own.
type JSONEncoder struct {
	Buf *bytes.Buffer
	Enc *json.Encoder
}

// EncoderPool provides reusable JSON encoders for the diagnostics
// endpoint's stats responses.
var EncoderPool = sync.Pool{
	New: func() interface{} {
		buf := bytes.NewBuffer(make([]byte, 0, 512))
		return &JSONEncoder{Buf: buf, Enc: json.NewEncoder(buf)}
	},
}

// GetBuffer gets a buffer from the pool, reset and ready to write into.
func GetBuffer() *bytes.Buffer {
	buf := BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool. Buffers grown past 1MiB by a
// single encode are discarded rather than pooled, so one oversized
// index doesn't permanently bloat the pool.
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 1024*1024 {
		return
	}
	BufferPool.Put(buf)
}

// GetByteSlice gets a byte slice from the pool, truncated to zero length.
func GetByteSlice() *[]byte {
	b := ByteSlicePool.Get().(*[]byte)
	*b = (*b)[:0]
	return b
}

// PutByteSlice returns a byte slice to the pool, subject to the same
// size cap as PutBuffer.
func PutByteSlice(b *[]byte) {
	if cap(*b) > 1024*1024 {
		return
	}
	ByteSlicePool.Put(b)
}

// GetJSONEncoder gets a JSON encoder from the pool, its buffer reset and
// ready for a fresh Encode call.
func GetJSONEncoder() *JSONEncoder {
	je := EncoderPool.Get().(*JSONEncoder)
	je.Buf.Reset()
	return je
}

// PutJSONEncoder returns a JSON encoder to the pool.
func PutJSONEncoder(je *JSONEncoder) {
	if je.Buf.Cap() > 1024*1024 {
		return
	}
	EncoderPool.Put(je)
}
