package pools

import (
	"bytes"
	"sync"
	"testing"
)

func BenchmarkBufferPooling(b *testing.B) {
	b.Run("WithPool", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			buf := GetBuffer()
			buf.WriteString("shadow index frame payload")
			for j := 0; j < 16; j++ {
				buf.WriteString("entry bytes")
			}
			PutBuffer(buf)
		}
	})

	b.Run("WithoutPool", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			buf := bytes.NewBuffer(nil)
			buf.WriteString("shadow index frame payload")
			for j := 0; j < 16; j++ {
				buf.WriteString("entry bytes")
			}
		}
	})
}

func TestBufferPoolConcurrency(t *testing.T) {
	var wg sync.WaitGroup
	concurrency := 100
	iterations := 1000

	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				buf := GetBuffer()
				buf.WriteString("concurrent test")
				PutBuffer(buf)
			}
		}()
	}

	wg.Wait()
}

func TestBufferPoolSizeLimits(t *testing.T) {
	largeBuf := bytes.NewBuffer(make([]byte, 0, 2*1024*1024)) // 2MiB
	PutBuffer(largeBuf)

	newBuf := GetBuffer()
	if newBuf.Cap() > 1024*1024 {
		t.Errorf("pool returned a buffer larger than expected: %d bytes", newBuf.Cap())
	}
	PutBuffer(newBuf)
}

func TestByteSlicePool(t *testing.T) {
	b := GetByteSlice()
	if b == nil {
		t.Fatal("GetByteSlice returned nil")
	}
	if len(*b) != 0 {
		t.Errorf("expected empty slice, got length %d", len(*b))
	}

	*b = append(*b, []byte("HDR\x00")...)

	PutByteSlice(b)

	b2 := GetByteSlice()
	if len(*b2) != 0 {
		t.Errorf("pool returned non-empty slice: %d bytes", len(*b2))
	}
	PutByteSlice(b2)
}

func TestJSONEncoderRoundTrip(t *testing.T) {
	je := GetJSONEncoder()
	type stats struct {
		Tick int `json:"tick"`
	}
	if err := je.Enc.Encode(stats{Tick: 7}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if got := je.Buf.String(); got != "{\"tick\":7}\n" {
		t.Fatalf("unexpected encoded payload: %q", got)
	}
	PutJSONEncoder(je)

	// A fresh Get must hand back a buffer reset to empty, not the
	// previous caller's leftover payload.
	je2 := GetJSONEncoder()
	if je2.Buf.Len() != 0 {
		t.Fatalf("expected reset buffer, got %q", je2.Buf.String())
	}
	PutJSONEncoder(je2)
}
