package codec

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// Default compression thresholds in bytes.
const (
	DefaultClientZipLength = 4 * 1024
	DefaultServerZipLength = 10 * 1024
)

// maxDecompressed bounds a single inflated payload.
const maxDecompressed = 64 << 20

// Compressor gzips payloads larger than a threshold.
type Compressor struct {
	threshold int
	writers   sync.Pool
}

// NewCompressor returns a compressor for payloads strictly larger than
// threshold bytes. A non-positive threshold compresses everything.
func NewCompressor(threshold int) *Compressor {
	return &Compressor{threshold: threshold}
}

func (c *Compressor) ShouldCompress(n int) bool {
	return n > c.threshold
}

func (c *Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, ok := c.writers.Get().(*gzip.Writer)
	if ok {
		zw.Reset(&buf)
	} else {
		zw = gzip.NewWriter(&buf)
	}
	defer c.writers.Put(zw)

	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress inflates a gzip payload.
func Decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, maxDecompressed+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxDecompressed {
		return nil, fmt.Errorf("decompressed payload exceeds %d bytes", maxDecompressed)
	}
	return out, nil
}
