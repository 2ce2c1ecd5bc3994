package gzip

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
	"typedrpc/rpc/compress"
)

var _ compress.Compressor = Compressor{}

// Compressor implements the Compressor interface
type Compressor struct{}

func (Compressor) Code() byte {
	return 1
}

// Compress data
func (Compressor) Compress(data []byte) ([]byte, error) {
	res := bytes.NewBuffer(nil)
	w := gzip.NewWriter(res)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	// Close must run before reading res, otherwise the tail of the stream is
	// still buffered in w and UnCompress sees a truncated input.
	if err := w.Close(); err != nil {
		return nil, err
	}
	return res.Bytes(), nil
}

// UnCompress data
func (Compressor) UnCompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = r.Close()
	}()
	return io.ReadAll(r)
}
