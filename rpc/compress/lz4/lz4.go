package lz4

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v4"
	"typedrpc/rpc/compress"
)

var _ compress.Compressor = Compressor{}

// Compressor uses the lz4 frame format. Decompression is roughly three
// times as fast as gzip, compression ratio is slightly worse.
type Compressor struct{}

func (Compressor) Code() byte {
	return 2
}

// Compress data
func (Compressor) Compress(data []byte) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	w := lz4.NewWriter(buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnCompress data
func (Compressor) UnCompress(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}
