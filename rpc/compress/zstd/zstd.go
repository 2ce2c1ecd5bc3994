package zstd

import (
	"github.com/klauspost/compress/zstd"
	"typedrpc/rpc/compress"
)

var _ compress.Compressor = Compressor{}

// encoder and decoder are safe for concurrent EncodeAll/DecodeAll.
var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

// Compressor uses zstd with the default level.
type Compressor struct{}

func (Compressor) Code() byte {
	return 5
}

// Compress data
func (Compressor) Compress(data []byte) ([]byte, error) {
	return encoder.EncodeAll(data, nil), nil
}

// UnCompress data
func (Compressor) UnCompress(data []byte) ([]byte, error) {
	return decoder.DecodeAll(data, nil)
}
