package compress

// Compressor -> compression algorithm abstract. Code travels in the message
// header, one byte, so at most 256 implementations.
type Compressor interface {
	Code() byte
	Compress(data []byte) ([]byte, error)
	UnCompress(data []byte) ([]byte, error)
}

var _ Compressor = DoNothingCompressor{}

// DoNothingCompressor is the default, so callers never nil-check.
type DoNothingCompressor struct{}

func (DoNothingCompressor) Code() byte {
	return 0
}

func (DoNothingCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (DoNothingCompressor) UnCompress(data []byte) ([]byte, error) {
	return data, nil
}
