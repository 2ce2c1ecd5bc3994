package tcp

import (
	"encoding/binary"
	"fmt"
	"io"

	"typedrpc/internal/errs"
)

// every frame starts with its head length and body length
const lenBytes = 8

// fixedHeadLength is the smallest head a frame can carry, see
// message.Request.
const fixedHeadLength = 15

// maxFrameLength bounds the allocation a peer can ask for.
const maxFrameLength = 64 << 20

// ReadMsg reads one request or response frame, length prefix included.
func ReadMsg(r io.Reader) ([]byte, error) {
	lenBs := make([]byte, lenBytes)
	if _, err := io.ReadFull(r, lenBs); err != nil {
		return nil, err
	}
	headLength := binary.BigEndian.Uint32(lenBs[:4])
	bodyLength := binary.BigEndian.Uint32(lenBs[4:])
	total := uint64(headLength) + uint64(bodyLength)
	if headLength < fixedHeadLength || total > maxFrameLength {
		return nil, fmt.Errorf("%w: frame of %d bytes with a %d byte head", errs.ErrMalformedInput, total, headLength)
	}
	bs := make([]byte, total)
	copy(bs, lenBs)
	if _, err := io.ReadFull(r, bs[lenBytes:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return bs, nil
}
