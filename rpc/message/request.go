package message

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"typedrpc/internal/errs"
)

const (
	splitter     = '\n'
	pairSplitter = '\r'

	// fixed part of the header: head length, body length, message id,
	// version, compressor, serializer
	fixedHeadLength = 15
)

// Request -> one procedure call
type Request struct {
	// header
	HeadLength uint32
	BodyLength uint32
	MessageId  uint32
	Version    uint8
	Compressor uint8
	Serializer uint8

	Service   string
	Procedure string

	// Meta carries call metadata such as the deadline. Keys and values must
	// not contain '\n' or '\r'.
	Meta map[string]string

	// body: the encoded arguments, compressed with Compressor
	Data []byte
}

func EncodeReq(req *Request) []byte {
	bs := make([]byte, req.HeadLength+req.BodyLength)
	binary.BigEndian.PutUint32(bs[:4], req.HeadLength)
	binary.BigEndian.PutUint32(bs[4:8], req.BodyLength)
	binary.BigEndian.PutUint32(bs[8:12], req.MessageId)
	bs[12] = req.Version
	bs[13] = req.Compressor
	bs[14] = req.Serializer

	cur := bs[fixedHeadLength:]
	copy(cur, req.Service)
	cur = cur[len(req.Service):]
	cur[0] = splitter
	cur = cur[1:]
	copy(cur, req.Procedure)
	cur = cur[len(req.Procedure):]
	cur[0] = splitter
	cur = cur[1:]

	// sorted so the same request always encodes to the same bytes
	for _, key := range sortedKeys(req.Meta) {
		value := req.Meta[key]
		copy(cur, key)
		cur = cur[len(key):]
		cur[0] = pairSplitter
		cur = cur[1:]
		copy(cur, value)
		cur = cur[len(value):]
		cur[0] = splitter
		cur = cur[1:]
	}
	copy(cur, req.Data)
	return bs
}

// DecodeReq parses a frame produced by EncodeReq. Data is copied out of bs.
func DecodeReq(bs []byte) (*Request, error) {
	if len(bs) < fixedHeadLength {
		return nil, frameError("request", "%d bytes is shorter than the fixed header", len(bs))
	}
	req := &Request{
		HeadLength: binary.BigEndian.Uint32(bs[:4]),
		BodyLength: binary.BigEndian.Uint32(bs[4:8]),
		MessageId:  binary.BigEndian.Uint32(bs[8:12]),
		Version:    bs[12],
		Compressor: bs[13],
		Serializer: bs[14],
	}
	if err := checkLengths("request", req.HeadLength, req.BodyLength, len(bs)); err != nil {
		return nil, err
	}
	header := bs[fixedHeadLength:req.HeadLength]

	index := bytes.IndexByte(header, splitter)
	if index < 0 {
		return nil, frameError("request", "service name is not terminated")
	}
	req.Service = string(header[:index])
	header = header[index+1:]

	index = bytes.IndexByte(header, splitter)
	if index < 0 {
		return nil, frameError("request", "procedure name is not terminated")
	}
	req.Procedure = string(header[:index])
	header = header[index+1:]

	if len(header) > 0 {
		req.Meta = make(map[string]string, 4)
	}
	for len(header) > 0 {
		index = bytes.IndexByte(header, splitter)
		if index < 0 {
			return nil, frameError("request", "meta pair is not terminated")
		}
		pair := header[:index]
		pairIndex := bytes.IndexByte(pair, pairSplitter)
		if pairIndex < 0 {
			return nil, frameError("request", "meta pair %q has no value", pair)
		}
		req.Meta[string(pair[:pairIndex])] = string(pair[pairIndex+1:])
		header = header[index+1:]
	}
	if req.BodyLength != 0 {
		req.Data = append([]byte(nil), bs[req.HeadLength:]...)
	}
	return req, nil
}

func (req *Request) CalculateHeaderLength() {
	// the two names each end with a splitter
	headLength := fixedHeadLength + len(req.Service) + 1 + len(req.Procedure) + 1
	for key, value := range req.Meta {
		// key, pair splitter, value, splitter
		headLength += len(key) + 1 + len(value) + 1
	}
	req.HeadLength = uint32(headLength)
}

func (req *Request) CalculateBodyLength() {
	req.BodyLength = uint32(len(req.Data))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func checkLengths(kind string, head, body uint32, total int) error {
	if head < fixedHeadLength || uint64(head) > uint64(total) {
		return frameError(kind, "head length %d does not fit %d bytes", head, total)
	}
	if uint64(head)+uint64(body) != uint64(total) {
		return frameError(kind, "head %d + body %d != %d bytes", head, body, total)
	}
	return nil
}

func frameError(kind, format string, args ...any) error {
	return fmt.Errorf("%w: %s frame: %s", errs.ErrMalformedInput, kind, fmt.Sprintf(format, args...))
}
