package message

import "encoding/binary"

// Response -> result of one procedure call
type Response struct {
	// header
	HeadLength uint32
	BodyLength uint32
	MessageId  uint32
	Version    uint8
	Compressor uint8
	Serializer uint8

	// Error is an encoded Error, see EncodeError. It lives in the header so
	// the head length alone separates it from the body.
	Error []byte

	// body: the encoded return value, compressed with Compressor
	Data []byte
}

func EncodeResp(resp *Response) []byte {
	bs := make([]byte, resp.HeadLength+resp.BodyLength)
	binary.BigEndian.PutUint32(bs[:4], resp.HeadLength)
	binary.BigEndian.PutUint32(bs[4:8], resp.BodyLength)
	binary.BigEndian.PutUint32(bs[8:12], resp.MessageId)
	bs[12] = resp.Version
	bs[13] = resp.Compressor
	bs[14] = resp.Serializer

	cur := bs[fixedHeadLength:]
	copy(cur, resp.Error)
	cur = cur[len(resp.Error):]
	copy(cur, resp.Data)
	return bs
}

// DecodeResp parses a frame produced by EncodeResp. Error and Data are
// copied out of bs.
func DecodeResp(bs []byte) (*Response, error) {
	if len(bs) < fixedHeadLength {
		return nil, frameError("response", "%d bytes is shorter than the fixed header", len(bs))
	}
	resp := &Response{
		HeadLength: binary.BigEndian.Uint32(bs[:4]),
		BodyLength: binary.BigEndian.Uint32(bs[4:8]),
		MessageId:  binary.BigEndian.Uint32(bs[8:12]),
		Version:    bs[12],
		Compressor: bs[13],
		Serializer: bs[14],
	}
	if err := checkLengths("response", resp.HeadLength, resp.BodyLength, len(bs)); err != nil {
		return nil, err
	}
	if resp.HeadLength > fixedHeadLength {
		resp.Error = append([]byte(nil), bs[fixedHeadLength:resp.HeadLength]...)
	}
	if resp.BodyLength != 0 {
		resp.Data = append([]byte(nil), bs[resp.HeadLength:]...)
	}
	return resp, nil
}

func (resp *Response) CalculateHeaderLength() {
	resp.HeadLength = fixedHeadLength + uint32(len(resp.Error))
}

func (resp *Response) CalculateBodyLength() {
	resp.BodyLength = uint32(len(resp.Data))
}
