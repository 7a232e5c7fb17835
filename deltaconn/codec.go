package deltaconn

import (
	"context"
	"encoding/json"
)

// Decoder converts one raw frame into a ForwardMsg. The manager calls it on
// its loop, so it must not block.
type Decoder func(ctx context.Context, frame []byte) (*ForwardMsg, error)

// DecodeFrame parses a JSON-encoded binary frame.
func DecodeFrame(_ context.Context, frame []byte) (*ForwardMsg, error) {
	var msg ForwardMsg
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, WrapError(ErrorDecode, "malformed frame", err)
	}
	if msg.Type == "" {
		return nil, NewError(ErrorDecode, "frame without type")
	}
	return &msg, nil
}

// EncodeBackMsg serializes msg into a binary frame.
func EncodeBackMsg(msg *BackMsg) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, WrapError(ErrorSerialization, "encode back message", err)
	}
	return data, nil
}
