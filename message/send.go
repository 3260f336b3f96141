package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/eclipse-edc/Connector-sub001/dispatcher"
	"github.com/eclipse-edc/Connector-sub001/handler"
)

// ErrEmptyReply is returned by DecodeReply when a reply was required.
var ErrEmptyReply = errors.New("message: empty reply")

// Send encodes body into msg.Payload, sends msg through d and returns the
// reply. The error is the outcome converted with Outcome.Err.
func Send(ctx context.Context, d dispatcher.Dispatcher, msg dispatcher.Message, body any) (json.RawMessage, error) {
	payload, err := handler.Encode(body)
	if err != nil {
		return nil, err
	}
	msg.Payload = payload

	out := d.Send(ctx, msg)
	if err := out.Err(); err != nil {
		return nil, err
	}
	return out.Reply, nil
}

// DecodeReply decodes a reply of type T. A missing or malformed reply is a
// protocol violation and therefore permanent.
func DecodeReply[T any](typ string, reply json.RawMessage) (T, error) {
	var v T
	if len(reply) == 0 {
		return v, handler.Permanent(fmt.Errorf("%s: %w", typ, ErrEmptyReply))
	}
	if err := json.Unmarshal(reply, &v); err != nil {
		return v, handler.Permanent(fmt.Errorf("%s: decode reply: %w", typ, err))
	}
	return v, nil
}
