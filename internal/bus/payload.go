package bus

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

var ErrMissingValue = errors.New("bus: update payload missing value")

// UpdateEvent is the wire form of one counter change: {"value":N}.
type UpdateEvent struct {
	Value int64 `json:"value"`
}

type wireUpdate struct {
	Value *int64 `json:"value"`
}

// EncodeUpdate renders v as an UpdateEvent payload.
func EncodeUpdate(v int64) ([]byte, error) {
	return sonic.Marshal(UpdateEvent{Value: v})
}

// DecodeUpdate parses an UpdateEvent payload. A payload without a numeric
// value field is rejected.
func DecodeUpdate(payload []byte) (UpdateEvent, error) {
	var raw wireUpdate
	if err := sonic.Unmarshal(payload, &raw); err != nil {
		return UpdateEvent{}, fmt.Errorf("bus: decode update: %w", err)
	}
	if raw.Value == nil {
		return UpdateEvent{}, ErrMissingValue
	}
	return UpdateEvent{Value: *raw.Value}, nil
}
