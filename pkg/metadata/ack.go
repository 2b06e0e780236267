package metadata

import (
	"fmt"

	"nsmeta/pkg/encoding/custom"
)

// AckExpectation is how many replicas of a datacenter must acknowledge a write and whether
// they must have flushed it to disk first.
type AckExpectation struct {
	RequiredAcks   uint32 `json:"required_acks"`
	HardDurability bool   `json:"hard_durability"`
}

// DefaultAckExpectation is {0, hard}.
func DefaultAckExpectation() AckExpectation {
	return AckExpectation{RequiredAcks: 0, HardDurability: true}
}

func (a AckExpectation) Equal(other AckExpectation) bool {
	return a == other
}

func (a AckExpectation) String() string {
	mode := "soft"
	if a.HardDurability {
		mode = "hard"
	}
	return fmt.Sprintf("%d/%s", a.RequiredAcks, mode)
}

func (a AckExpectation) MarshalValue() custom.Value {
	return custom.Message(custom.Uint32(a.RequiredAcks), custom.Bool(a.HardDurability))
}

func UnmarshalAckExpectation(v custom.Value) (AckExpectation, error) {
	fields, err := v.AsMessage(2)
	if err != nil {
		return AckExpectation{}, fmt.Errorf("ack expectation: %w", err)
	}
	acks, err := fields[0].AsUint32()
	if err != nil {
		return AckExpectation{}, fmt.Errorf("ack expectation acks: %w", err)
	}
	hard, err := fields[1].AsBool()
	if err != nil {
		return AckExpectation{}, fmt.Errorf("ack expectation durability: %w", err)
	}
	return AckExpectation{RequiredAcks: acks, HardDurability: hard}, nil
}

// EncodeAckExpectation returns the framed encoding.
func EncodeAckExpectation(a AckExpectation) ([]byte, error) {
	return custom.Frame(a.MarshalValue())
}

func DecodeAckExpectation(data []byte) (AckExpectation, error) {
	v, err := custom.Unframe(data)
	if err != nil {
		return AckExpectation{}, err
	}
	return UnmarshalAckExpectation(v)
}
