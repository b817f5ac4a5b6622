package protocol

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	fieldKind    = "kind"
	fieldPayload = "payload"
)

// Envelope is a published event. Origin is the acting user and stays on the
// server side: it is never written into the frame.
type Envelope struct {
	Kind    Kind
	Payload any
	Origin  string
}

// Encode encodes the envelope into a binary frame.
func (e Envelope) Encode() ([]byte, error) {
	if !e.Kind.IsEvent() {
		return nil, fmt.Errorf("failed to encode envelope: %w: %q", ErrUnknownKind, e.Kind)
	}
	return encodeFrame(e.Kind, e.Payload)
}

// EncodeCommand encodes a client command into a binary frame.
func EncodeCommand(kind Kind, payload any) ([]byte, error) {
	if !kind.IsCommand() {
		return nil, fmt.Errorf("failed to encode command: %w: %q", ErrUnknownKind, kind)
	}
	return encodeFrame(kind, payload)
}

// Frame is a decoded wire frame whose payload has not been bound to a type yet.
type Frame struct {
	Kind    Kind
	Payload *structpb.Value
}

// Decode decodes a binary frame.
func Decode(data []byte) (Frame, error) {
	st := &structpb.Struct{}
	if err := proto.Unmarshal(data, st); err != nil {
		return Frame{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	return fromProto(st)
}

// DecodePayload binds the payload of f to T. Struct fields are matched by their json tag.
func DecodePayload[T any](f Frame) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
			floatToIntHook(),
		),
	})
	if err != nil {
		return out, fmt.Errorf("new payload decoder: %w", err)
	}
	if err := dec.Decode(f.Payload.AsInterface()); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", f.Kind, err)
	}
	return out, nil
}

func encodeFrame(kind Kind, payload any) ([]byte, error) {
	st, err := toProto(kind, payload)
	if err != nil {
		return nil, err
	}
	data, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", kind, err)
	}
	return data, nil
}

// toProto converts a kind and a Go payload into the structpb frame.
// The payload goes through its json form so json tags define the wire field names.
func toProto(kind Kind, payload any) (*structpb.Struct, error) {
	value := structpb.NewNullValue()
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", kind, err)
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", kind, err)
		}
		value, err = structpb.NewValue(generic)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", kind, err)
		}
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldKind:    structpb.NewStringValue(string(kind)),
		fieldPayload: value,
	}}, nil
}

func fromProto(st *structpb.Struct) (Frame, error) {
	kind, err := ParseKind(st.GetFields()[fieldKind].GetStringValue())
	if err != nil {
		return Frame{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	return Frame{Kind: kind, Payload: st.GetFields()[fieldPayload]}, nil
}

// floatToIntHook narrows structpb numbers, which are always float64, to integer fields.
func floatToIntHook() mapstructure.DecodeHookFuncKind {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.Float64 {
			return data, nil
		}
		switch to {
		case reflect.Int:
			return int(data.(float64)), nil
		case reflect.Int64:
			return int64(data.(float64)), nil
		}
		return data, nil
	}
}
