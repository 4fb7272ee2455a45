package supervisorv1

import (
	"errors"
	"fmt"

	"gosupervisor/internal/rpc"

	"google.golang.org/protobuf/types/known/structpb"
)

// Document field names.
const (
	FieldVerb  = "verb"
	FieldArgs  = "args"
	FieldData  = "data"
	FieldError = "error"
	FieldInfo  = "info"
	FieldEvent = "event"
)

var ErrNoVerb = errors.New("supervisorv1: request has no verb")

// NewCallRequest builds the document sent to Call.
func NewCallRequest(verb string, args any) (*structpb.Struct, error) {
	v, err := structpb.NewValue(args)
	if err != nil {
		return nil, fmt.Errorf("supervisorv1: encode %s args: %w", verb, err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldVerb: structpb.NewStringValue(verb),
		FieldArgs: v,
	}}, nil
}

// ParseCallRequest extracts the verb and its arguments.
func ParseCallRequest(in *structpb.Struct) (string, any, error) {
	verb := in.GetFields()[FieldVerb].GetStringValue()
	if verb == "" {
		return "", nil, ErrNoVerb
	}
	var args any
	if v, ok := in.GetFields()[FieldArgs]; ok {
		args = v.AsInterface()
	}
	return verb, args, nil
}

// NewReply renders a verb reply.
func NewReply(rep rpc.Reply) (*structpb.Struct, error) {
	data, err := structpb.NewValue(rep.Data)
	if err != nil {
		return nil, fmt.Errorf("supervisorv1: encode reply: %w", err)
	}
	out := &structpb.Struct{Fields: map[string]*structpb.Value{FieldData: data}}
	if rep.Error != "" {
		out.Fields[FieldError] = structpb.NewStringValue(rep.Error)
	}
	if rep.Info != "" {
		out.Fields[FieldInfo] = structpb.NewStringValue(rep.Info)
	}
	return out, nil
}

// ParseReply is the inverse of NewReply.
func ParseReply(in *structpb.Struct) rpc.Reply {
	f := in.GetFields()
	var data any
	if v, ok := f[FieldData]; ok {
		data = v.AsInterface()
	}
	return rpc.Reply{
		Data:  data,
		Error: f[FieldError].GetStringValue(),
		Info:  f[FieldInfo].GetStringValue(),
	}
}

// NewEvent renders one pushed notification.
func NewEvent(event string, data any) (*structpb.Struct, error) {
	v, err := structpb.NewValue(data)
	if err != nil {
		return nil, fmt.Errorf("supervisorv1: encode %s event: %w", event, err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldEvent: structpb.NewStringValue(event),
		FieldData:  v,
	}}, nil
}

// ParseEvent is the inverse of NewEvent.
func ParseEvent(in *structpb.Struct) (string, any) {
	f := in.GetFields()
	var data any
	if v, ok := f[FieldData]; ok {
		data = v.AsInterface()
	}
	return f[FieldEvent].GetStringValue(), data
}
