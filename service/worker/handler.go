package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/viant/nexus/model"
	"github.com/viant/structology/conv"
)

// Handler executes requests of one kind and reports the outcome as a Result.
// Handlers must be safe for concurrent use; the harness may run a request
// again after a lease expiry, so side effects should key on the request id.
type Handler interface {
	Kind() string
	Handle(ctx context.Context, request *model.Request) (*model.Result, error)
}

// InputTyper is implemented by handlers that expose a typed input, letting
// registries publish the payload shape for a kind.
type InputTyper interface {
	InputType() reflect.Type
}

// Typed adapts a strongly typed function into a Handler. The request payload
// decodes into I through JSON plus structology conversion, so loosely shaped
// payloads coerce the same way action inputs do; the returned output becomes
// the result value.
func Typed[I, O any](kind string, fn func(ctx context.Context, input *I) (*O, error)) Handler {
	options := conv.DefaultOptions()
	options.ClonePointerData = true
	options.IgnoreUnmapped = true
	return &typedHandler[I, O]{
		kind:      kind,
		fn:        fn,
		converter: conv.NewConverter(options),
	}
}

type typedHandler[I, O any] struct {
	kind      string
	fn        func(ctx context.Context, input *I) (*O, error)
	converter *conv.Converter
}

func (h *typedHandler[I, O]) Kind() string {
	return h.kind
}

func (h *typedHandler[I, O]) InputType() reflect.Type {
	return reflect.TypeOf((*I)(nil)).Elem()
}

func (h *typedHandler[I, O]) Handle(ctx context.Context, request *model.Request) (*model.Result, error) {
	input := new(I)
	if len(request.Payload) > 0 {
		var raw interface{}
		if err := json.Unmarshal(request.Payload, &raw); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", h.kind, err)
		}
		if err := h.converter.Convert(raw, input); err != nil {
			return nil, fmt.Errorf("failed to convert %s payload: %w", h.kind, err)
		}
	}
	output, err := h.fn(ctx, input)
	if err != nil {
		return nil, err
	}
	value, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s output: %w", h.kind, err)
	}
	return &model.Result{
		RequestID: request.ID,
		Outcome:   model.OutcomeSuccess,
		Value:     value,
	}, nil
}
