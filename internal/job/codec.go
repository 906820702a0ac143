package job

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Codec converts invocation data to and from job hash fields.
type Codec interface {
	Encode(InvocationData) (map[string]string, error)
	Decode(fields map[string]string) (InvocationData, error)
}

// StringCodec stores the four invocation fields verbatim. Type and Method
// are required; Arguments, when present, must be a JSON array of strings.
type StringCodec struct{}

var _ Codec = StringCodec{}

func (StringCodec) Encode(inv InvocationData) (map[string]string, error) {
	if err := validate(inv); err != nil {
		return nil, err
	}
	return map[string]string{
		FieldType:           inv.Type,
		FieldMethod:         inv.Method,
		FieldParameterTypes: inv.ParameterTypes,
		FieldArguments:      inv.Arguments,
	}, nil
}

func (StringCodec) Decode(fields map[string]string) (InvocationData, error) {
	inv := InvocationData{
		Type:           fields[FieldType],
		Method:         fields[FieldMethod],
		ParameterTypes: fields[FieldParameterTypes],
		Arguments:      fields[FieldArguments],
	}
	return inv, validate(inv)
}

func validate(inv InvocationData) error {
	if inv.Type == "" {
		return errors.New("missing Type")
	}
	if inv.Method == "" {
		return errors.New("missing Method")
	}
	if inv.Arguments != "" {
		var args []string
		if err := json.Unmarshal([]byte(inv.Arguments), &args); err != nil {
			return fmt.Errorf("arguments: %w", err)
		}
	}
	return nil
}
