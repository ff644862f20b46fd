package predicate

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

type wireExpr struct {
	Op     Op                `json:"op"`
	Field  string            `json:"field,omitempty"`
	Value  json.RawMessage   `json:"value,omitempty"`
	Values []json.RawMessage `json:"values,omitempty"`
	Args   []Expr            `json:"args,omitempty"`
}

// MarshalJSON encodes the expression as a tagged JSON object. Literal values
// use the protobuf JSON mapping.
func (e Expr) MarshalJSON() ([]byte, error) {
	w := wireExpr{Op: e.Op(), Field: e.field, Args: e.args}
	if e.value != nil {
		raw, err := protojson.Marshal(e.value)
		if err != nil {
			return nil, fmt.Errorf("marshal %s value: %w", e.op, err)
		}
		w.Value = raw
	}
	for _, v := range e.values {
		raw, err := protojson.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal %s value: %w", e.op, err)
		}
		w.Values = append(w.Values, raw)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes and validates a tagged JSON expression.
func (e *Expr) UnmarshalJSON(data []byte) error {
	var w wireExpr
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := Expr{op: w.Op, field: w.Field, args: w.Args}
	if len(w.Value) > 0 {
		v := &structpb.Value{}
		if err := protojson.Unmarshal(w.Value, v); err != nil {
			return fmt.Errorf("decode %s value: %w", w.Op, err)
		}
		out.value = v
	}
	for _, raw := range w.Values {
		v := &structpb.Value{}
		if err := protojson.Unmarshal(raw, v); err != nil {
			return fmt.Errorf("decode %s value: %w", w.Op, err)
		}
		out.values = append(out.values, v)
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*e = out
	return nil
}

// Parse decodes an expression from its JSON form.
func Parse(data []byte) (Expr, error) {
	var e Expr
	if err := json.Unmarshal(data, &e); err != nil {
		return Never(), err
	}
	return e, nil
}
