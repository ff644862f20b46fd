// Package predicate implements the small visibility-rule language used by
// subscriptions: equality, set membership and boolean composition over record
// fields. Expressions are plain data so they can be stored, logged and diffed
// without being executed.
package predicate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Op tags the kind of an expression node.
type Op string

const (
	OpAlways   Op = "always"
	OpNever    Op = "never"
	OpEq       Op = "eq"
	OpIn       Op = "in"
	OpContains Op = "contains"
	OpAnd      Op = "and"
	OpOr       Op = "or"
	OpNot      Op = "not"
)

var (
	ErrUnknownOp    = errors.New("unknown predicate op")
	ErrInvalidExpr  = errors.New("invalid predicate expression")
	errMissingField = fmt.Errorf("%w: field is required", ErrInvalidExpr)
)

// Expr is an immutable predicate over a record. The zero value never matches.
type Expr struct {
	op     Op
	field  string
	value  *structpb.Value
	values []*structpb.Value
	args   []Expr
}

// Always matches every record.
func Always() Expr { return Expr{op: OpAlways} }

// Never matches no record.
func Never() Expr { return Expr{op: OpNever} }

// Eq matches records whose field equals v.
func Eq(field string, v *structpb.Value) Expr {
	return Expr{op: OpEq, field: field, value: v}
}

// EqString is Eq for a string literal.
func EqString(field, s string) Expr {
	return Eq(field, structpb.NewStringValue(s))
}

// In matches records whose field equals one of vs.
func In(field string, vs ...*structpb.Value) Expr {
	return Expr{op: OpIn, field: field, values: append([]*structpb.Value(nil), vs...)}
}

// InStrings is In for string literals.
func InStrings(field string, ss ...string) Expr {
	vs := make([]*structpb.Value, 0, len(ss))
	for _, s := range ss {
		vs = append(vs, structpb.NewStringValue(s))
	}
	return Expr{op: OpIn, field: field, values: vs}
}

// Contains matches records whose list field holds v.
func Contains(field string, v *structpb.Value) Expr {
	return Expr{op: OpContains, field: field, value: v}
}

// ContainsString is Contains for a string literal.
func ContainsString(field, s string) Expr {
	return Contains(field, structpb.NewStringValue(s))
}

// And matches when every argument matches. And() is Always.
func And(args ...Expr) Expr {
	out := make([]Expr, 0, len(args))
	for _, a := range args {
		switch a.Op() {
		case OpAlways:
			continue
		case OpAnd:
			out = append(out, a.args...)
		default:
			out = append(out, a)
		}
	}
	switch len(out) {
	case 0:
		return Always()
	case 1:
		return out[0]
	}
	return Expr{op: OpAnd, args: out}
}

// Or matches when any argument matches. Or() is Never.
func Or(args ...Expr) Expr {
	out := make([]Expr, 0, len(args))
	for _, a := range args {
		switch a.Op() {
		case OpNever:
			continue
		case OpOr:
			out = append(out, a.args...)
		default:
			out = append(out, a)
		}
	}
	switch len(out) {
	case 0:
		return Never()
	case 1:
		return out[0]
	}
	return Expr{op: OpOr, args: out}
}

// Not negates e.
func Not(e Expr) Expr {
	switch e.Op() {
	case OpAlways:
		return Never()
	case OpNever:
		return Always()
	case OpNot:
		if len(e.args) == 1 {
			return e.args[0]
		}
	}
	return Expr{op: OpNot, args: []Expr{e}}
}

// Op returns the node kind; the zero Expr reports OpNever.
func (e Expr) Op() Op {
	if e.op == "" {
		return OpNever
	}
	return e.op
}

// Field returns the field path for leaf nodes.
func (e Expr) Field() string { return e.field }

// Args returns a copy of the sub-expressions of and/or/not nodes.
func (e Expr) Args() []Expr { return append([]Expr(nil), e.args...) }

// Match reports whether rec satisfies the expression.
func (e Expr) Match(rec *structpb.Struct) bool {
	switch e.Op() {
	case OpAlways:
		return true
	case OpEq:
		v, ok := lookup(rec, e.field)
		return ok && proto.Equal(v, e.value)
	case OpIn:
		v, ok := lookup(rec, e.field)
		return ok && containsValue(e.values, v)
	case OpContains:
		v, ok := lookup(rec, e.field)
		if !ok || v.GetListValue() == nil {
			return false
		}
		return containsValue(v.GetListValue().GetValues(), e.value)
	case OpAnd:
		for _, a := range e.args {
			if !a.Match(rec) {
				return false
			}
		}
		return true
	case OpOr:
		for _, a := range e.args {
			if a.Match(rec) {
				return true
			}
		}
		return false
	case OpNot:
		return len(e.args) == 1 && !e.args[0].Match(rec)
	}
	return false
}

// Validate checks the structure of the expression tree.
func (e Expr) Validate() error {
	switch e.Op() {
	case OpAlways, OpNever:
		return nil
	case OpEq, OpContains:
		if e.field == "" {
			return errMissingField
		}
		if e.value == nil {
			return fmt.Errorf("%w: %s on %q has no value", ErrInvalidExpr, e.op, e.field)
		}
		return nil
	case OpIn:
		if e.field == "" {
			return errMissingField
		}
		if len(e.values) == 0 {
			return fmt.Errorf("%w: in on %q has no values", ErrInvalidExpr, e.field)
		}
		return nil
	case OpAnd, OpOr:
		if len(e.args) == 0 {
			return fmt.Errorf("%w: %s has no arguments", ErrInvalidExpr, e.op)
		}
	case OpNot:
		if len(e.args) != 1 {
			return fmt.Errorf("%w: not takes exactly one argument", ErrInvalidExpr)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, e.op)
	}
	for _, a := range e.args {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Equal reports structural equality.
func Equal(a, b Expr) bool {
	if a.Op() != b.Op() || a.field != b.field {
		return false
	}
	if (a.value == nil) != (b.value == nil) || (a.value != nil && !proto.Equal(a.value, b.value)) {
		return false
	}
	if len(a.values) != len(b.values) || len(a.args) != len(b.args) {
		return false
	}
	for i := range a.values {
		if !proto.Equal(a.values[i], b.values[i]) {
			return false
		}
	}
	for i := range a.args {
		if !Equal(a.args[i], b.args[i]) {
			return false
		}
	}
	return true
}

func (e Expr) String() string {
	switch e.Op() {
	case OpAlways:
		return "true"
	case OpEq:
		return e.field + " == " + formatValue(e.value)
	case OpIn:
		parts := make([]string, 0, len(e.values))
		for _, v := range e.values {
			parts = append(parts, formatValue(v))
		}
		return e.field + " in [" + strings.Join(parts, ", ") + "]"
	case OpContains:
		return e.field + " contains " + formatValue(e.value)
	case OpAnd, OpOr:
		sep := " && "
		if e.op == OpOr {
			sep = " || "
		}
		parts := make([]string, 0, len(e.args))
		for _, a := range e.args {
			parts = append(parts, a.String())
		}
		return "(" + strings.Join(parts, sep) + ")"
	case OpNot:
		if len(e.args) == 1 {
			return "!" + e.args[0].String()
		}
	}
	return "false"
}

func lookup(rec *structpb.Struct, path string) (*structpb.Value, bool) {
	if rec == nil || path == "" {
		return nil, false
	}
	cur := rec
	segments := strings.Split(path, ".")
	for i, seg := range segments {
		v, ok := cur.GetFields()[seg]
		if !ok {
			return nil, false
		}
		if i == len(segments)-1 {
			return v, true
		}
		if cur = v.GetStructValue(); cur == nil {
			return nil, false
		}
	}
	return nil, false
}

func containsValue(list []*structpb.Value, v *structpb.Value) bool {
	for _, item := range list {
		if proto.Equal(item, v) {
			return true
		}
	}
	return false
}

func formatValue(v *structpb.Value) string {
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return strconv.Quote(k.StringValue)
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(k.NumberValue, 'g', -1, 64)
	case *structpb.Value_BoolValue:
		return strconv.FormatBool(k.BoolValue)
	case *structpb.Value_ListValue:
		parts := make([]string, 0, len(k.ListValue.GetValues()))
		for _, item := range k.ListValue.GetValues() {
			parts = append(parts, formatValue(item))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *structpb.Value_StructValue:
		return fmt.Sprintf("%v", k.StructValue.AsMap())
	}
	return "null"
}
