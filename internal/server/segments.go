package server

import (
	"fmt"
	"strconv"

	"zerosync/internal/api"
)

// SegmentType is the declared type of a path parameter.
type SegmentType int

const (
	Boolean SegmentType = iota
	Hexadecimal
	Integer
	TaggedBase64
	Literal
)

func (t SegmentType) String() string {
	switch t {
	case Boolean:
		return "Boolean"
	case Hexadecimal:
		return "Hexadecimal"
	case Integer:
		return "Integer"
	case TaggedBase64:
		return "TaggedBase64"
	case Literal:
		return "Literal"
	default:
		return fmt.Sprintf("SegmentType(%d)", int(t))
	}
}

// SegmentValue is a parsed path parameter. Only the field matching Type is set.
type SegmentValue struct {
	Type SegmentType
	Bool bool
	Int  uint64 // Integer and Hexadecimal
	Tag  string
	Data []byte
	Raw  string
}

func (v SegmentValue) String() string {
	switch v.Type {
	case Boolean:
		return strconv.FormatBool(v.Bool)
	case Hexadecimal:
		return "0x" + strconv.FormatUint(v.Int, 16)
	case Integer:
		return strconv.FormatUint(v.Int, 10)
	default:
		return v.Raw
	}
}

// ParseSegment parses raw as a value of type t.
func ParseSegment(raw string, t SegmentType) (SegmentValue, error) {
	v := SegmentValue{Type: t, Raw: raw}
	var err error
	switch t {
	case Boolean:
		v.Bool, err = strconv.ParseBool(raw)
	case Hexadecimal:
		v.Int, err = strconv.ParseUint(raw, 16, 64)
	case Integer:
		v.Int, err = strconv.ParseUint(raw, 10, 64)
	case TaggedBase64:
		v.Tag, v.Data, err = api.DecodeTagged(raw)
	case Literal:
	default:
		err = fmt.Errorf("unsupported segment type %s", t)
	}
	if err != nil {
		return SegmentValue{}, fmt.Errorf("%w: %q is not a valid %s: %w", api.ErrRequest, raw, t, err)
	}
	return v, nil
}

// Binding is one path parameter of a matched route.
type Binding struct {
	Parameter string
	Value     SegmentValue
}

// Bindings holds the parameters of a matched route, keyed by placeholder (":index").
type Bindings map[string]Binding

func (b Bindings) value(param string, t SegmentType) (SegmentValue, error) {
	binding, ok := b[param]
	if !ok {
		return SegmentValue{}, fmt.Errorf("%w: missing parameter %s", api.ErrRequest, param)
	}
	if binding.Value.Type != t {
		return SegmentValue{}, fmt.Errorf("%w: expected %s for %s, got %s", api.ErrRequest, t, param, binding.Value.Type)
	}
	return binding.Value, nil
}

// Has reports whether param was bound.
func (b Bindings) Has(param string) bool {
	_, ok := b[param]
	return ok
}

// Bool returns a Boolean parameter.
func (b Bindings) Bool(param string) (bool, error) {
	v, err := b.value(param, Boolean)
	return v.Bool, err
}

// Index returns an Integer parameter.
func (b Bindings) Index(param string) (uint64, error) {
	v, err := b.value(param, Integer)
	return v.Int, err
}

// Raw returns the unparsed text of a TaggedBase64 parameter.
func (b Bindings) Raw(param string) (string, error) {
	v, err := b.value(param, TaggedBase64)
	return v.Raw, err
}

func (b Bindings) BlockID(param string) (api.BlockID, error) {
	raw, err := b.Raw(param)
	if err != nil {
		return 0, err
	}
	return api.ParseBlockID(raw)
}

func (b Bindings) TransactionID(param string) (api.TransactionID, error) {
	raw, err := b.Raw(param)
	if err != nil {
		return api.TransactionID{}, err
	}
	return api.ParseTransactionID(raw)
}

func (b Bindings) Hash(param string) (api.Hash, error) {
	raw, err := b.Raw(param)
	if err != nil {
		return api.Hash{}, err
	}
	return api.ParseHash(raw)
}

func (b Bindings) Nullifier(param string) (api.Nullifier, error) {
	raw, err := b.Raw(param)
	if err != nil {
		return api.Nullifier{}, err
	}
	return api.ParseNullifier(raw)
}
