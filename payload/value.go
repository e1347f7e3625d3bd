// Package payload implements the Sparkplug B payload envelope: the metric
// value model, the payload builder and parser, and the birth-scoped alias
// registry. Wire encoding is protobuf, confined to codec.go.
package payload

import "math"

// DataType tags follow the Sparkplug B payload definition.
type DataType uint32

const (
	TypeUnknown  DataType = 0
	TypeInt8     DataType = 1
	TypeInt16    DataType = 2
	TypeInt32    DataType = 3
	TypeInt64    DataType = 4
	TypeUInt8    DataType = 5
	TypeUInt16   DataType = 6
	TypeUInt32   DataType = 7
	TypeUInt64   DataType = 8
	TypeFloat    DataType = 9
	TypeDouble   DataType = 10
	TypeBoolean  DataType = 11
	TypeString   DataType = 12
	TypeDateTime DataType = 13
	TypeText     DataType = 14
)

func (dt DataType) String() string {
	switch dt {
	case TypeInt8:
		return "int8"
	case TypeInt16:
		return "int16"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeUInt8:
		return "uint8"
	case TypeUInt16:
		return "uint16"
	case TypeUInt32:
		return "uint32"
	case TypeUInt64:
		return "uint64"
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	case TypeBoolean:
		return "boolean"
	case TypeString:
		return "string"
	case TypeDateTime:
		return "datetime"
	case TypeText:
		return "text"
	}
	return "unknown"
}

// Value is a closed tagged union: exactly one variant is active, the
// explicit null variant included. Accessors return ok=false on variant
// mismatch instead of reinterpreting bits.
type Value struct {
	dt   DataType
	bits uint64
	str  string
	null bool
}

func Int8Value(v int8) Value   { return Value{dt: TypeInt8, bits: uint64(uint32(int32(v)))} }
func Int16Value(v int16) Value { return Value{dt: TypeInt16, bits: uint64(uint32(int32(v)))} }
func Int32Value(v int32) Value { return Value{dt: TypeInt32, bits: uint64(uint32(v))} }
func Int64Value(v int64) Value { return Value{dt: TypeInt64, bits: uint64(v)} }

func UInt8Value(v uint8) Value   { return Value{dt: TypeUInt8, bits: uint64(v)} }
func UInt16Value(v uint16) Value { return Value{dt: TypeUInt16, bits: uint64(v)} }
func UInt32Value(v uint32) Value { return Value{dt: TypeUInt32, bits: uint64(v)} }
func UInt64Value(v uint64) Value { return Value{dt: TypeUInt64, bits: v} }

func FloatValue(v float32) Value  { return Value{dt: TypeFloat, bits: uint64(math.Float32bits(v))} }
func DoubleValue(v float64) Value { return Value{dt: TypeDouble, bits: math.Float64bits(v)} }

func BoolValue(v bool) Value {
	b := uint64(0)
	if v {
		b = 1
	}
	return Value{dt: TypeBoolean, bits: b}
}

func StringValue(v string) Value   { return Value{dt: TypeString, str: v} }
func TextValue(v string) Value     { return Value{dt: TypeText, str: v} }
func DateTimeValue(ms uint64) Value { return Value{dt: TypeDateTime, bits: ms} }

// NullValue is "value explicitly absent" while the datatype tag stays known.
func NullValue(dt DataType) Value { return Value{dt: dt, null: true} }

func (v Value) Type() DataType { return v.dt }
func (v Value) IsNull() bool   { return v.null }

func (v Value) Int8() (int8, bool) {
	if v.dt != TypeInt8 || v.null {
		return 0, false
	}
	return int8(int32(uint32(v.bits))), true
}

func (v Value) Int16() (int16, bool) {
	if v.dt != TypeInt16 || v.null {
		return 0, false
	}
	return int16(int32(uint32(v.bits))), true
}

func (v Value) Int32() (int32, bool) {
	if v.dt != TypeInt32 || v.null {
		return 0, false
	}
	return int32(uint32(v.bits)), true
}

func (v Value) Int64() (int64, bool) {
	if v.dt != TypeInt64 || v.null {
		return 0, false
	}
	return int64(v.bits), true
}

func (v Value) UInt8() (uint8, bool) {
	if v.dt != TypeUInt8 || v.null {
		return 0, false
	}
	return uint8(v.bits), true
}

func (v Value) UInt16() (uint16, bool) {
	if v.dt != TypeUInt16 || v.null {
		return 0, false
	}
	return uint16(v.bits), true
}

func (v Value) UInt32() (uint32, bool) {
	if v.dt != TypeUInt32 || v.null {
		return 0, false
	}
	return uint32(v.bits), true
}

func (v Value) UInt64() (uint64, bool) {
	if v.dt != TypeUInt64 || v.null {
		return 0, false
	}
	return v.bits, true
}

func (v Value) Float() (float32, bool) {
	if v.dt != TypeFloat || v.null {
		return 0, false
	}
	return math.Float32frombits(uint32(v.bits)), true
}

func (v Value) Double() (float64, bool) {
	if v.dt != TypeDouble || v.null {
		return 0, false
	}
	return math.Float64frombits(v.bits), true
}

func (v Value) Bool() (bool, bool) {
	if v.dt != TypeBoolean || v.null {
		return false, false
	}
	return v.bits != 0, true
}

// String covers both string and text variants.
func (v Value) String() (string, bool) {
	if (v.dt != TypeString && v.dt != TypeText) || v.null {
		return "", false
	}
	return v.str, true
}

func (v Value) DateTime() (uint64, bool) {
	if v.dt != TypeDateTime || v.null {
		return 0, false
	}
	return v.bits, true
}

// Equal compares datatype, nullness and the active variant.
func (v Value) Equal(o Value) bool {
	return v.dt == o.dt && v.null == o.null && v.bits == o.bits && v.str == o.str
}
