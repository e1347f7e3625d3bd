package payload

// Sparkplug B payload protobuf wire format, hand-encoded with proto.Buffer
// primitives. Field numbers follow the Sparkplug B payload definition:
//
//   Payload: timestamp=1 metrics=2 seq=3 uuid=4 body=5
//   Metric:  name=1 alias=2 timestamp=3 datatype=4 is_historical=5
//            is_transient=6 is_null=7 int_value=10 long_value=11
//            float_value=12 double_value=13 boolean_value=14 string_value=15
//
// Signed 8/16/32-bit values travel in int_value as two's-complement uint32,
// 64-bit and unsigned-32 values in long_value, per the protocol.

import (
	"io"

	"github.com/golang/protobuf/proto"
)

const (
	wireVarint  = 0
	wireFixed64 = 1
	wireBytes   = 2
	wireFixed32 = 5
)

func key(field, wire uint64) uint64 { return field<<3 | wire }

func encodePayload(b *Builder) ([]byte, error) {
	buf := proto.NewBuffer(make([]byte, 0, 256))
	if b.hasTs {
		_ = buf.EncodeVarint(key(1, wireVarint))
		_ = buf.EncodeVarint(b.ts)
	}
	for i := range b.metrics {
		mraw, err := encodeMetric(&b.metrics[i])
		if err != nil {
			return nil, err
		}
		_ = buf.EncodeVarint(key(2, wireBytes))
		_ = buf.EncodeRawBytes(mraw)
	}
	if b.hasSeq {
		_ = buf.EncodeVarint(key(3, wireVarint))
		_ = buf.EncodeVarint(b.seq)
	}
	if b.hasUUID {
		_ = buf.EncodeVarint(key(4, wireBytes))
		_ = buf.EncodeStringBytes(b.uuid)
	}
	return buf.Bytes(), nil
}

func encodeMetric(m *Metric) ([]byte, error) {
	buf := proto.NewBuffer(make([]byte, 0, 64))
	if m.HasName {
		_ = buf.EncodeVarint(key(1, wireBytes))
		_ = buf.EncodeStringBytes(m.Name)
	}
	if m.HasAlias {
		_ = buf.EncodeVarint(key(2, wireVarint))
		_ = buf.EncodeVarint(uint64(m.Alias))
	}
	if m.HasTimestamp {
		_ = buf.EncodeVarint(key(3, wireVarint))
		_ = buf.EncodeVarint(m.Timestamp)
	}
	_ = buf.EncodeVarint(key(4, wireVarint))
	_ = buf.EncodeVarint(uint64(m.Value.Type()))

	v := m.Value
	if v.IsNull() {
		_ = buf.EncodeVarint(key(7, wireVarint))
		_ = buf.EncodeVarint(1)
		return buf.Bytes(), nil
	}
	switch v.Type() {
	case TypeInt8, TypeInt16, TypeInt32, TypeUInt8, TypeUInt16:
		_ = buf.EncodeVarint(key(10, wireVarint))
		_ = buf.EncodeVarint(uint64(uint32(v.bits)))
	case TypeInt64, TypeUInt32, TypeUInt64, TypeDateTime:
		_ = buf.EncodeVarint(key(11, wireVarint))
		_ = buf.EncodeVarint(v.bits)
	case TypeFloat:
		_ = buf.EncodeVarint(key(12, wireFixed32))
		_ = buf.EncodeFixed32(v.bits)
	case TypeDouble:
		_ = buf.EncodeVarint(key(13, wireFixed64))
		_ = buf.EncodeFixed64(v.bits)
	case TypeBoolean:
		_ = buf.EncodeVarint(key(14, wireVarint))
		_ = buf.EncodeVarint(v.bits)
	case TypeString, TypeText:
		_ = buf.EncodeVarint(key(15, wireBytes))
		_ = buf.EncodeStringBytes(v.str)
	case TypeUnknown:
		// datatype tag only, no value field
	}
	return buf.Bytes(), nil
}

// scanWire walks the field framing of one message before decoding. The
// proto.Buffer decode loop cannot tell a buffer that ended at a field
// boundary from one cut off inside a trailing field key, so truncation
// anywhere in the framing is rejected here, with explicit positions.
func scanWire(raw []byte) error {
	pos := 0
	for pos < len(raw) {
		k, n := proto.DecodeVarint(raw[pos:])
		if n == 0 {
			return parseErrorf("truncated field key at byte %d", pos)
		}
		pos += n
		field, wire := k>>3, k&7
		switch wire {
		case wireVarint:
			_, vn := proto.DecodeVarint(raw[pos:])
			if vn == 0 {
				return parseErrorf("field %d: truncated varint", field)
			}
			pos += vn
		case wireFixed64:
			if len(raw)-pos < 8 {
				return parseErrorf("field %d: truncated fixed64", field)
			}
			pos += 8
		case wireBytes:
			l, ln := proto.DecodeVarint(raw[pos:])
			if ln == 0 {
				return parseErrorf("field %d: truncated length", field)
			}
			pos += ln
			if uint64(len(raw)-pos) < l {
				return parseErrorf("field %d: truncated bytes", field)
			}
			pos += int(l)
		case wireFixed32:
			if len(raw)-pos < 4 {
				return parseErrorf("field %d: truncated fixed32", field)
			}
			pos += 4
		default:
			return parseErrorf("field %d: unsupported wire type %d", field, wire)
		}
	}
	return nil
}

func decodePayload(raw []byte) (*Payload, error) {
	if err := scanWire(raw); err != nil {
		return nil, err
	}
	p := &Payload{}
	buf := proto.NewBuffer(raw)
	for {
		k, err := buf.DecodeVarint()
		if err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, parseErrorf("bad field key: %v", err)
		}
		field, wire := k>>3, k&7
		switch field {
		case 1:
			if p.ts, err = buf.DecodeVarint(); err != nil {
				return nil, parseErrorf("timestamp: %v", err)
			}
			p.hasTs = true
		case 2:
			mraw, err := buf.DecodeRawBytes(false)
			if err != nil {
				return nil, parseErrorf("metric bytes: %v", err)
			}
			m, err := decodeMetric(mraw)
			if err != nil {
				return nil, err
			}
			p.metrics = append(p.metrics, m)
		case 3:
			if p.seq, err = buf.DecodeVarint(); err != nil {
				return nil, parseErrorf("seq: %v", err)
			}
			p.hasSeq = true
		case 4:
			if p.uuid, err = buf.DecodeStringBytes(); err != nil {
				return nil, parseErrorf("uuid: %v", err)
			}
			p.hasUUID = true
		default:
			if err := skipField(buf, wire); err != nil {
				return nil, parseErrorf("field %d: %v", field, err)
			}
		}
	}
	return p, nil
}

func decodeMetric(raw []byte) (Metric, error) {
	var m Metric
	if err := scanWire(raw); err != nil {
		return m, err
	}
	var dt uint64
	var isNull bool
	// value bits are held until the datatype tag is known; protobuf field
	// order is not guaranteed
	var intBits, longBits, f32Bits, f64Bits, boolBits uint64
	var strVal string
	var haveInt, haveLong, haveF32, haveF64, haveBool, haveStr bool

	buf := proto.NewBuffer(raw)
	for {
		k, err := buf.DecodeVarint()
		if err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return m, parseErrorf("metric field key: %v", err)
		}
		field, wire := k>>3, k&7
		switch field {
		case 1:
			if m.Name, err = buf.DecodeStringBytes(); err != nil {
				return m, parseErrorf("metric name: %v", err)
			}
			m.HasName = true
		case 2:
			a, err := buf.DecodeVarint()
			if err != nil {
				return m, parseErrorf("metric alias: %v", err)
			}
			m.Alias = Alias(a)
			m.HasAlias = true
		case 3:
			if m.Timestamp, err = buf.DecodeVarint(); err != nil {
				return m, parseErrorf("metric timestamp: %v", err)
			}
			m.HasTimestamp = true
		case 4:
			if dt, err = buf.DecodeVarint(); err != nil {
				return m, parseErrorf("metric datatype: %v", err)
			}
		case 7:
			v, err := buf.DecodeVarint()
			if err != nil {
				return m, parseErrorf("metric is_null: %v", err)
			}
			isNull = v != 0
		case 10:
			if intBits, err = buf.DecodeVarint(); err != nil {
				return m, parseErrorf("metric int_value: %v", err)
			}
			haveInt = true
		case 11:
			if longBits, err = buf.DecodeVarint(); err != nil {
				return m, parseErrorf("metric long_value: %v", err)
			}
			haveLong = true
		case 12:
			if f32Bits, err = buf.DecodeFixed32(); err != nil {
				return m, parseErrorf("metric float_value: %v", err)
			}
			haveF32 = true
		case 13:
			if f64Bits, err = buf.DecodeFixed64(); err != nil {
				return m, parseErrorf("metric double_value: %v", err)
			}
			haveF64 = true
		case 14:
			if boolBits, err = buf.DecodeVarint(); err != nil {
				return m, parseErrorf("metric boolean_value: %v", err)
			}
			haveBool = true
		case 15:
			if strVal, err = buf.DecodeStringBytes(); err != nil {
				return m, parseErrorf("metric string_value: %v", err)
			}
			haveStr = true
		default:
			if err := skipField(buf, wire); err != nil {
				return m, parseErrorf("metric field %d: %v", field, err)
			}
		}
	}

	if !m.HasName && !m.HasAlias {
		return m, parseErrorf("metric with neither name nor alias")
	}

	typ := DataType(dt)
	if isNull {
		m.Value = NullValue(typ)
		return m, nil
	}
	switch typ {
	case TypeInt8, TypeInt16, TypeInt32, TypeUInt8, TypeUInt16:
		if !haveInt {
			m.Value = NullValue(typ)
		} else {
			m.Value = Value{dt: typ, bits: uint64(uint32(intBits))}
		}
	case TypeInt64, TypeUInt32, TypeUInt64, TypeDateTime:
		if !haveLong {
			m.Value = NullValue(typ)
		} else {
			m.Value = Value{dt: typ, bits: longBits}
		}
	case TypeFloat:
		if !haveF32 {
			m.Value = NullValue(typ)
		} else {
			m.Value = Value{dt: typ, bits: f32Bits}
		}
	case TypeDouble:
		if !haveF64 {
			m.Value = NullValue(typ)
		} else {
			m.Value = Value{dt: typ, bits: f64Bits}
		}
	case TypeBoolean:
		if !haveBool {
			m.Value = NullValue(typ)
		} else {
			m.Value = Value{dt: typ, bits: boolBits & 1}
		}
	case TypeString, TypeText:
		if !haveStr {
			m.Value = NullValue(typ)
		} else {
			m.Value = Value{dt: typ, str: strVal}
		}
	default:
		m.Value = NullValue(TypeUnknown)
	}
	return m, nil
}

func skipField(buf *proto.Buffer, wire uint64) error {
	switch wire {
	case wireVarint:
		_, err := buf.DecodeVarint()
		return err
	case wireFixed64:
		_, err := buf.DecodeFixed64()
		return err
	case wireBytes:
		_, err := buf.DecodeRawBytes(false)
		return err
	case wireFixed32:
		_, err := buf.DecodeFixed32()
		return err
	}
	return parseErrorf("unsupported wire type %d", wire)
}
