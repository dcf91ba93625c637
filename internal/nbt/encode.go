package nbt

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/gzip"
)

// Encode writes tag as the named root of an uncompressed buffer.
func Encode(w io.Writer, name string, tag Tag) error {
	bw := bufio.NewWriter(w)
	e := &encoder{w: bw}
	e.byte(byte(tag.Kind()))
	e.string(name)
	e.payload(tag)
	if e.err != nil {
		return e.err
	}
	return bw.Flush()
}

// EncodeGzip returns the gzip-compressed encoding of the named root tag, the
// form item payloads travel in.
func EncodeGzip(name string, tag Tag) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := Encode(zw, name, tag); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type encoder struct {
	w       *bufio.Writer
	scratch [8]byte
	err     error
}

func (e *encoder) write(b []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(b)
}

func (e *encoder) byte(b byte) {
	e.scratch[0] = b
	e.write(e.scratch[:1])
}

func (e *encoder) u16(v uint16) {
	binary.BigEndian.PutUint16(e.scratch[:2], v)
	e.write(e.scratch[:2])
}

func (e *encoder) u32(v uint32) {
	binary.BigEndian.PutUint32(e.scratch[:4], v)
	e.write(e.scratch[:4])
}

func (e *encoder) u64(v uint64) {
	binary.BigEndian.PutUint64(e.scratch[:8], v)
	e.write(e.scratch[:8])
}

func (e *encoder) string(s string) {
	if len(s) > math.MaxUint16 {
		e.fail(fmt.Errorf("nbt: string of %d bytes too long", len(s)))
		return
	}
	e.u16(uint16(len(s)))
	e.write([]byte(s))
}

func (e *encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *encoder) payload(tag Tag) {
	switch t := tag.(type) {
	case Primitive:
		e.primitive(t)
	case List:
		elem := t.Elem
		e.byte(byte(elem))
		e.u32(uint32(len(t.Items)))
		for _, it := range t.Items {
			if it.Kind() != elem {
				e.fail(fmt.Errorf("nbt: list of %s holds %s", elem, it.Kind()))
				return
			}
			e.payload(it)
		}
	case Compound:
		for _, f := range t.Fields {
			e.byte(byte(f.Tag.Kind()))
			e.string(f.Name)
			e.payload(f.Tag)
		}
		e.byte(byte(KindEnd))
	default:
		e.fail(fmt.Errorf("nbt: cannot encode %T", tag))
	}
}

func (e *encoder) primitive(p Primitive) {
	switch v := p.Value.(type) {
	case int8:
		e.byte(byte(v))
	case int16:
		e.u16(uint16(v))
	case int32:
		e.u32(uint32(v))
	case int64:
		e.u64(uint64(v))
	case float32:
		e.u32(math.Float32bits(v))
	case float64:
		e.u64(math.Float64bits(v))
	case string:
		e.string(v)
	case []byte:
		e.u32(uint32(len(v)))
		e.write(v)
	case []int32:
		e.u32(uint32(len(v)))
		for _, n := range v {
			e.u32(uint32(n))
		}
	case []int64:
		e.u32(uint32(len(v)))
		for _, n := range v {
			e.u64(uint64(n))
		}
	default:
		e.fail(fmt.Errorf("nbt: unsupported %s value %T", p.Type, p.Value))
	}
}
