package nbt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"

	"github.com/you/skyblock-auctions/internal/core"
)

const (
	maxDepth        = 512
	maxInflatedSize = 16 << 20
)

// DecodeError reports a malformed buffer. Offset is measured in the
// decompressed stream.
type DecodeError struct {
	Offset int
	Path   string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	b.WriteString("nbt: ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	b.WriteString(" at offset ")
	b.WriteString(strconv.Itoa(e.Offset))
	if e.Path != "" {
		b.WriteString(" (")
		b.WriteString(e.Path)
		b.WriteString(")")
	}
	return b.String()
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == core.ErrDecode }

// Decode parses one named root tag. Gzip-compressed input is detected by its
// magic bytes and inflated first.
func Decode(data []byte) (Tag, string, error) {
	if IsGzip(data) {
		inflated, err := inflate(data)
		if err != nil {
			return nil, "", &DecodeError{Reason: "gzip", Err: err}
		}
		data = inflated
	}

	d := &decoder{buf: data}
	kind, err := d.kind()
	if err != nil {
		return nil, "", err
	}
	if kind == KindEnd {
		return nil, "", d.fail("root tag is End")
	}
	name, err := d.string()
	if err != nil {
		return nil, "", err
	}
	root, err := d.payload(kind)
	if err != nil {
		return nil, "", err
	}
	return root, name, nil
}

// IsGzip reports whether data starts with the gzip magic.
func IsGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

func inflate(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, maxInflatedSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxInflatedSize {
		return nil, fmt.Errorf("inflated payload exceeds %d bytes", maxInflatedSize)
	}
	return out, nil
}

type decoder struct {
	buf  []byte
	off  int
	path []string
}

func (d *decoder) fail(reason string) error {
	return &DecodeError{Offset: d.off, Path: d.pathString(), Reason: reason}
}

func (d *decoder) truncated(want int) error {
	return d.fail(fmt.Sprintf("truncated: need %d bytes, have %d", want, len(d.buf)-d.off))
}

func (d *decoder) pathString() string {
	var b strings.Builder
	for _, seg := range d.path {
		if strings.HasPrefix(seg, "[") || b.Len() == 0 {
			b.WriteString(seg)
			continue
		}
		b.WriteByte('.')
		b.WriteString(seg)
	}
	return b.String()
}

func (d *decoder) push(seg string) error {
	if len(d.path) >= maxDepth {
		return d.fail("nesting too deep")
	}
	d.path = append(d.path, seg)
	return nil
}

func (d *decoder) pop() { d.path = d.path[:len(d.path)-1] }

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || len(d.buf)-d.off < n {
		return nil, d.truncated(n)
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *decoder) kind() (Kind, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	k := Kind(b[0])
	if !k.Valid() {
		d.off--
		return 0, d.fail("unknown tag type " + strconv.Itoa(int(b[0])))
	}
	return k, nil
}

func (d *decoder) u16() (uint16, error) {
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (d *decoder) u32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *decoder) u64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// length reads an int32 element count and checks it against the bytes left,
// given the minimum encoded size of one element.
func (d *decoder) length(elemSize int) (int, error) {
	n32, err := d.u32()
	if err != nil {
		return 0, err
	}
	n := int(int32(n32))
	if n < 0 {
		return 0, d.fail("negative length " + strconv.Itoa(n))
	}
	if elemSize > 0 && n > (len(d.buf)-d.off)/elemSize {
		return 0, d.truncated(n * elemSize)
	}
	return n, nil
}

func (d *decoder) string() (string, error) {
	n, err := d.u16()
	if err != nil {
		return "", err
	}
	b, err := d.take(int(n))
	if err != nil {
		return "", err
	}
	return decodeModifiedUTF8(b), nil
}

func (d *decoder) payload(kind Kind) (Tag, error) {
	switch kind {
	case KindByte:
		b, err := d.take(1)
		if err != nil {
			return nil, err
		}
		return Byte(int8(b[0])), nil
	case KindShort:
		v, err := d.u16()
		if err != nil {
			return nil, err
		}
		return Short(int16(v)), nil
	case KindInt:
		v, err := d.u32()
		if err != nil {
			return nil, err
		}
		return Int(int32(v)), nil
	case KindLong:
		v, err := d.u64()
		if err != nil {
			return nil, err
		}
		return Long(int64(v)), nil
	case KindFloat:
		v, err := d.u32()
		if err != nil {
			return nil, err
		}
		return Float(math.Float32frombits(v)), nil
	case KindDouble:
		v, err := d.u64()
		if err != nil {
			return nil, err
		}
		return Double(math.Float64frombits(v)), nil
	case KindByteArray:
		n, err := d.length(1)
		if err != nil {
			return nil, err
		}
		b, err := d.take(n)
		if err != nil {
			return nil, err
		}
		return ByteArray(append([]byte(nil), b...)), nil
	case KindString:
		s, err := d.string()
		if err != nil {
			return nil, err
		}
		return String(s), nil
	case KindList:
		return d.list()
	case KindCompound:
		return d.compound()
	case KindIntArray:
		n, err := d.length(4)
		if err != nil {
			return nil, err
		}
		out := make([]int32, n)
		for i := range out {
			v, err := d.u32()
			if err != nil {
				return nil, err
			}
			out[i] = int32(v)
		}
		return IntArray(out), nil
	case KindLongArray:
		n, err := d.length(8)
		if err != nil {
			return nil, err
		}
		out := make([]int64, n)
		for i := range out {
			v, err := d.u64()
			if err != nil {
				return nil, err
			}
			out[i] = int64(v)
		}
		return LongArray(out), nil
	default:
		return nil, d.fail("unexpected tag type " + kind.String())
	}
}

func (d *decoder) list() (Tag, error) {
	elem, err := d.kind()
	if err != nil {
		return nil, err
	}
	n, err := d.length(minSize(elem))
	if err != nil {
		return nil, err
	}
	if elem == KindEnd && n > 0 {
		return nil, d.fail("non-empty list of End")
	}
	items := make([]Tag, 0, n)
	for i := 0; i < n; i++ {
		if err := d.push("[" + strconv.Itoa(i) + "]"); err != nil {
			return nil, err
		}
		item, err := d.payload(elem)
		if err != nil {
			return nil, err
		}
		d.pop()
		items = append(items, item)
	}
	return List{Elem: elem, Items: items}, nil
}

func (d *decoder) compound() (Tag, error) {
	var fields []Field
	for {
		kind, err := d.kind()
		if err != nil {
			return nil, err
		}
		if kind == KindEnd {
			return Compound{Fields: fields}, nil
		}
		name, err := d.string()
		if err != nil {
			return nil, err
		}
		if err := d.push(name); err != nil {
			return nil, err
		}
		child, err := d.payload(kind)
		if err != nil {
			return nil, err
		}
		d.pop()
		fields = append(fields, Field{Name: name, Tag: child})
	}
}

func minSize(k Kind) int {
	switch k {
	case KindByte:
		return 1
	case KindShort, KindString:
		return 2
	case KindInt, KindFloat, KindByteArray, KindIntArray, KindLongArray, KindList:
		return 4
	case KindLong, KindDouble:
		return 8
	case KindCompound:
		return 1
	default:
		return 0
	}
}

// decodeModifiedUTF8 converts Java's modified UTF-8 (two-byte NUL, surrogate
// pairs encoded separately) to a Go string. Bytes that do not form valid
// sequences are kept as is.
func decodeModifiedUTF8(b []byte) string {
	if utf8.Valid(b) && !bytes.Contains(b, []byte{0xc0, 0x80}) {
		return string(b)
	}

	var out strings.Builder
	out.Grow(len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			out.WriteByte(c)
			i++
		case c&0xe0 == 0xc0 && i+1 < len(b) && b[i+1]&0xc0 == 0x80:
			out.WriteRune(rune(c&0x1f)<<6 | rune(b[i+1]&0x3f))
			i += 2
		case c&0xf0 == 0xe0 && i+2 < len(b) && b[i+1]&0xc0 == 0x80 && b[i+2]&0xc0 == 0x80:
			r := rune(c&0x0f)<<12 | rune(b[i+1]&0x3f)<<6 | rune(b[i+2]&0x3f)
			i += 3
			if utf16.IsSurrogate(r) && i+2 < len(b) && b[i]&0xf0 == 0xe0 {
				low := rune(b[i]&0x0f)<<12 | rune(b[i+1]&0x3f)<<6 | rune(b[i+2]&0x3f)
				if pair := utf16.DecodeRune(r, low); pair != utf8.RuneError {
					out.WriteRune(pair)
					i += 3
					continue
				}
			}
			out.WriteRune(r)
		default:
			// raw byte, surfaced later as invalid UTF-8
			out.WriteByte(c)
			i++
		}
	}
	return out.String()
}
