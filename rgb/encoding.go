package rgb

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/diba-io/bitmask/fn"
	"github.com/lightningnetwork/lnd/tlv"
	"golang.org/x/exp/maps"
)

const (
	// maxVarBytes limits every decoded byte slice.
	maxVarBytes = (2 << 24) - 1

	// maxSliceLen limits the element count of every decoded list.
	maxSliceLen = math.MaxUint16
)

var (
	// ErrByteSliceTooLarge is returned when a decoded byte slice exceeds
	// the strict encoding limit.
	ErrByteSliceTooLarge = errors.New("rgb: byte slice too large")

	// ErrListTooLarge is returned when a decoded list exceeds the strict
	// encoding limit.
	ErrListTooLarge = errors.New("rgb: list too large")
)

// ErrUnknownType is returned when a strict decode meets an odd type it does
// not know. Unknown even types are rejected by the TLV layer itself.
type ErrUnknownType struct {
	UnknownType tlv.Type
	ValueBytes  []byte
}

// Error returns the error message for the ErrUnknownType.
func (e ErrUnknownType) Error() string {
	return fmt.Sprintf("rgb: unknown type %d", e.UnknownType)
}

// Model is implemented by every strict encoded value. DecodeRecords may
// include optional records that EncodeRecords leaves out when unset.
type Model interface {
	EncodeRecords() []tlv.Record
	DecodeRecords() []tlv.Record
}

// ModelPtr constrains a pointer to a Model value.
type ModelPtr[T any] interface {
	*T
	Model
}

func knownTypes(records []tlv.Record) fn.Set[tlv.Type] {
	return fn.NewSet(fn.Map(records, func(r tlv.Record) tlv.Type {
		return r.Type()
	})...)
}

func EncodeModel(w io.Writer, m Model) error {
	stream, err := tlv.NewStream(m.EncodeRecords()...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// DecodeModel decodes a TLV stream into m, failing on unknown odd types.
func DecodeModel(r io.Reader, m Model) error {
	records := m.DecodeRecords()
	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}

	parsedTypes, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return err
	}

	known := knownTypes(records)
	oddTypes := fn.Filter(maps.Keys(parsedTypes), func(t tlv.Type) bool {
		return t%2 == 1
	})
	for _, oddType := range oddTypes {
		if !known.Contains(oddType) {
			return ErrUnknownType{
				UnknownType: oddType,
				ValueBytes:  parsedTypes[oddType],
			}
		}
	}

	return nil
}

func ModelBytes(m Model) []byte {
	var b bytes.Buffer
	if err := EncodeModel(&b, m); err != nil {
		panic(err)
	}

	return b.Bytes()
}

func VarBytesEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*[]byte); ok {
		if err := tlv.WriteVarInt(w, uint64(len(*t)), buf); err != nil {
			return err
		}
		return tlv.EVarBytes(w, t, buf)
	}
	return tlv.NewTypeForEncodingErr(val, "[]byte")
}

func VarBytesDecoder(r io.Reader, val any, buf *[8]byte, _ uint64) error {
	if typ, ok := val.(*[]byte); ok {
		bytesLen, err := tlv.ReadVarInt(r, buf)
		if err != nil {
			return err
		}

		if bytesLen > maxVarBytes {
			return fmt.Errorf("%w: %v", ErrByteSliceTooLarge,
				bytesLen)
		}

		var b []byte
		if err := tlv.DVarBytes(r, &b, buf, bytesLen); err != nil {
			return err
		}
		*typ = b
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "[]byte", 0, 0)
}

func StringEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*string); ok {
		b := []byte(*t)
		return tlv.EVarBytes(w, &b, buf)
	}
	return tlv.NewTypeForEncodingErr(val, "string")
}

func StringDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if t, ok := val.(*string); ok {
		if l > maxVarBytes {
			return fmt.Errorf("%w: %v", ErrByteSliceTooLarge, l)
		}

		var b []byte
		if err := tlv.DVarBytes(r, &b, buf, l); err != nil {
			return err
		}
		*t = string(b)
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "string", l, l)
}

func NewStringRecord(typ tlv.Type, s *string) tlv.Record {
	return tlv.MakeDynamicRecord(typ, s, func() uint64 {
		return uint64(len(*s))
	}, StringEncoder, StringDecoder)
}

func Uint16SliceEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*[]uint16); ok {
		if err := tlv.WriteVarInt(w, uint64(len(*t)), buf); err != nil {
			return err
		}
		for i := range *t {
			if err := tlv.EUint16(w, &(*t)[i], buf); err != nil {
				return err
			}
		}
		return nil
	}
	return tlv.NewTypeForEncodingErr(val, "[]uint16")
}

func Uint16SliceDecoder(r io.Reader, val any, buf *[8]byte, _ uint64) error {
	if t, ok := val.(*[]uint16); ok {
		n, err := tlv.ReadVarInt(r, buf)
		if err != nil {
			return err
		}
		if n > maxSliceLen {
			return fmt.Errorf("%w: %v", ErrListTooLarge, n)
		}

		out := make([]uint16, n)
		for i := range out {
			if err := tlv.DUint16(r, &out[i], buf, 2); err != nil {
				return err
			}
		}
		*t = out
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "[]uint16", 0, 0)
}

func NewUint16SliceRecord(typ tlv.Type, s *[]uint16) tlv.Record {
	return tlv.MakeDynamicRecord(typ, s, func() uint64 {
		return tlv.VarIntSize(uint64(len(*s))) + 2*uint64(len(*s))
	}, Uint16SliceEncoder, Uint16SliceDecoder)
}

func StringSliceEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*[]string); ok {
		if err := tlv.WriteVarInt(w, uint64(len(*t)), buf); err != nil {
			return err
		}
		for _, s := range *t {
			b := []byte(s)
			if err := VarBytesEncoder(w, &b, buf); err != nil {
				return err
			}
		}
		return nil
	}
	return tlv.NewTypeForEncodingErr(val, "[]string")
}

func StringSliceDecoder(r io.Reader, val any, buf *[8]byte, _ uint64) error {
	if t, ok := val.(*[]string); ok {
		n, err := tlv.ReadVarInt(r, buf)
		if err != nil {
			return err
		}
		if n > maxSliceLen {
			return fmt.Errorf("%w: %v", ErrListTooLarge, n)
		}

		out := make([]string, 0, n)
		for i := uint64(0); i < n; i++ {
			var b []byte
			if err := VarBytesDecoder(r, &b, buf, 0); err != nil {
				return err
			}
			out = append(out, string(b))
		}
		*t = out
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "[]string", 0, 0)
}

func NewStringSliceRecord(typ tlv.Type, s *[]string) tlv.Record {
	return tlv.MakeDynamicRecord(typ, s, func() uint64 {
		var (
			b   bytes.Buffer
			buf [8]byte
		)
		if err := StringSliceEncoder(&b, s, &buf); err != nil {
			panic(err)
		}
		return uint64(b.Len())
	}, StringSliceEncoder, StringSliceDecoder)
}

// ModelEncoder writes a nested model as the record value.
func ModelEncoder[T any, P ModelPtr[T]](w io.Writer, val any,
	_ *[8]byte) error {

	if t, ok := val.(*T); ok {
		return EncodeModel(w, P(t))
	}
	return tlv.NewTypeForEncodingErr(val, fmt.Sprintf("%T", new(T)))
}

// ModelDecoder reads a nested model spanning the whole record value.
func ModelDecoder[T any, P ModelPtr[T]](r io.Reader, val any, _ *[8]byte,
	l uint64) error {

	if t, ok := val.(*T); ok {
		return DecodeModel(io.LimitReader(r, int64(l)), P(t))
	}
	return tlv.NewTypeForDecodingErr(val, fmt.Sprintf("%T", new(T)), l, l)
}

func NewModelRecord[T any, P ModelPtr[T]](typ tlv.Type, m *T) tlv.Record {
	return tlv.MakeDynamicRecord(typ, m, func() uint64 {
		return uint64(len(ModelBytes(P(m))))
	}, ModelEncoder[T, P], ModelDecoder[T, P])
}

// OptionalModelEncoder writes a present optional model. Callers only add the
// record when the pointer is set.
func OptionalModelEncoder[T any, P ModelPtr[T]](w io.Writer, val any,
	_ *[8]byte) error {

	if t, ok := val.(**T); ok {
		if *t == nil {
			return fmt.Errorf("rgb: encoding absent %T", new(T))
		}
		return EncodeModel(w, P(*t))
	}
	return tlv.NewTypeForEncodingErr(val, fmt.Sprintf("%T", new(*T)))
}

func OptionalModelDecoder[T any, P ModelPtr[T]](r io.Reader, val any,
	_ *[8]byte, l uint64) error {

	if t, ok := val.(**T); ok {
		m := new(T)
		if err := DecodeModel(io.LimitReader(r, int64(l)), P(m)); err != nil {
			return err
		}
		*t = m
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, fmt.Sprintf("%T", new(*T)), l, l)
}

func NewOptionalModelRecord[T any, P ModelPtr[T]](typ tlv.Type,
	m **T) tlv.Record {

	return tlv.MakeDynamicRecord(typ, m, func() uint64 {
		return uint64(len(ModelBytes(P(*m))))
	}, OptionalModelEncoder[T, P], OptionalModelDecoder[T, P])
}

// SliceEncoder writes a list of models: the element count followed by each
// element's stream as var bytes.
func SliceEncoder[T any, P ModelPtr[T]](w io.Writer, val any,
	buf *[8]byte) error {

	if t, ok := val.(*[]T); ok {
		if err := tlv.WriteVarInt(w, uint64(len(*t)), buf); err != nil {
			return err
		}
		for i := range *t {
			var b bytes.Buffer
			if err := EncodeModel(&b, P(&(*t)[i])); err != nil {
				return err
			}
			elem := b.Bytes()
			if err := VarBytesEncoder(w, &elem, buf); err != nil {
				return err
			}
		}
		return nil
	}
	return tlv.NewTypeForEncodingErr(val, fmt.Sprintf("%T", new([]T)))
}

func SliceDecoder[T any, P ModelPtr[T]](r io.Reader, val any, buf *[8]byte,
	_ uint64) error {

	if t, ok := val.(*[]T); ok {
		n, err := tlv.ReadVarInt(r, buf)
		if err != nil {
			return err
		}
		if n > maxSliceLen {
			return fmt.Errorf("%w: %v", ErrListTooLarge, n)
		}

		out := make([]T, n)
		for i := range out {
			var elem []byte
			err := VarBytesDecoder(r, &elem, buf, 0)
			if err != nil {
				return err
			}
			err = DecodeModel(bytes.NewReader(elem), P(&out[i]))
			if err != nil {
				return err
			}
		}
		*t = out
		return nil
	}
	return tlv.NewTypeForDecodingErr(
		val, fmt.Sprintf("%T", new([]T)), 0, 0,
	)
}

func NewSliceRecord[T any, P ModelPtr[T]](typ tlv.Type, s *[]T) tlv.Record {
	return tlv.MakeDynamicRecord(typ, s, func() uint64 {
		var (
			b   bytes.Buffer
			buf [8]byte
		)
		if err := SliceEncoder[T, P](&b, s, &buf); err != nil {
			panic(err)
		}
		return uint64(b.Len())
	}, SliceEncoder[T, P], SliceDecoder[T, P])
}

// Hash32Encoder handles every 32 byte id type of the package.
func Hash32Encoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := hash32Ptr(val); ok {
		return tlv.EBytes32(w, t, buf)
	}
	return tlv.NewTypeForEncodingErr(val, "[32]byte")
}

func Hash32Decoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if t, ok := hash32Ptr(val); ok && l == 32 {
		return tlv.DBytes32(r, t, buf, 32)
	}
	return tlv.NewTypeForDecodingErr(val, "[32]byte", l, 32)
}

func hash32Ptr(val any) (*[32]byte, bool) {
	switch t := val.(type) {
	case *[32]byte:
		return t, true
	case *ContractID:
		return (*[32]byte)(t), true
	case *SchemaID:
		return (*[32]byte)(t), true
	case *IfaceID:
		return (*[32]byte)(t), true
	case *ImplID:
		return (*[32]byte)(t), true
	case *OpID:
		return (*[32]byte)(t), true
	case *BundleID:
		return (*[32]byte)(t), true
	case *SecretSeal:
		return (*[32]byte)(t), true
	case *ConsignmentID:
		return (*[32]byte)(t), true
	default:
		return nil, false
	}
}

func NewHash32Record[T ~[32]byte](typ tlv.Type, h *T) tlv.Record {
	return tlv.MakeStaticRecord(typ, h, 32, Hash32Encoder, Hash32Decoder)
}

func NewVarBytesRecord(typ tlv.Type, b *[]byte) tlv.Record {
	return tlv.MakeDynamicRecord(typ, b, func() uint64 {
		return tlv.VarIntSize(uint64(len(*b))) + uint64(len(*b))
	}, VarBytesEncoder, VarBytesDecoder)
}
