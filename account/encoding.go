package account

import (
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/diba-io/bitmask/commitment"
	"github.com/diba-io/bitmask/keys"
	"github.com/diba-io/bitmask/rgb"
	"github.com/lightningnetwork/lnd/tlv"
)

func OutPointEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*wire.OutPoint); ok {
		hash := [32]byte(t.Hash)
		if err := tlv.EBytes32(w, &hash, buf); err != nil {
			return err
		}
		return tlv.EUint32T(w, t.Index, buf)
	}
	return tlv.NewTypeForEncodingErr(val, "wire.OutPoint")
}

func OutPointDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if op, ok := val.(*wire.OutPoint); ok && l == 36 {
		var hash [32]byte
		if err := tlv.DBytes32(r, &hash, buf, 32); err != nil {
			return err
		}
		op.Hash = chainhash.Hash(hash)
		return tlv.DUint32(r, &op.Index, buf, 4)
	}
	return tlv.NewTypeForDecodingErr(val, "wire.OutPoint", l, 36)
}

func NewOutPointRecord(typ tlv.Type, op *wire.OutPoint) tlv.Record {
	return tlv.MakeStaticRecord(typ, op, 36, OutPointEncoder,
		OutPointDecoder)
}

func OutPointsEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*[]wire.OutPoint); ok {
		if err := tlv.WriteVarInt(w, uint64(len(*t)), buf); err != nil {
			return err
		}
		for i := range *t {
			if err := OutPointEncoder(w, &(*t)[i], buf); err != nil {
				return err
			}
		}
		return nil
	}
	return tlv.NewTypeForEncodingErr(val, "[]wire.OutPoint")
}

func OutPointsDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if t, ok := val.(*[]wire.OutPoint); ok {
		n, err := tlv.ReadVarInt(r, buf)
		if err != nil {
			return err
		}
		if n*36 > l {
			return tlv.NewTypeForDecodingErr(val, "[]wire.OutPoint",
				l, n*36)
		}

		out := make([]wire.OutPoint, n)
		for i := range out {
			err := OutPointDecoder(r, &out[i], buf, 36)
			if err != nil {
				return err
			}
		}
		*t = out
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "[]wire.OutPoint", l, l)
}

func NewOutPointsRecord(typ tlv.Type, ops *[]wire.OutPoint) tlv.Record {
	return tlv.MakeDynamicRecord(typ, ops, func() uint64 {
		return tlv.VarIntSize(uint64(len(*ops))) + 36*uint64(len(*ops))
	}, OutPointsEncoder, OutPointsDecoder)
}

func TerminalEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*keys.Terminal); ok {
		if err := tlv.EUint32T(w, t.App, buf); err != nil {
			return err
		}
		return tlv.EUint32T(w, t.Index, buf)
	}
	return tlv.NewTypeForEncodingErr(val, "keys.Terminal")
}

func TerminalDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if t, ok := val.(*keys.Terminal); ok && l == 8 {
		if err := tlv.DUint32(r, &t.App, buf, 4); err != nil {
			return err
		}
		return tlv.DUint32(r, &t.Index, buf, 4)
	}
	return tlv.NewTypeForDecodingErr(val, "keys.Terminal", l, 8)
}

func NewTerminalRecord(typ tlv.Type, t *keys.Terminal) tlv.Record {
	return tlv.MakeStaticRecord(typ, t, 8, TerminalEncoder,
		TerminalDecoder)
}

func TerminalsEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*[]keys.Terminal); ok {
		if err := tlv.WriteVarInt(w, uint64(len(*t)), buf); err != nil {
			return err
		}
		for i := range *t {
			if err := TerminalEncoder(w, &(*t)[i], buf); err != nil {
				return err
			}
		}
		return nil
	}
	return tlv.NewTypeForEncodingErr(val, "[]keys.Terminal")
}

func TerminalsDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if t, ok := val.(*[]keys.Terminal); ok {
		n, err := tlv.ReadVarInt(r, buf)
		if err != nil {
			return err
		}
		if n*8 > l {
			return tlv.NewTypeForDecodingErr(val, "[]keys.Terminal",
				l, n*8)
		}

		out := make([]keys.Terminal, n)
		for i := range out {
			err := TerminalDecoder(r, &out[i], buf, 8)
			if err != nil {
				return err
			}
		}
		*t = out
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "[]keys.Terminal", l, l)
}

func NewTerminalsRecord(typ tlv.Type, ts *[]keys.Terminal) tlv.Record {
	return tlv.MakeDynamicRecord(typ, ts, func() uint64 {
		return tlv.VarIntSize(uint64(len(*ts))) + 8*uint64(len(*ts))
	}, TerminalsEncoder, TerminalsDecoder)
}

// TapretEncoder writes a tapret commitment as its 33 byte serialization. It
// accepts both a value and an optional (double pointer) commitment.
func TapretEncoder(w io.Writer, val any, buf *[8]byte) error {
	var c *commitment.TapretCommitment
	switch t := val.(type) {
	case *commitment.TapretCommitment:
		c = t
	case **commitment.TapretCommitment:
		c = *t
	}
	if c == nil {
		return tlv.NewTypeForEncodingErr(val, "commitment.TapretCommitment")
	}

	_, err := w.Write(c.Bytes())
	return err
}

func TapretDecoder(r io.Reader, val any, _ *[8]byte, l uint64) error {
	if l != commitment.TapretSize {
		return tlv.NewTypeForDecodingErr(
			val, "commitment.TapretCommitment", l,
			commitment.TapretSize,
		)
	}

	var b [commitment.TapretSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return err
	}
	c, err := commitment.ParseTapretCommitment(b[:])
	if err != nil {
		return err
	}

	switch t := val.(type) {
	case *commitment.TapretCommitment:
		*t = c
		return nil
	case **commitment.TapretCommitment:
		*t = &c
		return nil
	}
	return tlv.NewTypeForDecodingErr(
		val, "commitment.TapretCommitment", l, commitment.TapretSize,
	)
}

func NewTapretRecord(typ tlv.Type, c *commitment.TapretCommitment) tlv.Record {
	return tlv.MakeStaticRecord(typ, c, commitment.TapretSize,
		TapretEncoder, TapretDecoder)
}

func NewOptionalTapretRecord(typ tlv.Type,
	c **commitment.TapretCommitment) tlv.Record {

	return tlv.MakeStaticRecord(typ, c, commitment.TapretSize,
		TapretEncoder, TapretDecoder)
}

func ContractIDsEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*[]rgb.ContractID); ok {
		if err := tlv.WriteVarInt(w, uint64(len(*t)), buf); err != nil {
			return err
		}
		for i := range *t {
			id := [32]byte((*t)[i])
			if err := tlv.EBytes32(w, &id, buf); err != nil {
				return err
			}
		}
		return nil
	}
	return tlv.NewTypeForEncodingErr(val, "[]rgb.ContractID")
}

func ContractIDsDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if t, ok := val.(*[]rgb.ContractID); ok {
		n, err := tlv.ReadVarInt(r, buf)
		if err != nil {
			return err
		}
		if n*32 > l {
			return tlv.NewTypeForDecodingErr(val, "[]rgb.ContractID",
				l, n*32)
		}

		out := make([]rgb.ContractID, n)
		for i := range out {
			var id [32]byte
			if err := tlv.DBytes32(r, &id, buf, 32); err != nil {
				return err
			}
			out[i] = rgb.ContractID(id)
		}
		*t = out
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "[]rgb.ContractID", l, l)
}

func NewContractIDsRecord(typ tlv.Type, ids *[]rgb.ContractID) tlv.Record {
	return tlv.MakeDynamicRecord(typ, ids, func() uint64 {
		return tlv.VarIntSize(uint64(len(*ids))) + 32*uint64(len(*ids))
	}, ContractIDsEncoder, ContractIDsDecoder)
}
