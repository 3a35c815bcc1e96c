package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dshills/refindex/pkg/types"
)

// Key tags. Ref tags equal their RefKind.
const (
	tagSignature byte = 0x10
	presenceMark byte = 0x01
)

var errShortBuffer = errors.New("truncated encoding")

const minRefSize = 2

// EncodeKey encodes a table key as tag byte followed by uvarint fields
func EncodeKey(key types.IndexKey) ([]byte, error) {
	switch k := key.(type) {
	case types.SignatureData:
		buf := []byte{tagSignature}
		buf = binary.AppendUvarint(buf, uint64(k.RawReturnType))
		static := byte(0)
		if k.IsStatic {
			static = 1
		}
		return append(buf, static, byte(k.Shape)), nil
	case types.CompilerRef:
		return appendRef(nil, k), nil
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", types.ErrInvalidKey, key)
	}
}

func appendRef(buf []byte, ref types.CompilerRef) []byte {
	buf = append(buf, byte(ref.Kind()))
	return types.MatchRef(ref,
		func(r types.ClassRef) []byte {
			return binary.AppendUvarint(buf, uint64(r.Name))
		},
		func(r types.MethodRef) []byte {
			buf = binary.AppendUvarint(buf, uint64(r.Owner.Name))
			buf = binary.AppendUvarint(buf, uint64(r.Name))
			return binary.AppendUvarint(buf, uint64(r.ParamCount))
		},
		func(r types.FieldRef) []byte {
			buf = binary.AppendUvarint(buf, uint64(r.Owner.Name))
			return binary.AppendUvarint(buf, uint64(r.Name))
		},
		func(r types.AnonymousClassRef) []byte {
			return binary.AppendUvarint(buf, uint64(r.ID))
		},
		func(r types.FunExprRef) []byte {
			return binary.AppendUvarint(buf, uint64(r.ID))
		},
	)
}

// DecodeKey is the inverse of EncodeKey
func DecodeKey(buf []byte) (types.IndexKey, error) {
	if len(buf) == 0 {
		return nil, errShortBuffer
	}
	if buf[0] == tagSignature {
		ret, n := binary.Uvarint(buf[1:])
		if n <= 0 || len(buf) != 1+n+2 {
			return nil, fmt.Errorf("signature key: %w", errShortBuffer)
		}
		shape := types.ShapeKind(buf[1+n+1])
		if !shape.Valid() {
			return nil, fmt.Errorf("signature key: bad shape %d", shape)
		}
		return types.SignatureData{
			RawReturnType: types.SymbolID(ret),
			IsStatic:      buf[1+n] == 1,
			Shape:         shape,
		}, nil
	}
	ref, rest, err := readRef(buf)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("ref key: %d trailing bytes", len(rest))
	}
	return ref, nil
}

func readRef(buf []byte) (types.CompilerRef, []byte, error) {
	if len(buf) == 0 {
		return nil, nil, errShortBuffer
	}
	kind := types.RefKind(buf[0])
	buf = buf[1:]
	fields := 0
	switch kind {
	case types.KindClass, types.KindAnonymousClass, types.KindFunExpr:
		fields = 1
	case types.KindField:
		fields = 2
	case types.KindMethod:
		fields = 3
	default:
		return nil, nil, fmt.Errorf("unknown ref tag %d", byte(kind))
	}
	var v [3]uint64
	for i := 0; i < fields; i++ {
		x, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil, nil, fmt.Errorf("%s ref: %w", kind, errShortBuffer)
		}
		v[i] = x
		buf = buf[n:]
	}
	switch kind {
	case types.KindClass:
		return types.ClassRef{Name: types.SymbolID(v[0])}, buf, nil
	case types.KindMethod:
		return types.MethodRef{
			Owner:      types.ClassRef{Name: types.SymbolID(v[0])},
			Name:       types.SymbolID(v[1]),
			ParamCount: int(v[2]),
		}, buf, nil
	case types.KindField:
		return types.FieldRef{Owner: types.ClassRef{Name: types.SymbolID(v[0])}, Name: types.SymbolID(v[1])}, buf, nil
	case types.KindAnonymousClass:
		return types.AnonymousClassRef{ID: types.SymbolID(v[0])}, buf, nil
	default:
		return types.FunExprRef{ID: int(v[0])}, buf, nil
	}
}

// EncodePosting encodes p according to the table's value shape. The
// encoding is never empty.
func EncodePosting(shape types.ValueShape, p types.Posting) []byte {
	switch shape {
	case types.ValueCount:
		return binary.AppendUvarint(nil, uint64(p.Count))
	case types.ValueRefs:
		buf := binary.AppendUvarint(nil, uint64(len(p.Refs)))
		for _, ref := range p.Refs {
			buf = appendRef(buf, ref)
		}
		return buf
	default:
		return []byte{presenceMark}
	}
}

// DecodePosting is the inverse of EncodePosting
func DecodePosting(shape types.ValueShape, buf []byte) (types.Posting, error) {
	switch shape {
	case types.ValueCount:
		n, read := binary.Uvarint(buf)
		if read <= 0 || read != len(buf) {
			return types.Posting{}, fmt.Errorf("count posting: %w", errShortBuffer)
		}
		return types.Posting{Count: int(n)}, nil
	case types.ValueRefs:
		count, read := binary.Uvarint(buf)
		if read <= 0 {
			return types.Posting{}, fmt.Errorf("ref posting: %w", errShortBuffer)
		}
		buf = buf[read:]
		// every ref takes a tag byte and at least one varint byte
		if count > uint64(len(buf)/minRefSize) {
			return types.Posting{}, fmt.Errorf("%w: ref posting: %d refs in %d bytes", types.ErrStorageIO, count, len(buf))
		}
		refs := make([]types.CompilerRef, 0, count)
		for i := uint64(0); i < count; i++ {
			ref, rest, err := readRef(buf)
			if err != nil {
				return types.Posting{}, err
			}
			refs = append(refs, ref)
			buf = rest
		}
		if len(buf) != 0 {
			return types.Posting{}, fmt.Errorf("ref posting: %d trailing bytes", len(buf))
		}
		return types.Posting{Refs: refs}, nil
	default:
		if len(buf) != 1 || buf[0] != presenceMark {
			return types.Posting{}, fmt.Errorf("presence posting: unexpected %x", buf)
		}
		return types.Posting{}, nil
	}
}
