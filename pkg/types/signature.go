package types

import "fmt"

// ShapeKind describes the iteration shape of a member's return type
type ShapeKind uint8

const (
	ShapeScalar ShapeKind = iota
	ShapeArray
	ShapeIterator
)

func (s ShapeKind) String() string {
	switch s {
	case ShapeScalar:
		return "scalar"
	case ShapeArray:
		return "array"
	case ShapeIterator:
		return "iterator"
	default:
		return fmt.Sprintf("ShapeKind(%d)", uint8(s))
	}
}

// ParseShapeKind converts the textual form back to a ShapeKind
func ParseShapeKind(s string) (ShapeKind, error) {
	switch s {
	case "", "scalar":
		return ShapeScalar, nil
	case "array":
		return ShapeArray, nil
	case "iterator":
		return ShapeIterator, nil
	default:
		return 0, fmt.Errorf("%w: unknown shape %q", ErrInvalidKey, s)
	}
}

// Valid reports whether s is one of the known shapes
func (s ShapeKind) Valid() bool {
	return s <= ShapeIterator
}

// SignatureData groups members by their erased return type, staticness and
// shape. It keys the member-signature table.
type SignatureData struct {
	RawReturnType SymbolID
	IsStatic      bool
	Shape         ShapeKind
}

func (SignatureData) indexKey() {}
