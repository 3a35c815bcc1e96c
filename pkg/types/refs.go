package types

import "fmt"

// SymbolID identifies an interned symbol name. Ids start at 1.
type SymbolID uint32

// FileID identifies an interned, canonicalized file path. Ids start at 1.
type FileID uint32

// RefKind tags the CompilerRef variants
type RefKind uint8

const (
	KindClass RefKind = iota + 1
	KindMethod
	KindField
	KindAnonymousClass
	KindFunExpr
)

func (k RefKind) String() string {
	switch k {
	case KindClass:
		return "class"
	case KindMethod:
		return "method"
	case KindField:
		return "field"
	case KindAnonymousClass:
		return "anonymous"
	case KindFunExpr:
		return "lambda"
	default:
		return fmt.Sprintf("RefKind(%d)", uint8(k))
	}
}

// IndexKey is the key type shared by every index table: a CompilerRef or a
// SignatureData.
type IndexKey interface {
	indexKey()
}

// CompilerRef is a compact, enumerator-backed reference to a source-level
// symbol. The variant set is closed: ClassRef, MethodRef, FieldRef,
// AnonymousClassRef and FunExprRef. Consumers dispatch with MatchRef.
type CompilerRef interface {
	IndexKey
	Kind() RefKind
	compilerRef()
}

// ClassRef references a named class by its interned qualified name
type ClassRef struct {
	Name SymbolID
}

// MethodRef references a method by owner, name and parameter count
type MethodRef struct {
	Owner      ClassRef
	Name       SymbolID
	ParamCount int
}

// FieldRef references a field by owner and name
type FieldRef struct {
	Owner ClassRef
	Name  SymbolID
}

// AnonymousClassRef references an anonymous class. ID is the interned
// synthetic class name (for example "Bar$1").
type AnonymousClassRef struct {
	ID SymbolID
}

// FunExprRef references a functional expression (lambda or method
// reference). ID is the ordinal assigned by the declaring file.
type FunExprRef struct {
	ID int
}

func (ClassRef) Kind() RefKind          { return KindClass }
func (MethodRef) Kind() RefKind         { return KindMethod }
func (FieldRef) Kind() RefKind          { return KindField }
func (AnonymousClassRef) Kind() RefKind { return KindAnonymousClass }
func (FunExprRef) Kind() RefKind        { return KindFunExpr }

func (ClassRef) compilerRef()          {}
func (MethodRef) compilerRef()         {}
func (FieldRef) compilerRef()          {}
func (AnonymousClassRef) compilerRef() {}
func (FunExprRef) compilerRef()        {}

func (ClassRef) indexKey()          {}
func (MethodRef) indexKey()         {}
func (FieldRef) indexKey()          {}
func (AnonymousClassRef) indexKey() {}
func (FunExprRef) indexKey()        {}

// MatchRef dispatches on the variant of ref. Every variant has its own
// handler parameter, so introducing a new variant breaks each call site at
// compile time until it is handled.
func MatchRef[T any](
	ref CompilerRef,
	class func(ClassRef) T,
	method func(MethodRef) T,
	field func(FieldRef) T,
	anonymous func(AnonymousClassRef) T,
	funExpr func(FunExprRef) T,
) T {
	switch r := ref.(type) {
	case ClassRef:
		return class(r)
	case MethodRef:
		return method(r)
	case FieldRef:
		return field(r)
	case AnonymousClassRef:
		return anonymous(r)
	case FunExprRef:
		return funExpr(r)
	}
	// CompilerRef is sealed by its unexported method; a nil interface is
	// the only way to get here.
	panic(fmt.Sprintf("types: unmatched CompilerRef %T", ref))
}

// IsClassLike reports whether ref can take part in the class hierarchy
func IsClassLike(ref CompilerRef) bool {
	if ref == nil {
		return false
	}
	return MatchRef(ref,
		func(ClassRef) bool { return true },
		func(MethodRef) bool { return false },
		func(FieldRef) bool { return false },
		func(AnonymousClassRef) bool { return true },
		func(FunExprRef) bool { return false },
	)
}

// IsDefinition reports whether ref can be recorded in the class-definition
// table: class-like refs and functional expressions.
func IsDefinition(ref CompilerRef) bool {
	if ref == nil {
		return false
	}
	return IsClassLike(ref) || ref.Kind() == KindFunExpr
}
