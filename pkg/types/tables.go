package types

import (
	"cmp"
	"fmt"
	"slices"
)

// TableID selects one of the six backward reference tables
type TableID uint8

const (
	TableHierarchy TableID = iota + 1
	TableUsages
	TableClassDefinitions
	TableMemberSignatures
	TableCasts
	TableImplicitToString
)

// AllTables lists every table in dump order
var AllTables = []TableID{
	TableHierarchy,
	TableUsages,
	TableClassDefinitions,
	TableMemberSignatures,
	TableCasts,
	TableImplicitToString,
}

// ValueShape describes what a posting holds for a table
type ValueShape uint8

const (
	// ValueCount postings carry an occurrence count
	ValueCount ValueShape = iota + 1
	// ValuePresence postings only record that the file contributes the key
	ValuePresence
	// ValueRefs postings carry a set of CompilerRefs
	ValueRefs
)

// Name returns the storage name of the table
func (t TableID) Name() string {
	switch t {
	case TableHierarchy:
		return "hierarchy"
	case TableUsages:
		return "usages"
	case TableClassDefinitions:
		return "class_definitions"
	case TableMemberSignatures:
		return "member_signatures"
	case TableCasts:
		return "casts"
	case TableImplicitToString:
		return "implicit_to_string"
	default:
		return fmt.Sprintf("table_%d", uint8(t))
	}
}

func (t TableID) String() string {
	return t.Name()
}

// Title returns the section header used in textual dumps
func (t TableID) Title() string {
	switch t {
	case TableHierarchy:
		return "Backward Hierarchy"
	case TableUsages:
		return "Backward Usages"
	case TableClassDefinitions:
		return "Class Definitions"
	case TableMemberSignatures:
		return "Member Signatures"
	case TableCasts:
		return "Casts"
	case TableImplicitToString:
		return "Implicit toString"
	default:
		return t.Name()
	}
}

// Valid reports whether t is one of the six tables
func (t TableID) Valid() bool {
	return t >= TableHierarchy && t <= TableImplicitToString
}

// ParseTableID resolves a storage name to its TableID
func ParseTableID(name string) (TableID, error) {
	for _, t := range AllTables {
		if t.Name() == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown table %q", ErrInvalidKey, name)
}

// ValueShape returns the posting shape of the table
func (t TableID) ValueShape() ValueShape {
	switch t {
	case TableUsages:
		return ValueCount
	case TableClassDefinitions, TableImplicitToString:
		return ValuePresence
	default:
		return ValueRefs
	}
}

// ValidateKey checks that key is an acceptable key for the table
func (t TableID) ValidateKey(key IndexKey) error {
	if key == nil {
		return fmt.Errorf("%w: nil key for %s", ErrInvalidKey, t)
	}
	switch t {
	case TableMemberSignatures:
		sig, ok := key.(SignatureData)
		if !ok {
			return fmt.Errorf("%w: %s keys must be signatures, got %T", ErrInvalidKey, t, key)
		}
		if !sig.Shape.Valid() {
			return fmt.Errorf("%w: %s", ErrInvalidKey, sig.Shape)
		}
		return nil
	}

	ref, ok := key.(CompilerRef)
	if !ok {
		return fmt.Errorf("%w: %s keys must be compiler refs, got %T", ErrInvalidKey, t, key)
	}
	switch t {
	case TableHierarchy:
		if !IsClassLike(ref) {
			return fmt.Errorf("%w: hierarchy key must be class-like, got %s", ErrInvalidKey, ref.Kind())
		}
	case TableClassDefinitions:
		if !IsDefinition(ref) {
			return fmt.Errorf("%w: definition key must be a class or lambda, got %s", ErrInvalidKey, ref.Kind())
		}
	}
	return nil
}

// ValidatePosting checks that p fits the table's value shape
func (t TableID) ValidatePosting(p Posting) error {
	switch t.ValueShape() {
	case ValueCount:
		if p.Count < 0 {
			return fmt.Errorf("%w: negative count %d", ErrInvalidKey, p.Count)
		}
	case ValueRefs:
		for _, ref := range p.Refs {
			if ref == nil {
				return fmt.Errorf("%w: nil ref in %s posting", ErrInvalidKey, t)
			}
			if t == TableHierarchy && !IsClassLike(ref) {
				return fmt.Errorf("%w: subclass must be class-like, got %s", ErrInvalidKey, ref.Kind())
			}
		}
	}
	return nil
}

// Posting is the value collection one file contributes to one key
type Posting struct {
	// Count is the occurrence count (usages table)
	Count int
	// Refs is the ref set (hierarchy, signature and cast tables)
	Refs []CompilerRef
}

// IsEmpty reports whether p contributes nothing under the given shape
func (p Posting) IsEmpty(shape ValueShape) bool {
	switch shape {
	case ValueCount:
		return p.Count <= 0
	case ValueRefs:
		return len(p.Refs) == 0
	default:
		return false
	}
}

// NormalizeRefs returns refs sorted by CompareRefs with duplicates and nil
// entries removed
func NormalizeRefs(refs []CompilerRef) []CompilerRef {
	out := make([]CompilerRef, 0, len(refs))
	for _, ref := range refs {
		if ref != nil {
			out = append(out, ref)
		}
	}
	if len(out) == 0 {
		return nil
	}
	slices.SortFunc(out, CompareRefs)
	return slices.CompactFunc(out, func(a, b CompilerRef) bool { return a == b })
}

// CompareRefs orders refs by kind then by their id fields
func CompareRefs(a, b CompilerRef) int {
	if c := cmp.Compare(a.Kind(), b.Kind()); c != 0 {
		return c
	}
	return slices.Compare(refOrdinals(a), refOrdinals(b))
}

func refOrdinals(ref CompilerRef) []int64 {
	return MatchRef(ref,
		func(r ClassRef) []int64 { return []int64{int64(r.Name)} },
		func(r MethodRef) []int64 { return []int64{int64(r.Owner.Name), int64(r.Name), int64(r.ParamCount)} },
		func(r FieldRef) []int64 { return []int64{int64(r.Owner.Name), int64(r.Name)} },
		func(r AnonymousClassRef) []int64 { return []int64{int64(r.ID)} },
		func(r FunExprRef) []int64 { return []int64{int64(r.ID)} },
	)
}
