package types

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
)

// CompiledFileData is everything one compiled file contributes to the six
// tables. It is produced wholesale by extraction and never diffed.
type CompiledFileData struct {
	// Hierarchy maps a superclass to the subclasses this file declares
	Hierarchy map[CompilerRef][]CompilerRef
	// Usages maps a referenced symbol to its number of use sites
	Usages map[CompilerRef]int
	// Definitions lists the classes and functional expressions declared here
	Definitions []CompilerRef
	// Signatures maps a member signature to the members declared with it
	Signatures map[SignatureData][]CompilerRef
	// Casts maps a cast target type to the operand types cast to it
	Casts map[CompilerRef][]CompilerRef
	// ImplicitToString lists the types whose toString is invoked implicitly
	ImplicitToString []CompilerRef
}

// Contribution is one (table, key, posting) triple of a file
type Contribution struct {
	Table   TableID
	Key     IndexKey
	Posting Posting
}

// AddSubclass records that sub directly extends super
func (d *CompiledFileData) AddSubclass(super, sub CompilerRef) {
	if d.Hierarchy == nil {
		d.Hierarchy = make(map[CompilerRef][]CompilerRef)
	}
	d.Hierarchy[super] = append(d.Hierarchy[super], sub)
}

// AddUsage adds n use sites of ref
func (d *CompiledFileData) AddUsage(ref CompilerRef, n int) {
	if d.Usages == nil {
		d.Usages = make(map[CompilerRef]int)
	}
	d.Usages[ref] += n
}

// AddDefinition records a class or functional expression declared in the file
func (d *CompiledFileData) AddDefinition(ref CompilerRef) {
	d.Definitions = append(d.Definitions, ref)
}

// AddSignature records a member declared with the given signature
func (d *CompiledFileData) AddSignature(sig SignatureData, member CompilerRef) {
	if d.Signatures == nil {
		d.Signatures = make(map[SignatureData][]CompilerRef)
	}
	d.Signatures[sig] = append(d.Signatures[sig], member)
}

// AddCast records a cast of operand to castType
func (d *CompiledFileData) AddCast(castType, operand CompilerRef) {
	if d.Casts == nil {
		d.Casts = make(map[CompilerRef][]CompilerRef)
	}
	d.Casts[castType] = append(d.Casts[castType], operand)
}

// AddImplicitToString records an implicit toString call on ref
func (d *CompiledFileData) AddImplicitToString(ref CompilerRef) {
	d.ImplicitToString = append(d.ImplicitToString, ref)
}

// Contributions flattens the data into one triple per (table, key). Ref
// sets are normalized, duplicate presence keys collapse, and empty
// postings are dropped. Triples come in table order, then key order.
func (d *CompiledFileData) Contributions() []Contribution {
	if d == nil {
		return nil
	}
	var out []Contribution
	for _, super := range slices.SortedFunc(maps.Keys(d.Hierarchy), CompareRefs) {
		subs := d.Hierarchy[super]
		if refs := NormalizeRefs(subs); len(refs) > 0 {
			out = append(out, Contribution{Table: TableHierarchy, Key: super, Posting: Posting{Refs: refs}})
		}
	}
	for _, ref := range slices.SortedFunc(maps.Keys(d.Usages), CompareRefs) {
		n := d.Usages[ref]
		if n > 0 {
			out = append(out, Contribution{Table: TableUsages, Key: ref, Posting: Posting{Count: n}})
		}
	}
	for _, ref := range NormalizeRefs(d.Definitions) {
		out = append(out, Contribution{Table: TableClassDefinitions, Key: ref})
	}
	for _, sig := range slices.SortedFunc(maps.Keys(d.Signatures), compareSignatures) {
		members := d.Signatures[sig]
		if refs := NormalizeRefs(members); len(refs) > 0 {
			out = append(out, Contribution{Table: TableMemberSignatures, Key: sig, Posting: Posting{Refs: refs}})
		}
	}
	for _, castType := range slices.SortedFunc(maps.Keys(d.Casts), CompareRefs) {
		operands := d.Casts[castType]
		if refs := NormalizeRefs(operands); len(refs) > 0 {
			out = append(out, Contribution{Table: TableCasts, Key: castType, Posting: Posting{Refs: refs}})
		}
	}
	for _, ref := range NormalizeRefs(d.ImplicitToString) {
		out = append(out, Contribution{Table: TableImplicitToString, Key: ref})
	}
	return out
}

func compareSignatures(a, b SignatureData) int {
	if c := cmp.Compare(a.RawReturnType, b.RawReturnType); c != 0 {
		return c
	}
	if a.IsStatic != b.IsStatic {
		if a.IsStatic {
			return 1
		}
		return -1
	}
	return cmp.Compare(a.Shape, b.Shape)
}

// Validate checks every contribution against its table's key and value rules
func (d *CompiledFileData) Validate() error {
	for _, c := range d.Contributions() {
		if err := c.Table.ValidateKey(c.Key); err != nil {
			return err
		}
		if err := c.Table.ValidatePosting(c.Posting); err != nil {
			return fmt.Errorf("%s: %w", c.Table, err)
		}
	}
	return nil
}
