// Package types provides the reference model shared by every part of the
// backward reference index.
//
// # Compiler References
//
// A CompilerRef is a compact reference to a source-level symbol, built from
// interned SymbolIDs rather than strings:
//
//	owner := types.ClassRef{Name: fooID}
//	m := types.MethodRef{Owner: owner, Name: barID, ParamCount: 2}
//
// The variant set is closed. Code that consumes refs dispatches with
// MatchRef, which takes one handler per variant:
//
//	kind := types.MatchRef(ref,
//	    func(types.ClassRef) string { return "class" },
//	    func(types.MethodRef) string { return "method" },
//	    func(types.FieldRef) string { return "field" },
//	    func(types.AnonymousClassRef) string { return "anonymous" },
//	    func(types.FunExprRef) string { return "lambda" },
//	)
//
// # Tables and Postings
//
// Six tables make up the index, selected by TableID. Each maps an IndexKey
// (a CompilerRef, or a SignatureData for the member-signature table) to one
// Posting per contributing file:
//
//	TableHierarchy         superclass   -> subclasses declared in the file
//	TableUsages            symbol       -> occurrence count in the file
//	TableClassDefinitions  class/lambda -> file declares it
//	TableMemberSignatures  signature    -> members declared with it
//	TableCasts             cast type    -> operand types
//	TableImplicitToString  type         -> file calls its toString implicitly
//
// CompiledFileData bundles everything one file contributes; Contributions
// flattens it into (table, key, posting) triples.
//
// # Textual Form
//
// Refs render as "a.Foo", "a.Foo#bar(2)", "a.Foo#baz", "anon:Foo$1" and
// "lambda:3"; signatures as "static java.lang.String:scalar". FormatRef and
// ParseRef round-trip through an enumerator.
package types
