// Package parser extracts backward references from Go source files using
// go/parser and go/ast. It is the extractor the index uses for Go
// projects.
//
// # Basic Usage
//
//	p := parser.New()
//	data, err := p.Extract(ctx, "shop/item.go", src, names)
//
// # Mapping
//
// The file is read without type checking:
//   - type declarations are class definitions, function literals are
//     functional expressions numbered in source order
//   - embedded struct fields and embedded interfaces are supertypes
//   - named types in type positions and calls of functions and methods
//     are usages, counted per occurrence
//   - every function and method is a member signature: its result type
//     with slices and arrays array-shaped, channels and iter.Seq
//     iterator-shaped, and no result rendered as "void"; package-level
//     functions are static members of the package
//   - type assertions, type switch cases and conversions to types declared
//     in the file are casts, when the operand was declared with a named type
//   - typed locals passed to fmt functions are implicit String calls
//
// Names declared in the package are qualified with the package name, names
// from imports with the import path. Predeclared types and type parameters
// are never references.
//
// # Error Handling
//
// A syntax error fails the whole file; the index then drops everything the
// file contributed until it parses again.
package parser
