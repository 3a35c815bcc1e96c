package parser

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	gotypes "go/types"
	"path"
	"strconv"
	"strings"

	"github.com/dshills/refindex/pkg/logger"
	"github.com/dshills/refindex/pkg/types"
)

// Extension is the source suffix the parser handles
const Extension = ".go"

// Parser extracts backward references from Go source files. It is an
// indexer.Extractor and safe for concurrent use.
type Parser struct{}

// New creates a new Parser instance
func New() *Parser {
	return &Parser{}
}

// Extract parses one Go file and returns its contributions. The file is
// read syntactically only: types declared in the package qualify as
// "<package>.<Name>", imported ones as "<import path>.<Name>", and
// package-level functions are members of the package itself.
func (p *Parser) Extract(ctx context.Context, filePath string, content []byte, names types.NameInterner) (*types.CompiledFileData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filePath, content, parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("%s: syntax error: %w", filePath, err)
	}
	logger.FromContext(ctx).Debug("parsed go file", "path", filePath, "decls", len(file.Decls))

	e := &refExtractor{
		ctx:      ctx,
		names:    names,
		pkg:      file.Name.Name,
		imports:  extractImports(file),
		declared: declaredTypes(file),
		data:     &types.CompiledFileData{},
	}
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.GenDecl:
			e.extractGenDecl(d, nil)
		case *ast.FuncDecl:
			e.extractFunction(d)
		}
		if e.err != nil {
			return nil, e.err
		}
	}
	return e.data, e.data.Validate()
}

// extractImports maps each import's local name to its path. Blank and
// dot imports are skipped.
func extractImports(file *ast.File) map[string]string {
	imports := make(map[string]string, len(file.Imports))
	for _, imp := range file.Imports {
		importPath, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		name := defaultImportName(importPath)
		if imp.Name != nil {
			name = imp.Name.Name
		}
		if name == "_" || name == "." {
			continue
		}
		imports[name] = importPath
	}
	return imports
}

// defaultImportName guesses the package name of an import path, skipping
// a trailing major version element
func defaultImportName(importPath string) string {
	base := path.Base(importPath)
	if len(base) > 1 && base[0] == 'v' && isDigits(base[1:]) {
		base = path.Base(path.Dir(importPath))
	}
	// gopkg.in/yaml.v3
	if i := strings.LastIndex(base, ".v"); i > 0 && isDigits(base[i+2:]) {
		base = base[:i]
	}
	return strings.TrimSuffix(strings.TrimPrefix(base, "go-"), ".go")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// scope maps local identifiers to their declared type expressions
type scope map[string]ast.Expr

// refExtractor walks one file. The first interning error is kept in err
// and stops further work.
type refExtractor struct {
	ctx      context.Context
	names    types.NameInterner
	pkg      string
	imports  map[string]string
	declared map[string]bool
	data     *types.CompiledFileData
	lambdas  int
	err      error

	// type parameters of the declaration being walked
	typeParams map[string]bool
}

func (e *refExtractor) intern(name string) types.SymbolID {
	if e.err != nil {
		return 0
	}
	id, err := e.names.Intern(e.ctx, name)
	if err != nil {
		e.err = err
	}
	return id
}

func (e *refExtractor) class(name string) types.ClassRef {
	return types.ClassRef{Name: e.intern(name)}
}

func (e *refExtractor) method(owner, name string, params int) types.MethodRef {
	return types.MethodRef{Owner: e.class(owner), Name: e.intern(name), ParamCount: params}
}

// extractGenDecl handles type, const and var declarations. locals is nil
// at package level.
func (e *refExtractor) extractGenDecl(genDecl *ast.GenDecl, locals scope) {
	for _, spec := range genDecl.Specs {
		switch s := spec.(type) {
		case *ast.TypeSpec:
			e.extractTypeSpec(s)
		case *ast.ValueSpec:
			e.extractValueSpec(s, locals)
		}
	}
}

// extractTypeSpec records the declared type, its embeddings and the types
// its fields and methods mention
func (e *refExtractor) extractTypeSpec(typeSpec *ast.TypeSpec) {
	outer := e.typeParams
	e.typeParams = fieldNames(typeSpec.TypeParams)
	for name := range outer {
		if e.typeParams == nil {
			e.typeParams = make(map[string]bool)
		}
		e.typeParams[name] = true
	}
	defer func() { e.typeParams = outer }()

	self := e.class(e.pkg + "." + typeSpec.Name.Name)
	e.data.AddDefinition(self)
	e.useFieldList(typeSpec.TypeParams)

	switch t := typeSpec.Type.(type) {
	case *ast.StructType:
		e.extractEmbedded(self, t.Fields)
		e.useFieldList(t.Fields)
	case *ast.InterfaceType:
		e.extractEmbedded(self, t.Methods)
		e.useFieldList(t.Methods)
	default:
		e.useType(t)
	}
}

// extractEmbedded records embedded fields and interfaces as supertypes
func (e *refExtractor) extractEmbedded(self types.ClassRef, fields *ast.FieldList) {
	if fields == nil {
		return
	}
	for _, field := range fields.List {
		if len(field.Names) > 0 {
			continue
		}
		if name, ok := e.typeName(field.Type); ok {
			e.data.AddSubclass(e.class(name), self)
		}
	}
}

func (e *refExtractor) extractValueSpec(valueSpec *ast.ValueSpec, locals scope) {
	e.useType(valueSpec.Type)
	for i, name := range valueSpec.Names {
		if locals == nil {
			continue
		}
		switch {
		case valueSpec.Type != nil:
			locals[name.Name] = valueSpec.Type
		case i < len(valueSpec.Values):
			locals[name.Name] = literalType(valueSpec.Values[i])
		default:
			locals[name.Name] = nil
		}
	}
	for _, v := range valueSpec.Values {
		e.walk(v, locals)
	}
}

// extractFunction records the function's signature and walks its body
func (e *refExtractor) extractFunction(funcDecl *ast.FuncDecl) {
	e.typeParams = fieldNames(funcDecl.Type.TypeParams)
	owner, static := e.pkg, true
	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		recv := funcDecl.Recv.List[0].Type
		for name := range typeArgNames(recv) {
			if e.typeParams == nil {
				e.typeParams = make(map[string]bool)
			}
			e.typeParams[name] = true
		}
		if name, ok := e.typeName(recv); ok {
			owner, static = name, false
		}
	}
	defer func() { e.typeParams = nil }()

	member := e.method(owner, funcDecl.Name.Name, funcDecl.Type.Params.NumFields())
	ret, shape := e.resultType(funcDecl.Type.Results)
	e.data.AddSignature(types.SignatureData{
		RawReturnType: e.intern(ret),
		IsStatic:      static,
		Shape:         shape,
	}, member)

	locals := make(scope)
	e.bindFields(locals, funcDecl.Recv)
	e.bindFields(locals, funcDecl.Type.Params)
	e.bindFields(locals, funcDecl.Type.Results)
	e.useFieldList(funcDecl.Type.TypeParams)
	e.useFieldList(funcDecl.Type.Params)
	e.useFieldList(funcDecl.Type.Results)
	if funcDecl.Body != nil {
		e.walk(funcDecl.Body, locals)
	}
}

// bindFields adds named fields to locals
func (e *refExtractor) bindFields(locals scope, fields *ast.FieldList) {
	if fields == nil {
		return
	}
	for _, field := range fields.List {
		for _, name := range field.Names {
			locals[name.Name] = field.Type
		}
	}
}

// walk inspects a function body or initializer expression
func (e *refExtractor) walk(node ast.Node, locals scope) {
	if locals == nil {
		locals = make(scope)
	}
	ast.Inspect(node, func(n ast.Node) bool {
		if e.err != nil {
			return false
		}
		switch n := n.(type) {
		case *ast.FuncLit:
			e.data.AddDefinition(types.FunExprRef{ID: e.lambdas})
			e.lambdas++
			e.bindFields(locals, n.Type.Params)
			e.useFieldList(n.Type.Params)
			e.useFieldList(n.Type.Results)
		case *ast.DeclStmt:
			if gen, ok := n.Decl.(*ast.GenDecl); ok {
				e.extractGenDecl(gen, locals)
				return false
			}
		case *ast.AssignStmt:
			if n.Tok != token.DEFINE {
				break
			}
			// untyped locals are bound too, so they shadow package names
			for i, lhs := range n.Lhs {
				id, ok := lhs.(*ast.Ident)
				if !ok {
					continue
				}
				var t ast.Expr
				if len(n.Lhs) == len(n.Rhs) {
					t = literalType(n.Rhs[i])
				}
				locals[id.Name] = t
			}
		case *ast.RangeStmt:
			if n.Tok == token.DEFINE {
				for _, x := range []ast.Expr{n.Key, n.Value} {
					if id, ok := x.(*ast.Ident); ok {
						locals[id.Name] = nil
					}
				}
			}
		case *ast.CompositeLit:
			e.useType(n.Type)
		case *ast.TypeAssertExpr:
			// x.(type) is handled by the enclosing switch
			if n.Type != nil {
				e.extractCast(n.Type, n.X, locals)
			}
		case *ast.TypeSwitchStmt:
			e.extractTypeSwitch(n, locals)
		case *ast.CallExpr:
			e.extractCall(n, locals)
		}
		return true
	})
}

func (e *refExtractor) extractTypeSwitch(sw *ast.TypeSwitchStmt, locals scope) {
	var assert *ast.TypeAssertExpr
	switch s := sw.Assign.(type) {
	case *ast.AssignStmt:
		if len(s.Rhs) == 1 {
			assert, _ = s.Rhs[0].(*ast.TypeAssertExpr)
		}
	case *ast.ExprStmt:
		assert, _ = s.X.(*ast.TypeAssertExpr)
	}
	if assert == nil {
		return
	}
	for _, stmt := range sw.Body.List {
		clause, ok := stmt.(*ast.CaseClause)
		if !ok {
			continue
		}
		for _, t := range clause.List {
			e.extractCast(t, assert.X, locals)
		}
	}
}

// extractCast records a cast to target when the operand's declared type is
// known
func (e *refExtractor) extractCast(target, operand ast.Expr, locals scope) {
	e.useType(target)
	castType, ok := e.typeName(target)
	if !ok {
		return
	}
	operandType, ok := e.localType(operand, locals)
	if !ok {
		return
	}
	e.data.AddCast(e.class(castType), e.class(operandType))
}

// extractCall records calls as member usages, conversions to named types
// as casts and typed arguments of fmt calls as implicit String calls
func (e *refExtractor) extractCall(call *ast.CallExpr, locals scope) {
	switch fun := call.Fun.(type) {
	case *ast.Ident:
		if _, local := locals[fun.Name]; local || e.isBuiltin(fun.Name) || e.typeParams[fun.Name] {
			return
		}
		if e.declared[fun.Name] && len(call.Args) == 1 {
			e.extractCast(fun, call.Args[0], locals)
			return
		}
		e.data.AddUsage(e.method(e.pkg, fun.Name, len(call.Args)), 1)
	case *ast.SelectorExpr:
		x, ok := fun.X.(*ast.Ident)
		if !ok {
			return
		}
		if importPath, ok := e.imports[x.Name]; ok && !isLocal(locals, x.Name) {
			e.data.AddUsage(e.method(importPath, fun.Sel.Name, len(call.Args)), 1)
			if importPath == "fmt" {
				e.extractImplicitString(call.Args, locals)
			}
			return
		}
		if owner, ok := e.localType(x, locals); ok {
			e.data.AddUsage(e.method(owner, fun.Sel.Name, len(call.Args)), 1)
		}
	}
}

func (e *refExtractor) extractImplicitString(args []ast.Expr, locals scope) {
	for _, arg := range args {
		if name, ok := e.localType(arg, locals); ok {
			e.data.AddImplicitToString(e.class(name))
		}
	}
}

// localType resolves an identifier to the named type it was declared with
func (e *refExtractor) localType(expr ast.Expr, locals scope) (string, bool) {
	id, ok := expr.(*ast.Ident)
	if !ok {
		return "", false
	}
	t, ok := locals[id.Name]
	if !ok {
		return "", false
	}
	return e.typeName(t)
}

func isLocal(locals scope, name string) bool {
	_, ok := locals[name]
	return ok
}

func (e *refExtractor) useFieldList(fields *ast.FieldList) {
	if fields == nil {
		return
	}
	for _, field := range fields.List {
		e.useType(field.Type)
	}
}

// useType counts one usage for every named type mentioned in expr
func (e *refExtractor) useType(expr ast.Expr) {
	if expr == nil || e.err != nil {
		return
	}
	switch t := expr.(type) {
	case *ast.Ident, *ast.SelectorExpr:
		if name, ok := e.typeName(t); ok {
			e.data.AddUsage(e.class(name), 1)
		}
	case *ast.StarExpr:
		e.useType(t.X)
	case *ast.ParenExpr:
		e.useType(t.X)
	case *ast.ArrayType:
		e.useType(t.Elt)
	case *ast.MapType:
		e.useType(t.Key)
		e.useType(t.Value)
	case *ast.ChanType:
		e.useType(t.Value)
	case *ast.Ellipsis:
		e.useType(t.Elt)
	case *ast.FuncType:
		e.useFieldList(t.Params)
		e.useFieldList(t.Results)
	case *ast.StructType:
		e.useFieldList(t.Fields)
	case *ast.InterfaceType:
		e.useFieldList(t.Methods)
	case *ast.IndexExpr:
		e.useType(t.X)
		e.useType(t.Index)
	case *ast.IndexListExpr:
		e.useType(t.X)
		for _, idx := range t.Indices {
			e.useType(idx)
		}
	}
}

// typeName qualifies a named type expression. Pointers and type
// arguments are stripped; predeclared types and type parameters are not
// named types.
func (e *refExtractor) typeName(expr ast.Expr) (string, bool) {
	switch t := expr.(type) {
	case *ast.Ident:
		if e.isBuiltin(t.Name) || e.typeParams[t.Name] || t.Name == "_" {
			return "", false
		}
		return e.pkg + "." + t.Name, true
	case *ast.SelectorExpr:
		x, ok := t.X.(*ast.Ident)
		if !ok {
			return "", false
		}
		importPath, ok := e.imports[x.Name]
		if !ok {
			return "", false
		}
		return importPath + "." + t.Sel.Name, true
	case *ast.StarExpr:
		return e.typeName(t.X)
	case *ast.ParenExpr:
		return e.typeName(t.X)
	case *ast.IndexExpr:
		return e.typeName(t.X)
	case *ast.IndexListExpr:
		return e.typeName(t.X)
	}
	return "", false
}

func (e *refExtractor) isBuiltin(name string) bool {
	return gotypes.Universe.Lookup(name) != nil
}

// resultType renders the return type of a function and its shape: slices
// and arrays are array-shaped, channels and iter sequences iterator-shaped
func (e *refExtractor) resultType(results *ast.FieldList) (string, types.ShapeKind) {
	if results == nil || results.NumFields() == 0 {
		return "void", types.ShapeScalar
	}
	if results.NumFields() > 1 {
		var parts []string
		for _, field := range results.List {
			n := max(len(field.Names), 1)
			for range n {
				parts = append(parts, e.exprToString(field.Type))
			}
		}
		return "(" + strings.Join(parts, ", ") + ")", types.ShapeScalar
	}

	switch t := results.List[0].Type.(type) {
	case *ast.ArrayType:
		return e.exprToString(t.Elt), types.ShapeArray
	case *ast.ChanType:
		return e.exprToString(t.Value), types.ShapeIterator
	case *ast.IndexExpr:
		if e.isIterSeq(t.X) {
			return e.exprToString(t.Index), types.ShapeIterator
		}
	case *ast.IndexListExpr:
		if e.isIterSeq(t.X) {
			parts := make([]string, 0, len(t.Indices))
			for _, idx := range t.Indices {
				parts = append(parts, e.exprToString(idx))
			}
			return "(" + strings.Join(parts, ", ") + ")", types.ShapeIterator
		}
	}
	return e.exprToString(results.List[0].Type), types.ShapeScalar
}

func (e *refExtractor) isIterSeq(expr ast.Expr) bool {
	sel, ok := expr.(*ast.SelectorExpr)
	if !ok {
		return false
	}
	x, ok := sel.X.(*ast.Ident)
	return ok && e.imports[x.Name] == "iter" && strings.HasPrefix(sel.Sel.Name, "Seq")
}

// exprToString renders a type expression with qualified names
func (e *refExtractor) exprToString(expr ast.Expr) string {
	if expr == nil {
		return ""
	}

	switch t := expr.(type) {
	case *ast.Ident, *ast.SelectorExpr:
		if name, ok := e.typeName(t); ok {
			return name
		}
		if id, ok := t.(*ast.Ident); ok {
			return id.Name
		}
		sel := t.(*ast.SelectorExpr)
		return e.exprToString(sel.X) + "." + sel.Sel.Name
	case *ast.StarExpr:
		return "*" + e.exprToString(t.X)
	case *ast.ArrayType:
		return "[]" + e.exprToString(t.Elt)
	case *ast.MapType:
		return fmt.Sprintf("map[%s]%s", e.exprToString(t.Key), e.exprToString(t.Value))
	case *ast.ChanType:
		return "chan " + e.exprToString(t.Value)
	case *ast.FuncType:
		return "func(...)"
	case *ast.InterfaceType:
		return "interface{}"
	case *ast.StructType:
		return "struct{...}"
	case *ast.Ellipsis:
		return "..." + e.exprToString(t.Elt)
	case *ast.IndexExpr:
		return e.exprToString(t.X) + "[" + e.exprToString(t.Index) + "]"
	case *ast.IndexListExpr:
		parts := make([]string, 0, len(t.Indices))
		for _, idx := range t.Indices {
			parts = append(parts, e.exprToString(idx))
		}
		return e.exprToString(t.X) + "[" + strings.Join(parts, ", ") + "]"
	default:
		return "..."
	}
}

// literalType returns the type of a composite literal or its address
func literalType(expr ast.Expr) ast.Expr {
	switch v := expr.(type) {
	case *ast.CompositeLit:
		return v.Type
	case *ast.UnaryExpr:
		if v.Op == token.AND {
			if lit, ok := v.X.(*ast.CompositeLit); ok {
				return lit.Type
			}
		}
	}
	return nil
}

func fieldNames(fields *ast.FieldList) map[string]bool {
	if fields == nil {
		return nil
	}
	out := make(map[string]bool)
	for _, field := range fields.List {
		for _, name := range field.Names {
			out[name.Name] = true
		}
	}
	return out
}

// typeArgNames returns the type parameter names bound by a generic
// receiver such as *List[T]
func typeArgNames(recv ast.Expr) map[string]bool {
	if star, ok := recv.(*ast.StarExpr); ok {
		recv = star.X
	}
	out := make(map[string]bool)
	switch t := recv.(type) {
	case *ast.IndexExpr:
		if id, ok := t.Index.(*ast.Ident); ok {
			out[id.Name] = true
		}
	case *ast.IndexListExpr:
		for _, idx := range t.Indices {
			if id, ok := idx.(*ast.Ident); ok {
				out[id.Name] = true
			}
		}
	}
	return out
}

// declaredTypes collects the names of the file's package-level types
func declaredTypes(file *ast.File) map[string]bool {
	out := make(map[string]bool)
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.TYPE {
			continue
		}
		for _, spec := range gen.Specs {
			out[spec.(*ast.TypeSpec).Name.Name] = true
		}
	}
	return out
}
