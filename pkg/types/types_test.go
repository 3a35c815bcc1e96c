package types

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// names is an in-memory interner and resolver
type names struct {
	ids    map[string]SymbolID
	values []string
}

func newNames() *names {
	return &names{ids: make(map[string]SymbolID)}
}

func (n *names) Intern(_ context.Context, value string) (SymbolID, error) {
	if id, ok := n.ids[value]; ok {
		return id, nil
	}
	n.values = append(n.values, value)
	id := SymbolID(len(n.values))
	n.ids[value] = id
	return id, nil
}

func (n *names) ValueOf(_ context.Context, id SymbolID) (string, error) {
	if id == 0 || int(id) > len(n.values) {
		return "", fmt.Errorf("%w: symbol %d", ErrNotFound, id)
	}
	return n.values[id-1], nil
}

func TestRefTextRoundTrip(t *testing.T) {
	ctx := context.Background()
	n := newNames()

	tests := []struct {
		text string
		kind RefKind
	}{
		{"p.Foo", KindClass},
		{"p.Foo#bar(2)", KindMethod},
		{"p.Foo#create(0)", KindMethod},
		{"p.Foo#baz", KindField},
		{"anon:p.Bar$1", KindAnonymousClass},
		{"lambda:3", KindFunExpr},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			ref, err := ParseRef(ctx, n, tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, ref.Kind())

			got, err := FormatRef(ctx, n, ref)
			require.NoError(t, err)
			assert.Equal(t, tt.text, got)
		})
	}
}

func TestParseRef_Interning(t *testing.T) {
	ctx := context.Background()
	n := newNames()

	a, err := ParseRef(ctx, n, "p.Foo#bar(1)")
	require.NoError(t, err)
	b, err := ParseRef(ctx, n, "p.Foo")
	require.NoError(t, err)
	assert.Equal(t, a.(MethodRef).Owner, b, "owner interned once")
}

func TestParseRef_Invalid(t *testing.T) {
	ctx := context.Background()
	for _, text := range []string{
		"",
		"  ",
		"#bar",
		"p.Foo#",
		"p.Foo#bar(x)",
		"p.Foo#bar(-1)",
		"p.Foo#bar(1",
		"p.Foo#(1)",
		"lambda:x",
		"lambda:-2",
		"anon:",
	} {
		_, err := ParseRef(ctx, newNames(), text)
		assert.ErrorIs(t, err, ErrInvalidKey, "%q", text)
	}
}

func TestSignatureText(t *testing.T) {
	ctx := context.Background()
	n := newNames()

	for _, text := range []string{
		"void:scalar",
		"static p.Foo:scalar",
		"java.util.List:array",
		"map[string]int:iterator",
	} {
		sig, err := ParseSignature(ctx, n, text)
		require.NoError(t, err, text)
		got, err := FormatSignature(ctx, n, sig)
		require.NoError(t, err)
		assert.Equal(t, text, got)
	}

	sig, err := ParseSignature(ctx, n, "static void")
	require.NoError(t, err)
	assert.True(t, sig.IsStatic)
	assert.Equal(t, ShapeScalar, sig.Shape, "shape defaults to scalar")

	_, err = ParseSignature(ctx, n, "void:tree")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = ParseSignature(ctx, n, ":array")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestFormatKey(t *testing.T) {
	ctx := context.Background()
	n := newNames()
	void, _ := n.Intern(ctx, "void")

	s, err := FormatKey(ctx, n, SignatureData{RawReturnType: void, IsStatic: true})
	require.NoError(t, err)
	assert.Equal(t, "static void:scalar", s)

	s, err = FormatKey(ctx, n, FunExprRef{ID: 7})
	require.NoError(t, err)
	assert.Equal(t, "lambda:7", s)

	_, err = FormatRef(ctx, n, ClassRef{Name: 99})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMatchRef(t *testing.T) {
	kind := func(ref CompilerRef) string {
		return MatchRef(ref,
			func(ClassRef) string { return "class" },
			func(MethodRef) string { return "method" },
			func(FieldRef) string { return "field" },
			func(AnonymousClassRef) string { return "anonymous" },
			func(FunExprRef) string { return "lambda" },
		)
	}
	assert.Equal(t, "class", kind(ClassRef{Name: 1}))
	assert.Equal(t, "method", kind(MethodRef{Name: 1}))
	assert.Equal(t, "field", kind(FieldRef{Name: 1}))
	assert.Equal(t, "anonymous", kind(AnonymousClassRef{ID: 1}))
	assert.Equal(t, "lambda", kind(FunExprRef{ID: 1}))
	assert.Panics(t, func() { kind(nil) })
}

func TestTableID(t *testing.T) {
	for _, id := range AllTables {
		parsed, err := ParseTableID(id.Name())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
		assert.True(t, id.Valid())
	}
	_, err := ParseTableID("symbols")
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.False(t, TableID(0).Valid())

	assert.Equal(t, ValueCount, TableUsages.ValueShape())
	assert.Equal(t, ValuePresence, TableClassDefinitions.ValueShape())
	assert.Equal(t, ValuePresence, TableImplicitToString.ValueShape())
	assert.Equal(t, ValueRefs, TableHierarchy.ValueShape())
	assert.Equal(t, ValueRefs, TableMemberSignatures.ValueShape())
	assert.Equal(t, ValueRefs, TableCasts.ValueShape())
}

func TestValidateKey(t *testing.T) {
	class := ClassRef{Name: 1}
	method := MethodRef{Owner: class, Name: 2}
	sig := SignatureData{RawReturnType: 3}

	tests := []struct {
		name  string
		table TableID
		key   IndexKey
		ok    bool
	}{
		{"class in hierarchy", TableHierarchy, class, true},
		{"anonymous in hierarchy", TableHierarchy, AnonymousClassRef{ID: 4}, true},
		{"method in hierarchy", TableHierarchy, method, false},
		{"method in usages", TableUsages, method, true},
		{"signature in usages", TableUsages, sig, false},
		{"lambda definition", TableClassDefinitions, FunExprRef{ID: 0}, true},
		{"field definition", TableClassDefinitions, FieldRef{Owner: class, Name: 2}, false},
		{"signature", TableMemberSignatures, sig, true},
		{"ref as signature", TableMemberSignatures, class, false},
		{"bad shape", TableMemberSignatures, SignatureData{RawReturnType: 3, Shape: 9}, false},
		{"nil", TableCasts, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.table.ValidateKey(tt.key)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidKey)
			}
		})
	}
}

func TestContributions(t *testing.T) {
	foo := ClassRef{Name: 1}
	bar := ClassRef{Name: 2}
	baz := ClassRef{Name: 3}

	var d CompiledFileData
	d.AddSubclass(foo, baz)
	d.AddSubclass(foo, bar)
	d.AddSubclass(foo, baz)
	d.AddUsage(foo, 2)
	d.AddUsage(foo, 1)
	d.AddUsage(bar, 0)
	d.AddDefinition(bar)
	d.AddDefinition(bar)
	d.AddCast(baz, nil)
	d.AddImplicitToString(bar)

	byTable := make(map[TableID][]Contribution)
	for _, c := range d.Contributions() {
		byTable[c.Table] = append(byTable[c.Table], c)
	}

	require.Len(t, byTable[TableHierarchy], 1)
	assert.Equal(t, []CompilerRef{bar, baz}, byTable[TableHierarchy][0].Posting.Refs, "sorted, duplicates dropped")

	require.Len(t, byTable[TableUsages], 1, "zero counts dropped")
	assert.Equal(t, 3, byTable[TableUsages][0].Posting.Count)

	assert.Len(t, byTable[TableClassDefinitions], 1)
	assert.Empty(t, byTable[TableCasts], "empty ref set dropped")
	assert.Len(t, byTable[TableImplicitToString], 1)

	assert.NoError(t, d.Validate())

	var nilData *CompiledFileData
	assert.Nil(t, nilData.Contributions())
}

func TestContributions_StableOrder(t *testing.T) {
	build := func(order []int) *CompiledFileData {
		var d CompiledFileData
		for _, i := range order {
			ref := ClassRef{Name: SymbolID(i)}
			d.AddSubclass(ref, ClassRef{Name: 100})
			d.AddUsage(ref, i)
			d.AddCast(ref, ClassRef{Name: 101})
			d.AddSignature(SignatureData{RawReturnType: SymbolID(i % 3), IsStatic: i%2 == 0, Shape: ShapeKind(i % 3)}, MethodRef{Owner: ref, Name: 102})
		}
		return &d
	}
	want := build([]int{1, 2, 3, 4, 5, 6, 7, 8}).Contributions()
	for range 20 {
		assert.Equal(t, want, build([]int{8, 3, 5, 1, 7, 2, 6, 4}).Contributions())
	}

	for i := 1; i < len(want); i++ {
		prev, cur := want[i-1], want[i]
		require.LessOrEqual(t, prev.Table, cur.Table)
		if prev.Table != cur.Table {
			continue
		}
		switch pk := prev.Key.(type) {
		case CompilerRef:
			assert.Negative(t, CompareRefs(pk, cur.Key.(CompilerRef)))
		case SignatureData:
			assert.Negative(t, compareSignatures(pk, cur.Key.(SignatureData)))
		}
	}
}

func TestValidate_RejectsBadHierarchy(t *testing.T) {
	var d CompiledFileData
	d.AddSubclass(ClassRef{Name: 1}, MethodRef{Owner: ClassRef{Name: 1}, Name: 2})
	assert.ErrorIs(t, d.Validate(), ErrInvalidKey)
}

func TestRequiresRebuild(t *testing.T) {
	for _, err := range []error{ErrEnumeratorCorruption, ErrStorageIO, ErrVersionMismatch, ErrCorrupted, ErrNeedsFullRebuild} {
		assert.True(t, RequiresRebuild(fmt.Errorf("open: %w", err)), err.Error())
	}
	for _, err := range []error{nil, ErrNotFound, ErrClosed, ErrSessionActive, ErrInvalidKey, context.Canceled} {
		assert.False(t, RequiresRebuild(err))
	}
}
