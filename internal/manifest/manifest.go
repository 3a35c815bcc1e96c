// Package manifest reads YAML reference manifests: the per-file summary a
// compiler plugin emits for the backward reference index.
//
// A manifest names every symbol in the textual ref syntax of package types
// (a.Foo, a.Foo#bar(2), a.Foo#baz, anon:Foo$1, lambda:3):
//
//	classes:
//	  - name: a.FooImpl
//	    supers: [a.Foo]
//	  - name: Bar$1
//	    anonymous: true
//	    supers: [a.Foo]
//	lambdas: [0]
//	uses:
//	  a.Foo: 2
//	  a.Foo#bar(0): 1
//	signatures:
//	  - returns: a.Foo
//	    static: true
//	    shape: array
//	    members: [a.Bar#all(0)]
//	casts:
//	  a.FooImpl: [a.Foo]
//	toString: [a.Foo]
//
// Use counts must be positive.
package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dshills/refindex/pkg/logger"
	"github.com/dshills/refindex/pkg/types"
)

// Extension is the suffix of manifest files
const Extension = ".yaml"

// Manifest is the decoded form of one file's manifest
type Manifest struct {
	Classes    []Class             `yaml:"classes"`
	Lambdas    []int               `yaml:"lambdas"`
	Uses       map[string]int      `yaml:"uses"`
	Signatures []Signature         `yaml:"signatures"`
	Casts      map[string][]string `yaml:"casts"`
	ToString   []string            `yaml:"toString"`
}

// Class is a class declared in the file
type Class struct {
	Name      string   `yaml:"name"`
	Anonymous bool     `yaml:"anonymous"`
	Supers    []string `yaml:"supers"`
}

// Signature groups members declared with one return signature
type Signature struct {
	Returns string   `yaml:"returns"`
	Static  bool     `yaml:"static"`
	Shape   string   `yaml:"shape"`
	Members []string `yaml:"members"`
}

// Parse decodes a manifest. Unknown fields are rejected so that a typo
// cannot silently drop references. Empty content is an empty manifest.
func Parse(content []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}

// Resolve interns every name in m and returns the file's contributions
func (m *Manifest) Resolve(ctx context.Context, names types.NameInterner) (*types.CompiledFileData, error) {
	data := &types.CompiledFileData{}
	ref := func(s string) (types.CompilerRef, error) {
		return types.ParseRef(ctx, names, s)
	}

	for _, c := range m.Classes {
		if c.Name == "" {
			return nil, fmt.Errorf("%w: class without a name", types.ErrInvalidKey)
		}
		spelled := c.Name
		if c.Anonymous && !strings.HasPrefix(spelled, "anon:") {
			spelled = "anon:" + spelled
		}
		class, err := ref(spelled)
		if err != nil {
			return nil, err
		}
		if !types.IsClassLike(class) {
			return nil, fmt.Errorf("%w: %q is not a class", types.ErrInvalidKey, c.Name)
		}
		data.AddDefinition(class)
		for _, s := range c.Supers {
			super, err := ref(s)
			if err != nil {
				return nil, err
			}
			data.AddSubclass(super, class)
		}
	}

	for _, id := range m.Lambdas {
		if id < 0 {
			return nil, fmt.Errorf("%w: negative lambda id %d", types.ErrInvalidKey, id)
		}
		data.AddDefinition(types.FunExprRef{ID: id})
	}

	for _, s := range sortedKeys(m.Uses) {
		n := m.Uses[s]
		if n <= 0 {
			return nil, fmt.Errorf("%w: use count %d for %q", types.ErrInvalidKey, n, s)
		}
		r, err := ref(s)
		if err != nil {
			return nil, err
		}
		data.AddUsage(r, n)
	}

	for _, sig := range m.Signatures {
		shape, err := types.ParseShapeKind(sig.Shape)
		if err != nil {
			return nil, err
		}
		ret, err := names.Intern(ctx, sig.Returns)
		if err != nil {
			return nil, err
		}
		key := types.SignatureData{RawReturnType: ret, IsStatic: sig.Static, Shape: shape}
		for _, member := range sig.Members {
			r, err := ref(member)
			if err != nil {
				return nil, err
			}
			data.AddSignature(key, r)
		}
	}

	for _, s := range sortedKeys(m.Casts) {
		castType, err := ref(s)
		if err != nil {
			return nil, err
		}
		for _, operand := range m.Casts[s] {
			r, err := ref(operand)
			if err != nil {
				return nil, err
			}
			data.AddCast(castType, r)
		}
	}

	for _, s := range m.ToString {
		r, err := ref(s)
		if err != nil {
			return nil, err
		}
		data.AddImplicitToString(r)
	}

	return data, data.Validate()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Extractor extracts file contributions from manifests
type Extractor struct{}

// New returns a manifest extractor
func New() *Extractor {
	return &Extractor{}
}

// Extract parses content as a manifest and resolves it
func (e *Extractor) Extract(ctx context.Context, path string, content []byte, names types.NameInterner) (*types.CompiledFileData, error) {
	m, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	data, err := m.Resolve(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.FromContext(ctx).Debug("manifest resolved", "path", path, "classes", len(m.Classes), "uses", len(m.Uses))
	return data, nil
}

// SourcePath returns the source file a manifest file describes:
// "src/Foo.java.yaml" describes "src/Foo.java"
func SourcePath(manifestPath string) (string, bool) {
	if !strings.HasSuffix(manifestPath, Extension) {
		return "", false
	}
	src := strings.TrimSuffix(manifestPath, Extension)
	return src, src != ""
}
