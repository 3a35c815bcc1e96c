package types

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// NameResolver resolves interned symbol ids back to their names
type NameResolver interface {
	ValueOf(ctx context.Context, id SymbolID) (string, error)
}

// NameInterner interns symbol names
type NameInterner interface {
	Intern(ctx context.Context, value string) (SymbolID, error)
}

const (
	anonymousPrefix = "anon:"
	funExprPrefix   = "lambda:"
	memberSeparator = "#"
	staticPrefix    = "static "
)

// FormatRef renders ref in its textual form, resolving names through names
func FormatRef(ctx context.Context, names NameResolver, ref CompilerRef) (string, error) {
	if ref == nil {
		return "", fmt.Errorf("%w: nil ref", ErrInvalidKey)
	}
	var err error
	name := func(id SymbolID) string {
		if err != nil {
			return ""
		}
		var s string
		s, err = names.ValueOf(ctx, id)
		return s
	}
	out := MatchRef(ref,
		func(r ClassRef) string { return name(r.Name) },
		func(r MethodRef) string {
			return name(r.Owner.Name) + memberSeparator + name(r.Name) + "(" + strconv.Itoa(r.ParamCount) + ")"
		},
		func(r FieldRef) string { return name(r.Owner.Name) + memberSeparator + name(r.Name) },
		func(r AnonymousClassRef) string { return anonymousPrefix + name(r.ID) },
		func(r FunExprRef) string { return funExprPrefix + strconv.Itoa(r.ID) },
	)
	if err != nil {
		return "", err
	}
	return out, nil
}

// FormatSignature renders sig as "[static ]<returnType>:<shape>"
func FormatSignature(ctx context.Context, names NameResolver, sig SignatureData) (string, error) {
	ret, err := names.ValueOf(ctx, sig.RawReturnType)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if sig.IsStatic {
		b.WriteString(staticPrefix)
	}
	b.WriteString(ret)
	b.WriteByte(':')
	b.WriteString(sig.Shape.String())
	return b.String(), nil
}

// FormatKey renders any table key
func FormatKey(ctx context.Context, names NameResolver, key IndexKey) (string, error) {
	switch k := key.(type) {
	case SignatureData:
		return FormatSignature(ctx, names, k)
	case CompilerRef:
		return FormatRef(ctx, names, k)
	default:
		return "", fmt.Errorf("%w: unsupported key %T", ErrInvalidKey, key)
	}
}

// ParseRef parses the textual form produced by FormatRef, interning names
func ParseRef(ctx context.Context, names NameInterner, s string) (CompilerRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty ref", ErrInvalidKey)
	}

	switch {
	case strings.HasPrefix(s, funExprPrefix):
		id, err := strconv.Atoi(strings.TrimPrefix(s, funExprPrefix))
		if err != nil || id < 0 {
			return nil, fmt.Errorf("%w: bad lambda id in %q", ErrInvalidKey, s)
		}
		return FunExprRef{ID: id}, nil
	case strings.HasPrefix(s, anonymousPrefix):
		name := strings.TrimPrefix(s, anonymousPrefix)
		if name == "" {
			return nil, fmt.Errorf("%w: empty anonymous class name", ErrInvalidKey)
		}
		id, err := names.Intern(ctx, name)
		if err != nil {
			return nil, err
		}
		return AnonymousClassRef{ID: id}, nil
	}

	ownerName, member, isMember := strings.Cut(s, memberSeparator)
	if ownerName == "" {
		return nil, fmt.Errorf("%w: missing owner in %q", ErrInvalidKey, s)
	}
	ownerID, err := names.Intern(ctx, ownerName)
	if err != nil {
		return nil, err
	}
	owner := ClassRef{Name: ownerID}
	if !isMember {
		return owner, nil
	}

	if open := strings.IndexByte(member, '('); open >= 0 {
		if !strings.HasSuffix(member, ")") || open == 0 {
			return nil, fmt.Errorf("%w: malformed method %q", ErrInvalidKey, s)
		}
		n, err := strconv.Atoi(member[open+1 : len(member)-1])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: bad parameter count in %q", ErrInvalidKey, s)
		}
		nameID, err := names.Intern(ctx, member[:open])
		if err != nil {
			return nil, err
		}
		return MethodRef{Owner: owner, Name: nameID, ParamCount: n}, nil
	}

	if member == "" {
		return nil, fmt.Errorf("%w: empty member in %q", ErrInvalidKey, s)
	}
	nameID, err := names.Intern(ctx, member)
	if err != nil {
		return nil, err
	}
	return FieldRef{Owner: owner, Name: nameID}, nil
}

// ParseSignature parses the textual form produced by FormatSignature
func ParseSignature(ctx context.Context, names NameInterner, s string) (SignatureData, error) {
	s = strings.TrimSpace(s)
	static := strings.HasPrefix(s, staticPrefix)
	s = strings.TrimPrefix(s, staticPrefix)

	ret, shapeText := s, ""
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		ret, shapeText = s[:i], s[i+1:]
	}
	if ret == "" {
		return SignatureData{}, fmt.Errorf("%w: missing return type in %q", ErrInvalidKey, s)
	}
	shape, err := ParseShapeKind(shapeText)
	if err != nil {
		return SignatureData{}, err
	}
	id, err := names.Intern(ctx, ret)
	if err != nil {
		return SignatureData{}, err
	}
	return SignatureData{RawReturnType: id, IsStatic: static, Shape: shape}, nil
}
