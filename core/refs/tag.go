// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package refs

import (
	"regexp"
	"strings"

	"github.com/juju/errors"
)

const (
	// EmbeddedSuffix marks a token whose path is a self-contained
	// base64 encoded ref record.
	EmbeddedSuffix = "embedded"

	tagUsage = "try something like ?{gpg:path/to/secret} or ?{base64:path/to/secret||randomstr:32}"
)

var (
	// tagPattern matches ?{type:path[:hash|:embedded][||func:arg|func...]}.
	tagPattern = regexp.MustCompile(`\?\{(\w+:[\w\-./@=+:]+)((?:\|\|)[\w\-./@=+:|]*)?\}`)

	hashPattern    = regexp.MustCompile(`^[0-9a-f]{8}$`)
	subPathPattern = regexp.MustCompile(`^[\w\-.]+$`)
	funcPattern    = regexp.MustCompile(`^\w+$`)
)

// Tag is a parsed ?{...} placeholder.
type Tag struct {
	// Full is the complete tag text including the ?{ } delimiters.
	Full string
	// Token is the backend addressable part of the tag.
	Token Token
	// FuncChain is the raw function chain without the leading "||",
	// empty when the tag has none.
	FuncChain string
}

// HasFuncChain reports whether the tag derives its value
// through a function chain.
func (t Tag) HasFuncChain() bool {
	return t.FuncChain != ""
}

// Funcs returns the parsed function chain.
func (t Tag) Funcs() ([]FuncCall, error) {
	return ParseFuncChain(t.FuncChain)
}

// Token is the identity of a ref: type:path[:hash8|:embedded],
// with an optional @sub.path suffix on the path.
type Token struct {
	Type     string
	Path     string
	Hash     string
	Embedded bool
	// SubPath is the dotted path (without the leading @) into the
	// structured plaintext of the ref.
	SubPath string
}

// String returns the token in its wire form, including any hash,
// embedded marker and sub-path.
func (t Token) String() string {
	path := t.Path
	if t.SubPath != "" {
		path += "@" + t.SubPath
	}
	s := t.Type + ":" + path
	switch {
	case t.Embedded:
		s += ":" + EmbeddedSuffix
	case t.Hash != "":
		s += ":" + t.Hash
	}
	return s
}

// Bare returns type:path without hash, embedded marker or sub-path.
// It is the key used to cache resolutions.
func (t Token) Bare() string {
	return t.Type + ":" + t.Path
}

// ParseTag parses a single tag. The input must be exactly one tag.
func ParseTag(s string) (Tag, error) {
	m := tagPattern.FindStringSubmatch(s)
	if m == nil || m[0] != s {
		return Tag{}, errors.WithType(
			errors.Errorf("ref error: could not parse tag %q, %s", s, tagUsage), ErrRef)
	}
	return newTag(m)
}

func newTag(m []string) (Tag, error) {
	tok, err := ParseToken(m[1])
	if err != nil {
		return Tag{}, errors.Trace(err)
	}
	chain := strings.TrimPrefix(m[2], "||")
	if m[2] != "" && chain == "" {
		return Tag{}, errors.WithType(
			errors.Errorf("ref error: empty function chain in tag %q, %s", m[0], tagUsage), ErrRef)
	}
	if chain != "" {
		if tok.SubPath != "" {
			return Tag{}, errors.WithType(errors.Errorf(
				"ref error: tag %q combines a sub-path with a function chain, create the ref first without a sub-path",
				m[0]), ErrRef)
		}
		if tok.Hash != "" || tok.Embedded {
			return Tag{}, errors.WithType(errors.Errorf(
				"ref error: tag %q combines a stamped token with a function chain", m[0]), ErrRef)
		}
		if _, err := ParseFuncChain(chain); err != nil {
			return Tag{}, errors.Trace(err)
		}
	}
	return Tag{
		Full:      m[0],
		Token:     tok,
		FuncChain: chain,
	}, nil
}

// ParseToken parses type:path[:hash8|:embedded].
func ParseToken(s string) (Token, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return Token{}, errors.WithType(
			errors.Errorf("ref error: could not parse token %q, %s", s, tagUsage), ErrRef)
	}
	tok := Token{Type: parts[0], Path: parts[1]}
	if len(parts) == 3 {
		switch suffix := parts[2]; {
		case suffix == EmbeddedSuffix:
			tok.Embedded = true
		case hashPattern.MatchString(suffix):
			tok.Hash = suffix
		default:
			return Token{}, errors.WithType(errors.Errorf(
				"ref error: token %q has an invalid suffix %q, expected an 8 character hash or %q",
				s, suffix, EmbeddedSuffix), ErrRef)
		}
	}
	if i := strings.Index(tok.Path, "@"); i >= 0 {
		sub := tok.Path[i+1:]
		if !subPathPattern.MatchString(sub) || strings.Contains(sub, "..") ||
			strings.HasPrefix(sub, ".") || strings.HasSuffix(sub, ".") {
			return Token{}, errors.WithType(
				errors.Errorf("ref error: token %q has an invalid sub-path %q", s, sub), ErrRef)
		}
		tok.Path, tok.SubPath = tok.Path[:i], sub
		if tok.Path == "" {
			return Token{}, errors.WithType(
				errors.Errorf("ref error: token %q has an empty path", s), ErrRef)
		}
	}
	return tok, nil
}

// FuncCall is one element of a function chain.
type FuncCall struct {
	Name string
	Args []string
}

// ParseFuncChain parses name:arg:arg|name... as found after "||".
func ParseFuncChain(chain string) ([]FuncCall, error) {
	if chain == "" {
		return nil, nil
	}
	var calls []FuncCall
	for _, part := range strings.Split(chain, "|") {
		fields := strings.Split(part, ":")
		if !funcPattern.MatchString(fields[0]) {
			return nil, errors.WithType(
				errors.Errorf("ref error: invalid function %q in chain %q, %s", part, chain, tagUsage), ErrRef)
		}
		calls = append(calls, FuncCall{Name: fields[0], Args: fields[1:]})
	}
	return calls, nil
}

// FindTags returns every tag found in text, in order of appearance.
// Malformed tag-like text is reported as an error.
func FindTags(text string) ([]Tag, error) {
	var tags []Tag
	for _, m := range tagPattern.FindAllStringSubmatch(text, -1) {
		tag, err := newTag(m)
		if err != nil {
			return nil, errors.Trace(err)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// ContainsTag reports whether text holds at least one tag candidate.
func ContainsTag(text string) bool {
	return tagPattern.MatchString(text)
}

// ReplaceTags calls fn for each tag in text and substitutes the tag
// with the returned string. The first error aborts the replacement.
func ReplaceTags(text string, fn func(Tag) (string, error)) (string, error) {
	locs := tagPattern.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return text, nil
	}
	var sb strings.Builder
	last := 0
	for _, loc := range locs {
		m := make([]string, len(loc)/2)
		for i := range m {
			if loc[2*i] >= 0 {
				m[i] = text[loc[2*i]:loc[2*i+1]]
			}
		}
		tag, err := newTag(m)
		if err != nil {
			return "", errors.Trace(err)
		}
		out, err := fn(tag)
		if err != nil {
			return "", errors.Trace(err)
		}
		sb.WriteString(text[last:loc[0]])
		sb.WriteString(out)
		last = loc[1]
	}
	sb.WriteString(text[last:])
	return sb.String(), nil
}
