// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package refs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/golang-lru"
	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/kapicorp/kapitan/core/refs"
)

// DefaultCacheSize is the number of resolved refs a Revealer keeps.
const DefaultCacheSize = 256

// Content types of revealed outputs.
const (
	ContentYAML = "yaml"
	ContentJSON = "json"
	ContentText = "text"
)

// RevealerOptions configures a Revealer.
type RevealerOptions struct {
	// Target is passed to backends when compile creates missing refs.
	Target string
	// CacheSize bounds the resolution cache; 0 means DefaultCacheSize.
	CacheSize int
}

// Revealer substitutes tags in text and structured data, either with
// the plaintext of their refs (reveal) or with compiled tags (compile).
//
// A Revealer owns its cache: every ref is resolved and decrypted at
// most once per Revealer. The cache is never shared, so a new Revealer
// should be used for each independent operation.
type Revealer struct {
	controller *Controller
	target     string
	cache      *lru.Cache
}

type cacheEntry struct {
	ref       *refs.Ref
	plaintext string
	revealed  bool
}

// NewRevealer returns a Revealer resolving tags through controller.
func NewRevealer(controller *Controller, opts RevealerOptions) (*Revealer, error) {
	if controller == nil {
		return nil, errors.NotValidf("nil controller")
	}
	size := opts.CacheSize
	if size == 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, errors.Annotate(err, "creating ref cache")
	}
	return &Revealer{
		controller: controller,
		target:     opts.Target,
		cache:      cache,
	}, nil
}

func (r *Revealer) lookup(ctx context.Context, tag refs.Tag, create bool) (*cacheEntry, error) {
	key := tag.Token.Bare()
	if v, ok := r.cache.Get(key); ok {
		r.controller.metrics.ObserveCacheLookup(true)
		entry := v.(*cacheEntry)
		if tag.Token.Hash != "" && entry.ref.ShortHash() != tag.Token.Hash {
			return nil, hashMismatch(tag.Token, entry.ref)
		}
		return entry, nil
	}
	r.controller.metrics.ObserveCacheLookup(false)

	res, err := r.controller.ResolveTag(ctx, tag)
	if err != nil {
		return nil, errors.Trace(err)
	}
	ref := res.Ref
	if res.Pending != nil {
		if !create {
			return nil, errors.NotFoundf("ref %s (compile or write it first)", key)
		}
		ref, err = r.controller.CreateFromSpec(ctx, *res.Pending, RefParams{Target: r.target})
		if err != nil {
			return nil, errors.Trace(err)
		}
	}
	entry := &cacheEntry{ref: ref}
	r.cache.Add(key, entry)
	return entry, nil
}

func (r *Revealer) revealTag(ctx context.Context, tag refs.Tag) (string, error) {
	entry, err := r.lookup(ctx, tag, false)
	if err != nil {
		return "", errors.Trace(err)
	}
	if !entry.revealed {
		plaintext, err := r.controller.Reveal(ctx, entry.ref)
		if err != nil {
			return "", errors.Trace(err)
		}
		entry.plaintext, entry.revealed = plaintext, true
	}
	if tag.Token.SubPath == "" {
		return entry.plaintext, nil
	}
	return subPathValue(tag.Token, entry.plaintext)
}

func (r *Revealer) compileTag(ctx context.Context, tag refs.Tag) (string, error) {
	entry, err := r.lookup(ctx, tag, true)
	if err != nil {
		return "", errors.Trace(err)
	}
	return r.controller.Compile(entry.ref, tag.Token.SubPath)
}

// subPathValue parses plaintext as YAML (a superset of JSON) and
// descends the dotted sub-path of tok.
func subPathValue(tok refs.Token, plaintext string) (string, error) {
	var doc interface{}
	if err := yaml.Unmarshal([]byte(plaintext), &doc); err != nil {
		return "", errors.WithType(errors.Annotatef(err,
			"ref %s: sub-path %q needs structured data", tok.Bare(), tok.SubPath), refs.ErrSubPathNotFound)
	}
	value := doc
	for _, key := range strings.Split(tok.SubPath, ".") {
		m, ok := value.(map[string]interface{})
		if !ok {
			return "", subPathNotFound(tok)
		}
		if value, ok = m[key]; !ok {
			return "", subPathNotFound(tok)
		}
	}
	switch v := value.(type) {
	case string:
		return v, nil
	case map[string]interface{}, []interface{}:
		out, err := yaml.Marshal(v)
		if err != nil {
			return "", errors.Trace(err)
		}
		return strings.TrimSuffix(string(out), "\n"), nil
	case nil:
		return "", nil
	default:
		return fmt.Sprint(v), nil
	}
}

func subPathNotFound(tok refs.Token) error {
	return errors.WithType(errors.Errorf(
		"ref %s: sub-path %q not found", tok.Bare(), tok.SubPath), refs.ErrSubPathNotFound)
}

// RevealRaw replaces every tag in s with its plaintext.
func (r *Revealer) RevealRaw(ctx context.Context, s string) (string, error) {
	out, err := refs.ReplaceTags(s, func(tag refs.Tag) (string, error) {
		return r.revealTag(ctx, tag)
	})
	return out, errors.Trace(err)
}

// CompileRaw replaces every tag in s with its compiled form, creating
// function chain refs that do not exist yet.
func (r *Revealer) CompileRaw(ctx context.Context, s string) (string, error) {
	out, err := refs.ReplaceTags(s, func(tag refs.Tag) (string, error) {
		return r.compileTag(ctx, tag)
	})
	return out, errors.Trace(err)
}

// RevealObject reveals every string leaf of a nested structure of maps
// and slices. Maps and slices are updated in place.
func (r *Revealer) RevealObject(ctx context.Context, obj interface{}) (interface{}, error) {
	return r.walkObject(obj, func(s string) (string, error) {
		return r.RevealRaw(ctx, s)
	})
}

// CompileObject compiles every string leaf of a nested structure.
func (r *Revealer) CompileObject(ctx context.Context, obj interface{}) (interface{}, error) {
	return r.walkObject(obj, func(s string) (string, error) {
		return r.CompileRaw(ctx, s)
	})
}

func (r *Revealer) walkObject(obj interface{}, fn func(string) (string, error)) (interface{}, error) {
	switch v := obj.(type) {
	case string:
		if !refs.ContainsTag(v) {
			return v, nil
		}
		return fn(v)
	case map[string]interface{}:
		for k, item := range v {
			out, err := r.walkObject(item, fn)
			if err != nil {
				return nil, errors.Annotatef(err, "key %q", k)
			}
			v[k] = out
		}
		return v, nil
	case map[interface{}]interface{}:
		for k, item := range v {
			out, err := r.walkObject(item, fn)
			if err != nil {
				return nil, errors.Annotatef(err, "key %v", k)
			}
			v[k] = out
		}
		return v, nil
	case []interface{}:
		for i, item := range v {
			out, err := r.walkObject(item, fn)
			if err != nil {
				return nil, errors.Annotatef(err, "index %d", i)
			}
			v[i] = out
		}
		return v, nil
	}
	return obj, nil
}

// RevealFile reveals the file at path line by line.
func (r *Revealer) RevealFile(ctx context.Context, path string) (string, error) {
	return r.processFile(path, func(line string) (string, error) {
		return r.RevealRaw(ctx, line)
	})
}

// CompileFile compiles the file at path line by line.
func (r *Revealer) CompileFile(ctx context.Context, path string) (string, error) {
	return r.processFile(path, func(line string) (string, error) {
		return r.CompileRaw(ctx, line)
	})
}

func (r *Revealer) processFile(path string, fn func(string) (string, error)) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Trace(err)
	}
	var sb strings.Builder
	for i, line := range strings.SplitAfter(string(data), "\n") {
		out, err := fn(line)
		if err != nil {
			return "", errors.Annotatef(err, "%s:%d", path, i+1)
		}
		sb.WriteString(out)
	}
	return sb.String(), nil
}

// Output is the revealed content of one file.
type Output struct {
	Path        string
	ContentType string
	Content     string
}

// RevealPath reveals a file, or every non hidden file below a
// directory in lexical order. YAML and JSON files are revealed as
// structured documents, anything else as text.
func (r *Revealer) RevealPath(ctx context.Context, path string) ([]Output, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !info.IsDir() {
		out, err := r.revealPathFile(ctx, path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return []Output{out}, nil
	}
	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != path && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	sort.Strings(files)
	outputs := make([]Output, 0, len(files))
	for _, f := range files {
		out, err := r.revealPathFile(ctx, f)
		if err != nil {
			return nil, errors.Trace(err)
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

func (r *Revealer) revealPathFile(ctx context.Context, path string) (Output, error) {
	out := Output{Path: path, ContentType: ContentText}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		out.ContentType = ContentYAML
	case ".json":
		out.ContentType = ContentJSON
	}
	var (
		content string
		err     error
	)
	switch out.ContentType {
	case ContentYAML:
		content, err = r.revealYAML(ctx, path)
	case ContentJSON:
		content, err = r.revealJSON(ctx, path)
	default:
		content, err = r.RevealFile(ctx, path)
	}
	if err != nil {
		return Output{}, errors.Annotatef(err, "revealing %s", path)
	}
	out.Content = content
	return out, nil
}

func (r *Revealer) revealYAML(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Trace(err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	for {
		var doc interface{}
		if err := dec.Decode(&doc); err == io.EOF {
			break
		} else if err != nil {
			return "", errors.Annotate(err, "parsing YAML")
		}
		revealed, err := r.RevealObject(ctx, doc)
		if err != nil {
			return "", errors.Trace(err)
		}
		if err := enc.Encode(revealed); err != nil {
			return "", errors.Trace(err)
		}
	}
	if err := enc.Close(); err != nil {
		return "", errors.Trace(err)
	}
	return buf.String(), nil
}

func (r *Revealer) revealJSON(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Trace(err)
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", errors.Annotate(err, "parsing JSON")
	}
	revealed, err := r.RevealObject(ctx, doc)
	if err != nil {
		return "", errors.Trace(err)
	}
	out, err := json.MarshalIndent(revealed, "", "  ")
	if err != nil {
		return "", errors.Trace(err)
	}
	return string(out) + "\n", nil
}

// WriteOutputs writes outputs to w, grouped by content type: YAML
// documents separated by "---", then JSON documents, then text.
func WriteOutputs(w io.Writer, outputs []Output) error {
	for _, contentType := range []string{ContentYAML, ContentJSON, ContentText} {
		first := true
		for _, out := range outputs {
			if out.ContentType != contentType {
				continue
			}
			if contentType == ContentYAML && !first {
				if _, err := io.WriteString(w, "---\n"); err != nil {
					return errors.Trace(err)
				}
			}
			first = false
			if _, err := io.WriteString(w, out.Content); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return nil
}
