// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package refs

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/juju/errors"
)

// Encoding describes the content of a ref's plaintext.
type Encoding string

const (
	// EncodingOriginal is plaintext as supplied.
	EncodingOriginal Encoding = "original"
	// EncodingBase64 marks plaintext that is itself base64 content.
	EncodingBase64 Encoding = "base64"
)

// Validate returns an error if the encoding is unknown.
func (e Encoding) Validate() error {
	switch e {
	case EncodingOriginal, EncodingBase64:
		return nil
	}
	return errors.NotValidf("encoding %q", string(e))
}

const (
	typeKey     = "type"
	dataKey     = "data"
	encodingKey = "encoding"
)

// Ref is a single reference value: backend payload plus the metadata
// needed to resolve it. Type selects the backend; Params carries the
// backend specific persisted fields and is only interpreted by that
// backend.
type Ref struct {
	Type     string
	Path     string
	Data     string
	Encoding Encoding
	Params   map[string]interface{}

	// Embedded is set when the ref was resolved from an embedded token;
	// Path then holds the encoded record.
	Embedded bool

	// Hash and Token are set by Stamp.
	Hash  string
	Token string
}

// Stamp computes the content hash and token of the ref.
func (r *Ref) Stamp() {
	sum := sha256.Sum256([]byte(r.Path + r.Data))
	r.Hash = hex.EncodeToString(sum[:])
	r.Token = fmt.Sprintf("%s:%s:%s", r.Type, r.Path, r.Hash[:8])
}

// ShortHash returns the first 8 characters of the content hash.
func (r *Ref) ShortHash() string {
	if len(r.Hash) < 8 {
		r.Stamp()
	}
	return r.Hash[:8]
}

// Compile returns the short, integrity stamped tag for the ref.
func (r *Ref) Compile() string {
	return fmt.Sprintf("?{%s:%s:%s}", r.Type, r.Path, r.ShortHash())
}

// CompileEmbedded returns a self-contained tag carrying the whole
// persisted record of the ref.
func (r *Ref) CompileEmbedded() (string, error) {
	blob, err := EncodeEmbedded(r.Record())
	if err != nil {
		return "", errors.Trace(err)
	}
	return fmt.Sprintf("?{%s:%s:%s}", r.Type, blob, EmbeddedSuffix), nil
}

// Record returns the persisted form of the ref.
func (r *Ref) Record() Record {
	rec := make(Record, len(r.Params)+3)
	for k, v := range r.Params {
		rec[k] = v
	}
	rec[typeKey] = r.Type
	rec[dataKey] = r.Data
	encoding := r.Encoding
	if encoding == "" {
		encoding = EncodingOriginal
	}
	rec[encodingKey] = string(encoding)
	return rec
}

// Clone returns a copy of the ref with its own params map.
func (r *Ref) Clone() *Ref {
	out := *r
	if r.Params != nil {
		out.Params = make(map[string]interface{}, len(r.Params))
		for k, v := range r.Params {
			out.Params[k] = v
		}
	}
	return &out
}

// Record is the structured form of a ref as written to a ref file:
// type, data, encoding and any backend specific fields.
type Record map[string]interface{}

// Type returns the record's type field.
func (r Record) Type() string {
	s, _ := r[typeKey].(string)
	return s
}

// Ref reconstructs a stamped ref from the record, stored at path.
func (r Record) Ref(path string) (*Ref, error) {
	typ, ok := r[typeKey].(string)
	if !ok || typ == "" {
		return nil, errors.WithType(errors.Errorf("ref error: record at %q has no type", path), ErrRef)
	}
	data, ok := r[dataKey].(string)
	if !ok {
		if r[dataKey] != nil {
			return nil, errors.WithType(
				errors.Errorf("ref error: record at %q has non string data", path), ErrRef)
		}
	}
	encoding := EncodingOriginal
	if v, ok := r[encodingKey]; ok && v != nil {
		s, _ := v.(string)
		encoding = Encoding(s)
	}
	if err := encoding.Validate(); err != nil {
		return nil, errors.Annotatef(err, "ref at %q", path)
	}
	ref := &Ref{
		Type:     typ,
		Path:     path,
		Data:     data,
		Encoding: encoding,
	}
	for k, v := range r {
		switch k {
		case typeKey, dataKey, encodingKey:
			continue
		}
		if ref.Params == nil {
			ref.Params = make(map[string]interface{})
		}
		ref.Params[k] = v
	}
	ref.Stamp()
	return ref, nil
}

// EncodeEmbedded serialises a record into the base64 blob used as the
// path of an embedded token.
func EncodeEmbedded(rec Record) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", errors.Annotate(err, "encoding embedded ref")
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeEmbedded reconstructs the ref carried by an embedded token.
func DecodeEmbedded(tok Token) (*Ref, error) {
	if !tok.Embedded {
		return nil, errors.WithType(errors.Errorf("ref error: token %q is not embedded", tok), ErrRef)
	}
	data, err := base64.StdEncoding.DecodeString(tok.Path)
	if err != nil {
		return nil, errors.WithType(errors.Annotatef(err, "ref error: decoding embedded %s ref", tok.Type), ErrRef)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.WithType(errors.Annotatef(err, "ref error: decoding embedded %s ref", tok.Type), ErrRef)
	}
	if rec.Type() != tok.Type {
		return nil, errors.WithType(errors.Errorf(
			"ref error: embedded ref type %q does not match token type %q", rec.Type(), tok.Type), ErrRef)
	}
	ref, err := rec.Ref(tok.Path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	ref.Token = tok.String()
	return ref, nil
}
