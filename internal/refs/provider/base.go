// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package provider

import (
	"encoding/base64"

	"github.com/juju/errors"
	"github.com/juju/schema"
	"github.com/mitchellh/mapstructure"

	"github.com/kapicorp/kapitan/core/refs"
)

// Base implements the record handling shared by every backend.
// Backends embed it and add Encrypt and Decrypt.
type Base struct {
	TypeName string
}

// Type is part of the SecretBackend interface.
func (b Base) Type() string {
	return b.TypeName
}

// Load is part of the SecretBackend interface.
func (b Base) Load(path string, rec refs.Record) (*refs.Ref, error) {
	if rec.Type() != b.TypeName {
		return nil, errors.WithType(errors.Errorf(
			"ref error: ref at %q has type %q, expected %q", path, rec.Type(), b.TypeName), refs.ErrRef)
	}
	ref, err := rec.Ref(path)
	return ref, errors.Trace(err)
}

// Dump is part of the SecretBackend interface.
func (b Base) Dump(ref *refs.Ref) refs.Record {
	return ref.Record()
}

// NewRef returns a stamped ref of the backend's type.
func (b Base) NewRef(params CreateParams, data string, extra map[string]interface{}) *refs.Ref {
	encoding := params.Encoding
	if encoding == "" {
		encoding = refs.EncodingOriginal
	}
	ref := &refs.Ref{
		Type:     b.TypeName,
		Path:     params.Path,
		Data:     data,
		Encoding: encoding,
		Params:   extra,
	}
	ref.Stamp()
	return ref
}

// EncodeData base64 encodes ciphertext for storage in a ref.
func EncodeData(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeData reverses EncodeData.
func DecodeData(ref *refs.Ref) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(ref.Data)
	if err != nil {
		return nil, errors.WithType(
			errors.Annotatef(err, "ref error: decoding data of %s ref %q", ref.Type, ref.Path), refs.ErrRef)
	}
	return data, nil
}

// DecodeParams decodes a parameter map into the struct pointed to by out,
// using mapstructure tags and weak typing (inventory values are often
// strings).
func DecodeParams(in map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(decoder.Decode(in))
}

// CoerceParams checks a parameter map against fields, filling in
// defaults. Unknown keys are dropped.
func CoerceParams(fields schema.Fields, defaults schema.Defaults, in map[string]interface{}) (map[string]interface{}, error) {
	if in == nil {
		in = map[string]interface{}{}
	}
	out, err := schema.FieldMap(fields, defaults).Coerce(in, nil)
	if err != nil {
		return nil, errors.NotValidf("parameters: %v", err)
	}
	return out.(map[string]interface{}), nil
}

// StringParam returns the string value of key in params.
func StringParam(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return s
}

// DecodeRecipients decodes a recipients list as found in inventory
// parameters and ref records.
func DecodeRecipients(v interface{}) ([]Recipient, error) {
	if v == nil {
		return nil, nil
	}
	var out struct {
		Recipients []Recipient `mapstructure:"recipients"`
	}
	if err := DecodeParams(map[string]interface{}{"recipients": v}, &out); err != nil {
		return nil, errors.Annotate(err, "decoding recipients")
	}
	return out.Recipients, nil
}

// RecipientsRecord returns the persisted form of recipients.
func RecipientsRecord(recipients []Recipient) []interface{} {
	out := make([]interface{}, 0, len(recipients))
	for _, r := range recipients {
		m := map[string]interface{}{}
		if r.Name != "" {
			m["name"] = r.Name
		}
		if r.Fingerprint != "" {
			m["fingerprint"] = r.Fingerprint
		}
		out = append(out, m)
	}
	return out
}
