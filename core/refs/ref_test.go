// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package refs_test

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/kapicorp/kapitan/core/refs"
)

type refSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&refSuite{})

func (s *refSuite) TestStamp(c *gc.C) {
	ref := &refs.Ref{Type: "base64", Path: "secret/x", Data: "aGk="}
	ref.Stamp()
	sum := sha256.Sum256([]byte("secret/x" + "aGk="))
	c.Assert(ref.Hash, gc.Equals, hex.EncodeToString(sum[:]))
	c.Assert(ref.Token, gc.Equals, "base64:secret/x:"+ref.Hash[:8])
	c.Assert(ref.Compile(), gc.Equals, "?{base64:secret/x:"+ref.Hash[:8]+"}")
}

func (s *refSuite) TestCompileIsStable(c *gc.C) {
	ref := &refs.Ref{Type: "plain", Path: "a", Data: "b"}
	first := ref.Compile()
	c.Assert(ref.Compile(), gc.Equals, first)

	ref.Data = "c"
	ref.Stamp()
	c.Assert(ref.Compile(), gc.Not(gc.Equals), first)
}

func (s *refSuite) TestRecordRoundTrip(c *gc.C) {
	ref := &refs.Ref{
		Type:     "gpg",
		Path:     "a/b",
		Data:     "Y2lwaGVy",
		Encoding: refs.EncodingBase64,
		Params: map[string]interface{}{
			"recipients": []interface{}{map[string]interface{}{"fingerprint": "ABC"}},
		},
	}
	rec := ref.Record()
	c.Assert(rec, jc.DeepEquals, refs.Record{
		"type":       "gpg",
		"data":       "Y2lwaGVy",
		"encoding":   "base64",
		"recipients": []interface{}{map[string]interface{}{"fingerprint": "ABC"}},
	})
	c.Assert(rec.Type(), gc.Equals, "gpg")

	loaded, err := rec.Ref("a/b")
	c.Assert(err, jc.ErrorIsNil)
	ref.Stamp()
	c.Assert(loaded, jc.DeepEquals, ref)
}

func (s *refSuite) TestRecordDefaultsEncoding(c *gc.C) {
	ref, err := refs.Record{"type": "plain", "data": "x"}.Ref("p")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ref.Encoding, gc.Equals, refs.EncodingOriginal)
	c.Assert(ref.Params, gc.IsNil)
}

func (s *refSuite) TestRecordErrors(c *gc.C) {
	_, err := refs.Record{"data": "x"}.Ref("p")
	c.Assert(err, gc.ErrorMatches, `ref error: record at "p" has no type`)

	_, err = refs.Record{"type": "plain", "data": 1}.Ref("p")
	c.Assert(err, gc.ErrorMatches, `ref error: record at "p" has non string data`)

	_, err = refs.Record{"type": "plain", "data": "x", "encoding": "rot13"}.Ref("p")
	c.Assert(err, gc.ErrorMatches, `ref at "p": encoding "rot13" not valid`)
	c.Assert(errors.Is(err, errors.NotValid), jc.IsTrue)
}

func (s *refSuite) TestEmbeddedRoundTrip(c *gc.C) {
	ref := &refs.Ref{Type: "base64", Path: "a/b", Data: "aGk=", Encoding: refs.EncodingOriginal}
	tagText, err := ref.CompileEmbedded()
	c.Assert(err, jc.ErrorIsNil)

	tag, err := refs.ParseTag(tagText)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(tag.Token.Embedded, jc.IsTrue)

	decoded, err := refs.DecodeEmbedded(tag.Token)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(decoded.Type, gc.Equals, "base64")
	c.Assert(decoded.Data, gc.Equals, "aGk=")
	c.Assert(decoded.Encoding, gc.Equals, refs.EncodingOriginal)
	c.Assert(decoded.Token, gc.Equals, tag.Token.String())
}

func (s *refSuite) TestDecodeEmbeddedTypeMismatch(c *gc.C) {
	blob, err := refs.EncodeEmbedded(refs.Record{"type": "plain", "data": "x"})
	c.Assert(err, jc.ErrorIsNil)
	_, err = refs.DecodeEmbedded(refs.Token{Type: "gpg", Path: blob, Embedded: true})
	c.Assert(err, gc.ErrorMatches, `ref error: embedded ref type "plain" does not match token type "gpg"`)

	_, err = refs.DecodeEmbedded(refs.Token{Type: "gpg", Path: "a/b"})
	c.Assert(err, gc.ErrorMatches, `ref error: token "gpg:a/b" is not embedded`)
}

func (s *refSuite) TestClone(c *gc.C) {
	ref := &refs.Ref{Type: "plain", Params: map[string]interface{}{"key": "a"}}
	clone := ref.Clone()
	clone.Params["key"] = "b"
	c.Assert(ref.Params["key"], gc.Equals, "a")
}
