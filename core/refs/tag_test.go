// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package refs_test

import (
	"strings"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/kapicorp/kapitan/core/refs"
)

type tagSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&tagSuite{})

func (s *tagSuite) TestParseTag(c *gc.C) {
	for i, t := range []struct {
		tag   string
		token refs.Token
		chain string
	}{{
		tag:   "?{gpg:path/to/secret}",
		token: refs.Token{Type: "gpg", Path: "path/to/secret"},
	}, {
		tag:   "?{base64:my/secret:deadbeef}",
		token: refs.Token{Type: "base64", Path: "my/secret", Hash: "deadbeef"},
	}, {
		tag:   "?{plain:my/secret@a.b-c}",
		token: refs.Token{Type: "plain", Path: "my/secret", SubPath: "a.b-c"},
	}, {
		tag:   "?{gkms:a/b||randomstr:32|sha256}",
		token: refs.Token{Type: "gkms", Path: "a/b"},
		chain: "randomstr:32|sha256",
	}, {
		tag:   "?{plain:eyJhIjoiYiJ9Cg+/==:embedded}",
		token: refs.Token{Type: "plain", Path: "eyJhIjoiYiJ9Cg+/==", Embedded: true},
	}} {
		c.Logf("test %d: %s", i, t.tag)
		tag, err := refs.ParseTag(t.tag)
		c.Assert(err, jc.ErrorIsNil)
		c.Check(tag.Full, gc.Equals, t.tag)
		c.Check(tag.Token, jc.DeepEquals, t.token)
		c.Check(tag.FuncChain, gc.Equals, t.chain)
		c.Check(tag.HasFuncChain(), gc.Equals, t.chain != "")
	}
}

func (s *tagSuite) TestParseTagErrors(c *gc.C) {
	for i, t := range []struct {
		tag string
		err string
	}{{
		tag: "?{gpg}",
		err: `ref error: could not parse tag .*try something like.*`,
	}, {
		tag: "?{gpg:a/b:nothex}",
		err: `ref error: token "gpg:a/b:nothex" has an invalid suffix "nothex".*`,
	}, {
		tag: "?{gpg:a/b@x.y||randomstr}",
		err: `ref error: tag .* combines a sub-path with a function chain.*`,
	}, {
		tag: "?{gpg:a/b:deadbeef||randomstr}",
		err: `ref error: tag .* combines a stamped token with a function chain`,
	}, {
		tag: "?{gpg:a/b||}",
		err: `ref error: empty function chain.*`,
	}, {
		tag: "?{gpg:a/b@.x}",
		err: `ref error: token .* has an invalid sub-path ".x"`,
	}, {
		tag: "prefix ?{gpg:a/b}",
		err: `ref error: could not parse tag .*`,
	}} {
		c.Logf("test %d: %s", i, t.tag)
		_, err := refs.ParseTag(t.tag)
		c.Check(err, gc.ErrorMatches, t.err)
		c.Check(errors.Is(err, refs.ErrRef), jc.IsTrue)
	}
}

func (s *tagSuite) TestTokenString(c *gc.C) {
	tok := refs.Token{Type: "gpg", Path: "a/b", SubPath: "x.y", Hash: "0123abcd"}
	c.Assert(tok.String(), gc.Equals, "gpg:a/b@x.y:0123abcd")
	c.Assert(tok.Bare(), gc.Equals, "gpg:a/b")

	tok = refs.Token{Type: "plain", Path: "blob", Embedded: true}
	c.Assert(tok.String(), gc.Equals, "plain:blob:embedded")
}

func (s *tagSuite) TestParseFuncChain(c *gc.C) {
	calls, err := refs.ParseFuncChain("random:str:10|sha256:salt|base64")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(calls, jc.DeepEquals, []refs.FuncCall{
		{Name: "random", Args: []string{"str", "10"}},
		{Name: "sha256", Args: []string{"salt"}},
		{Name: "base64", Args: []string{}},
	})

	_, err = refs.ParseFuncChain("random||sha256")
	c.Assert(err, gc.ErrorMatches, `ref error: invalid function "" in chain .*`)
}

func (s *tagSuite) TestFindTags(c *gc.C) {
	text := "user: ?{plain:db/user}\npass: ?{gpg:db/pass||randomstr:16} and ?{foo} ?{base64:x:0011aabb}"
	tags, err := refs.FindTags(text)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(tags, gc.HasLen, 3)
	c.Check(tags[0].Token.Bare(), gc.Equals, "plain:db/user")
	c.Check(tags[1].FuncChain, gc.Equals, "randomstr:16")
	c.Check(tags[2].Token.Hash, gc.Equals, "0011aabb")
}

func (s *tagSuite) TestFindTagsMalformed(c *gc.C) {
	tags, err := refs.FindTags("nothing here ?{}")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(tags, gc.HasLen, 0)
}

func (s *tagSuite) TestContainsTag(c *gc.C) {
	c.Check(refs.ContainsTag("pass: ?{gpg:db/pass}"), jc.IsTrue)
	c.Check(refs.ContainsTag("nothing here ?{}"), jc.IsFalse)
	c.Check(refs.ContainsTag("plain text"), jc.IsFalse)
}

func (s *tagSuite) TestReplaceTags(c *gc.C) {
	out, err := refs.ReplaceTags("a=?{plain:a} b=?{plain:b}!", func(t refs.Tag) (string, error) {
		return strings.ToUpper(t.Token.Path), nil
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(out, gc.Equals, "a=A b=B!")

	out, err = refs.ReplaceTags("no tags", nil)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(out, gc.Equals, "no tags")

	_, err = refs.ReplaceTags("?{plain:a}", func(t refs.Tag) (string, error) {
		return "", errors.New("boom")
	})
	c.Assert(err, gc.ErrorMatches, "boom")
}
