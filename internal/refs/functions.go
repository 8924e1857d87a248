// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package refs

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"math/big"
	"strconv"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"golang.org/x/crypto/ssh"

	"github.com/kapicorp/kapitan/core/refs"
)

const (
	defaultRandomLength = 43
	defaultRSABits      = 4096
	minRSABits          = 1024

	lowerAlpha   = "abcdefghijklmnopqrstuvwxyz"
	upperAlpha   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits       = "0123456789"
	punctuation  = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
	basicAuthLen = 8
)

// FunctionContext is threaded through a function chain. Each function
// reads and replaces Data; base64 only flips Encoding.
type FunctionContext struct {
	Data     string
	Encoding refs.Encoding
	Token    refs.Token

	controller *Controller
}

type refFunc struct {
	minArgs, maxArgs int
	run              func(ctx context.Context, fctx *FunctionContext, args []string) error
}

var functions = map[string]refFunc{
	"randomstr":     {0, 1, randomStr},
	"random":        {1, 3, random},
	"loweralphanum": {0, 1, charsetFunc(lowerAlpha + digits)},
	"upperalphanum": {0, 1, charsetFunc(upperAlpha + digits)},
	"sha256":        {0, 1, sha256Func},
	"ed25519":       {0, 0, ed25519Func},
	"rsa":           {0, 1, rsaFunc},
	"rsapublic":     {0, 0, publicKeyFunc},
	"publickey":     {0, 0, publicKeyFunc},
	"reveal":        {1, 1, revealFunc},
	"basicauth":     {0, 2, basicAuth},
	"base64":        {0, 0, base64Func},
}

// FunctionNames returns the names of every chain function, sorted.
func FunctionNames() []string {
	names := set.NewStrings()
	for name := range functions {
		names.Add(name)
	}
	return names.SortedValues()
}

func functionError(format string, args ...interface{}) error {
	return errors.WithType(errors.Errorf(format, args...), refs.ErrFunction)
}

func (fctx *FunctionContext) eval(ctx context.Context, calls []refs.FuncCall) error {
	for _, call := range calls {
		fn, ok := functions[call.Name]
		if !ok {
			return functionError("ref function error: unknown function %q, valid functions are: %v",
				call.Name, FunctionNames())
		}
		if n := len(call.Args); n < fn.minArgs || n > fn.maxArgs {
			return functionError("ref function error: %s takes %d to %d arguments, got %d, valid functions are: %v",
				call.Name, fn.minArgs, fn.maxArgs, n, FunctionNames())
		}
		if err := fn.run(ctx, fctx, call.Args); err != nil {
			return errors.Annotatef(err, "function %s", call.Name)
		}
	}
	return nil
}

func intArg(args []string, i int, def int, name string) (int, error) {
	if len(args) <= i || args[i] == "" {
		return def, nil
	}
	n, err := strconv.Atoi(args[i])
	if err != nil || n <= 0 {
		return 0, functionError("ref function error: %s must be a positive integer, got %q", name, args[i])
	}
	return n, nil
}

func randomStr(_ context.Context, fctx *FunctionContext, args []string) error {
	n, err := intArg(args, 0, defaultRandomLength, "length")
	if err != nil {
		return errors.Trace(err)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return errors.Trace(err)
	}
	fctx.Data = base64.RawURLEncoding.EncodeToString(buf)[:n]
	return nil
}

var randomCharsets = map[string]string{
	"int":           digits,
	"loweralpha":    lowerAlpha,
	"upperalpha":    upperAlpha,
	"loweralphanum": lowerAlpha + digits,
	"upperalphanum": upperAlpha + digits,
	"special":       lowerAlpha + upperAlpha + digits,
}

func random(ctx context.Context, fctx *FunctionContext, args []string) error {
	kind := args[0]
	if kind == "str" {
		if len(args) > 2 {
			return functionError("ref function error: random:str takes no special characters")
		}
		return randomStr(ctx, fctx, args[1:])
	}
	charset, ok := randomCharsets[kind]
	if !ok {
		kinds := set.NewStrings("str")
		for k := range randomCharsets {
			kinds.Add(k)
		}
		return functionError("ref function error: unknown random type %q, valid types are: %v",
			kind, kinds.SortedValues())
	}
	n, err := intArg(args, 1, defaultRandomLength, "length")
	if err != nil {
		return errors.Trace(err)
	}
	var special string
	if len(args) > 2 {
		if kind != "special" {
			return functionError("ref function error: only random:special accepts special characters")
		}
		special = args[2]
	} else if kind == "special" {
		special = punctuation
	}
	s, err := randomFrom(charset+special, n)
	if err != nil {
		return errors.Trace(err)
	}
	fctx.Data = s
	return nil
}

func charsetFunc(charset string) func(context.Context, *FunctionContext, []string) error {
	return func(_ context.Context, fctx *FunctionContext, args []string) error {
		n, err := intArg(args, 0, defaultRandomLength, "length")
		if err != nil {
			return errors.Trace(err)
		}
		s, err := randomFrom(charset, n)
		if err != nil {
			return errors.Trace(err)
		}
		fctx.Data = s
		return nil
	}
}

func randomFrom(charset string, n int) (string, error) {
	max := big.NewInt(int64(len(charset)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Trace(err)
		}
		out[i] = charset[idx.Int64()]
	}
	return string(out), nil
}

func sha256Func(_ context.Context, fctx *FunctionContext, args []string) error {
	if fctx.Data == "" {
		return functionError("ref function error: sha256 needs data, chain it after a generating function")
	}
	input := fctx.Data
	if len(args) == 1 && args[0] != "" {
		input = args[0] + ":" + input
	}
	sum := sha256.Sum256([]byte(input))
	fctx.Data = hex.EncodeToString(sum[:])
	return nil
}

func ed25519Func(_ context.Context, fctx *FunctionContext, _ []string) error {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return errors.Trace(err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return errors.Trace(err)
	}
	fctx.Data = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	return nil
}

func rsaFunc(_ context.Context, fctx *FunctionContext, args []string) error {
	bits, err := intArg(args, 0, defaultRSABits, "key size")
	if err != nil {
		return errors.Trace(err)
	}
	if bits < minRSABits {
		return functionError("ref function error: rsa key size %d is below %d", bits, minRSABits)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return errors.Trace(err)
	}
	fctx.Data = string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
	return nil
}

func publicKeyFunc(_ context.Context, fctx *FunctionContext, _ []string) error {
	if fctx.Data == "" {
		return functionError("ref function error: public key derivation needs a private key, chain it after reveal or a key function")
	}
	key, err := ssh.ParseRawPrivateKey([]byte(fctx.Data))
	if err != nil {
		return functionError("ref function error: parsing private key: %v", err)
	}
	if k, ok := key.(*ed25519.PrivateKey); ok {
		key = *k
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return functionError("ref function error: unsupported private key type %T", key)
	}
	public := signer.Public()
	der, err := x509.MarshalPKIXPublicKey(public)
	if err != nil {
		return functionError("ref function error: encoding public key: %v", err)
	}
	fctx.Data = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	return nil
}

func revealFunc(ctx context.Context, fctx *FunctionContext, args []string) error {
	if fctx.controller == nil {
		return functionError("ref function error: reveal needs a controller")
	}
	tok := refs.Token{Type: fctx.Token.Type, Path: args[0]}
	ref, err := fctx.controller.resolveToken(tok)
	if err != nil {
		return errors.Annotatef(err, "revealing %s", tok.Bare())
	}
	plaintext, err := fctx.controller.Reveal(ctx, ref)
	if err != nil {
		return errors.Trace(err)
	}
	fctx.Data = plaintext
	return nil
}

func basicAuth(_ context.Context, fctx *FunctionContext, args []string) error {
	creds := make([]string, 2)
	for i := range creds {
		if i < len(args) && args[i] != "" {
			creds[i] = args[i]
			continue
		}
		s, err := randomFrom(lowerAlpha+upperAlpha+digits, basicAuthLen)
		if err != nil {
			return errors.Trace(err)
		}
		creds[i] = s
	}
	fctx.Data = base64.StdEncoding.EncodeToString([]byte(creds[0] + ":" + creds[1]))
	return nil
}

func base64Func(_ context.Context, fctx *FunctionContext, _ []string) error {
	fctx.Encoding = refs.EncodingBase64
	return nil
}
