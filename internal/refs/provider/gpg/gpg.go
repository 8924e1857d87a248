// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package gpg provides the gpg ref backend. Values are encrypted to,
// and signed for, a list of recipients with the gpg binary; the keys
// live in the user's keyring (or GNUPGHOME).
package gpg

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/kapicorp/kapitan/core/refs"
	"github.com/kapicorp/kapitan/internal/refs/provider"
)

var logger = loggo.GetLogger("kapitan.refs.provider.gpg")

const (
	// BackendType is the ref type handled by this backend.
	BackendType = "gpg"

	// RunnerKey names the gpg runner in the backend clients.
	RunnerKey = "gpg"

	recipientsParam = "recipients"
)

// Runner runs gpg with args, feeding it stdin, and returns its stdout.
type Runner interface {
	Run(ctx context.Context, stdin []byte, args ...string) ([]byte, error)
}

// NewRunner returns a Runner executing the gpg binary at path.
func NewRunner(path string) Runner {
	return execRunner{path: path}
}

type execRunner struct {
	path string
}

func (r execRunner) Run(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.path, append([]string{"--batch", "--yes", "--no-tty"}, args...)...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// gpg failures are deterministic: bad keys, missing
			// secret keys, corrupt input.
			return nil, provider.Permanent(errors.Errorf("gpg %s: %s", args[0], msg))
		}
		return nil, errors.Annotatef(err, "running gpg")
	}
	return stdout.Bytes(), nil
}

type gpgBackend struct {
	provider.Base
	config provider.BackendConfig
	clock  clock.Clock
}

// NewBackend returns the gpg backend.
func NewBackend(cfg provider.BackendConfig) (provider.SecretBackend, error) {
	return &gpgBackend{
		Base:   provider.Base{TypeName: BackendType},
		config: cfg,
		clock:  clock.WallClock,
	}, nil
}

func (b *gpgBackend) runner() (Runner, error) {
	return provider.Client(b.config.Clients, RunnerKey, func() (Runner, error) {
		path, err := exec.LookPath("gpg")
		if err != nil {
			return nil, errors.NotFoundf("gpg binary")
		}
		return NewRunner(path), nil
	})
}

func (b *gpgBackend) run(ctx context.Context, op string, stdin []byte, args ...string) ([]byte, error) {
	runner, err := b.runner()
	if err != nil {
		return nil, errors.Trace(err)
	}
	var out []byte
	err = b.config.Caller.Call(ctx, BackendType, op, func(ctx context.Context) error {
		var err error
		out, err = runner.Run(ctx, stdin, args...)
		return err
	})
	return out, errors.Trace(err)
}

// Encrypt is part of the SecretBackend interface.
func (b *gpgBackend) Encrypt(ctx context.Context, plaintext []byte, params provider.CreateParams) (*refs.Ref, error) {
	recipients := params.Recipients
	if len(recipients) == 0 {
		target, err := params.TargetParams(b.config.Inventory, BackendType)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if recipients, err = provider.DecodeRecipients(target[recipientsParam]); err != nil {
			return nil, errors.Trace(err)
		}
	}
	resolved, err := b.resolve(ctx, recipients)
	if err != nil {
		return nil, errors.Annotatef(err, "gpg ref %q", params.Path)
	}
	ciphertext, err := b.encrypt(ctx, plaintext, resolved)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return b.NewRef(params, provider.EncodeData(ciphertext), map[string]interface{}{
		recipientsParam: provider.RecipientsRecord(resolved),
	}), nil
}

func (b *gpgBackend) encrypt(ctx context.Context, plaintext []byte, recipients []provider.Recipient) ([]byte, error) {
	args := []string{"--encrypt", "--sign", "--trust-model", "always"}
	for _, r := range recipients {
		args = append(args, "--recipient", r.Fingerprint)
	}
	return b.run(ctx, "encrypt", plaintext, args...)
}

// Decrypt is part of the SecretBackend interface.
func (b *gpgBackend) Decrypt(ctx context.Context, ref *refs.Ref) ([]byte, error) {
	ciphertext, err := provider.DecodeData(ref)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return b.run(ctx, "decrypt", ciphertext, "--decrypt")
}

// UpdateRecipients is part of the RecipientsUpdater interface.
func (b *gpgBackend) UpdateRecipients(ctx context.Context, ref *refs.Ref, recipients []provider.Recipient) (bool, error) {
	resolved, err := b.resolve(ctx, recipients)
	if err != nil {
		return false, errors.Trace(err)
	}
	current, err := provider.DecodeRecipients(ref.Params[recipientsParam])
	if err != nil {
		return false, errors.Trace(err)
	}
	if fingerprints(current).Difference(fingerprints(resolved)).IsEmpty() &&
		fingerprints(resolved).Difference(fingerprints(current)).IsEmpty() {
		return false, nil
	}
	plaintext, err := b.Decrypt(ctx, ref)
	if err != nil {
		return false, errors.Trace(err)
	}
	ciphertext, err := b.encrypt(ctx, plaintext, resolved)
	if err != nil {
		return false, errors.Trace(err)
	}
	ref.Data = provider.EncodeData(ciphertext)
	if ref.Params == nil {
		ref.Params = map[string]interface{}{}
	}
	ref.Params[recipientsParam] = provider.RecipientsRecord(resolved)
	return true, nil
}

func fingerprints(recipients []provider.Recipient) set.Strings {
	fprs := set.NewStrings()
	for _, r := range recipients {
		fprs.Add(strings.ToUpper(r.Fingerprint))
	}
	return fprs
}

// resolve fills in the fingerprint of every recipient given by name.
func (b *gpgBackend) resolve(ctx context.Context, recipients []provider.Recipient) ([]provider.Recipient, error) {
	if len(recipients) == 0 {
		return nil, errors.NotValidf("no recipients")
	}
	out := make([]provider.Recipient, 0, len(recipients))
	for _, r := range recipients {
		if r.Fingerprint == "" {
			if r.Name == "" {
				return nil, errors.NotValidf("recipient without name or fingerprint")
			}
			fpr, err := b.lookup(ctx, r.Name)
			if err != nil {
				return nil, errors.Trace(err)
			}
			logger.Debugf("resolved gpg recipient %q to %s", r.Name, fpr)
			r.Fingerprint = fpr
		}
		out = append(out, r)
	}
	return out, nil
}

// lookup returns the fingerprint of the first valid, non expired
// public key for name.
func (b *gpgBackend) lookup(ctx context.Context, name string) (string, error) {
	out, err := b.run(ctx, "list-keys", nil, "--list-keys", "--with-colons", "--fixed-list-mode", name)
	if err != nil {
		return "", errors.Annotatef(err, "looking up gpg key %q", name)
	}
	now := b.clock.Now()
	usable := false
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Split(line, ":")
		switch fields[0] {
		case "pub":
			usable = len(fields) > 6 && keyUsable(fields[1], fields[6], now)
		case "fpr":
			if usable && len(fields) > 9 && fields[9] != "" {
				return fields[9], nil
			}
			usable = false
		}
	}
	return "", errors.NotFoundf("valid gpg key for %q", name)
}

// keyUsable checks the validity and expiry fields of a pub record.
func keyUsable(validity, expires string, now time.Time) bool {
	switch validity {
	case "e", "r", "d", "i", "n":
		return false
	}
	if expires == "" {
		return true
	}
	secs, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	return time.Unix(secs, 0).After(now)
}
