// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package refs

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/kapicorp/kapitan/core/refs"
	"github.com/kapicorp/kapitan/internal/refs/provider"
)

var logger = loggo.GetLogger("kapitan.refs")

// Config holds the configuration of a Controller.
type Config struct {
	// Path is the root directory of the ref store.
	Path string

	// EmbedRefs makes compiled tags carry the whole encrypted record
	// instead of a stamped pointer into the store.
	EmbedRefs bool

	// Factories are the backends to register, by type name.
	Factories map[string]provider.Factory

	// Inventory supplies per-target backend parameters. Optional.
	Inventory provider.Inventory

	// Call bounds every backend call. Zero values take defaults.
	Call provider.CallConfig

	// Clients and Metrics are optional; fresh ones are created
	// when nil.
	Clients *provider.BackendClients
	Metrics *provider.Metrics
}

// Validate returns an error if the config is not usable.
func (c Config) Validate() error {
	if c.Path == "" {
		return errors.NotValidf("empty Path")
	}
	if len(c.Factories) == 0 {
		return errors.NotValidf("no backend Factories")
	}
	return nil
}

// RefParams are the parameters supplied by the caller when a ref must
// be created from a function chain.
type RefParams struct {
	// Target selects the inventory parameters used by the backend.
	Target string

	Key         string
	Recipients  []provider.Recipient
	VaultParams map[string]interface{}
}

func (p RefParams) createParams(path string, encoding refs.Encoding) provider.CreateParams {
	return provider.CreateParams{
		Path:        path,
		Encoding:    encoding,
		Target:      p.Target,
		Key:         p.Key,
		Recipients:  p.Recipients,
		VaultParams: p.VaultParams,
	}
}

// CreationSpec describes a ref that does not exist yet and has to be
// derived from its function chain.
type CreationSpec struct {
	Tag   refs.Tag
	Funcs []refs.FuncCall
}

// Resolution is the outcome of resolving a tag: either the ref, or the
// creation spec needed to create it.
type Resolution struct {
	Ref     *refs.Ref
	Pending *CreationSpec
}

// Controller resolves tags to refs through the registered backends and
// the file backed store. A controller is used by one goroutine at a
// time.
type Controller struct {
	store     *Store
	registry  *provider.Registry
	embedRefs bool
	metrics   *provider.Metrics
}

// NewController returns a controller with every configured backend
// registered.
func NewController(config Config) (*Controller, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	clients := config.Clients
	if clients == nil {
		clients = provider.NewBackendClients()
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = provider.NewMetricsCollector()
	}
	registry, err := provider.NewRegistry(provider.BackendConfig{
		Clients:   clients,
		Inventory: config.Inventory,
		Caller:    provider.NewCaller(config.Call, metrics),
	}, config.Factories)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Controller{
		store:     NewStore(config.Path),
		registry:  registry,
		embedRefs: config.EmbedRefs,
		metrics:   metrics,
	}, nil
}

// Metrics returns the controller's metrics collector.
func (c *Controller) Metrics() *provider.Metrics {
	return c.metrics
}

// Store returns the controller's ref store.
func (c *Controller) Store() *Store {
	return c.store
}

// EmbedRefs reports whether compiled tags embed their records.
func (c *Controller) EmbedRefs() bool {
	return c.embedRefs
}

// Types returns the registered ref types.
func (c *Controller) Types() []string {
	return c.registry.Types()
}

// Resolve parses tag and resolves it. A function chain tag whose ref
// does not exist yet resolves to a pending creation spec.
func (c *Controller) Resolve(ctx context.Context, tag string) (Resolution, error) {
	t, err := refs.ParseTag(tag)
	if err != nil {
		return Resolution{}, errors.Trace(err)
	}
	return c.ResolveTag(ctx, t)
}

// ResolveTag resolves an already parsed tag.
func (c *Controller) ResolveTag(ctx context.Context, tag refs.Tag) (Resolution, error) {
	ref, err := c.resolveToken(tag.Token)
	if errors.Is(err, errors.NotFound) && tag.HasFuncChain() {
		funcs, err := tag.Funcs()
		if err != nil {
			return Resolution{}, errors.Trace(err)
		}
		logger.Debugf("ref %s needs creation from %q", tag.Token.Bare(), tag.FuncChain)
		return Resolution{Pending: &CreationSpec{Tag: tag, Funcs: funcs}}, nil
	}
	if err != nil {
		return Resolution{}, errors.Trace(err)
	}
	return Resolution{Ref: ref}, nil
}

// Get returns the ref named by tag. A missing function chain ref is
// reported with ErrNeedsCreation.
func (c *Controller) Get(ctx context.Context, tag string) (*refs.Ref, error) {
	res, err := c.Resolve(ctx, tag)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if res.Pending != nil {
		return nil, errors.WithType(
			errors.Errorf("ref %s must be created from %q", res.Pending.Tag.Token.Bare(), res.Pending.Tag.FuncChain),
			refs.ErrNeedsCreation)
	}
	return res.Ref, nil
}

func (c *Controller) resolveToken(tok refs.Token) (*refs.Ref, error) {
	backend, err := c.registry.Backend(tok.Type)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if tok.Embedded {
		decoded, err := refs.DecodeEmbedded(refs.Token{Type: tok.Type, Path: tok.Path, Embedded: true})
		if err != nil {
			return nil, errors.Trace(err)
		}
		ref, err := backend.Load(decoded.Path, decoded.Record())
		if err != nil {
			return nil, errors.Trace(err)
		}
		ref.Token = decoded.Token
		ref.Embedded = true
		return ref, nil
	}
	rec, err := c.store.Read(tok.Path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	ref, err := backend.Load(tok.Path, rec)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if tok.Hash != "" && ref.ShortHash() != tok.Hash {
		return nil, hashMismatch(tok, ref)
	}
	return ref, nil
}

func hashMismatch(tok refs.Token, ref *refs.Ref) error {
	return errors.WithType(errors.Errorf(
		"ref %s: hash %s does not match stored hash %s, the compiled output is stale",
		tok.Bare(), tok.Hash, ref.ShortHash()), refs.ErrHashMismatch)
}

// CreateFromSpec evaluates the function chain of spec, builds the ref
// through its backend and persists it. If the ref was created in the
// meantime the stored ref is returned instead.
func (c *Controller) CreateFromSpec(ctx context.Context, spec CreationSpec, params RefParams) (*refs.Ref, error) {
	tok := spec.Tag.Token
	if tok.SubPath != "" {
		return nil, errors.WithType(errors.Errorf(
			"ref error: cannot create %s with sub-path %q", tok.Bare(), tok.SubPath), refs.ErrRef)
	}
	backend, err := c.registry.Backend(tok.Type)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if ref, err := c.resolveToken(tok); err == nil {
		return ref, nil
	} else if !errors.Is(err, errors.NotFound) {
		return nil, errors.Trace(err)
	}

	fctx := &FunctionContext{
		Token:      tok,
		Encoding:   refs.EncodingOriginal,
		controller: c,
	}
	if err := fctx.eval(ctx, spec.Funcs); err != nil {
		return nil, errors.Annotatef(err, "creating %s", tok.Bare())
	}
	ref, err := c.encrypt(ctx, backend, []byte(fctx.Data), params.createParams(tok.Path, fctx.Encoding))
	if err != nil {
		return nil, errors.Trace(err)
	}
	written, err := c.store.Write(tok.Path, backend.Dump(ref))
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !written {
		// Another writer got there first; the stored ref wins.
		return c.resolveToken(refs.Token{Type: tok.Type, Path: tok.Path})
	}
	logger.Infof("created ref %s from %q", ref.Token, spec.Tag.FuncChain)
	return ref, nil
}

func (c *Controller) encrypt(
	ctx context.Context, backend provider.SecretBackend, plaintext []byte, params provider.CreateParams,
) (*refs.Ref, error) {
	if params.Encoding == refs.EncodingBase64 {
		plaintext = []byte(base64.StdEncoding.EncodeToString(plaintext))
	}
	ref, err := backend.Encrypt(ctx, plaintext, params)
	if err != nil {
		return nil, errors.Annotatef(err, "%s backend", backend.Type())
	}
	return ref, nil
}

// Create encrypts plaintext with the backend of tag and returns the new
// ref without persisting it. With EncodingBase64 the plaintext is
// base64 encoded first.
func (c *Controller) Create(ctx context.Context, tag string, plaintext []byte, encoding refs.Encoding, params RefParams) (*refs.Ref, error) {
	t, err := c.writableTag(tag)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if encoding == "" {
		encoding = refs.EncodingOriginal
	}
	if err := encoding.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	backend, err := c.registry.Backend(t.Token.Type)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return c.encrypt(ctx, backend, plaintext, params.createParams(t.Token.Path, encoding))
}

// Set persists ref under the path of a tag without function chain. An
// existing ref is left untouched; Set reports whether ref was written.
func (c *Controller) Set(ctx context.Context, tag string, ref *refs.Ref) (bool, error) {
	t, backend, ref, err := c.prepareSet(tag, ref)
	if err != nil {
		return false, errors.Trace(err)
	}
	written, err := c.store.Write(t.Token.Path, backend.Dump(ref))
	if err != nil {
		return false, errors.Trace(err)
	}
	if written {
		logger.Infof("wrote ref %s", ref.Token)
	} else {
		logger.Debugf("ref %s already exists, not overwriting", t.Token.Bare())
	}
	return written, nil
}

// Overwrite persists ref under the path of tag, replacing any existing ref.
func (c *Controller) Overwrite(ctx context.Context, tag string, ref *refs.Ref) error {
	t, backend, ref, err := c.prepareSet(tag, ref)
	if err != nil {
		return errors.Trace(err)
	}
	if err := c.store.Overwrite(t.Token.Path, backend.Dump(ref)); err != nil {
		return errors.Trace(err)
	}
	logger.Infof("wrote ref %s", ref.Token)
	return nil
}

func (c *Controller) prepareSet(tag string, ref *refs.Ref) (refs.Tag, provider.SecretBackend, *refs.Ref, error) {
	t, err := c.writableTag(tag)
	if err != nil {
		return refs.Tag{}, nil, nil, errors.Trace(err)
	}
	if t.HasFuncChain() {
		return refs.Tag{}, nil, nil, errors.WithType(errors.Errorf(
			"ref error: tag %q has a function chain, use SetDerived", t.Full), refs.ErrRef)
	}
	if ref == nil {
		return refs.Tag{}, nil, nil, errors.NotValidf("nil ref")
	}
	backend, err := c.registry.Backend(t.Token.Type)
	if err != nil {
		return refs.Tag{}, nil, nil, errors.Trace(err)
	}
	if ref.Type != backend.Type() {
		return refs.Tag{}, nil, nil, errors.WithType(errors.Errorf(
			"ref error: cannot store a %s ref as %s", ref.Type, t.Token.Bare()), refs.ErrRef)
	}
	ref = ref.Clone()
	ref.Path = t.Token.Path
	ref.Stamp()
	return t, backend, ref, nil
}

// SetDerived creates the ref of a function chain tag from params, unless
// it already exists.
func (c *Controller) SetDerived(ctx context.Context, tag string, params RefParams) (*refs.Ref, error) {
	t, err := c.writableTag(tag)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !t.HasFuncChain() {
		return nil, errors.WithType(errors.Errorf(
			"ref error: tag %q has no function chain, use Set", t.Full), refs.ErrRef)
	}
	funcs, err := t.Funcs()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return c.CreateFromSpec(ctx, CreationSpec{Tag: t, Funcs: funcs}, params)
}

func (c *Controller) writableTag(tag string) (refs.Tag, error) {
	t, err := refs.ParseTag(tag)
	if err != nil {
		// Accept bare tokens as well as tags.
		t, err = refs.ParseTag("?{" + tag + "}")
	}
	if err != nil {
		return refs.Tag{}, errors.Trace(err)
	}
	tok := t.Token
	if tok.Hash != "" || tok.Embedded || tok.SubPath != "" {
		return refs.Tag{}, errors.WithType(errors.Errorf(
			"ref error: cannot write to %q, use type:path", tok.String()), refs.ErrRef)
	}
	return t, nil
}

// Reveal returns the plaintext of ref.
func (c *Controller) Reveal(ctx context.Context, ref *refs.Ref) (string, error) {
	backend, err := c.registry.Backend(ref.Type)
	if err != nil {
		return "", errors.Trace(err)
	}
	plaintext, err := backend.Decrypt(ctx, ref)
	if err != nil {
		return "", errors.Annotatef(err, "revealing %s:%s", ref.Type, ref.Path)
	}
	return string(plaintext), nil
}

// Compile returns the compiled form of ref: a stamped tag, or an
// embedded tag when EmbedRefs is set or the ref was itself resolved
// from an embedded token. A non empty subPath is carried over to the
// compiled tag.
func (c *Controller) Compile(ref *refs.Ref, subPath string) (string, error) {
	sub := ""
	if subPath != "" {
		sub = "@" + subPath
	}
	if ref.Embedded {
		return fmt.Sprintf("?{%s:%s%s:%s}", ref.Type, ref.Path, sub, refs.EmbeddedSuffix), nil
	}
	if c.embedRefs {
		blob, err := refs.EncodeEmbedded(ref.Record())
		if err != nil {
			return "", errors.Trace(err)
		}
		return fmt.Sprintf("?{%s:%s%s:%s}", ref.Type, blob, sub, refs.EmbeddedSuffix), nil
	}
	return fmt.Sprintf("?{%s:%s%s:%s}", ref.Type, ref.Path, sub, ref.ShortHash()), nil
}

// UpdateKey re-encrypts the ref named by tag under key and persists it
// when it changed.
func (c *Controller) UpdateKey(ctx context.Context, tag, key string) (bool, error) {
	ref, backend, err := c.storedRef(ctx, tag)
	if err != nil {
		return false, errors.Trace(err)
	}
	updater, ok := backend.(provider.KeyUpdater)
	if !ok {
		return false, errors.NotSupportedf("updating the key of %s refs", backend.Type())
	}
	changed, err := updater.UpdateKey(ctx, ref, key)
	if err != nil || !changed {
		return false, errors.Trace(err)
	}
	return true, errors.Trace(c.persistUpdate(ref, backend))
}

// UpdateRecipients re-encrypts the ref named by tag to recipients and
// persists it when it changed.
func (c *Controller) UpdateRecipients(ctx context.Context, tag string, recipients []provider.Recipient) (bool, error) {
	ref, backend, err := c.storedRef(ctx, tag)
	if err != nil {
		return false, errors.Trace(err)
	}
	updater, ok := backend.(provider.RecipientsUpdater)
	if !ok {
		return false, errors.NotSupportedf("updating the recipients of %s refs", backend.Type())
	}
	changed, err := updater.UpdateRecipients(ctx, ref, recipients)
	if err != nil || !changed {
		return false, errors.Trace(err)
	}
	return true, errors.Trace(c.persistUpdate(ref, backend))
}

func (c *Controller) storedRef(ctx context.Context, tag string) (*refs.Ref, provider.SecretBackend, error) {
	t, err := c.writableTag(tag)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	ref, err := c.resolveToken(t.Token)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	backend, err := c.registry.Backend(ref.Type)
	return ref, backend, errors.Trace(err)
}

func (c *Controller) persistUpdate(ref *refs.Ref, backend provider.SecretBackend) error {
	ref.Stamp()
	if err := c.store.Overwrite(ref.Path, backend.Dump(ref)); err != nil {
		return errors.Trace(err)
	}
	logger.Infof("updated ref %s", ref.Token)
	return nil
}

// Walk calls fn with every ref in the store.
func (c *Controller) Walk(ctx context.Context, fn func(*refs.Ref) error) error {
	return errors.Trace(c.store.Iterate(func(refPath string, rec refs.Record) error {
		backend, err := c.registry.Backend(rec.Type())
		if err != nil {
			return errors.Annotatef(err, "ref %q", refPath)
		}
		ref, err := backend.Load(refPath, rec)
		if err != nil {
			return errors.Trace(err)
		}
		return fn(ref)
	}))
}
