// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package inventory reads the per-target ref backend parameters from
// an inventory tree. Each target has a file targets/<target>.yml whose
// parameters.kapitan.secrets.<type> map configures the backend <type>,
// for example:
//
//	parameters:
//	  kapitan:
//	    secrets:
//	      gpg:
//	        recipients:
//	          - name: ops@example.com
//	      vaultkv:
//	        auth: approle
//	        mount: kv
package inventory

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"gopkg.in/yaml.v3"
)

var logger = loggo.GetLogger("kapitan.inventory")

var secretsPath = []string{"parameters", "kapitan", "secrets"}

// Inventory is a target inventory rooted at a directory. Parsed
// targets are kept for the lifetime of the Inventory; it is not safe
// for concurrent use.
type Inventory struct {
	root    string
	targets map[string]map[string]interface{}
}

// New returns the inventory rooted at root.
func New(root string) *Inventory {
	return &Inventory{
		root:    root,
		targets: make(map[string]map[string]interface{}),
	}
}

// BackendParams returns parameters.kapitan.secrets.<backendType> of
// target.
func (inv *Inventory) BackendParams(target, backendType string) (map[string]interface{}, error) {
	doc, err := inv.target(target)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var node interface{} = doc
	for _, key := range append(secretsPath, backendType) {
		m, ok := asMap(node)
		if !ok {
			return nil, errors.NotFoundf("%s in target %q", strings.Join(append(secretsPath, backendType), "."), target)
		}
		if node, ok = m[key]; !ok {
			return nil, errors.NotFoundf("%s in target %q", strings.Join(append(secretsPath, backendType), "."), target)
		}
	}
	params, ok := asMap(node)
	if !ok {
		return nil, errors.NotValidf("secrets.%s of target %q", backendType, target)
	}
	return params, nil
}

func (inv *Inventory) target(name string) (map[string]interface{}, error) {
	if doc, ok := inv.targets[name]; ok {
		return doc, nil
	}
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return nil, errors.NotValidf("target name %q", name)
	}
	var (
		data []byte
		err  error
	)
	for _, ext := range []string{".yml", ".yaml"} {
		path := filepath.Join(inv.root, "targets", name+ext)
		if data, err = os.ReadFile(path); err == nil {
			logger.Debugf("loaded target %q from %s", name, path)
			break
		}
		if !os.IsNotExist(err) {
			return nil, errors.Annotatef(err, "reading target %q", name)
		}
	}
	if err != nil {
		return nil, errors.NotFoundf("target %q in inventory %s", name, inv.root)
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Annotatef(err, "parsing target %q", name)
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	inv.targets[name] = doc
	return doc, nil
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}
