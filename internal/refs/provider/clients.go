// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package provider

import (
	"sync"

	"github.com/juju/errors"
)

// BackendClients holds the SDK clients used by the backends of one
// controller. Clients are built on first use and then reused for the
// lifetime of the controller; they are never shared between
// controllers.
type BackendClients struct {
	mu      sync.Mutex
	clients map[string]interface{}
}

// NewBackendClients returns an empty client set.
func NewBackendClients() *BackendClients {
	return &BackendClients{clients: make(map[string]interface{})}
}

// Put stores a client under key, replacing any existing one. Tests use
// it to install fakes before a backend first asks for its client.
func (c *BackendClients) Put(key string, client interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients[key] = client
}

func (c *BackendClients) get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.clients[key]
	return v, ok
}

// Client returns the client stored under key, building and storing it
// with build if there is none yet.
func Client[T any](c *BackendClients, key string, build func() (T, error)) (T, error) {
	var zero T
	if v, ok := c.get(key); ok {
		client, ok := v.(T)
		if !ok {
			return zero, errors.Errorf("client %q has unexpected type %T", key, v)
		}
		return client, nil
	}
	client, err := build()
	if err != nil {
		return zero, errors.Trace(err)
	}
	c.Put(key, client)
	return client, nil
}
