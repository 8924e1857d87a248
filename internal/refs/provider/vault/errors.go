// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package vault

import (
	"net/http"
	"strings"

	"github.com/hashicorp/vault/api"
	"github.com/juju/errors"

	"github.com/kapicorp/kapitan/internal/refs/provider"
)

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, api.ErrSecretNotFound) {
		return true
	}
	var apiErr *api.ResponseError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound
	}
	// The api only gives us a string for some of these.
	return strings.Contains(err.Error(), "no secret found")
}

func isMountNotFound(err error) bool {
	var apiErr *api.ResponseError
	if errors.As(err, &apiErr) {
		errMessage := strings.Join(apiErr.Errors, ",")
		return apiErr.StatusCode == http.StatusBadRequest && strings.Contains(errMessage, "no matching mount")
	}
	return false
}

// classify maps Vault errors onto the error types the call boundary
// does not retry.
func classify(err error, what string) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return errors.NewNotFound(err, what)
	}
	if isMountNotFound(err) {
		return provider.Permanent(errors.Annotatef(err, "%s", what))
	}
	var apiErr *api.ResponseError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusForbidden, http.StatusUnauthorized:
			return errors.WithType(err, provider.PermissionDenied)
		case http.StatusBadRequest:
			return provider.Permanent(err)
		}
	}
	return err
}
