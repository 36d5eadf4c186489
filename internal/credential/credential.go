// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package credential supplies the bearer token used to talk to the agent
// service. Acquiring the token (login flows, key exchange) happens elsewhere;
// this package only reads one that already exists.
package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoCredential is returned when no token is available.
var ErrNoCredential = errors.New("no credential configured")

// Source provides a bearer token on demand.
// Token is called once per stream open, so implementations may rotate.
type Source interface {
	Token(ctx context.Context) (string, error)
}

// =============================================================================
// STATIC
// =============================================================================

// Static is a fixed token.
type Static string

// Token implements Source.
func (s Static) Token(context.Context) (string, error) {
	tok := strings.TrimSpace(string(s))
	if tok == "" {
		return "", ErrNoCredential
	}
	return tok, nil
}

// =============================================================================
// ENVIRONMENT
// =============================================================================

// Env reads the token from the named environment variable on every call.
type Env string

// Token implements Source.
func (e Env) Token(context.Context) (string, error) {
	tok := strings.TrimSpace(os.Getenv(string(e)))
	if tok == "" {
		return "", fmt.Errorf("%w: $%s is empty", ErrNoCredential, string(e))
	}
	return tok, nil
}

// =============================================================================
// CHAIN
// =============================================================================

// Chain tries each source in order and returns the first token found.
// Errors other than ErrNoCredential stop the search.
type Chain []Source

// Token implements Source.
func (c Chain) Token(ctx context.Context) (string, error) {
	for _, src := range c {
		tok, err := src.Token(ctx)
		if err == nil {
			return tok, nil
		}
		if !errors.Is(err, ErrNoCredential) {
			return "", err
		}
	}
	return "", ErrNoCredential
}
