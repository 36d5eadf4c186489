// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credential

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	tok, err := Static("  abc \n").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = Static("   ").Token(context.Background())
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestEnv(t *testing.T) {
	t.Setenv("MEMCHAT_TEST_TOKEN", "")
	src := Env("MEMCHAT_TEST_TOKEN")

	_, err := src.Token(context.Background())
	assert.ErrorIs(t, err, ErrNoCredential)

	t.Setenv("MEMCHAT_TEST_TOKEN", "from-env")
	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-env", tok)
}

type failingSource struct{ err error }

func (f failingSource) Token(context.Context) (string, error) { return "", f.err }

func TestChain(t *testing.T) {
	ctx := context.Background()

	tok, err := Chain{Static(""), Static("second")}.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", tok)

	_, err = Chain{Static(""), Static("")}.Token(ctx)
	assert.ErrorIs(t, err, ErrNoCredential)

	boom := errors.New("boom")
	_, err = Chain{failingSource{boom}, Static("never")}.Token(ctx)
	assert.ErrorIs(t, err, boom)
}

func TestFile_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("first\n"), 0o600))

	src, err := NewFile(path, zerolog.Nop())
	require.NoError(t, err)
	defer src.Close()

	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", tok)

	require.NoError(t, os.WriteFile(path, []byte("second\n"), 0o600))

	require.Eventually(t, func() bool {
		tok, err := src.Token(context.Background())
		return err == nil && tok == "second"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestFile_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent")

	src, err := NewFile(path, zerolog.Nop())
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Token(context.Background())
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, os.WriteFile(path, []byte("late"), 0o600))
	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "late", tok)
}

func TestFile_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o600))

	src, err := NewFile(path, zerolog.Nop())
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Token(context.Background())
	assert.ErrorIs(t, err, ErrNoCredential)
}
