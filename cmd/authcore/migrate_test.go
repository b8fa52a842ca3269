// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/pkg/errutil"
)

func TestParseForceVersion(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantVersion int
		wantErr     bool
		wantErrCode string
	}{
		{
			name:        "valid integer",
			input:       "3",
			wantVersion: 3,
			wantErr:     false,
		},
		{
			name:        "zero is valid",
			input:       "0",
			wantVersion: 0,
			wantErr:     false,
		},
		{
			name:        "non-numeric returns error",
			input:       "abc",
			wantErr:     true,
			wantErrCode: "INVALID_VERSION",
		},
		{
			name:        "float parses as integer (Sscanf stops at dot)",
			input:       "1.5",
			wantVersion: 1,
			wantErr:     false,
		},
		{
			name:        "trailing chars are ignored (Sscanf stops at non-digit)",
			input:       "3abc",
			wantVersion: 3,
			wantErr:     false,
		},
		{
			name:        "negative is valid",
			input:       "-1",
			wantVersion: -1,
			wantErr:     false,
		},
		{
			name:        "empty string returns error",
			input:       "",
			wantErr:     true,
			wantErrCode: "INVALID_VERSION",
		},
		{
			name:        "whitespace only returns error",
			input:       "   ",
			wantErr:     true,
			wantErrCode: "INVALID_VERSION",
		},
		{
			name:        "leading whitespace is handled",
			input:       "  42",
			wantVersion: 42,
			wantErr:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, err := parseForceVersion(tt.input)

			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, tt.wantErrCode)
				assert.Equal(t, 0, version)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantVersion, version)
			}
		})
	}
}

func postgresArgs(args ...string) []string {
	return append([]string{"--database-driver", "postgres", "--database-url", "postgres://localhost:5432/authcore"}, args...)
}

func TestMigrateUp_Postgres(t *testing.T) {
	env := newCLIEnv(t)

	out, _, err := env.run(postgresArgs("migrate", "up")...)

	require.NoError(t, err)
	assert.Contains(t, out, "Migrations completed successfully")
	assert.Equal(t, []string{"up"}, env.migrator.calls)
	assert.True(t, env.migrator.closed)
}

func TestMigrateUp_MongoEnsuresIndexes(t *testing.T) {
	env := newCLIEnv(t)

	out, _, err := env.run("--database-url", "mongodb://localhost:27017", "migrate", "up")

	require.NoError(t, err)
	assert.Contains(t, out, "Indexes ensured")
	assert.Equal(t, 1, env.users.indexesEnsure)
	assert.True(t, env.users.closed)
	assert.Empty(t, env.migrator.calls)
}

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	env := newCLIEnv(t)

	_, _, err := env.run("--database-driver", "postgres", "migrate", "up")

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	errutil.AssertErrorContext(t, err, "key", "database.url")
}

func TestMigrateDown_MongoUnsupported(t *testing.T) {
	env := newCLIEnv(t)

	_, _, err := env.run("--database-url", "mongodb://localhost:27017", "migrate", "down")

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_UNSUPPORTED")
}

func TestMigrateDown_Postgres(t *testing.T) {
	env := newCLIEnv(t)

	out, _, err := env.run(postgresArgs("migrate", "down")...)

	require.NoError(t, err)
	assert.Contains(t, out, "All migrations rolled back")
	assert.Equal(t, []string{"down"}, env.migrator.calls)
}

func TestMigrateStatus(t *testing.T) {
	t.Run("pending migrations are listed", func(t *testing.T) {
		env := newCLIEnv(t)
		env.migrator.pending = []uint{1}

		out, _, err := env.run(postgresArgs("migrate", "status")...)

		require.NoError(t, err)
		assert.Contains(t, out, "Current version: 0 (clean)")
		assert.Contains(t, out, "Pending migrations (1):")
		assert.Contains(t, out, "000001_")
	})

	t.Run("up to date", func(t *testing.T) {
		env := newCLIEnv(t)
		env.migrator.version = 1
		env.migrator.dirty = true

		out, _, err := env.run(postgresArgs("migrate", "status")...)

		require.NoError(t, err)
		assert.Contains(t, out, "Current version: 1 (dirty)")
		assert.Contains(t, out, "No pending migrations")
	})
}

func TestMigrateVersion(t *testing.T) {
	env := newCLIEnv(t)
	env.migrator.version = 1

	out, _, err := env.run(postgresArgs("migrate", "version")...)

	require.NoError(t, err)
	assert.Equal(t, "1\n", out)
}

func TestMigrateForce(t *testing.T) {
	t.Run("records version", func(t *testing.T) {
		env := newCLIEnv(t)

		out, _, err := env.run(postgresArgs("migrate", "force", "1")...)

		require.NoError(t, err)
		assert.Contains(t, out, "Forced version 1")
		assert.Equal(t, 1, env.migrator.forced)
	})

	t.Run("rejects non-numeric version before connecting", func(t *testing.T) {
		env := newCLIEnv(t)

		_, _, err := env.run(postgresArgs("migrate", "force", "abc")...)

		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "INVALID_VERSION")
		assert.Empty(t, env.migrator.calls)
	})
}
