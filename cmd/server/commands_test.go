package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrateAndColumns(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cli.db")

	root := newRootCmd()
	root.SetArgs([]string{"migrate", "--db", dbPath})
	require.NoError(t, root.ExecuteContext(context.Background()))

	var out bytes.Buffer
	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"columns", "--db", dbPath})
	require.NoError(t, root.ExecuteContext(context.Background()))

	cols := strings.Fields(out.String())
	require.Contains(t, cols, "email")
	require.Contains(t, cols, "bloodgroup")
	require.Contains(t, cols, "profile_picture_url")
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("DB_PATH", "/from/env.db")
	t.Setenv("PORT", "9000")

	f := &flags{}
	cfg, err := f.load()
	require.NoError(t, err)
	require.Equal(t, "/from/env.db", cfg.DBPath)
	require.Equal(t, "9000", cfg.Port)

	f = &flags{dbPath: "/from/flag.db", port: "7000"}
	cfg, err = f.load()
	require.NoError(t, err)
	require.Equal(t, "/from/flag.db", cfg.DBPath)
	require.Equal(t, "7000", cfg.Port)
}
