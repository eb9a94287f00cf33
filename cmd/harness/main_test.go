package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "harness.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runWithFlags(t *testing.T, action cli.ActionFunc, args ...string) {
	t.Helper()
	cmd := &cli.Command{
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config"},
			&cli.StringFlag{Name: "corpus-dir"},
			&cli.StringFlag{Name: "manifest"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
		},
		Action: action,
	}
	require.NoError(t, cmd.Run(context.Background(), append([]string{"harness"}, args...)))
}

func TestConfigFileVerboseIsVisibleAfterOverlay(t *testing.T) {
	path := writeConfig(t, "verbose = true\nmanifest = \"ci/tests.csv\"\n")

	runWithFlags(t, func(ctx context.Context, cmd *cli.Command) error {
		require.False(t, cmd.Bool("verbose"))
		require.NoError(t, applyConfigFile(cmd, cmd.String("config")))
		require.True(t, cmd.Bool("verbose"))
		require.Equal(t, "ci/tests.csv", cmd.String("manifest"))
		return nil
	}, "--config", path)
}

func TestExplicitFlagWinsOverConfigFile(t *testing.T) {
	path := writeConfig(t, "manifest = \"ci/tests.csv\"\n")

	runWithFlags(t, func(ctx context.Context, cmd *cli.Command) error {
		require.NoError(t, applyConfigFile(cmd, cmd.String("config")))
		require.Equal(t, "local.csv", cmd.String("manifest"))
		return nil
	}, "--config", path, "--manifest", "local.csv")
}
