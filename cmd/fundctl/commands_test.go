package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireLiveGateway(t *testing.T) {
	assert.NoError(t, requireLiveGateway("http"))
	for _, mode := range []string{"sandbox", ""} {
		assert.ErrorIs(t, requireLiveGateway(mode), errSandboxGateway)
	}
}

func TestGatewayCommandsRefuseSandbox(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "fund.db"))
	t.Setenv("GATEWAY_MODE", "sandbox")
	t.Setenv("REDIS_ENABLED", "false")
	prev := envFile
	envFile = filepath.Join(t.TempDir(), "missing.env")
	t.Cleanup(func() { envFile = prev })

	for _, tc := range []struct {
		name string
		run  func() error
	}{
		{"reconcile", func() error {
			cmd := reconcileCmd()
			cmd.SetContext(context.Background())
			return cmd.RunE(cmd, nil)
		}},
		{"refund", func() error {
			cmd := refundCmd()
			cmd.SetContext(context.Background())
			return cmd.RunE(cmd, []string{"att1"})
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run()
			require.Error(t, err)
			assert.ErrorIs(t, err, errSandboxGateway)
		})
	}
}
