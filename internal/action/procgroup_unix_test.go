//go:build !windows

package action

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetProcGroup(t *testing.T) {
	cmd := exec.Command("sh", "-c", "true")
	setProcGroup(cmd)

	require.NotNil(t, cmd.SysProcAttr)
	assert.True(t, cmd.SysProcAttr.Setpgid)
	require.NotNil(t, cmd.Cancel)
	assert.Greater(t, cmd.WaitDelay, termGracePeriod)

	// before Start there is no process to signal
	assert.NoError(t, cmd.Cancel())
}

func TestProcGroupTermStopsChildren(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// the sleep runs as a child of sh; killing only sh would leave it behind
	cmd := exec.CommandContext(ctx, "sh", "-c", "sleep 30")
	setProcGroup(cmd)
	require.NoError(t, cmd.Start())

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("process group survived SIGTERM")
	}
}
