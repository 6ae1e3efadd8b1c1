package supervisor

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestGatewayOnLeaderChangeWritesConfig(t *testing.T) {
	confPath := filepath.Join(t.TempDir(), "upstream.conf")
	g := NewGateway(confPath, 8080, zerolog.Nop())

	g.OnLeaderChange(1, "10.0.0.1:9000")

	data, err := os.ReadFile(confPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "server 10.0.0.1:9000;")
	require.Contains(t, string(data), "listen 8080;")
}

func TestGatewayOnLeaderChangeOverwritesPreviousConfig(t *testing.T) {
	confPath := filepath.Join(t.TempDir(), "upstream.conf")
	g := NewGateway(confPath, 8080, zerolog.Nop())

	g.OnLeaderChange(1, "10.0.0.1:9000")
	g.OnLeaderChange(2, "10.0.0.2:9000")

	data, err := os.ReadFile(confPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "10.0.0.2:9000")
	require.False(t, strings.Contains(string(data), "10.0.0.1:9000"))
}

func TestGatewaySignalsAttachedProcessOnReload(t *testing.T) {
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep binary not available")
	}
	cmd := exec.Command(sleep, "5")
	require.NoError(t, cmd.Start())
	defer cmd.Process.Kill()

	confPath := filepath.Join(t.TempDir(), "upstream.conf")
	g := NewGateway(confPath, 8080, zerolog.Nop())
	g.Attach(cmd.Process)

	require.NotPanics(t, func() { g.OnLeaderChange(1, "10.0.0.1:9000") })

	// sleep installs no SIGHUP handler, so the default action terminates it; either way
	// the signal was delivered without the gateway itself erroring out.
	done := make(chan struct{})
	go func() { cmd.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}
