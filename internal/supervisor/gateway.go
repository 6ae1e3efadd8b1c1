package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"text/template"

	"github.com/rs/zerolog"
)

// gatewayTemplate renders an nginx-style upstream block pointing at the
// current leader.
var gatewayTemplate = template.Must(template.New("gateway").Parse(`
# generated by the cluster supervisor - do not edit by hand
upstream ledger_leader {
    server {{.LeaderAddr}};
}

server {
    listen {{.Port}};
    location / {
        proxy_pass http://ledger_leader;
    }
}
`))

type gatewayVars struct {
	LeaderAddr string
	Port       int
}

// Gateway rewrites its upstream configuration file and signals the
// gateway process to reload whenever the prober reports a new leader.
type Gateway struct {
	ConfPath string
	Port     int
	Log      zerolog.Logger

	mu   sync.Mutex
	proc *os.Process
}

// NewGateway builds a Gateway that writes its config to confPath, serving
// on port.
func NewGateway(confPath string, port int, log zerolog.Logger) *Gateway {
	return &Gateway{ConfPath: confPath, Port: port, Log: log}
}

// Attach records the gateway process to signal on reload. It is optional:
// without it, OnLeaderChange still rewrites the config file, it just has
// nothing to SIGHUP.
func (g *Gateway) Attach(proc *os.Process) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.proc = proc
}

// OnLeaderChange is the hook wired into the prober: it re-renders the
// upstream template for the new leader address and, if a gateway process
// is attached, sends it SIGHUP to reload.
func (g *Gateway) OnLeaderChange(_ int, leaderAddr string) {
	if err := g.render(leaderAddr); err != nil {
		g.Log.Error().Err(err).Msg("gateway config render failed")
		return
	}

	g.mu.Lock()
	proc := g.proc
	g.mu.Unlock()
	if proc == nil {
		return
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		g.Log.Error().Err(err).Msg("gateway reload signal failed")
	}
}

func (g *Gateway) render(leaderAddr string) error {
	f, err := os.CreateTemp(filepath.Dir(g.ConfPath), ".gateway-*.conf")
	if err != nil {
		return fmt.Errorf("supervisor: create gateway temp config: %w", err)
	}

	if err := gatewayTemplate.Execute(f, gatewayVars{LeaderAddr: leaderAddr, Port: g.Port}); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("supervisor: render gateway config: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("supervisor: close gateway temp config: %w", err)
	}
	if err := os.Rename(f.Name(), g.ConfPath); err != nil {
		return fmt.Errorf("supervisor: install gateway config: %w", err)
	}
	return nil
}
