// Package supervisor is the cluster supervisor: it launches worker
// processes, kills/restarts them on a stochastic or operator-driven
// schedule (the chaos killer), runs the leader-update feedback loop (the
// prober), and steers a gateway's upstream configuration accordingly.
package supervisor

import (
	"fmt"
	"os/exec"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/senutpal/paxosledger/internal/transport"
)

// WorkerSpec is everything needed to (re)exec one worker process.
type WorkerSpec struct {
	UID  int
	Addr transport.Address
	Args []string // full argv for `cmd/worker`, e.g. ["--addr", ..., "--peers", ...]
}

// Worker is one supervised OS process. Kill and Respawn are idempotent:
// killing an already-dead worker, or respawning an already-alive one, is
// a no-op.
type Worker struct {
	mu   sync.Mutex
	spec WorkerSpec
	log  zerolog.Logger

	cmd      *exec.Cmd
	execPath string
}

// NewWorker builds a Worker that will exec execPath with spec.Args when
// Respawn is first called. It starts dead.
func NewWorker(execPath string, spec WorkerSpec, log zerolog.Logger) *Worker {
	return &Worker{
		spec:     spec,
		log:      log.With().Int("worker_uid", spec.UID).Logger(),
		execPath: execPath,
	}
}

// UID returns the worker's stable identifier within the cluster.
func (w *Worker) UID() int { return w.spec.UID }

// IsAlive reports whether the worker's process is currently running.
func (w *Worker) IsAlive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cmd != nil && w.cmd.Process != nil
}

// Respawn starts the worker process if it is not already running.
func (w *Worker) Respawn() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cmd != nil && w.cmd.Process != nil {
		return nil
	}

	cmd := exec.Command(w.execPath, w.spec.Args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("supervisor: spawn worker %d: %w", w.spec.UID, err)
	}
	w.cmd = cmd
	w.log.Info().Int("pid", cmd.Process.Pid).Msg("worker spawned")

	go func() {
		err := cmd.Wait()
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.cmd == cmd {
			w.cmd = nil
		}
		w.log.Info().Err(err).Msg("worker exited")
	}()
	return nil
}

// Kill terminates the worker process via SIGTERM. It is a no-op if the
// worker is already dead.
func (w *Worker) Kill() error {
	w.mu.Lock()
	cmd := w.cmd
	w.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("supervisor: kill worker %d: %w", w.spec.UID, err)
	}
	return nil
}

// Registry is the map from NodeID to Worker handle the chaos killer and
// prober both operate on.
type Registry struct {
	mu      sync.Mutex
	workers map[int]*Worker
	order   []int
}

// NewRegistry builds an empty worker registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[int]*Worker)}
}

// Add registers w under its UID.
func (r *Registry) Add(w *Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[w.UID()] = w
	r.order = append(r.order, w.UID())
}

// Get returns the worker with uid, if registered.
func (r *Registry) Get(uid int) (*Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[uid]
	return w, ok
}

// All returns every registered worker in registration order.
func (r *Registry) All() []*Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Worker, 0, len(r.order))
	for _, uid := range r.order {
		out = append(out, r.workers[uid])
	}
	return out
}

// Alive returns the subset of registered workers currently running.
func (r *Registry) Alive() []*Worker {
	var out []*Worker
	for _, w := range r.All() {
		if w.IsAlive() {
			out = append(out, w)
		}
	}
	return out
}
