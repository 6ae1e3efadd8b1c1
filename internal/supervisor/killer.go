package supervisor

import (
	"context"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Dist is a uniform distribution [mean-dev, mean+dev], the shape the
// chaos-killer CLI flags (`--kill-every MEAN [DEV]`,
// `--restart-after MEAN [DEV]`) describe.
type Dist struct {
	Mean time.Duration
	Dev  time.Duration
}

// Sample draws one value uniformly from [Mean-Dev, Mean+Dev], floored at
// zero.
func (d Dist) Sample(rng *rand.Rand) time.Duration {
	if d.Dev <= 0 {
		return d.Mean
	}
	lo := d.Mean - d.Dev
	span := 2 * d.Dev
	v := lo + time.Duration(rng.Int63n(int64(span)))
	if v < 0 {
		return 0
	}
	return v
}

// ChaosKiller is the supervisor component that terminates and respawns
// workers on a schedule, exercising the cluster's recovery and liveness
// story.
type ChaosKiller interface {
	Run(ctx context.Context) error
}

// RandomKiller repeatedly waits for at least one live worker, kills one
// chosen uniformly at random, optionally schedules a respawn after a
// RestartAfter-distributed delay, then sleeps a KillEvery-distributed
// interval before repeating.
type RandomKiller struct {
	Registry     *Registry
	KillEvery    Dist
	RestartAfter *Dist // nil disables automatic respawn
	Log          zerolog.Logger

	rng *rand.Rand
}

// NewRandomKiller builds a RandomKiller over registry.
func NewRandomKiller(registry *Registry, killEvery Dist, restartAfter *Dist, log zerolog.Logger) *RandomKiller {
	return &RandomKiller{
		Registry:     registry,
		KillEvery:    killEvery,
		RestartAfter: restartAfter,
		Log:          log,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (k *RandomKiller) Run(ctx context.Context) error {
	for {
		alive, err := k.waitForAlive(ctx)
		if err != nil {
			return err
		}

		victim := alive[k.rng.Intn(len(alive))]
		if err := victim.Kill(); err != nil {
			k.Log.Error().Err(err).Int("worker_uid", victim.UID()).Msg("chaos kill failed")
		} else {
			k.Log.Info().Int("worker_uid", victim.UID()).Msg("chaos killed worker")
		}

		if k.RestartAfter != nil {
			delay := k.RestartAfter.Sample(k.rng)
			victim := victim
			time.AfterFunc(delay, func() {
				if err := victim.Respawn(); err != nil {
					k.Log.Error().Err(err).Int("worker_uid", victim.UID()).Msg("chaos respawn failed")
				}
			})
		}

		select {
		case <-time.After(k.KillEvery.Sample(k.rng)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// waitForAlive polls for at least one live worker, backing off briefly
// between checks, until ctx is cancelled.
func (k *RandomKiller) waitForAlive(ctx context.Context) ([]*Worker, error) {
	for {
		if alive := k.Registry.Alive(); len(alive) > 0 {
			return alive, nil
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// InteractiveKiller exposes /kill/{uid} and /respawn/{uid} for a human
// operator to drive directly, instead of the stochastic schedule.
type InteractiveKiller struct {
	Registry *Registry
	Log      zerolog.Logger
}

// NewInteractiveKiller builds an InteractiveKiller over registry.
func NewInteractiveKiller(registry *Registry, log zerolog.Logger) *InteractiveKiller {
	return &InteractiveKiller{Registry: registry, Log: log}
}

// Routes registers /kill/{uid} and /respawn/{uid} on r.
func (k *InteractiveKiller) Routes(r *mux.Router) {
	r.HandleFunc("/kill/{uid}", k.handleKill).Methods(http.MethodPost)
	r.HandleFunc("/respawn/{uid}", k.handleRespawn).Methods(http.MethodPost)
}

func (k *InteractiveKiller) handleKill(w http.ResponseWriter, r *http.Request) {
	k.dispatch(w, r, func(worker *Worker) error { return worker.Kill() })
}

func (k *InteractiveKiller) handleRespawn(w http.ResponseWriter, r *http.Request) {
	k.dispatch(w, r, func(worker *Worker) error { return worker.Respawn() })
}

func (k *InteractiveKiller) dispatch(w http.ResponseWriter, r *http.Request, op func(*Worker) error) {
	uid, err := strconv.Atoi(mux.Vars(r)["uid"])
	if err != nil {
		http.Error(w, "invalid uid", http.StatusBadRequest)
		return
	}
	worker, ok := k.Registry.Get(uid)
	if !ok {
		http.Error(w, "unknown worker", http.StatusNotFound)
		return
	}
	if err := op(worker); err != nil {
		k.Log.Error().Err(err).Int("worker_uid", uid).Msg("interactive killer op failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Run satisfies ChaosKiller; the interactive killer has no background
// loop of its own - its HTTP routes are mounted into the supervisor's
// admin server instead - so Run just blocks until ctx is cancelled.
func (k *InteractiveKiller) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
