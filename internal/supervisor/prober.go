package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WorkerEndpoints maps a worker UID to the base HTTP URL the prober talks
// to (the thin admin shim `cmd/worker` exposes).
type WorkerEndpoints map[int]string

// WorkerCommAddrs maps a worker UID to the communicator address the
// worker proposes as its own identity in leader elections. Election
// responses carry consensus on one of these addresses; the prober uses
// this map to translate the winner back into a UID.
type WorkerCommAddrs map[int]string

// Prober periodically health-checks a random worker over HTTP; on
// failure of the worker currently believed to be leader, it triggers a
// leader-election round by asking every worker's elect_leader endpoint
// and requiring unanimity among the non-failing responders.
type Prober struct {
	Endpoints   WorkerEndpoints
	CommAddrs   WorkerCommAddrs
	ProbePeriod time.Duration
	OnLeader    func(uid int, addr string) // gateway glue hook
	Log         zerolog.Logger
	HTTPClient  *http.Client

	mu     sync.Mutex
	leader int
	hasLdr bool

	rng *rand.Rand
}

// NewProber builds a Prober over the given worker endpoints. commAddrs
// carries each worker's election identity (see WorkerCommAddrs).
func NewProber(endpoints WorkerEndpoints, commAddrs WorkerCommAddrs, period time.Duration, onLeader func(int, string), log zerolog.Logger) *Prober {
	return &Prober{
		Endpoints:   endpoints,
		CommAddrs:   commAddrs,
		ProbePeriod: period,
		OnLeader:    onLeader,
		Log:         log,
		HTTPClient:  &http.Client{Timeout: 2 * time.Second},
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Leader returns the currently believed leader's UID, if any election has
// completed yet.
func (p *Prober) Leader() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leader, p.hasLdr
}

// Run probes a random worker every ProbePeriod until ctx is cancelled,
// triggering an election whenever the probed worker is the believed
// leader and fails to respond.
func (p *Prober) Run(ctx context.Context) error {
	uids := make([]int, 0, len(p.Endpoints))
	for uid := range p.Endpoints {
		uids = append(uids, uid)
	}
	if len(uids) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	if _, ok := p.Leader(); !ok {
		p.elect(ctx, uids)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.ProbePeriod):
		}

		uid := uids[p.rng.Intn(len(uids))]
		if p.healthcheck(ctx, uid) {
			continue
		}

		p.Log.Info().Int("worker_uid", uid).Msg("probe failed")
		leader, ok := p.Leader()
		if ok && leader == uid {
			p.Log.Info().Int("worker_uid", uid).Msg("leader died, electing")
			p.elect(ctx, uids)
		}
	}
}

func (p *Prober) healthcheck(ctx context.Context, uid int) bool {
	url := fmt.Sprintf("%s/admin/healthcheck", p.Endpoints[uid])
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// elect asks every worker to run a fresh consensus round on who the
// leader is and adopts the outcome only if every responder reports the
// same winner; non-responders are excluded from the unanimity
// requirement. Each round carries a fresh election id so rounds are
// independent consensus instances.
func (p *Prober) elect(ctx context.Context, uids []int) {
	electionID := uuid.New().String()

	var responses []string
	for _, uid := range uids {
		addr, ok := p.requestElection(ctx, uid, electionID)
		if !ok {
			continue
		}
		responses = append(responses, addr)
	}

	if len(responses) == 0 {
		return
	}
	winner := responses[0]
	for _, addr := range responses[1:] {
		if addr != winner {
			p.Log.Warn().Msg("election split - no unanimity, leader unchanged")
			return
		}
	}

	leaderUID, ok := p.uidFor(winner)
	if !ok {
		p.Log.Warn().Str("winner", winner).Msg("election winner is not a known worker")
		return
	}

	p.mu.Lock()
	p.leader = leaderUID
	p.hasLdr = true
	p.mu.Unlock()

	p.Log.Info().Int("worker_uid", leaderUID).Msg("elected leader")
	if p.OnLeader != nil {
		// The gateway proxies client traffic, so hand it the leader's
		// HTTP address rather than its communicator address.
		p.OnLeader(leaderUID, strings.TrimPrefix(p.Endpoints[leaderUID], "http://"))
	}
}

func (p *Prober) uidFor(commAddr string) (int, bool) {
	for uid, addr := range p.CommAddrs {
		if addr == commAddr {
			return uid, true
		}
	}
	return 0, false
}

// requestElection asks one worker to run the round and returns the
// consensus winner that worker observed.
func (p *Prober) requestElection(ctx context.Context, uid int, electionID string) (string, bool) {
	url := fmt.Sprintf("%s/admin/elect_leader/%s", p.Endpoints[uid], electionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", false
	}
	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false
	}
	var body struct {
		Leader string `json:"leader"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Leader == "" {
		return "", false
	}
	return body.Leader, true
}
