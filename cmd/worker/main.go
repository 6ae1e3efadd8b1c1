// Command worker runs one replica of the replicated ledger: the
// Multi-Paxos transport receive loop plus the thin HTTP shim the
// supervisor's prober and end clients talk to. The worker API's own
// request validation and process/signal plumbing stay minimal here; this
// file is glue, not the consensus core.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/senutpal/paxosledger/internal/dictionary"
	"github.com/senutpal/paxosledger/internal/ledger"
	"github.com/senutpal/paxosledger/internal/storage"
	"github.com/senutpal/paxosledger/internal/transport"
)

const ledgerPrefix = "ledger"

func main() {
	var (
		addr         string
		peersFlag    []string
		snapshotPath string
		httpAddr     string
		generator    string
	)

	root := &cobra.Command{
		Use:   "worker",
		Short: "one replica of the replicated Paxos ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), config{
				addr:         transport.Address(addr),
				peers:        toAddrs(peersFlag),
				snapshotPath: snapshotPath,
				httpAddr:     httpAddr,
				generator:    generator,
			})
		},
	}

	root.Flags().StringVar(&addr, "addr", "", "this node's communicator address (host:port)")
	root.Flags().StringSliceVar(&peersFlag, "peers", nil, "every cluster node's communicator address, including this one")
	root.Flags().StringVar(&snapshotPath, "snapshot", "", "path to this node's durable Multi-Paxos snapshot")
	root.Flags().StringVar(&httpAddr, "http-addr", ":0", "address for the ledger/admin HTTP shim")
	root.Flags().StringVar(&generator, "generator", "incremental", "proposal-number generator: incremental|time_aware")
	root.MarkFlagRequired("addr")
	root.MarkFlagRequired("peers")
	root.MarkFlagRequired("snapshot")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func toAddrs(ss []string) []transport.Address {
	out := make([]transport.Address, len(ss))
	for i, s := range ss {
		out[i] = transport.Address(strings.TrimSpace(s))
	}
	return out
}

type config struct {
	addr         transport.Address
	peers        []transport.Address
	snapshotPath string
	httpAddr     string
	generator    string
}

func run(ctx context.Context, cfg config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Str("addr", string(cfg.addr)).Logger()

	net, err := transport.NewNetwork(cfg.peers, cfg.addr)
	if err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	udp, err := transport.NewUDPTransport(cfg.addr, log.With().Str("component", "transport").Logger())
	if err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	defer udp.Close()

	store := storage.NewFileStorage(cfg.snapshotPath)

	kind := dictionary.GeneratorIncremental
	if cfg.generator == "time_aware" {
		kind = dictionary.GeneratorTimeAware
	}

	dict, err := dictionary.New(net, udp, store, kind, log.With().Str("component", "dictionary").Logger())
	if err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	repl := ledger.NewReplicatedLedger(dict, ledgerPrefix)
	srv := &server{ledger: repl, net: net, dict: dict, log: log.With().Str("component", "http").Logger()}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return udp.Listen(func(data []byte) {
			if err := dict.Dispatch(data); err != nil {
				log.Error().Err(err).Msg("dispatch failed")
			}
		})
	})

	httpSrv := &http.Server{Addr: cfg.httpAddr, Handler: srv.routes()}
	g.Go(func() error { return serveHTTP(ctx, httpSrv) })

	g.Go(func() error {
		<-ctx.Done()
		udp.Close()
		httpSrv.Close()
		return nil
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func serveHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// server is the thin gorilla/mux shim over the ledger state machine:
// decode JSON, call the ledger, encode the result or error. No
// validation framework, no middleware stack.
type server struct {
	ledger *ledger.ReplicatedLedger
	net    *transport.Network
	dict   *dictionary.Dictionary
	log    zerolog.Logger
}

func (s *server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/account", s.handleOpenAccount).Methods(http.MethodPost)
	r.HandleFunc("/account/{uid}", s.handleGetAccount).Methods(http.MethodGet)
	r.HandleFunc("/deposit", s.handleDeposit).Methods(http.MethodPost)
	r.HandleFunc("/withdraw", s.handleWithdraw).Methods(http.MethodPost)
	r.HandleFunc("/transfer", s.handleTransfer).Methods(http.MethodPost)
	r.HandleFunc("/admin/healthcheck", s.handleHealthcheck).Methods(http.MethodGet)
	r.HandleFunc("/admin/elect_leader/{election_id}", s.handleElectLeader).Methods(http.MethodPost)
	return r
}

type accountResponse struct {
	UID   int    `json:"uid"`
	Funds string `json:"funds"`
}

func toAccountResponse(a ledger.Account) accountResponse {
	return accountResponse{UID: a.UID, Funds: a.Funds.String()}
}

func (s *server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	uid, err := s.ledger.OpenAccount(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"uid": uid})
}

func (s *server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	uid, err := strconv.Atoi(mux.Vars(r)["uid"])
	if err != nil {
		http.Error(w, "invalid uid", http.StatusBadRequest)
		return
	}
	acct, err := s.ledger.Account(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(acct))
}

type amountRequest struct {
	UID    int    `json:"uid"`
	From   int    `json:"from"`
	To     int    `json:"to"`
	Amount string `json:"amount"`
}

func (s *server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return
	}
	if err := s.ledger.Deposit(r.Context(), req.UID, amount); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return
	}
	if err := s.ledger.Withdraw(r.Context(), req.UID, amount); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return
	}
	if err := s.ledger.Transfer(r.Context(), req.From, req.To, amount); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *server) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleElectLeader runs a Paxos round on the ("leader", election_id)
// key with this node's own address as the proposed value and returns the
// consensus outcome. The election id makes each round a fresh consensus
// instance, so a later election is never pinned to a dead leader by the
// write-once property of the previous round's key.
func (s *server) handleElectLeader(w http.ResponseWriter, r *http.Request) {
	key, err := dictionary.EncodeKey("leader", mux.Vars(r)["election_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	selfAddr, err := s.net.Addr(s.net.Self())
	if err != nil {
		writeError(w, err)
		return
	}
	final, err := s.dict.Set(r.Context(), key, []byte(selfAddr))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"leader": string(final)})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var lerr *ledger.LedgerError
	if errors.As(err, &lerr) {
		http.Error(w, lerr.Error(), http.StatusBadRequest)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
