// Command supervisor launches a cluster of workers, exercises their
// recovery story with a chaos killer, runs the leader-update feedback
// loop, and steers a gateway's upstream configuration.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/senutpal/paxosledger/internal/supervisor"
	"github.com/senutpal/paxosledger/internal/transport"
)

func main() {
	var (
		numWorkers   int
		ledgerFile   string
		gatewayPort  int
		basePort     int
		killEvery    []float64
		restartAfter []float64
		killerType   string
		killerAddr   string
		generator    string
		probePeriod  float64
		workerExec   string
	)

	root := &cobra.Command{
		Use:   "supervisor",
		Short: "launches and chaos-tests a replicated ledger cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cliConfig{
				numWorkers:   numWorkers,
				ledgerFile:   ledgerFile,
				gatewayPort:  gatewayPort,
				basePort:     basePort,
				killEvery:    killEvery,
				restartAfter: restartAfter,
				killerType:   killerType,
				killerAddr:   killerAddr,
				generator:    generator,
				probePeriod:  probePeriod,
				workerExec:   workerExec,
			})
		},
	}

	root.Flags().IntVar(&numWorkers, "num-workers", 3, "number of worker replicas")
	root.Flags().StringVar(&ledgerFile, "ledger-file", "", "directory holding each worker's snapshot file")
	root.Flags().IntVar(&gatewayPort, "gateway-port", 8080, "port the gateway listens on")
	root.Flags().IntVar(&basePort, "base-port", 9000, "first communicator port; worker i binds basePort+2*i, its HTTP shim basePort+2*i+1")
	root.Flags().Float64SliceVar(&killEvery, "kill-every", []float64{30, 10}, "MEAN [DEV] seconds between chaos kills")
	root.Flags().Float64SliceVar(&restartAfter, "restart-after", []float64{5, 2}, "MEAN [DEV] seconds before a killed worker is respawned")
	root.Flags().StringVar(&killerType, "killer-type", "random", "random|interactive")
	root.Flags().StringVar(&killerAddr, "killer-addr", ":9999", "admin address for the interactive killer's HTTP routes")
	root.Flags().StringVar(&generator, "generator", "incremental", "incremental|time_aware, passed through to every worker")
	root.Flags().Float64Var(&probePeriod, "probe-period", 2.0, "seconds between prober health checks")
	root.Flags().StringVar(&workerExec, "worker-exec", "", "path to the cmd/worker binary (defaults to the running binary's sibling)")
	root.MarkFlagRequired("ledger-file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type cliConfig struct {
	numWorkers   int
	ledgerFile   string
	gatewayPort  int
	basePort     int
	killEvery    []float64
	restartAfter []float64
	killerType   string
	killerAddr   string
	generator    string
	probePeriod  float64
	workerExec   string
}

func dist(vals []float64) supervisor.Dist {
	if len(vals) == 0 {
		return supervisor.Dist{}
	}
	mean := time.Duration(vals[0] * float64(time.Second))
	var dev time.Duration
	if len(vals) > 1 {
		dev = time.Duration(vals[1] * float64(time.Second))
	}
	return supervisor.Dist{Mean: mean, Dev: dev}
}

func run(ctx context.Context, cfg cliConfig) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Str("component", "supervisor").Logger()

	workerExec := cfg.workerExec
	if workerExec == "" {
		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("supervisor: locate own binary: %w", err)
		}
		workerExec = filepath.Join(filepath.Dir(self), "worker")
	}

	commAddrs := make([]transport.Address, cfg.numWorkers)
	httpEndpoints := supervisor.WorkerEndpoints{}
	electAddrs := supervisor.WorkerCommAddrs{}
	for i := 0; i < cfg.numWorkers; i++ {
		commAddrs[i] = transport.Address(fmt.Sprintf("localhost:%d", cfg.basePort+2*i))
		httpEndpoints[i] = fmt.Sprintf("http://localhost:%d", cfg.basePort+2*i+1)
		electAddrs[i] = string(commAddrs[i])
	}

	registry := supervisor.NewRegistry()
	for i := 0; i < cfg.numWorkers; i++ {
		peers := make([]string, len(commAddrs))
		for j, a := range commAddrs {
			peers[j] = string(a)
		}
		args := []string{
			"--addr", string(commAddrs[i]),
			"--peers", strings.Join(peers, ","),
			"--snapshot", filepath.Join(cfg.ledgerFile, "node-"+strconv.Itoa(i)+".snapshot"),
			"--http-addr", fmt.Sprintf(":%d", cfg.basePort+2*i+1),
			"--generator", cfg.generator,
		}
		w := supervisor.NewWorker(workerExec, supervisor.WorkerSpec{UID: i, Addr: commAddrs[i], Args: args}, log)
		registry.Add(w)
		if err := w.Respawn(); err != nil {
			return fmt.Errorf("supervisor: start worker %d: %w", i, err)
		}
	}

	var killer supervisor.ChaosKiller
	switch cfg.killerType {
	case "interactive":
		killer = supervisor.NewInteractiveKiller(registry, log.With().Str("component", "killer").Logger())
	default:
		restart := dist(cfg.restartAfter)
		killer = supervisor.NewRandomKiller(registry, dist(cfg.killEvery), &restart, log.With().Str("component", "killer").Logger())
	}

	gateway := supervisor.NewGateway(filepath.Join(cfg.ledgerFile, "gateway.conf"), cfg.gatewayPort, log.With().Str("component", "gateway").Logger())
	prober := supervisor.NewProber(httpEndpoints, electAddrs, time.Duration(cfg.probePeriod*float64(time.Second)), nil, log.With().Str("component", "prober").Logger())

	return supervisor.Run(ctx, supervisor.Config{
		Registry:   registry,
		Killer:     killer,
		Prober:     prober,
		Gateway:    gateway,
		KillerAddr: cfg.killerAddr,
		Log:        log,
	})
}
