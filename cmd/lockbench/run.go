package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/subcommands"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/mit-pdos/go-lockgroup/disk"
	"github.com/mit-pdos/go-lockgroup/internal/config"
	"github.com/mit-pdos/go-lockgroup/ledger"
	"github.com/mit-pdos/go-lockgroup/lockgroup"
)

// runCmd implements subcommands.Command for the "run" command.
type runCmd struct {
	workers  int
	accounts uint64
	duration time.Duration
	timeout  time.Duration
	metrics  string
}

func (*runCmd) Name() string {
	return "run"
}

func (*runCmd) Synopsis() string {
	return "run random transfers between ledger accounts and check the total"
}

func (*runCmd) Usage() string {
	return `run [flags] - workers move money between random pairs of accounts,
locking both accounts in argument order. Lock cycles are resolved by the
coordinator; preempted transfers retry. At the end the total balance must
equal the starting total.
`
}

func (r *runCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&r.workers, "workers", 0, "number of workers (overrides config)")
	f.Uint64Var(&r.accounts, "accounts", 0, "number of accounts (overrides config)")
	f.DurationVar(&r.duration, "duration", 0, "how long to run (overrides config)")
	f.DurationVar(&r.timeout, "timeout", 0, "per-lock timeout, -1ns for none (overrides config)")
	f.StringVar(&r.metrics, "metrics", "", "address to serve Prometheus metrics on (overrides config)")
}

func (r *runCmd) override(f *flag.FlagSet, cfg *config.Config) {
	f.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "workers":
			cfg.Workers = r.workers
		case "accounts":
			cfg.Accounts = r.accounts
		case "duration":
			cfg.Duration = r.duration
		case "timeout":
			cfg.Timeout = r.timeout
		case "metrics":
			cfg.Metrics = r.metrics
		}
	})
}

func (r *runCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	cfg, err := loadConfig()
	if err != nil {
		Fatalf("loading config: %v", err)
	}
	r.override(f, cfg)
	if err := cfg.Validate(); err != nil {
		Fatalf("invalid config: %v", err)
	}
	log := setupLogging(cfg)

	metrics := lockgroup.NewMetrics(prometheus.DefaultRegisterer, "lockbench")
	if cfg.Metrics != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics/", promhttp.Handler())
		srv := &http.Server{Addr: cfg.Metrics, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("metrics server failed")
			}
		}()
		defer func() {
			_ = srv.Close()
		}()
	}

	c := lockgroup.New(lockgroup.WithLogger(log), lockgroup.WithMetrics(metrics))
	d, err := openDisk(cfg)
	if err != nil {
		Fatalf("%v", err)
	}
	defer func() {
		_ = d.Close()
	}()
	l, err := ledger.Format(d, cfg.Accounts,
		ledger.WithCoordinator(c),
		ledger.WithLogger(log),
		ledger.WithMaxRetries(cfg.MaxRetries))
	if err != nil {
		Fatalf("formatting ledger: %v", err)
	}

	res, err := transfers(ctx, l, cfg)
	if err != nil {
		Fatalf("%v", err)
	}

	th := l.NewThread()
	total, err := l.Total(th, cfg.Priorities, lockgroup.Infinite)
	if err != nil {
		Fatalf("summing accounts: %v", err)
	}
	want := cfg.Accounts * cfg.InitialBalance

	ls, cs := l.Stats(), c.Stats()
	fmt.Printf("transfers: %d committed, %d refused, %d timed out in %v\n",
		res.done.Load(), res.refused.Load(), res.timedOut.Load(), cfg.Duration)
	fmt.Printf("ledger:    %d commits, %d aborted attempts, %d exhausted\n",
		ls.Commits, ls.Aborts, ls.Exhausted)
	fmt.Printf("locks:     %d acquisitions, %d waits, %d cycles (%d won, %d lost), %d interrupts, %d hand-offs\n",
		cs.Acquisitions, cs.Waits, cs.Cycles, cs.Wins, cs.Losses, cs.Interrupts, cs.HandOffs)
	fmt.Printf("total:     %d (want %d)\n", total, want)
	if total != want {
		log.Errorf("total balance changed: got %d, want %d", total, want)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func openDisk(cfg *config.Config) (disk.Disk, error) {
	n := ledger.DiskBlocks(cfg.Accounts)
	if cfg.Disk.Path == "" {
		return disk.NewMemDisk(n), nil
	}
	return disk.NewFileDisk(cfg.Disk.Path, n)
}

type results struct {
	done     atomic.Uint64
	refused  atomic.Uint64
	timedOut atomic.Uint64
}

// transfers opens every account and runs the workers until cfg.Duration
// has passed or one of them fails.
func transfers(ctx context.Context, l *ledger.Ledger, cfg *config.Config) (*results, error) {
	setup := l.NewThread()
	accts := make([]uint64, cfg.Accounts)
	for i := range accts {
		n, err := l.OpenAccount(setup, cfg.InitialBalance, lockgroup.Infinite)
		if err != nil {
			return nil, fmt.Errorf("opening account: %w", err)
		}
		accts[i] = n
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()
	res := &results{}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Workers; i++ {
		seed := time.Now().UnixNano() + int64(i)
		g.Go(func() error {
			rnd := rand.New(rand.NewSource(seed))
			th := l.NewThread()
			for ctx.Err() == nil {
				from := accts[rnd.Intn(len(accts))]
				to := accts[rnd.Intn(len(accts))]
				amount := uint64(rnd.Int63n(int64(cfg.MaxAmount))) + 1
				err := l.Transfer(th, from, to, amount, rnd.Intn(cfg.Priorities), cfg.Timeout)
				switch {
				case err == nil:
					res.done.Inc()
				case errors.Is(err, ledger.ErrInsufficientFunds):
					res.refused.Inc()
				case errors.Is(err, lockgroup.ErrTimedOut):
					res.timedOut.Inc()
				default:
					return fmt.Errorf("transfer %d -> %d: %w", from, to, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}
