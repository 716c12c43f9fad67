package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/google/subcommands"

	"github.com/mit-pdos/go-lockgroup/lockgroup"
)

// cycleCmd implements subcommands.Command for the "cycle" command.
type cycleCmd struct {
	prio1, prio2 int
}

func (*cycleCmd) Name() string {
	return "cycle"
}

func (*cycleCmd) Synopsis() string {
	return "show how a two-thread lock cycle is resolved"
}

func (*cycleCmd) Usage() string {
	return `cycle [flags] - thread 1 holds A and thread 2 holds B; thread 2 asks for
A, then thread 1 asks for B. Prints which thread wins the cycle.
`
}

func (c *cycleCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.prio1, "p1", 1, "priority of thread 1")
	f.IntVar(&c.prio2, "p2", 1, "priority of thread 2")
}

func (c *cycleCmd) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig()
	if err != nil {
		Fatalf("loading config: %v", err)
	}
	log := setupLogging(cfg)
	coord := lockgroup.New(lockgroup.WithLogger(log))

	holder := func(name string, prio int) *lockgroup.HolderFuncs {
		return &lockgroup.HolderFuncs{
			Prio: prio,
			Interrupted: func(other lockgroup.Holder, sameThread bool) {
				fmt.Printf("%s interrupted by priority %d (same thread %v)\n", name, other.Priority(), sameThread)
			},
		}
	}

	var a, b lockgroup.Lockable
	t1, t2 := coord.NewThread(), coord.NewThread()
	h1, err := t1.Acquire(&a, holder("thread 1", c.prio1), 0)
	if err != nil {
		Fatalf("thread 1: %v", err)
	}
	h2, err := t2.Acquire(&b, holder("thread 2", c.prio2), 0)
	if err != nil {
		Fatalf("thread 2: %v", err)
	}

	done2 := make(chan error, 1)
	go func() {
		done2 <- h2.AddResource(&a, lockgroup.Infinite)
	}()
	for {
		if _, waiting := t2.WaitingOn(); waiting {
			break
		}
		time.Sleep(time.Millisecond)
	}
	done1 := make(chan error, 1)
	go func() {
		done1 <- h1.AddResource(&b, lockgroup.Infinite)
	}()

	var winner, loser *lockgroup.Handle
	var wait chan error
	select {
	case err = <-done1:
		winner, loser, wait = h1, h2, done2
		fmt.Println("thread 1 wins")
	case err = <-done2:
		winner, loser, wait = h2, h1, done1
		fmt.Println("thread 2 wins")
	}
	if err != nil {
		Fatalf("winner: %v", err)
	}
	winner.Release()
	if err := <-wait; err != nil {
		Fatalf("loser: %v", err)
	}
	loser.Release()

	st := coord.Stats()
	fmt.Printf("cycles %d, wins %d, losses %d, interrupts %d\n", st.Cycles, st.Wins, st.Losses, st.Interrupts)
	return subcommands.ExitSuccess
}
