package main

import (
	"context"
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-lockgroup/internal/config"
	"github.com/mit-pdos/go-lockgroup/ledger"
	"github.com/mit-pdos/go-lockgroup/lockgroup"
)

func TestOverride(t *testing.T) {
	r := &runCmd{}
	f := flag.NewFlagSet("run", flag.ContinueOnError)
	r.SetFlags(f)
	require.NoError(t, f.Parse([]string{"-workers", "3", "-timeout", "-1ns"}))

	cfg := config.Default()
	r.override(f, cfg)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, lockgroup.Infinite, cfg.Timeout)
	assert.Equal(t, config.Default().Accounts, cfg.Accounts, "unset flags leave the config alone")
}

func TestTransfers(t *testing.T) {
	cfg := config.Default()
	cfg.Accounts = 4
	cfg.Workers = 4
	cfg.Duration = 200 * time.Millisecond
	cfg.Timeout = lockgroup.Infinite
	cfg.MaxRetries = 100000
	require.NoError(t, cfg.Validate())

	d, err := openDisk(cfg)
	require.NoError(t, err)
	l, err := ledger.Format(d, cfg.Accounts, ledger.WithMaxRetries(cfg.MaxRetries))
	require.NoError(t, err)

	res, err := transfers(context.Background(), l, cfg)
	require.NoError(t, err)
	assert.NotZero(t, res.done.Load())
	assert.Zero(t, res.timedOut.Load())

	total, err := l.Total(l.NewThread(), 0, lockgroup.Infinite)
	require.NoError(t, err)
	assert.Equal(t, cfg.Accounts*cfg.InitialBalance, total)
}
