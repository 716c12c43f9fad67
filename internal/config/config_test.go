package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOverridesDefaults(t *testing.T) {
	assert := assert.New(t)
	c, err := New(strings.NewReader(`
disk:
  path: /tmp/ledger.img
accounts: 64
duration: 2s
timeout: 250ms
logLevel: debug
`))
	require.NoError(t, err)
	assert.Equal("/tmp/ledger.img", c.Disk.Path)
	assert.Equal(uint64(64), c.Accounts)
	assert.Equal(2*time.Second, c.Duration)
	assert.Equal(250*time.Millisecond, c.Timeout)
	assert.Equal(8, c.Workers, "unset fields keep defaults")
	assert.NoError(c.Validate())
	lvl, _ := c.Level()
	assert.Equal(logrus.DebugLevel, lvl)
}

func TestNewEmpty(t *testing.T) {
	c, err := New(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestNewRejectsUnknownFields(t *testing.T) {
	_, err := New(strings.NewReader("acounts: 3\n"))
	assert.Error(t, err)
}

func TestFromFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "lockbench.yaml")
	require.NoError(t, os.WriteFile(name, []byte("workers: 3\n"), 0644))
	c, err := FromFile(name)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Workers)

	_, err = FromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		mod  func(c *Config)
	}{
		{"one account", func(c *Config) { c.Accounts = 1 }},
		{"no workers", func(c *Config) { c.Workers = 0 }},
		{"zero duration", func(c *Config) { c.Duration = 0 }},
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }},
		{"zero amount", func(c *Config) { c.MaxAmount = 0 }},
		{"no priorities", func(c *Config) { c.Priorities = 0 }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			require.NoError(t, c.Validate())
			tc.mod(c)
			assert.Error(t, c.Validate())
		})
	}

	c := Default()
	c.Timeout = -1
	assert.NoError(t, c.Validate(), "-1 means no timeout")
}
