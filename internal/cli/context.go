package cli

import (
	"github.com/rs/zerolog"

	"github.com/haymant/evolve/internal/config"
	"github.com/haymant/evolve/internal/host"
	"github.com/haymant/evolve/pkg/logger"
)

// Context carries the loaded configuration and lazily-built host into
// command handlers. One Context lives per invocation.
type Context struct {
	Config     *config.Config
	ConfigPath string
	Logger     *zerolog.Logger
	Verbose    bool
	Quiet      bool

	h *host.Host
}

// NewContext creates a command context.
func NewContext(cfg *config.Config, configPath string, log *zerolog.Logger, verbose, quiet bool) *Context {
	return &Context{
		Config:     cfg,
		ConfigPath: configPath,
		Logger:     log,
		Verbose:    verbose,
		Quiet:      quiet,
	}
}

// Host builds the bridge host on first use.
func (c *Context) Host() (*host.Host, error) {
	if c.h != nil {
		return c.h, nil
	}
	h, err := host.New(host.Options{Config: c.Config, Logger: c.Logger})
	if err != nil {
		return nil, err
	}
	c.h = h
	return h, nil
}

// Close releases everything the context built.
func (c *Context) Close() error {
	if c.h != nil {
		return c.h.Close()
	}
	return nil
}

// Log returns the context logger.
func (c *Context) Log() *zerolog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logger.Get()
}
