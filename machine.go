package rtspcamtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

// ErrHandleClosed is returned by operations on a released resource handle.
var ErrHandleClosed = errors.New("resource handle is closed")

// machineAPI is the slice of the robot client the session needs.
type machineAPI interface {
	Refresh(ctx context.Context) error
}

// Session tracks a live connection to the machine and owns the only retry
// logic in the harness: a fixed-interval poll for resources the machine has
// not activated yet.
type Session struct {
	machine machineAPI
	logger  logging.Logger

	// PollInterval is the sleep between lookup attempts; 1s when zero.
	PollInterval time.Duration
	// MaxAttempts bounds the wait loop for non-interactive runs;
	// 0 means wait forever, which is fine when a human is watching.
	MaxAttempts int
}

func NewSession(machine machineAPI, logger logging.Logger) *Session {
	return &Session{machine: machine, logger: logger, PollInterval: time.Second}
}

// SafeRefresh re-enumerates the machine's resources, swallowing and logging
// any error. Refresh failures are never fatal.
func (s *Session) SafeRefresh(ctx context.Context) {
	if err := s.machine.Refresh(ctx); err != nil {
		s.logger.Warnf("got error while refreshing machine, continuing anyway: %v", err)
	}
}

// WaitForResource runs lookup until it succeeds, sleeping and refreshing the
// machine after each not-found result. Any other error class propagates
// immediately. The resource comes back wrapped in a Handle that must be
// released before the machine is reconfigured.
func (s *Session) WaitForResource(ctx context.Context, name string, lookup func() (resource.Resource, error)) (*Handle, error) {
	interval := s.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	attempts := 0
	for {
		res, err := lookup()
		if err == nil {
			return &Handle{name: name, res: res}, nil
		}
		if !resource.IsNotFoundError(err) {
			return nil, err
		}
		attempts++
		if s.MaxAttempts > 0 && attempts >= s.MaxAttempts {
			return nil, fmt.Errorf("%s not found after %d attempts: %w", name, attempts, err)
		}
		s.logger.Infof("%s resource not found yet, sleeping then trying again: %v", name, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
		s.SafeRefresh(ctx)
	}
}

// Handle is a live reference to a named resource on the machine. It becomes
// invalid once released; the platform does not guarantee a resource client
// survives reconfiguration of its backing resource, so the runner releases
// handles before every config push.
type Handle struct {
	name   string
	res    resource.Resource
	closed bool
}

func (h *Handle) Name() string {
	return h.name
}

// Resource returns the underlying resource for typed use.
func (h *Handle) Resource() (resource.Resource, error) {
	if h.closed {
		return nil, fmt.Errorf("%s: %w", h.name, ErrHandleClosed)
	}
	return h.res, nil
}

func (h *Handle) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	if h.closed {
		return nil, fmt.Errorf("%s: %w", h.name, ErrHandleClosed)
	}
	return h.res.DoCommand(ctx, cmd)
}

// Release closes the underlying resource client. Releasing twice is a no-op.
func (h *Handle) Release(ctx context.Context) error {
	if h.closed {
		return nil
	}
	h.closed = true
	return h.res.Close(ctx)
}
