package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rzbill/flojobs/pkg/log"
)

// Sweeper periodically removes servers that stopped heartbeating.
type Sweeper struct {
	reg      *Registry
	interval time.Duration
	timeout  time.Duration
	logger   log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper. Zero interval defaults to 30s and zero
// timeout to 5m.
func NewSweeper(reg *Registry, interval, timeout time.Duration, logger log.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = reg.logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		reg:      reg,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins sweeping in the background.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop gracefully stops the sweeper.
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("server sweeper started",
		log.Dur("interval", s.interval),
		log.Dur("timeout", s.timeout),
	)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("server sweeper stopped")
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	n, err := s.reg.RemoveTimedOutServers(s.ctx, s.timeout)
	if err != nil {
		if s.ctx.Err() == nil {
			s.logger.Error("server sweep failed", log.Err(err))
		}
		return
	}
	if n > 0 {
		s.logger.Info("server sweep removed servers", log.Int("count", n))
	}
}

// Heartbeater keeps one server's registry entry fresh.
type Heartbeater struct {
	reg      *Registry
	serverID string
	interval time.Duration
	logger   log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHeartbeater creates a heartbeater. Zero interval defaults to 30s.
func NewHeartbeater(reg *Registry, serverID string, interval time.Duration, logger log.Logger) *Heartbeater {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = reg.logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Heartbeater{
		reg:      reg,
		serverID: serverID,
		interval: interval,
		logger:   logger.With(log.Str("server_id", serverID)),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (h *Heartbeater) Start() {
	h.wg.Add(1)
	go h.run()
}

func (h *Heartbeater) Stop() {
	h.cancel()
	h.wg.Wait()
}

func (h *Heartbeater) run() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			if err := h.reg.Heartbeat(h.ctx, h.serverID); err != nil && h.ctx.Err() == nil {
				h.logger.Warn("heartbeat failed", log.Err(err))
			}
		}
	}
}
