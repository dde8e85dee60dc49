package balancer

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type Monitor interface {
	Serve()
	Shutdown()
}

// NewMonitor returns a monitor which refreshes the router membership in the
// background so acquisitions rarely have to wait for a discovery.
func NewMonitor(router *Router, pollTime, discoveryTimeout time.Duration, logger zerolog.Logger) Monitor {
	return &refreshMonitor{
		router:           router,
		pollTime:         pollTime,
		discoveryTimeout: discoveryTimeout,
		stop:             make(chan struct{}, 1),
		logger:           logger,
	}
}

type refreshMonitor struct {
	router           *Router
	pollTime         time.Duration
	discoveryTimeout time.Duration

	stop   chan struct{}
	logger zerolog.Logger
}

func (m *refreshMonitor) Serve() {
	go m.continuousDiscovery()
}

func (m *refreshMonitor) continuousDiscovery() {
	if m.router.NeedsRefresh() {
		m.refresh()
	}

	discoveryTick := time.NewTicker(m.pollTime)
	defer discoveryTick.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-discoveryTick.C:
			if !m.router.NeedsRefresh() {
				continue
			}
			m.refresh()
		}
	}
}

func (m *refreshMonitor) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), m.discoveryTimeout)
	defer cancel()

	applied, err := m.router.Refresh(ctx)
	if err != nil {
		// Already logged by the router.
		return
	}
	if applied {
		m.logger.Debug().Msg("Cluster membership refreshed in background")
	}
}

func (m *refreshMonitor) Shutdown() {
	m.stop <- struct{}{}
}
