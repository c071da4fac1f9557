package client

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	healthPath           = "/health"
	DefaultProbeInterval = 5 * time.Second
)

var (
	ErrProbeStarted    = errors.New("connectivity probe already started")
	ErrProbeNotStarted = errors.New("connectivity probe not started")
)

// Probe polls the API health endpoint and reports reachability. It satisfies
// offlinequeue.Connectivity.
type Probe struct {
	http     *resty.Client
	interval time.Duration

	online  atomic.Bool
	changes chan bool

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewProbe(baseURL string, interval time.Duration) *Probe {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Probe{
		http:     resty.New().SetBaseURL(baseURL).SetTimeout(interval),
		interval: interval,
		changes:  make(chan bool, 1),
	}
}

func (p *Probe) Online() bool { return p.online.Load() }

// Changes delivers the latest reachability after each transition.
func (p *Probe) Changes() <-chan bool { return p.changes }

// Check probes the health endpoint once and records the result.
func (p *Probe) Check(ctx context.Context) bool {
	resp, err := p.http.R().SetContext(ctx).Get(healthPath)
	online := err == nil && resp.IsSuccess()
	p.set(online)
	return online
}

// Start probes immediately and then every interval until Stop.
func (p *Probe) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrProbeStarted
	}
	p.started = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go p.loop(ctx, p.stopCh, p.doneCh)
	return nil
}

func (p *Probe) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrProbeNotStarted
	}
	p.started = false
	close(p.stopCh)
	doneCh := p.doneCh
	p.mu.Unlock()

	<-doneCh
	return nil
}

func (p *Probe) loop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Check(ctx)
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

func (p *Probe) set(online bool) {
	if p.online.Swap(online) == online {
		return
	}
	if online {
		log.Println("[HEARTBEAT-CLIENT] API reachable again")
	} else {
		log.Println("[HEARTBEAT-CLIENT] API unreachable, heartbeats will be queued")
	}

	// keep only the most recent transition for a slow reader
	select {
	case <-p.changes:
	default:
	}
	select {
	case p.changes <- online:
	default:
	}
}
