// Package guardproc is a broker.ConnectionProcessor enforcing static
// connection-rate and CPU-headroom limits, grounded on
// src/resource_guard.go's ResourceGuard: golang.org/x/time/rate for the
// connect-rate limiter, gopsutil/v3/cpu for host CPU sampling, and a
// background refresh loop instead of measuring CPU on the hot path.
package guardproc

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/time/rate"

	"github.com/scbroker/broker/internal/broker"
)

// Config carries the static thresholds the guard enforces.
type Config struct {
	MaxConnectRate     float64 // connects/sec, burst of the same size
	CPURejectThreshold float64 // percent; reject new connects above this
	SampleInterval      time.Duration
}

// Processor rejects Connect attempts once the configured connect rate or
// CPU usage is exceeded. It does not gate existing traffic — only new
// connections — mirroring ResourceGuard's "safety valve, not a scheduler"
// design.
type Processor struct {
	cfg     Config
	limiter *rate.Limiter

	cpuPercent atomic.Value // float64

	cancel context.CancelFunc
}

// NewProcessor builds a guardproc.Processor and starts its background CPU
// sampler. Callers must call Close (done automatically via Queue.Shutdown
// once registered) to stop the sampler.
func NewProcessor(cfg Config) *Processor {
	if cfg.MaxConnectRate <= 0 {
		cfg.MaxConnectRate = 50
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 2 * time.Second
	}
	p := &Processor{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxConnectRate), int(cfg.MaxConnectRate)),
	}
	p.cpuPercent.Store(float64(0))

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.sampleLoop(ctx)
	return p
}

func (p *Processor) sampleLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			percents, err := cpu.Percent(0, false)
			if err == nil && len(percents) > 0 {
				p.cpuPercent.Store(percents[0])
			}
		}
	}
}

func (p *Processor) currentCPU() float64 {
	v, _ := p.cpuPercent.Load().(float64)
	return v
}

func (p *Processor) Capabilities() broker.Capability { return broker.CapConnection }

func (p *Processor) Close() {
	if p.cancel != nil {
		p.cancel()
	}
}

// AcceptConnection rejects a connect when either the connect-rate limiter
// is exhausted or host CPU usage exceeds the configured threshold.
func (p *Processor) AcceptConnection(_ broker.Client, _ map[string]string, _ map[string]string) bool {
	if p.cfg.CPURejectThreshold > 0 && p.currentCPU() > p.cfg.CPURejectThreshold {
		return false
	}
	return p.limiter.Allow()
}

func (p *Processor) DropConnection(_ broker.Client) {}
