package control

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/procwatch/agent/internal/collect"
	"github.com/procwatch/agent/internal/config"
	"github.com/procwatch/agent/internal/host"
	"github.com/procwatch/agent/internal/programs"
	"github.com/procwatch/agent/internal/thresholds"
	"github.com/procwatch/agent/internal/view"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const apiShutdownTimeout = 5 * time.Second

// Plane is the periodic driver. It owns one threshold registry, one process
// collector, one program aggregator and one program list view, constructed
// once at startup and shared by reference with the API handlers.
type Plane struct {
	logger    *zap.Logger
	config    *PlaneConfig
	context   context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	running   *atomic.Bool

	machineId   string
	registry    *thresholds.Registry
	collector   *collect.Collector
	aggregator  *programs.Aggregator
	programList *view.ProgramList
	apiServer   *http.Server
}

func NewPlane(rootLogger *zap.Logger, planeConfig *PlaneConfig, cfg *config.Config) (*Plane, error) {
	if valid, err := planeConfig.Valid(); !valid {
		return nil, errors.WithMessage(err, "validate plane config")
	}

	logger := rootLogger.Named("control-plane")
	ctx, cancel := context.WithCancel(context.Background())

	machineId, err := host.MachineId()
	if err != nil {
		cancel()
		return nil, errors.WithMessage(err, "get machine id")
	}

	registry := thresholds.NewRegistry(rootLogger)
	registry.LoadConfig(cfg)

	aggregator := programs.NewAggregator(rootLogger, registry)
	collector := collect.NewCollector(rootLogger, aggregator)

	programList := view.NewProgramList(rootLogger, aggregator)
	if err := programList.LoadConfig(cfg); err != nil {
		cancel()
		return nil, errors.WithMessage(err, "load program list config")
	}

	plane := &Plane{
		logger:      logger,
		config:      planeConfig,
		context:     ctx,
		cancel:      cancel,
		running:     atomic.NewBool(false),
		machineId:   machineId,
		registry:    registry,
		collector:   collector,
		aggregator:  aggregator,
		programList: programList,
	}

	if planeConfig.ApiListenAddress != "" {
		plane.apiServer = &http.Server{
			Addr:    planeConfig.ApiListenAddress,
			Handler: plane.newApiMux(),
		}
	}

	return plane, nil
}

func (p *Plane) Start() error {
	if !p.running.CAS(false, true) {
		return errors.New("control plane already running")
	}

	p.logger.Info("Start control plane",
		zap.Duration("UpdateInterval", p.config.UpdateInterval),
		zap.String("ApiListenAddress", p.config.ApiListenAddress))

	p.waitGroup.Add(1)
	go p.updateLoop()

	if p.apiServer != nil {
		p.waitGroup.Add(1)
		go p.serveApi()
	}

	return nil
}

// updateLoop is the single driver of the collection cycle: each tick
// refreshes the process snapshot (which feeds the aggregator) and then the
// program list view. Failures inside the cycle never terminate the loop.
func (p *Plane) updateLoop() {
	defer p.waitGroup.Done()

	ticker := time.NewTicker(p.config.UpdateInterval)
	defer ticker.Stop()

	p.updateCycle()

	for {
		select {
		case <-p.context.Done():
			return
		case <-ticker.C:
			p.updateCycle()
		}
	}
}

func (p *Plane) updateCycle() {
	started := time.Now()

	p.collector.Update()
	p.programList.Update()

	p.logger.Debug("Update cycle done",
		zap.Int("ProcessCount", p.collector.Count()),
		zap.Duration("Elapsed", time.Since(started)))
}

func (p *Plane) serveApi() {
	defer p.waitGroup.Done()

	if err := p.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		p.logger.Error("Api server failed", zap.Error(err))
	}
}

func (p *Plane) Stop() error {
	p.logger.Info("Stop control plane")

	if p.apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), apiShutdownTimeout)
		defer shutdownCancel()
		if err := p.apiServer.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn("Api server shutdown failed", zap.Error(err))
		}
	}

	p.cancel()
	p.running.Store(false)
	return nil
}

func (p *Plane) WaitUntilCompletion() {
	p.waitGroup.Wait()
}

func (p *Plane) Running() bool {
	return p.running.Load()
}

// Collector exposes the process collector to embedding control layers.
func (p *Plane) Collector() *collect.Collector {
	return p.collector
}

// Aggregator exposes the program aggregator to embedding control layers.
func (p *Plane) Aggregator() *programs.Aggregator {
	return p.aggregator
}

// ProgramList exposes the display-shaping view to embedding control layers.
func (p *Plane) ProgramList() *view.ProgramList {
	return p.programList
}

// Thresholds exposes the threshold registry to embedding control layers.
func (p *Plane) Thresholds() *thresholds.Registry {
	return p.registry
}
