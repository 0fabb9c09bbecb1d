package stress

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/hupe1980/scopearena"
	"github.com/hupe1980/scopearena/resource"
)

// Result summarises one profile run.
type Result struct {
	Profile string        `json:"profile"`
	Kind    Kind          `json:"kind"`
	Elapsed time.Duration `json:"elapsed"`

	Allocs     int64 `json:"allocs"`
	Promotions int64 `json:"promotions"`
	Scopes     int64 `json:"scopes"`
	Resets     int64 `json:"resets"`
	Verified   int64 `json:"verified"`

	// Tree is taken after the workload, before the root is destroyed.
	Tree      scopearena.TreeStats `json:"tree"`
	Resources resource.Stats       `json:"resources"`
	// Metrics is taken after the root is destroyed.
	Metrics scopearena.BasicMetricsStats `json:"metrics"`
}

// OpsPerSec returns allocations per second.
func (r *Result) OpsPerSec() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Allocs) / r.Elapsed.Seconds()
}

// Runner executes profiles, each against a fresh root arena.
type Runner struct {
	Logger *scopearena.Logger
	// Observer receives the metrics of every run in addition to the
	// collector backing Result.Metrics.
	Observer scopearena.MetricsObserver

	OffHeap           bool
	DisableBackground bool

	// Inspect, if set, is called with the root after a successful workload
	// and before the root is destroyed.
	Inspect func(p Profile, root *scopearena.Arena) error
}

// Run executes p. The returned result is populated even if the workload
// failed.
func (r *Runner) Run(ctx context.Context, p Profile) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p = p.withDefaults()

	cfg := p.Arena
	if r.OffHeap {
		cfg.OffHeap = true
	}
	if r.DisableBackground {
		cfg.DisableBackground = true
	}

	metrics := &scopearena.BasicMetricsCollector{}
	opts := []scopearena.Option{
		scopearena.WithConfig(cfg),
		scopearena.WithMetricsObserver(scopearena.MultiObserver(metrics, r.Observer)),
	}
	if r.Logger != nil {
		opts = append(opts, scopearena.WithLogger(r.Logger))
	}

	root := scopearena.NewRoot(opts...)
	c := &counters{}
	e := &env{
		root: root,
		p:    p,
		rng:  rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15)),
		c:    c,
	}

	start := time.Now()
	err := drivers[p.Kind](ctx, e)
	res := &Result{
		Profile:    p.Name,
		Kind:       p.Kind,
		Elapsed:    time.Since(start),
		Allocs:     c.allocs.Load(),
		Promotions: c.promotions.Load(),
		Scopes:     c.scopes.Load(),
		Resets:     c.resets.Load(),
		Verified:   c.verified.Load(),
		Tree:       root.TreeStats(),
		Resources:  root.Resources(),
	}
	if err != nil {
		err = fmt.Errorf("stress: profile %q: %w", p.Name, err)
	}
	if err == nil && r.Inspect != nil {
		err = r.Inspect(p, root)
	}

	root.Destroy()
	res.Metrics = metrics.GetStats()

	if err == nil && res.Metrics.BlockBytes != 0 {
		err = fmt.Errorf("stress: profile %q: %d block bytes still held after destroy", p.Name, res.Metrics.BlockBytes)
	}
	return res, err
}

func (p Profile) withDefaults() Profile {
	if p.AllocSize <= 0 {
		p.AllocSize = 64
	}
	if p.Handles <= 0 {
		p.Handles = 1
	}
	if p.Children <= 0 {
		p.Children = 1
	}
	if p.Workers <= 0 {
		p.Workers = 1
	}
	if p.PromoteEvery <= 0 {
		p.PromoteEvery = 1
	}
	if p.Seed == 0 {
		p.Seed = 42
	}
	return p
}
