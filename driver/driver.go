package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Shimmur/lokiload/loki"
	"github.com/google/uuid"
	limiter "github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"
	log "github.com/sirupsen/logrus"
)

const limitKey = "push"

var ErrAlreadyStarted = errors.New("driver has already been started")

// A Pusher delivers one request to the ingestion endpoint. Implementations
// must be safe for concurrent use; every virtual client shares one.
type Pusher interface {
	Push(ctx context.Context, pr *loki.PushRequest) error
}

// Config controls the shape of a run
type Config struct {
	// Number of virtual clients
	Concurrency int
	// Requests each client sends before stopping. 0 means until the
	// context is done.
	Iterations int
	// Time over which clients are started. 0 starts them all at once.
	RampTime time.Duration
	// Cap on requests per second across all clients. 0 means no cap.
	Rate int
}

// Validate rejects configs that can't produce a run
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.Iterations < 0 {
		return fmt.Errorf("iterations can't be negative, got %d", c.Iterations)
	}
	if c.RampTime < 0 {
		return fmt.Errorf("ramp time can't be negative, got %s", c.RampTime)
	}
	if c.Rate < 0 {
		return fmt.Errorf("rate can't be negative, got %d", c.Rate)
	}
	return nil
}

// A Driver runs a pool of virtual clients against a Pusher. Each client
// loops over the registered templates independently of all the others.
type Driver struct {
	Config
	RunID string

	pusher     Pusher
	limitStore limiter.Store

	lock      sync.RWMutex
	templates []*Template
	clients   []*virtualClient
	started   bool
}

// NewDriver returns a Driver with no templates registered
func NewDriver(config Config, pusher Pusher) (*Driver, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	d := &Driver{
		Config: config,
		RunID:  uuid.NewString(),
		pusher: pusher,
	}

	if config.Rate > 0 {
		store, err := memorystore.New(&memorystore.Config{
			// Tokens handed out per interval, across every client
			Tokens:   uint64(config.Rate),
			Interval: time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("unable to create rate limit store: %w", err)
		}
		d.limitStore = store
	}

	return d, nil
}

// RegisterTemplate adds a request shape to the rotation. A zero weight
// registers the template without ever scheduling it.
func (d *Driver) RegisterTemplate(name string, weight int, build BuildFunc) error {
	if weight < 0 {
		return fmt.Errorf("template '%s' has negative weight %d", name, weight)
	}
	if build == nil {
		return fmt.Errorf("template '%s' has no builder", name)
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	if d.started {
		return ErrAlreadyStarted
	}

	for _, t := range d.templates {
		if t.Name == name {
			return fmt.Errorf("template '%s' is already registered", name)
		}
	}

	d.templates = append(d.templates, &Template{Name: name, Weight: weight, Build: build})
	return nil
}

// RegisterSpecs validates the specs and registers a template for each
func (d *Driver) RegisterSpecs(specs []TemplateSpec) error {
	if err := ValidateTemplateSpecs(specs); err != nil {
		return err
	}

	for _, spec := range specs {
		if err := d.RegisterTemplate(spec.Name, spec.Weight, spec.Builder(time.Now)); err != nil {
			return err
		}
	}

	return nil
}

// Run starts the virtual clients and blocks until all of them have stopped,
// either from running out of iterations or from the context being done.
// Requests already in flight when the context ends are allowed to finish.
func (d *Driver) Run(ctx context.Context) (Snapshot, error) {
	d.lock.Lock()
	if d.started {
		d.lock.Unlock()
		return Snapshot{}, ErrAlreadyStarted
	}

	templates := make([]*Template, len(d.templates))
	copy(templates, d.templates)

	schedule, err := buildSchedule(templates)
	if err != nil {
		d.lock.Unlock()
		return Snapshot{}, err
	}
	d.started = true
	d.lock.Unlock()

	log.WithFields(log.Fields{
		"run_id":      d.RunID,
		"concurrency": d.Concurrency,
		"iterations":  d.Iterations,
		"templates":   len(templates),
		"rate":        d.Rate,
	}).Info("Starting load run")

	var spawnInterval time.Duration
	if d.RampTime > 0 {
		spawnInterval = d.RampTime / time.Duration(d.Concurrency)
	}

	var wg sync.WaitGroup

spawn:
	for i := 0; i < d.Concurrency; i++ {
		if i > 0 && spawnInterval > 0 {
			select {
			case <-ctx.Done():
				log.Infof("Stopped ramping up after %d clients", i)
				break spawn
			case <-time.After(spawnInterval):
			}
		}

		client := newVirtualClient(i, d, templates, schedule)

		d.lock.Lock()
		d.clients = append(d.clients, client)
		d.lock.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := client.run(ctx)
			if err != nil {
				log.Errorf("Client %d stopped: %s", client.id, err)
			}
		}()
	}

	wg.Wait()

	snap := d.Snapshot()
	log.WithFields(log.Fields{
		"run_id":    d.RunID,
		"sent":      snap.Sent,
		"succeeded": snap.Succeeded,
		"failed":    snap.Failed,
		"mean":      snap.MeanLatency(),
		"max":       snap.MaxLatency,
	}).Info("Load run finished")

	return snap, nil
}

// pace blocks until the shared limiter hands out a token. It is a no-op
// when no rate is configured.
func (d *Driver) pace(ctx context.Context) error {
	if d.limitStore == nil {
		return nil
	}

	for {
		_, _, reset, ok, err := d.limitStore.Take(ctx, limitKey)
		if err != nil {
			return fmt.Errorf("unable to take from rate limiter: %w", err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(time.Unix(0, int64(reset)))):
		}
	}
}

// Snapshot aggregates the counters of every client started so far
func (d *Driver) Snapshot() Snapshot {
	d.lock.RLock()
	defer d.lock.RUnlock()

	snap := Snapshot{
		Taken:       time.Now(),
		PerTemplate: make(map[string]uint64, len(d.templates)),
	}
	for _, t := range d.templates {
		snap.PerTemplate[t.Name] = 0
	}
	for _, c := range d.clients {
		snap.add(c.stats, d.templates)
	}

	return snap
}

// ClientSnapshots returns each client's own counters, ordered by client id
func (d *Driver) ClientSnapshots() []ClientSnapshot {
	d.lock.RLock()
	defer d.lock.RUnlock()

	snaps := make([]ClientSnapshot, 0, len(d.clients))
	for _, c := range d.clients {
		snaps = append(snaps, c.stats.snapshot(c.id))
	}
	return snaps
}

// TemplateNames lists the registered templates in registration order
func (d *Driver) TemplateNames() []string {
	d.lock.RLock()
	defer d.lock.RUnlock()

	names := make([]string, 0, len(d.templates))
	for _, t := range d.templates {
		names = append(names, t.Name)
	}
	return names
}

// Close releases the rate limiter, if any
func (d *Driver) Close() {
	if d.limitStore != nil {
		_ = d.limitStore.Close(context.Background())
	}
}
