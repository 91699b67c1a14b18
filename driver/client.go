package driver

import (
	"context"
	"errors"
	"time"

	director "github.com/relistan/go-director"
	log "github.com/sirupsen/logrus"
)

var errStopped = errors.New("client stopped")

// A virtualClient sends one request at a time, forever or for a fixed number
// of iterations. Everything it writes is its own; it shares only the Pusher
// and the optional rate limiter with the rest of the pool.
type virtualClient struct {
	id        int
	templates []*Template
	schedule  []int
	cursor    int

	driver *Driver
	stats  *clientStats
	looper director.Looper
}

func newVirtualClient(id int, d *Driver, templates []*Template, schedule []int) *virtualClient {
	count := director.FOREVER
	if d.Iterations > 0 {
		count = d.Iterations
	}

	return &virtualClient{
		id:        id,
		templates: templates,
		schedule:  schedule,
		// Stagger starting points so the pool doesn't hit one stream in lockstep
		cursor: id % len(schedule),
		driver: d,
		stats:  newClientStats(len(templates)),
		looper: director.NewFreeLooper(count, make(chan error, 1)),
	}
}

// run loops until the iteration budget is spent or the context is done
func (c *virtualClient) run(ctx context.Context) error {
	c.looper.Loop(func() error {
		return c.step(ctx)
	})

	err := c.looper.Wait()
	if errors.Is(err, errStopped) {
		return nil
	}
	return err
}

// next picks the template for this iteration, round-robin over the schedule
func (c *virtualClient) next() int {
	idx := c.schedule[c.cursor]
	c.cursor = (c.cursor + 1) % len(c.schedule)
	return idx
}

// step does one build, send, observe cycle. Push failures are counted and
// dropped; only a stop ends the loop.
func (c *virtualClient) step(ctx context.Context) error {
	if ctx.Err() != nil {
		return errStopped
	}

	if err := c.driver.pace(ctx); err != nil {
		if ctx.Err() == nil {
			log.Warnf("Client %d pacing failed: %s", c.id, err)
		}
		return errStopped
	}

	idx := c.next()
	tmpl := c.templates[idx]
	pr := tmpl.Build()

	// A stop must not cut off a request that has already been issued
	start := time.Now()
	err := c.driver.pusher.Push(context.WithoutCancel(ctx), pr)
	latency := time.Since(start)

	c.stats.record(idx, latency, err)

	if err != nil {
		log.WithFields(log.Fields{
			"client":   c.id,
			"template": tmpl.Name,
			"latency":  latency,
		}).Debugf("Push failed: %s", err)
	}

	return nil
}
