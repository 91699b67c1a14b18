package driver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Shimmur/lokiload/loki"
)

// mockPusher implements Pusher, for testing
type mockPusher struct {
	ShouldError bool
	Delay       time.Duration

	calls        atomic.Int64
	canceledSeen atomic.Int64

	lock     sync.Mutex
	byStream map[string]int
}

func newMockPusher() *mockPusher {
	return &mockPusher{byStream: make(map[string]int)}
}

func (p *mockPusher) Push(ctx context.Context, pr *loki.PushRequest) error {
	p.calls.Add(1)

	if p.Delay > 0 {
		time.Sleep(p.Delay)
	}
	if ctx.Err() != nil {
		p.canceledSeen.Add(1)
	}

	p.lock.Lock()
	for _, s := range pr.Streams {
		p.byStream[s.Labels["filename"]] += len(s.Values)
	}
	p.lock.Unlock()

	if p.ShouldError {
		return errors.New("intentional test error")
	}
	return nil
}

func (p *mockPusher) streamCount(filename string) int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.byStream[filename]
}

func staticBuilder(filename string) BuildFunc {
	return func() *loki.PushRequest {
		return loki.NewPushRequest(map[string]string{"filename": filename}, time.Now(), "a test line")
	}
}
