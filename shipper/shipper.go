package shipper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/Shimmur/lokiload/loki"
	"github.com/Shimmur/lokiload/offsets"
	"github.com/nxadm/tail"
	director "github.com/relistan/go-director"
	limiter "github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"
	log "github.com/sirupsen/logrus"
)

var errStopped = errors.New("shipper stopped")

// A Pusher delivers one request to the ingestion endpoint
type Pusher interface {
	Push(ctx context.Context, pr *loki.PushRequest) error
}

// A Shipper follows one file and pushes its lines as they are written, a
// batch per request. Lines over the optional per-second limit are dropped
// and counted, never queued.
type Shipper struct {
	Filename  string
	Labels    map[string]string
	BatchSize int
	Poll      bool

	pusher      Pusher
	offsets     *offsets.Store
	limitStore  limiter.Store
	flushLooper director.Looper
	tail        *tail.Tail

	shipped atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewShipper returns a Shipper for filename. A lineLimit of 0 ships every
// line.
func NewShipper(filename string, pusher Pusher, store *offsets.Store,
	lineLimit int, flushInterval time.Duration) (*Shipper, error) {

	s := &Shipper{
		Filename:    filename,
		Labels:      map[string]string{"filename": filename},
		BatchSize:   100,
		pusher:      pusher,
		offsets:     store,
		flushLooper: director.NewTimedLooper(director.FOREVER, flushInterval, make(chan error, 1)),
	}

	if lineLimit > 0 {
		limitStore, err := memorystore.New(&memorystore.Config{
			// Number of lines allowed per interval
			Tokens:   uint64(lineLimit),
			Interval: time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("unable to create memory store: %w", err)
		}
		s.limitStore = limitStore
	}

	return s, nil
}

// Start opens the tail, resuming from the stored offset when it still fits
// the file. An offset past the end of the file, or for a file that is gone,
// means the file was replaced and is dropped.
func (s *Shipper) Start() error {
	var seekInfo *tail.SeekInfo
	if sought := s.offsets.Get(s.Filename); sought != nil {
		info, err := os.Stat(s.Filename)
		if err != nil || info.Size() < sought.Offset {
			log.Warnf("Stored offset %d for %s is stale, starting from the top", sought.Offset, s.Filename)
			s.offsets.Del(s.Filename)
		} else {
			log.Infof("Found existing offset for %s, skipping to position %d", s.Filename, sought.Offset)
			seekInfo = sought
		}
	}

	tailed, err := tail.TailFile(s.Filename, tail.Config{
		ReOpen: true, Follow: true, Poll: s.Poll, Logger: log.StandardLogger(), Location: seekInfo,
	})
	if err != nil {
		return fmt.Errorf("failed to tail %s: %w", s.Filename, err)
	}

	log.Infof("Adding tail on %s", s.Filename)
	s.tail = tailed
	return nil
}

// Run ships lines until the context is done, flushing offsets to disk
// periodically and once more on the way out.
func (s *Shipper) Run(ctx context.Context) error {
	if s.tail == nil {
		return errors.New("shipper has not been started")
	}

	go s.flushLooper.Loop(func() error {
		if ctx.Err() != nil {
			return errStopped
		}
		s.FlushOffsets()
		return nil
	})

	for {
		stream, last, ok := s.collect(ctx)
		if len(stream.Values) > 0 {
			s.ship(ctx, stream, last)
		}
		if !ok {
			break
		}
	}

	s.FlushOffsets()
	log.Infof("Shipper for %s stopped: shipped=%d dropped=%d failed=%d",
		s.Filename, s.Shipped(), s.Dropped(), s.Failed())

	return nil
}

// collect blocks for one line, then takes whatever else is already waiting,
// up to BatchSize. It returns false once there will be no more lines.
func (s *Shipper) collect(ctx context.Context) (loki.Stream, *tail.SeekInfo, bool) {
	stream := loki.NewStream(s.Labels)
	var (
		last   *tail.SeekInfo
		lastTS time.Time
	)

	add := func(line *tail.Line) {
		if line.Err != nil {
			log.Warnf("Error reading %s: %s", s.Filename, line.Err)
			return
		}

		seekInfo := line.SeekInfo
		last = &seekInfo

		if s.isRateLimited(ctx) {
			s.dropped.Add(1)
			return
		}

		// Keep timestamps within the batch non-decreasing
		ts := line.Time
		if ts.Before(lastTS) {
			ts = lastTS
		}
		lastTS = ts

		stream = stream.Add(ts, line.Text)
	}

	select {
	case <-ctx.Done():
		return stream, last, false
	case line, ok := <-s.tail.Lines:
		if !ok {
			return stream, last, false
		}
		add(line)
	}

	for len(stream.Values) < s.BatchSize {
		select {
		case line, ok := <-s.tail.Lines:
			if !ok {
				return stream, last, false
			}
			add(line)
		default:
			return stream, last, true
		}
	}

	return stream, last, true
}

// ship pushes one batch. Failed batches are counted and dropped.
func (s *Shipper) ship(ctx context.Context, stream loki.Stream, last *tail.SeekInfo) {
	count := uint64(len(stream.Values))
	err := s.pusher.Push(context.WithoutCancel(ctx), &loki.PushRequest{Streams: []loki.Stream{stream}})
	if err != nil {
		s.failed.Add(count)
		log.Warnf("Failed to ship %d lines from %s: %s", count, s.Filename, err)
	} else {
		s.shipped.Add(count)
	}

	if last != nil {
		s.offsets.Set(s.Filename, last)
	}
}

// isRateLimited takes a token for one line and reports whether it was refused
func (s *Shipper) isRateLimited(ctx context.Context) bool {
	if s.limitStore == nil {
		return false
	}

	limit, remaining, reset, ok, err := s.limitStore.Take(context.WithoutCancel(ctx), s.Filename)
	log.Debugf("Checking rate limit: %d %d %d %t", limit, remaining, reset, ok)
	if err != nil {
		log.Warnf("Unable to fetch rate limit for %s", s.Filename)
		return true // Rate limit it since we can't track
	}

	return !ok
}

// FlushOffsets writes the current offsets to disk
func (s *Shipper) FlushOffsets() {
	if err := s.offsets.Persist(); err != nil {
		log.Errorf("Failed to flush offsets: %s", err)
	}
}

func (s *Shipper) Shipped() uint64 { return s.shipped.Load() }
func (s *Shipper) Dropped() uint64 { return s.dropped.Load() }
func (s *Shipper) Failed() uint64  { return s.failed.Load() }

// Stop closes the tail and releases the limiter
func (s *Shipper) Stop() {
	if s.tail != nil {
		if err := s.tail.Stop(); err != nil {
			log.Errorf("Failed to stop tail for %s: %s", s.Filename, err)
		}
		// Remove any inotify watches
		s.tail.Cleanup()
	}

	if s.limitStore != nil {
		_ = s.limitStore.Close(context.Background())
	}
}
