package shipper

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Shimmur/lokiload/loki"
	"github.com/Shimmur/lokiload/offsets"
	"github.com/nxadm/tail"
	. "github.com/smartystreets/goconvey/convey"
)

// mockPusher implements Pusher, for testing
type mockPusher struct {
	ShouldError bool

	lock  sync.Mutex
	lines []string
	calls int
}

func (p *mockPusher) Push(ctx context.Context, pr *loki.PushRequest) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.calls++
	for _, s := range pr.Streams {
		for _, v := range s.Values {
			p.lines = append(p.lines, v[1])
		}
	}

	if p.ShouldError {
		return errors.New("intentional test error")
	}
	return nil
}

func (p *mockPusher) Lines() []string {
	p.lock.Lock()
	defer p.lock.Unlock()

	return append([]string{}, p.lines...)
}

// waitFor polls until fn is true or the timeout runs out
func waitFor(timeout time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fn()
}

func Test_NewShipper(t *testing.T) {
	Convey("NewShipper()", t, func() {
		store := offsets.NewStore(filepath.Join(t.TempDir(), "offsets.json"))
		pusher := &mockPusher{}

		Convey("returns a properly configured struct", func() {
			s, err := NewShipper("/tmp/loki_load_test.log", pusher, store, 0, time.Second)
			So(err, ShouldBeNil)

			So(s.Filename, ShouldEqual, "/tmp/loki_load_test.log")
			So(s.Labels, ShouldResemble, map[string]string{"filename": "/tmp/loki_load_test.log"})
			So(s.BatchSize, ShouldEqual, 100)
			So(s.pusher, ShouldEqual, pusher)
			So(s.offsets, ShouldEqual, store)
			So(s.limitStore, ShouldBeNil)
			So(s.flushLooper, ShouldNotBeNil)
		})

		Convey("sets up a limiter when given a line limit", func() {
			s, err := NewShipper("/tmp/loki_load_test.log", pusher, store, 10, time.Second)
			So(err, ShouldBeNil)
			So(s.limitStore, ShouldNotBeNil)
			s.Stop()
		})

		Convey("refuses to run before Start()", func() {
			s, _ := NewShipper("/tmp/loki_load_test.log", pusher, store, 0, time.Second)
			So(s.Run(context.Background()), ShouldNotBeNil)
		})
	})
}

func Test_Run(t *testing.T) {
	Convey("Run()", t, func() {
		dir := t.TempDir()
		logFile := filepath.Join(dir, "loki_load_test.log")
		offsetsFile := filepath.Join(dir, "offsets.json")

		err := os.WriteFile(logFile, []byte("one\ntwo\nthree\n"), 0644)
		So(err, ShouldBeNil)

		store := offsets.NewStore(offsetsFile)
		pusher := &mockPusher{}

		runShipper := func(s *Shipper, until func() bool) {
			s.Poll = true
			So(s.Start(), ShouldBeNil)

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- s.Run(ctx) }()

			So(waitFor(5*time.Second, until), ShouldBeTrue)
			cancel()

			select {
			case err := <-done:
				So(err, ShouldBeNil)
			case <-time.After(5 * time.Second):
				So("Run() did not return", ShouldBeEmpty)
			}
			s.Stop()
		}

		Convey("ships every line in order and records the offset", func() {
			s, _ := NewShipper(logFile, pusher, store, 0, 50*time.Millisecond)

			runShipper(s, func() bool { return len(pusher.Lines()) == 3 })

			So(pusher.Lines(), ShouldResemble, []string{"one", "two", "three"})
			So(s.Shipped(), ShouldEqual, 3)
			So(s.Failed(), ShouldEqual, 0)
			So(store.Get(logFile), ShouldNotBeNil)

			reloaded := offsets.NewStore(offsetsFile)
			So(reloaded.Load(), ShouldBeNil)
			So(reloaded.Get(logFile), ShouldNotBeNil)
		})

		Convey("picks up lines appended while running", func() {
			s, _ := NewShipper(logFile, pusher, store, 0, 50*time.Millisecond)

			go func() {
				waitFor(5*time.Second, func() bool { return len(pusher.Lines()) == 3 })
				f, err := os.OpenFile(logFile, os.O_APPEND|os.O_WRONLY, 0644)
				if err != nil {
					return
				}
				_, _ = f.WriteString("four\nfive\n")
				f.Close()
			}()

			runShipper(s, func() bool { return len(pusher.Lines()) == 5 })
			So(pusher.Lines(), ShouldResemble, []string{"one", "two", "three", "four", "five"})
		})

		Convey("resumes from a stored offset", func() {
			store.Set(logFile, &tail.SeekInfo{Offset: int64(len("one\ntwo\n")), Whence: io.SeekStart})
			s, _ := NewShipper(logFile, pusher, store, 0, 50*time.Millisecond)

			runShipper(s, func() bool { return len(pusher.Lines()) >= 1 })
			So(pusher.Lines(), ShouldResemble, []string{"three"})
		})

		Convey("drops an offset past the end of a replaced file", func() {
			store.Set(logFile, &tail.SeekInfo{Offset: 4096, Whence: io.SeekStart})
			s, _ := NewShipper(logFile, pusher, store, 0, 50*time.Millisecond)

			runShipper(s, func() bool { return len(pusher.Lines()) == 3 })
			So(pusher.Lines(), ShouldResemble, []string{"one", "two", "three"})
			So(store.Get(logFile).Offset, ShouldBeLessThanOrEqualTo, int64(len("one\ntwo\nthree\n")))
		})

		Convey("forgets the offset of a file that is gone", func() {
			missing := filepath.Join(dir, "gone.log")
			store.Set(missing, &tail.SeekInfo{Offset: 8, Whence: io.SeekStart})
			s, _ := NewShipper(missing, pusher, store, 0, 50*time.Millisecond)
			s.Poll = true

			So(s.Start(), ShouldBeNil)
			So(store.Get(missing), ShouldBeNil)
			s.Stop()
		})

		Convey("counts failed batches without stopping", func() {
			pusher.ShouldError = true
			s, _ := NewShipper(logFile, pusher, store, 0, 50*time.Millisecond)

			runShipper(s, func() bool { return s.Failed() == 3 })
			So(s.Shipped(), ShouldEqual, 0)
		})

		Convey("drops lines over the limit", func() {
			s, _ := NewShipper(logFile, pusher, store, 2, 50*time.Millisecond)

			runShipper(s, func() bool { return s.Shipped()+s.Dropped() == 3 })
			So(s.Shipped(), ShouldEqual, 2)
			So(s.Dropped(), ShouldEqual, 1)
			So(pusher.Lines(), ShouldResemble, []string{"one", "two"})
		})
	})
}
