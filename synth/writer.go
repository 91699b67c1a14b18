package synth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	director "github.com/relistan/go-director"
	log "github.com/sirupsen/logrus"
)

// DefaultPath is where the continuous writer appends when not told otherwise
const DefaultPath = "/tmp/loki_load_test.log"

var errStopped = errors.New("writer stopped")

// ErrAlreadyRan is returned when Run is called on a writer that has run before
var ErrAlreadyRan = errors.New("writer has already run")

// An AppendWriter appends a batch of PerTick freshly synthesized lines to a
// file on every tick of its looper. It never truncates or rotates the file.
// Each writer runs once; its looper can't be restarted.
type AppendWriter struct {
	Path    string
	PerTick int

	synth   *Synthesizer
	looper  director.Looper
	batches uint64
	ran     atomic.Bool
}

// NewAppendWriter returns a writer that fires once a second, starting
// immediately, until stopped.
func NewAppendWriter(path string, perTick int, synth *Synthesizer) *AppendWriter {
	return &AppendWriter{
		Path:    path,
		PerTick: perTick,
		synth:   synth,
		looper:  director.NewImmediateTimedLooper(director.FOREVER, 1*time.Second, make(chan error, 1)),
	}
}

// Run opens the file for appending and writes until the context is done or a
// write fails. Write errors are returned as-is; the writer has no recovery.
func (w *AppendWriter) Run(ctx context.Context) error {
	if !w.ran.CompareAndSwap(false, true) {
		return ErrAlreadyRan
	}

	file, err := os.OpenFile(w.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("unable to open %s for appending: %w", w.Path, err)
	}
	defer file.Close()

	log.Infof("Appending %d lines per tick to %s", w.PerTick, w.Path)

	go w.looper.Loop(func() error {
		if ctx.Err() != nil {
			return errStopped
		}

		block := Render(w.synth.Generate(w.PerTick)) + "\n"
		if _, err := file.WriteString(block); err != nil {
			return fmt.Errorf("failed appending to %s: %w", w.Path, err)
		}

		w.batches++
		log.Debugf("Wrote batch %d to %s", w.batches, w.Path)
		return nil
	})

	err = w.looper.Wait()
	if errors.Is(err, errStopped) {
		log.Infof("Writer stopped after %d batches", w.batches)
		return nil
	}

	return err
}
