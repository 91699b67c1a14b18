package reporter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/Shimmur/lokiload/driver"
	cleanhttp "github.com/hashicorp/go-cleanhttp"
	director "github.com/relistan/go-director"
	log "github.com/sirupsen/logrus"
)

// A SnapshotSource reports the aggregate counters of a load run
type SnapshotSource interface {
	Snapshot() driver.Snapshot
}

// A SummaryReporter periodically logs how the run is going and, when given
// an EventURL, also POSTs each summary there as a JSON event.
type SummaryReporter struct {
	client   *http.Client
	EventURL string
	RunID    string

	ReportLooper director.Looper

	source   SnapshotSource
	hostname string

	// Guards last; Report runs from the looper and from the caller
	lock sync.Mutex
	last driver.Snapshot
}

// A SummaryEvent is the JSON document sent to the EventURL
type SummaryEvent struct {
	Time          string
	Hostname      string
	RunID         string
	Clients       int
	Sent          uint64
	Succeeded     uint64
	Failed        uint64
	RequestsPerS  float64
	MeanLatencyMs float64
	MaxLatencyMs  float64
	PerTemplate   map[string]uint64
	EventType     string `json:"eventType"`
}

// NewSummaryReporter returns a properly configured reporter
func NewSummaryReporter(source SnapshotSource, runID, eventURL string, interval time.Duration) *SummaryReporter {
	hostname, err := os.Hostname()
	if err != nil {
		log.Warnf("Unable to determine hostname, using 'unknown': %s", err)
		hostname = "unknown"
	}

	return &SummaryReporter{
		client:       cleanhttp.DefaultClient(),
		EventURL:     eventURL,
		RunID:        runID,
		ReportLooper: director.NewTimedLooper(director.FOREVER, interval, make(chan error)),
		source:       source,
		last:         driver.Snapshot{Taken: time.Now()},
		hostname:     hostname,
	}
}

// Run starts up a background goroutine that reports on every tick
func (r *SummaryReporter) Run() {
	log.Infof("Starting summary reporter for run %s", r.RunID)

	go r.ReportLooper.Loop(func() error {
		r.Report()
		return nil
	})
}

// Report logs one summary covering the time since the previous one
func (r *SummaryReporter) Report() {
	r.lock.Lock()
	snap := r.source.Snapshot()
	event := r.summarize(snap)
	r.last = snap
	r.lock.Unlock()

	log.WithFields(log.Fields{
		"run_id":    r.RunID,
		"clients":   event.Clients,
		"sent":      event.Sent,
		"succeeded": event.Succeeded,
		"failed":    event.Failed,
		"rps":       fmt.Sprintf("%.1f", event.RequestsPerS),
		"mean_ms":   fmt.Sprintf("%.2f", event.MeanLatencyMs),
		"max_ms":    fmt.Sprintf("%.2f", event.MaxLatencyMs),
	}).Info("Load summary")

	if r.EventURL == "" {
		return
	}

	// We _don't_ want to stop reporting on error
	if err := r.sendEvent(event); err != nil {
		log.Errorf("Error sending summary event: %s", err)
	}
}

// summarize must be called with the lock held
func (r *SummaryReporter) summarize(snap driver.Snapshot) *SummaryEvent {
	var rate float64
	if elapsed := snap.Taken.Sub(r.last.Taken).Seconds(); elapsed > 0 && snap.Sent >= r.last.Sent {
		rate = float64(snap.Sent-r.last.Sent) / elapsed
	}

	return &SummaryEvent{
		Time:          snap.Taken.UTC().Format(time.RFC3339),
		Hostname:      r.hostname,
		RunID:         r.RunID,
		Clients:       snap.Clients,
		Sent:          snap.Sent,
		Succeeded:     snap.Succeeded,
		Failed:        snap.Failed,
		RequestsPerS:  rate,
		MeanLatencyMs: float64(snap.MeanLatency()) / float64(time.Millisecond),
		MaxLatencyMs:  float64(snap.MaxLatency) / float64(time.Millisecond),
		PerTemplate:   snap.PerTemplate,
		EventType:     "LokiLoadSummary",
	}
}

// sendEvent serializes the event and POSTs it to the EventURL
func (r *SummaryReporter) sendEvent(event *SummaryEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("unable to encode JSON event: %w", err)
	}

	req, err := http.NewRequest("POST", r.EventURL, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("unable to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed making HTTP request to %s: %w", r.EventURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bad response from %s: %s", r.EventURL, string(body))
	}

	return nil
}
