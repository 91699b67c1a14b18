package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Shimmur/lokiload/driver"
	"github.com/Shimmur/lokiload/loki"
	"github.com/Shimmur/lokiload/offsets"
	"github.com/Shimmur/lokiload/reporter"
	"github.com/Shimmur/lokiload/shipper"
	"github.com/Shimmur/lokiload/synth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/relistan/rubberneck"
	log "github.com/sirupsen/logrus"
)

type GenerateCommand struct {
	Number     int    `short:"n" long:"number" description:"records appended per second" default:"30000"`
	Path       string `long:"path" description:"file to append to" default:"/tmp/loki_load_test.log"`
	Seed       string `long:"seed" description:"seed for the record generator; empty means a different run every time"`
	FakeCorpus int    `long:"fake-corpus" description:"number of fake phrases to add to the built-in corpus" default:"0"`
}

func (c *GenerateCommand) validate() error {
	if c.Number < 1 {
		return fmt.Errorf("--number must be positive, got %d", c.Number)
	}
	if c.Path == "" {
		return errors.New("--path can't be empty")
	}
	if c.FakeCorpus < 0 {
		return fmt.Errorf("--fake-corpus can't be negative, got %d", c.FakeCorpus)
	}
	return nil
}

func (c *GenerateCommand) Execute(args []string) error {
	if err := c.validate(); err != nil {
		return err
	}
	rubberneck.Print(*c)

	synthesizer, err := synth.NewSynthesizer(synth.FakeCorpus(c.FakeCorpus, c.Seed), c.Seed)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	writer := synth.NewAppendWriter(c.Path, c.Number, synthesizer)

	// One writer and nowhere else to put the data, so this is fatal
	if err := writer.Run(ctx); err != nil {
		log.Fatalf("Writer failed: %s", err)
	}

	log.Info("Writer stopped")
	return nil
}

type DriveCommand struct {
	Host           string        `long:"host" description:"Loki host to push to; the scheme defaults to http" default:"localhost:3100"`
	Concurrency    int           `short:"c" long:"concurrency" description:"number of virtual clients" default:"10"`
	Duration       time.Duration `short:"d" long:"duration" description:"how long to run (0 means until interrupted or out of iterations)" default:"0s"`
	Iterations     int           `short:"i" long:"iterations" description:"requests per client (0 means no limit)" default:"0"`
	Timeout        time.Duration `long:"timeout" description:"per-request timeout" default:"10s"`
	Rate           int           `long:"rate" description:"cap on requests per second across all clients (0 means no cap)" default:"0"`
	Ramp           time.Duration `long:"ramp" description:"time over which to start the clients" default:"0s"`
	Templates      string        `long:"templates" description:"YAML file of request templates; the built-in three are used when empty"`
	Gzip           bool          `long:"gzip" description:"gzip request bodies"`
	Tenant         string        `long:"tenant" description:"tenant to send as X-Scope-OrgID"`
	ReportInterval time.Duration `long:"report-interval" description:"how often to log a summary" default:"10s"`
	EventURL       string        `long:"event-url" description:"also POST each summary as a JSON event to this URL"`
	MetricsAddr    string        `long:"metrics-addr" description:"serve Prometheus metrics on this address (e.g. :9090)"`
}

func (c *DriveCommand) validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("--concurrency must be positive, got %d", c.Concurrency)
	}
	if c.Duration < 0 {
		return fmt.Errorf("--duration can't be negative, got %s", c.Duration)
	}
	if c.Iterations < 0 {
		return fmt.Errorf("--iterations can't be negative, got %d", c.Iterations)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("--timeout must be positive, got %s", c.Timeout)
	}
	if c.Rate < 0 {
		return fmt.Errorf("--rate can't be negative, got %d", c.Rate)
	}
	if c.Ramp < 0 {
		return fmt.Errorf("--ramp can't be negative, got %s", c.Ramp)
	}
	if c.ReportInterval <= 0 {
		return fmt.Errorf("--report-interval must be positive, got %s", c.ReportInterval)
	}
	if _, err := loki.ParseHost(c.Host); err != nil {
		return err
	}
	return nil
}

func (c *DriveCommand) templateSpecs() ([]driver.TemplateSpec, error) {
	if c.Templates == "" {
		return driver.DefaultTemplateSpecs(), nil
	}
	return driver.LoadTemplateSpecs(c.Templates)
}

func (c *DriveCommand) Execute(args []string) error {
	if err := c.validate(); err != nil {
		return err
	}
	rubberneck.Print(*c)

	specs, err := c.templateSpecs()
	if err != nil {
		return err
	}

	client, err := loki.NewClient(c.Host, c.Timeout)
	if err != nil {
		return err
	}
	client.Gzip = c.Gzip
	client.TenantID = c.Tenant
	if globals.DebugHTTP {
		client.LogTraffic()
	}

	d, err := driver.NewDriver(driver.Config{
		Concurrency: c.Concurrency,
		Iterations:  c.Iterations,
		RampTime:    c.Ramp,
		Rate:        c.Rate,
	}, client)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.RegisterSpecs(specs); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	if c.Duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.Duration)
		defer cancel()
	}

	summary := reporter.NewSummaryReporter(d, d.RunID, c.EventURL, c.ReportInterval)
	summary.Run()

	if c.MetricsAddr != "" {
		server := serveMetrics(c.MetricsAddr, reporter.NewCollector(d, d.RunID))
		defer server.Close()
	}

	snap, err := d.Run(ctx)
	if err != nil {
		return err
	}

	summary.Report()
	log.WithFields(log.Fields{
		"run_id":    d.RunID,
		"sent":      snap.Sent,
		"succeeded": snap.Succeeded,
		"failed":    snap.Failed,
	}).Info("Run complete")

	return nil
}

// serveMetrics exposes the collector on its own registry in the background
func serveMetrics(addr string, collector prometheus.Collector) *http.Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Infof("Serving metrics on %s/metrics", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server failed: %s", err)
		}
	}()

	return server
}

type ShipCommand struct {
	Host          string        `long:"host" description:"Loki host to push to; the scheme defaults to http" default:"localhost:3100"`
	File          string        `short:"f" long:"file" description:"file to tail" default:"/tmp/loki_load_test.log"`
	Offsets       string        `long:"offsets" description:"where to keep how far into the file we've shipped" default:"/tmp/lokiload_offsets.json"`
	LineLimit     int           `long:"line-limit" description:"lines shipped per second before dropping (0 means no limit)" default:"0"`
	Batch         int           `long:"batch" description:"maximum lines per push" default:"100"`
	FlushInterval time.Duration `long:"flush-interval" description:"how often to write offsets to disk" default:"5s"`
	Poll          bool          `long:"poll" description:"poll the file instead of using inotify"`
	Timeout       time.Duration `long:"timeout" description:"per-request timeout" default:"10s"`
	Gzip          bool          `long:"gzip" description:"gzip request bodies"`
	Tenant        string        `long:"tenant" description:"tenant to send as X-Scope-OrgID"`
}

func (c *ShipCommand) validate() error {
	if c.File == "" {
		return errors.New("--file can't be empty")
	}
	if c.Offsets == "" {
		return errors.New("--offsets can't be empty")
	}
	if c.LineLimit < 0 {
		return fmt.Errorf("--line-limit can't be negative, got %d", c.LineLimit)
	}
	if c.Batch < 1 {
		return fmt.Errorf("--batch must be positive, got %d", c.Batch)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("--flush-interval must be positive, got %s", c.FlushInterval)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("--timeout must be positive, got %s", c.Timeout)
	}
	if _, err := loki.ParseHost(c.Host); err != nil {
		return err
	}
	return nil
}

func (c *ShipCommand) Execute(args []string) error {
	if err := c.validate(); err != nil {
		return err
	}
	rubberneck.Print(*c)

	client, err := loki.NewClient(c.Host, c.Timeout)
	if err != nil {
		return err
	}
	client.Gzip = c.Gzip
	client.TenantID = c.Tenant
	if globals.DebugHTTP {
		client.LogTraffic()
	}

	store := offsets.NewStore(c.Offsets)
	if err := store.Load(); err != nil {
		return err
	}

	s, err := shipper.NewShipper(c.File, client, store, c.LineLimit, c.FlushInterval)
	if err != nil {
		return err
	}
	s.BatchSize = c.Batch
	s.Poll = c.Poll

	if err := s.Start(); err != nil {
		return err
	}
	defer s.Stop()

	ctx, cancel := signalContext()
	defer cancel()

	return s.Run(ctx)
}
