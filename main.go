package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
)

// GlobalOptions apply to every command
type GlobalOptions struct {
	LogLevel      string `long:"loglevel" description:"level of logging" choice:"debug" choice:"info" choice:"warn" choice:"error" default:"info"`
	SyslogAddress string `long:"syslog-address" description:"also relay our own logs to this UDP syslog address (host:port)"`
	DebugHTTP     bool   `long:"debug-http" description:"log every request and response at debug level"`
}

type Options struct {
	Global GlobalOptions `group:"Global Options"`

	Generate GenerateCommand `command:"generate" description:"append synthesized log records to a file once a second, forever"`
	Drive    DriveCommand    `command:"drive" description:"run concurrent virtual clients pushing to a Loki endpoint"`
	Ship     ShipCommand     `command:"ship" description:"tail a file and push its lines to a Loki endpoint"`
}

// The global options of the command being run
var globals GlobalOptions

// signalContext is done on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newParser(opts *Options) *flags.Parser {
	parser := flags.NewParser(opts, flags.Default)
	parser.Usage = `[OPTIONS] <generate | drive | ship>

	lokiload synthesizes log traffic and drives it against a Loki push
	endpoint. "generate" appends records to a local file once a second,
	"drive" runs a pool of virtual clients pushing templated requests, and
	"ship" tails a file and pushes what gets written to it.
	`

	// Logging has to be set up after parsing but before the command runs
	parser.CommandHandler = func(command flags.Commander, args []string) error {
		globals = opts.Global
		if err := configureLogging(globals.LogLevel, globals.SyslogAddress); err != nil {
			return err
		}
		return command.Execute(args)
	}

	return parser
}

func main() {
	opts := &Options{}
	parser := newParser(opts)

	_, err := parser.Parse()
	if err != nil {
		switch flagsErr := err.(type) {
		case *flags.Error:
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
			// go-flags has already printed it
			os.Exit(1)
		}
		log.Fatal(err.Error())
	}
}
