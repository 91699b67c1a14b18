package main

import (
	"fmt"

	"github.com/Nitro/sidecar-executor/loghooks"
	log "github.com/sirupsen/logrus"
)

// configureLogging sets the level of the standard logger and, when given an
// address, relays everything it logs to UDP syslog as JSON.
func configureLogging(level string, syslogAddress string) error {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level '%s': %w", level, err)
	}
	log.SetLevel(parsed)

	if syslogAddress == "" {
		return nil
	}

	// UDP because there is no backpressure to deal with, and a load test
	// must never stall on its own logging.
	hook, err := loghooks.NewUDPHook(syslogAddress)
	if err != nil {
		return fmt.Errorf("error adding syslog hook for %s: %w", syslogAddress, err)
	}

	log.AddHook(hook)
	log.SetFormatter(&log.JSONFormatter{
		FieldMap: log.FieldMap{
			log.FieldKeyTime:  "Timestamp",
			log.FieldKeyLevel: "Level",
			log.FieldKeyMsg:   "Payload",
			log.FieldKeyFunc:  "Func",
		},
	})

	return nil
}
