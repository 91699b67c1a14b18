package main

import (
	"testing"
	"time"

	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	. "github.com/smartystreets/goconvey/convey"
)

func Test_Parser(t *testing.T) {
	Convey("The command line parser", t, func() {
		opts := &Options{}
		parser := newParser(opts)
		parser.Options &^= flags.PrintErrors

		var ran flags.Commander
		parser.CommandHandler = func(command flags.Commander, args []string) error {
			ran = command
			return nil
		}

		Convey("fills in defaults for drive", func() {
			_, err := parser.ParseArgs([]string{"drive"})
			So(err, ShouldBeNil)
			So(ran, ShouldEqual, &opts.Drive)

			So(opts.Drive.Host, ShouldEqual, "localhost:3100")
			So(opts.Drive.Concurrency, ShouldEqual, 10)
			So(opts.Drive.Timeout, ShouldEqual, 10*time.Second)
			So(opts.Drive.ReportInterval, ShouldEqual, 10*time.Second)
			So(opts.Drive.Duration, ShouldEqual, time.Duration(0))
			So(opts.Global.LogLevel, ShouldEqual, "info")
		})

		Convey("reads drive options", func() {
			_, err := parser.ParseArgs([]string{
				"--loglevel", "debug", "drive", "-c", "50", "--duration", "1m", "--rate", "100", "--gzip",
			})
			So(err, ShouldBeNil)

			So(opts.Global.LogLevel, ShouldEqual, "debug")
			So(opts.Drive.Concurrency, ShouldEqual, 50)
			So(opts.Drive.Duration, ShouldEqual, time.Minute)
			So(opts.Drive.Rate, ShouldEqual, 100)
			So(opts.Drive.Gzip, ShouldBeTrue)
		})

		Convey("defaults generate to 30000 records per second", func() {
			_, err := parser.ParseArgs([]string{"generate"})
			So(err, ShouldBeNil)
			So(ran, ShouldEqual, &opts.Generate)
			So(opts.Generate.Number, ShouldEqual, 30000)
			So(opts.Generate.Path, ShouldEqual, "/tmp/loki_load_test.log")
		})

		Convey("takes -n for generate", func() {
			_, err := parser.ParseArgs([]string{"generate", "-n", "5"})
			So(err, ShouldBeNil)
			So(opts.Generate.Number, ShouldEqual, 5)
		})

		Convey("rejects non-numeric values", func() {
			_, err := parser.ParseArgs([]string{"generate", "-n", "lots"})
			So(err, ShouldNotBeNil)
			So(ran, ShouldBeNil)
		})

		Convey("rejects unknown log levels", func() {
			_, err := parser.ParseArgs([]string{"--loglevel", "chatty", "drive"})
			So(err, ShouldNotBeNil)
		})

		Convey("requires a command", func() {
			_, err := parser.ParseArgs([]string{})
			So(err, ShouldNotBeNil)
		})
	})
}

func Test_Validate(t *testing.T) {
	Convey("Command validation", t, func() {
		Convey("generate", func() {
			cmd := GenerateCommand{Number: 30000, Path: "/tmp/loki_load_test.log"}
			So(cmd.validate(), ShouldBeNil)

			cmd.Number = 0
			So(cmd.validate(), ShouldNotBeNil)

			cmd.Number = 1
			cmd.Path = ""
			So(cmd.validate(), ShouldNotBeNil)

			cmd.Path = "/tmp/loki_load_test.log"
			cmd.FakeCorpus = -1
			So(cmd.validate(), ShouldNotBeNil)
		})

		Convey("drive", func() {
			valid := func() DriveCommand {
				return DriveCommand{
					Host:           "localhost:3100",
					Concurrency:    10,
					Timeout:        10 * time.Second,
					ReportInterval: 10 * time.Second,
				}
			}

			cmd := valid()
			So(cmd.validate(), ShouldBeNil)

			cmd = valid()
			cmd.Concurrency = 0
			So(cmd.validate().Error(), ShouldContainSubstring, "--concurrency")

			cmd = valid()
			cmd.Duration = -time.Second
			So(cmd.validate().Error(), ShouldContainSubstring, "--duration")

			cmd = valid()
			cmd.Iterations = -1
			So(cmd.validate().Error(), ShouldContainSubstring, "--iterations")

			cmd = valid()
			cmd.Timeout = 0
			So(cmd.validate().Error(), ShouldContainSubstring, "--timeout")

			cmd = valid()
			cmd.Rate = -5
			So(cmd.validate().Error(), ShouldContainSubstring, "--rate")

			cmd = valid()
			cmd.Ramp = -time.Second
			So(cmd.validate().Error(), ShouldContainSubstring, "--ramp")

			cmd = valid()
			cmd.ReportInterval = 0
			So(cmd.validate().Error(), ShouldContainSubstring, "--report-interval")

			cmd = valid()
			cmd.Host = ""
			So(cmd.validate(), ShouldNotBeNil)
		})

		Convey("drive falls back to the built-in templates", func() {
			cmd := DriveCommand{}
			specs, err := cmd.templateSpecs()
			So(err, ShouldBeNil)
			So(len(specs), ShouldEqual, 3)

			cmd.Templates = "/does/not/exist.yml"
			_, err = cmd.templateSpecs()
			So(err, ShouldNotBeNil)
		})

		Convey("ship", func() {
			valid := func() ShipCommand {
				return ShipCommand{
					Host:          "localhost:3100",
					File:          "/tmp/loki_load_test.log",
					Offsets:       "/tmp/lokiload_offsets.json",
					Batch:         100,
					FlushInterval: 5 * time.Second,
					Timeout:       10 * time.Second,
				}
			}

			cmd := valid()
			So(cmd.validate(), ShouldBeNil)

			cmd = valid()
			cmd.File = ""
			So(cmd.validate(), ShouldNotBeNil)

			cmd = valid()
			cmd.Offsets = ""
			So(cmd.validate(), ShouldNotBeNil)

			cmd = valid()
			cmd.LineLimit = -1
			So(cmd.validate().Error(), ShouldContainSubstring, "--line-limit")

			cmd = valid()
			cmd.Batch = 0
			So(cmd.validate().Error(), ShouldContainSubstring, "--batch")

			cmd = valid()
			cmd.FlushInterval = 0
			So(cmd.validate().Error(), ShouldContainSubstring, "--flush-interval")
		})
	})
}

func Test_configureLogging(t *testing.T) {
	Convey("configureLogging()", t, func() {
		Reset(func() {
			log.SetLevel(log.InfoLevel)
			log.SetFormatter(&log.TextFormatter{})
			log.StandardLogger().ReplaceHooks(make(log.LevelHooks))
		})

		Convey("sets the level", func() {
			So(configureLogging("debug", ""), ShouldBeNil)
			So(log.GetLevel(), ShouldEqual, log.DebugLevel)
		})

		Convey("rejects a bad level", func() {
			So(configureLogging("chatty", ""), ShouldNotBeNil)
		})

		Convey("adds the syslog hook when given an address", func() {
			So(configureLogging("info", "127.0.0.1:514"), ShouldBeNil)
			So(len(log.StandardLogger().Hooks), ShouldBeGreaterThan, 0)
		})
	})
}
