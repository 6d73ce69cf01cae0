// Command ccidtool talks to USB CCID smart card readers without a PC/SC
// stack, and to PC/SC readers for comparison.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gregLibert/ccid/pkg/logging"
	"github.com/urfave/cli/v2"
)

const version = "0.3.0"

var (
	vidFlag = &cli.StringFlag{
		Name:     "vid",
		Usage:    "USB vendor ID of the reader (hex)",
		EnvVars:  []string{"CCID_VID"},
		Category: "READER",
	}
	pidFlag = &cli.StringFlag{
		Name:     "pid",
		Usage:    "USB product ID of the reader (hex)",
		EnvVars:  []string{"CCID_PID"},
		Category: "READER",
	}
	readersFlag = &cli.PathFlag{
		Name:     "readers",
		Usage:    "TOML file of known readers, merged over the built-in table",
		EnvVars:  []string{"CCID_READERS"},
		Category: "READER",
	}
	configFlag = &cli.IntFlag{
		Name:     "config",
		Usage:    "USB configuration value for a static setup",
		Value:    1,
		Category: "READER",
	}
	interfaceFlag = &cli.IntFlag{
		Name:     "interface",
		Usage:    "interface number; setting it skips table lookup and autodetection",
		Category: "READER",
	}
	alternateFlag = &cli.IntFlag{
		Name:     "alternate",
		Usage:    "alternate setting for a static setup",
		Category: "READER",
	}
	pollFlag = &cli.DurationFlag{
		Name:     "poll",
		Usage:    "card polling interval",
		Value:    time.Second,
		Category: "READER",
	}
	backendFlag = &cli.StringFlag{
		Name:     "backend",
		Usage:    "card access for APDU commands: usb or pcsc",
		Value:    "usb",
		EnvVars:  []string{"CCID_BACKEND"},
		Category: "READER",
	}
	pcscReaderFlag = &cli.StringFlag{
		Name:     "pcsc-reader",
		Usage:    "PC/SC reader name substring (first reader when empty)",
		Category: "READER",
	}
	logLevelFlag = &cli.StringFlag{
		Name:     "log-level",
		Usage:    "debug, info, warn or error",
		Value:    "info",
		EnvVars:  []string{"CCID_LOG_LEVEL"},
		Category: "LOGGING",
	}
	sentryFlag = &cli.BoolFlag{
		Name:     "sentry",
		Usage:    "report errors to Sentry (needs CCID_SENTRY_DSN)",
		Category: "LOGGING",
	}
)

var errorColor = color.New(color.FgHiRed).SprintfFunc()

func newApp() *cli.App {
	return &cli.App{
		Name:    "ccidtool",
		Usage:   "drive USB CCID smart card readers",
		Version: version,
		Flags: []cli.Flag{
			vidFlag,
			pidFlag,
			readersFlag,
			configFlag,
			interfaceFlag,
			alternateFlag,
			pollFlag,
			backendFlag,
			pcscReaderFlag,
			logLevelFlag,
			sentryFlag,
		},
		Commands: []*cli.Command{
			listCommand,
			descriptorsCommand,
			statusCommand,
			waitCommand,
			watchCommand,
			apduCommand,
			challengeCommand,
			relayCommand,
		},
		Before: setup,
		After: func(*cli.Context) error {
			logging.FlushSentry(2 * time.Second)
			return nil
		},
	}
}

func setup(c *cli.Context) error {
	level, err := logging.ParseLevel(c.String(logLevelFlag.Name))
	if err != nil {
		return err
	}
	logging.SetLevel(level)
	logging.InitSentry(version, c.Bool(sentryFlag.Name))
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		logging.CaptureError(err, "ccidtool", map[string]any{"args": os.Args[1:]})
		logging.FlushSentry(2 * time.Second)
		fmt.Fprintln(os.Stderr, errorColor("Error: %v", err))
		stop()
		os.Exit(1)
	}
}
