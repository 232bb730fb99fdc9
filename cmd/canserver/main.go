// Command canserver owns one physical CAN adapter, drives its wire protocol,
// and exposes the normalized frame stream over a local IPC channel that
// candump/cansend/cangen connect to.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/bridge"
	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/candriver"
	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/config"
	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/logging"

	_ "github.com/cyborg-dynamics-engineering/go-can-bridge/internal/gsusb"
	_ "github.com/cyborg-dynamics-engineering/go-can-bridge/internal/pcan"
	_ "github.com/cyborg-dynamics-engineering/go-can-bridge/internal/slcan"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: canserver <driver> [identifier] --channel <name|auto> --bitrate <bps>\n")
	fmt.Fprintf(os.Stderr, "  drivers: %v\n", candriver.Names())
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 || args[0] == "-h" || args[0] == "--help" {
		usage()
		return 1
	}
	driverName := args[0]
	rest := args[1:]

	var identifier string
	if len(rest) > 0 && rest[0][0] != '-' {
		identifier = rest[0]
		rest = rest[1:]
	} else {
		identifier = "auto"
	}

	fs := flag.NewFlagSet("canserver", flag.ContinueOnError)
	channel := fs.String("channel", "auto", "IPC channel name, or \"auto\"")
	bitrate := fs.Uint("bitrate", 500000, "CAN bitrate in bits/sec")
	runtimeDir := fs.String("runtime-dir", config.Default().RuntimeDir, "directory holding the IPC sockets")
	logLevel := fs.String("log-level", "info", "logrus level name")
	confPath := fs.String("conf", config.ConfFileName, "optional ini configuration file")
	if err := fs.Parse(rest); err != nil {
		return 1
	}

	cfg, err := config.Load(*confPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if isSet(fs, "channel") {
		cfg.Channel = *channel
	}
	if isSet(fs, "bitrate") {
		cfg.Bitrate = uint32(*bitrate)
	}
	if isSet(fs, "runtime-dir") {
		cfg.RuntimeDir = *runtimeDir
	}
	if isSet(fs, "log-level") {
		cfg.LogLevel = *logLevel
	}
	cfg.Driver = driverName

	logging.Init(cfg.LogLevel, nil)
	log := logging.For("canserver", driverName)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	driver, err := candriver.Open(ctx, driverName, identifier)
	if err != nil {
		log.WithError(err).Error("failed to open driver")
		return 1
	}
	if err := driver.EnableTimestamp(ctx); err != nil {
		log.WithError(err).Warn("enable_timestamp failed, continuing without device timestamps")
	}
	if err := driver.SetBitrate(ctx, cfg.Bitrate); err != nil {
		log.WithError(err).Error("set_bitrate failed")
		return 1
	}
	if err := driver.OpenChannel(ctx); err != nil {
		log.WithError(err).Error("open_channel failed")
		return 1
	}

	if err := os.MkdirAll(cfg.RuntimeDir, 0755); err != nil {
		log.WithError(err).Error("failed to create runtime directory")
		return 1
	}
	channelName := bridge.AllocateChannelName(cfg.RuntimeDir, cfg.Channel)

	b, err := bridge.New(driver, cfg.RuntimeDir, channelName, log.WithField("channel", channelName))
	if err != nil {
		log.WithError(err).Error("failed to start bridge")
		return 1
	}

	log.WithField("channel", channelName).Info("bridge running")
	if err := b.Run(ctx); err != nil {
		log.WithError(err).Error("bridge exited with an error")
		return 1
	}
	return 0
}

func isSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
