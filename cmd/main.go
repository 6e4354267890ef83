package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/procwatch/agent/internal/config"
	"github.com/procwatch/agent/internal/control"
	"github.com/procwatch/agent/internal/logging"
	"go.uber.org/zap"
)

var options struct {
	Debug            bool          `short:"d" long:"debug" description:"Debug mode"`
	UpdateInterval   time.Duration `short:"i" long:"update-interval" description:"Process table refresh interval" default:"3s"`
	ConfigFile       string        `short:"c" long:"config" description:"Optional configuration file path"`
	ApiListenAddress string        `short:"l" long:"api-listen" description:"Local query API listen address (empty disables)" default:"127.0.0.1:61208"`
}

const (
	exitCodeErr = -1
)

var (
	logger       *zap.Logger
	controlPlane *control.Plane
	signalsChan  = make(chan os.Signal, 1)
)

func main() {
	_, err := flags.Parse(&options)
	if err != nil {
		fmt.Printf("Failed to parse arguments: %v\n", err)
		os.Exit(exitCodeErr)
	}

	logger, err = logging.NewLogger("procwatch-agent", options.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(exitCodeErr)
	}

	setupSignalHandling()

	logger.Info("Start agent")
	if err := startAgent(); err != nil {
		logger.Fatal("Failed to start agent", zap.Error(err))
	}
}

func setupSignalHandling() {
	signal.Notify(signalsChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalsChan
		logger.Info("Stop agent")
		if err := stopAgent(); err != nil {
			logger.Fatal("Failed to stop agent", zap.Error(err))
		}
	}()
}

func startAgent() error {
	cfg, err := config.Load(options.ConfigFile)
	if err != nil {
		return errors.WithMessage(err, "load configuration")
	}

	planeConfig := &control.PlaneConfig{
		UpdateInterval:   options.UpdateInterval,
		ApiListenAddress: options.ApiListenAddress,
	}

	controlPlane, err = control.NewPlane(logger, planeConfig, cfg)
	if err != nil {
		return errors.WithMessage(err, "new control plane")
	}

	if err := controlPlane.Start(); err != nil {
		return errors.WithMessage(err, "start control plane")
	}
	controlPlane.WaitUntilCompletion()
	return nil
}

func stopAgent() error {
	if controlPlane == nil {
		return errors.New("uninitialized control plane")
	}

	if err := controlPlane.Stop(); err != nil {
		return errors.WithMessage(err, "stop control plane")
	}

	return nil
}
