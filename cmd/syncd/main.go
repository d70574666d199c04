// syncd streams live device lines from a serial port (or a file / stdin)
// into the store or the upload endpoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"telemetry-sync/internal/tasks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts tasks.Options
	flagSet := pflag.NewFlagSet("syncd", pflag.ContinueOnError)
	opts.AddFlags(flagSet)
	flagSet.StringVar(&opts.SerialPort, "port", "", "serial port (e.g. /dev/ttyACM0)")
	flagSet.StringVar(&opts.Input, "input", "", "read lines from this file instead of the serial port; - for stdin")
	flagSet.StringVar(&opts.Sink, "sink", "", "where batches go: store or upload")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT/SIGTERM for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	_, err := tasks.RunStream(ctx, opts)
	return err
}
