// backfill reconciles a storage-media CSV dump against the store.
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
	flagSet := pflag.NewFlagSet("backfill", pflag.ContinueOnError)
	opts.AddFlags(flagSet)
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: backfill [flags] <dump.csv>\n")
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if flagSet.NArg() != 1 {
		flagSet.Usage()
		return fmt.Errorf("expected one dump file, got %d arguments", flagSet.NArg())
	}
	opts.Input = flagSet.Arg(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	sum, err := tasks.RunBackfill(ctx, opts)
	t := sum.Totals()
	fmt.Printf("inserted=%d skipped=%d failed=%d rejected=%d\n", t.Inserted, t.Skipped, t.Failed, sum.Rejected)
	return err
}
