// Command vulnassessctl drives the vulnerability assessment engine from
// the shell: applying offline update packages, scanning a single
// device, running a bulk scan across an inventory, and comparing scan
// results.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quay/vulnassess/engine"
	"github.com/quay/vulnassess/telemetry"
)

type commonConfig struct {
	StorePath string
}

type subcmd func(context.Context, *commonConfig, []string) error

func main() {
	var exit int
	defer func() {
		if exit != 0 {
			os.Exit(exit)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	slog.SetDefault(telemetry.NewLogger(slog.NewTextHandler(os.Stderr, nil)))

	var cfg commonConfig
	fs := flag.NewFlagSet("vulnassessctl", flag.ExitOnError)
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "Usage of %s:\n", os.Args[0])
		fs.PrintDefaults()
		fmt.Fprintf(out, "\nSubcommands\n\n")
		fmt.Fprintln(out, "apply\tapply an offline update package to the store")
		fmt.Fprintln(out, "scan\tscan a single device's (platform, version) against the store")
		fmt.Fprintln(out, "bulk-scan\trun a bulk scan across the device inventory")
		fmt.Fprintln(out, "compare\tcompare a device's last two scans")
	}
	fs.StringVar(&cfg.StorePath, "store", "vulnassess.db", "path to the embedded store file")

	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatal(err)
	}

	var cmd subcmd
	switch n := fs.Arg(0); n {
	case "apply":
		cmd = applyCmd
	case "scan":
		cmd = scanCmd
	case "bulk-scan":
		cmd = bulkScanCmd
	case "compare":
		cmd = compareCmd
	case "":
		fs.Usage()
		os.Exit(99)
	default:
		fs.Usage()
		fmt.Fprintf(os.Stderr, "\nunknown subcommand %q\n", n)
		os.Exit(99)
	}

	if err := cmd(ctx, &cfg, fs.Args()[1:]); err != nil {
		slog.ErrorContext(ctx, "command failed", "reason", err)
		exit = 1
	}
}

func openEngine(ctx context.Context, cfg *commonConfig) (*engine.Engine, error) {
	return engine.New(ctx, engine.Options{
		StorePath:  cfg.StorePath,
		Registerer: prometheus.DefaultRegisterer,
	})
}
