package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/quay/vulnassess"
)

func bulkScanCmd(ctx context.Context, cfg *commonConfig, args []string) error {
	fs := flag.NewFlagSet("bulk-scan", flag.ExitOnError)
	platforms := fs.String("platforms", "", "comma-separated platform filter, empty means every platform")
	deviceIDs := fs.String("device-ids", "", "comma-separated device id filter, empty means every discovered device")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var plats []vulnassess.Platform
	for _, raw := range splitNonEmpty(*platforms) {
		plats = append(plats, vulnassess.Platform(raw))
	}
	var ids []int64
	for _, raw := range splitNonEmpty(*deviceIDs) {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("bulk-scan: invalid device id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}

	e, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	job, err := e.Orchestrator.BulkScan(ctx, plats, ids)
	if err != nil {
		return err
	}

	total, completed, failed, results, done := job.Snapshot()
	fmt.Printf("total=%d completed=%d failed=%d done=%t\n", total, completed, failed, done)
	var failures []string
	for _, r := range results {
		if r.Err != nil {
			failures = append(failures, fmt.Sprintf("  device %d (%s): %v", r.DeviceID, r.Hostname, r.Err))
		}
	}
	if len(failures) > 0 {
		fmt.Println(strings.Join(failures, "\n"))
	}
	return nil
}
