package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/quay/vulnassess"
)

func compareCmd(ctx context.Context, cfg *commonConfig, args []string) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	deviceID := fs.Int64("device-id", 0, "device id to compare")
	targetVersion := fs.String("target-version", "", "hypothetical target version; omit to compare the device's last two scans")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *deviceID == 0 {
		return fmt.Errorf("compare: -device-id is required")
	}

	e, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if *targetVersion == "" {
		cmp, err := e.Orchestrator.CompareScans(ctx, *deviceID)
		if err != nil {
			return err
		}
		return enc.Encode(cmp)
	}

	v, err := vulnassess.Normalize(*targetVersion)
	if err != nil {
		return fmt.Errorf("compare: %w", err)
	}
	cmp, err := e.Orchestrator.CompareVersion(ctx, *deviceID, v)
	if err != nil {
		return err
	}
	return enc.Encode(cmp)
}
