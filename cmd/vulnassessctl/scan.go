package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/quay/vulnassess"
)

func scanCmd(ctx context.Context, cfg *commonConfig, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	platform := fs.String("platform", "", "device platform, e.g. IOS-XE")
	version := fs.String("version", "", "device running version")
	hardware := fs.String("hardware", "", "hardware model filter")
	features := fs.String("features", "", "comma-separated enabled feature list")
	severities := fs.String("severity", "", "comma-separated severity filter")
	limit := fs.Int("limit", 0, "result page size, 0 means unbounded")
	offset := fs.Int("offset", 0, "result page offset")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *platform == "" || *version == "" {
		return fmt.Errorf("scan: -platform and -version are required")
	}

	v, err := vulnassess.Normalize(*version)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	req := vulnassess.ScanRequest{
		Platform:      vulnassess.Platform(*platform),
		Version:       v,
		HardwareModel: *hardware,
		Limit:         *limit,
		Offset:        *offset,
	}
	if *features != "" {
		req.Features = strings.Split(*features, ",")
	}
	for _, raw := range splitNonEmpty(*severities) {
		sev, err := vulnassess.ParseSeverity(raw)
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		req.SeverityFilter = append(req.SeverityFilter, sev)
	}

	e, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	result, err := e.Scanner.Scan(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
