package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/quay/vulnassess/updatepkg"
)

func applyCmd(ctx context.Context, cfg *commonConfig, args []string) error {
	fs := flag.NewFlagSet("apply", flag.ExitOnError)
	skipHash := fs.Bool("skip-hash-check", false, "skip the manifest sha256 verification")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("apply: expected exactly one package path argument")
	}

	e, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	pkg, err := updatepkg.Open(fs.Arg(0), *skipHash)
	if err != nil {
		return err
	}
	defer pkg.Close()

	report, err := updatepkg.Apply(ctx, e.Store, pkg, nil)
	if err != nil {
		return err
	}

	fmt.Printf("inserted=%d updated=%d skipped=%d\n", report.Inserted, report.Updated, report.Skipped)
	for _, e := range report.Errors {
		fmt.Printf("  %s\n", e.Error())
	}
	return nil
}
