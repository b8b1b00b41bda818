package main

import (
	"flag"
	"fmt"

	"github.com/stiffinWanjohi/courier/internal/config"
	"github.com/stiffinWanjohi/courier/migrations"
)

func cmdMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	down := fs.Int("down", 0, "Roll back this many migrations instead of applying")
	_ = fs.Parse(args)

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	var v uint
	if *down > 0 {
		v, err = migrations.Down(cfg.Database.URL, *down)
	} else {
		v, err = migrations.Up(cfg.Database.URL)
	}
	if err != nil {
		return err
	}

	fmt.Printf("  %s schema at version %d\n", success("✓"), v)
	return nil
}
