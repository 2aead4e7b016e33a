package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"tenantgov.org/internal/migrate"
	"tenantgov.org/internal/obs"
	"tenantgov.org/internal/store/pg"
)

func main() {
	var (
		dsn       = flag.String("dsn", os.Getenv("TENANTGOV_PG_DSN"), "PostgreSQL DSN")
		seedsPath = flag.String("seeds", "", "Directory with SQL seeds (optional)")
		timeout   = flag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	flag.Parse()
	logger := obs.Logger()

	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "missing DSN: provide via -dsn or TENANTGOV_PG_DSN")
		os.Exit(2)
	}
	if len(flag.Args()) == 0 {
		fmt.Fprintln(os.Stderr, "usage: migrate [up|down|seed|status]")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		logger.Error("open_db", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	var seeds fs.FS
	if *seedsPath != "" {
		seeds = os.DirFS(*seedsPath)
	}
	mgr := migrate.NewManager(store.DB(), pg.Migrations(), seeds)

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("migrate_failed", "command", cmd, "err", err)
		os.Exit(1)
	}
	logger.Info("migrate_done", "command", cmd)
}
