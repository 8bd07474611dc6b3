package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"stexcore.dev/hub/internal/config"
	"stexcore.dev/hub/internal/migrate"
	"stexcore.dev/hub/internal/obs"
	"stexcore.dev/hub/internal/store/sqldb"
)

func main() {
	logger := obs.Logger()
	timeout := flag.Duration("timeout", 30*time.Second, "Overall command timeout")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "usage: migrate [flags] up|down|seed|sync|status")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sqldb.Open(ctx, cfg.DB)
	if err != nil {
		logger.Error("open database", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()

	mgr, err := migrate.NewManager(db)
	if err != nil {
		logger.Error("migration sources", "error", err.Error())
		os.Exit(1)
	}

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "sync":
		err = mgr.Sync(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("migrate failed", "command", cmd, "dialect", db.Dialect(), "error", err.Error())
		os.Exit(1)
	}
	logger.Info("migrate done", "command", cmd, "dialect", db.Dialect())
}
