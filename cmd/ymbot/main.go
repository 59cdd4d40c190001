package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ymbot/internal/app"
)

func main() {
	application, err := app.New()
	if err != nil {
		log.Fatal(err)
	}

	// backup-once exports, delivers and exits; suitable for an external cron
	if len(os.Args) > 1 && os.Args[1] == "backup-once" {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		err := application.BackupOnce(ctx)
		stop()
		if err != nil {
			os.Exit(1)
		}
		return
	}

	if err := application.Run(); err != nil {
		log.Fatal(err)
	}
}
