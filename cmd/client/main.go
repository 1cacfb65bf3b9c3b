package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/fileproxy/internal/client/cli"
	"github.com/dmitrijs2005/fileproxy/internal/client/config"
)

func main() {

	cfg, args, err := config.LoadConfig()
	if err != nil {
		log.Printf("%v", err)
		os.Exit(2)
	}

	app, err := cli.NewApp(cfg, os.Stdout, os.Stderr)
	if err != nil {
		log.Printf("%v", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := app.Run(ctx, args, os.Stdin)
	stop()
	os.Exit(code)
}
