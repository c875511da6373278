package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ralt/repomirror/internal/cli"
	"github.com/sirupsen/logrus"
)

func main() {
	// Setup logging format
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer cli.Cleanup()

	rootCmd := cli.NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logrus.Error(err)
		cli.Cleanup()
		os.Exit(1)
	}
}
