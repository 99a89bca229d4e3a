// Package main is the entry point for keyadmin, the access key admin API.
// Every mutation is written to the authoritative store and published to
// the event stream; a publish failure is compensated.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/keyrelay/internal/bootstrap"
)

const serviceName = "keyadmin"

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	flags, err := bootstrap.ParseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse flags: %v\n", err)
		os.Exit(2)
	}

	if flags.ShowVersion {
		printVersion()
		return
	}

	gin.SetMode(gin.ReleaseMode)

	if err := run(flags); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("%s version %s\n", serviceName, version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// run serves until SIGINT or SIGTERM, then shuts down gracefully.
func run(flags bootstrap.Flags) error {
	ctx, stop := bootstrap.SignalContext(context.Background())
	defer stop()

	rt, err := bootstrap.Setup(ctx, serviceName, version, flags)
	if err != nil {
		return err
	}

	app := initApplication(rt)
	if err := app.start(ctx); err != nil {
		rt.Shutdown(context.Background())
		return err
	}
	rt.WatchConfig(ctx, nil)

	<-ctx.Done()
	rt.Logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.ShutdownTimeout())
	defer cancel()
	rt.Shutdown(shutdownCtx)
	return nil
}
