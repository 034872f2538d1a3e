package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"takumi/internal/takumi"
)

// isCriticalAtomic is 1 while an interruption-sensitive phase (install,
// package) is running; the signal handler then demands a second Ctrl+C.
var isCriticalAtomic atomic.Int32

func usage() {
	fmt.Println("Usage: takumi <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  build     run the full toolchain pipeline (fetch, build, install, package)")
	fmt.Println("  fetch     download and verify all source archives only")
	fmt.Println("  status    show per-stage completion markers")
	fmt.Println("  publish   upload packaged artifacts to the configured mirror")
	fmt.Println("  version   print version information")
	fmt.Println()
	fmt.Println("Configuration comes from /etc/takumi.conf and TAKUMI_* environment")
	fmt.Println("variables (TAKUMI_PREFIX, TAKUMI_BUILD_DIR, TAKUMI_JOBS, TAKUMI_BUILD,")
	fmt.Println("TAKUMI_HOST, TAKUMI_TARGET, TAKUMI_GDB, TAKUMI_DEBUG, TAKUMI_REPO).")
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		for {
			select {
			case sig := <-sigs:
				if isCriticalAtomic.Load() == 1 {
					fmt.Printf("\n[WARNING] Critical operation in progress. Press Ctrl+C AGAIN to force exit NOW.\n")
					select {
					case <-sigs:
						fmt.Println("\n[FATAL] Forced immediate exit.")
						os.Exit(130)
					case <-time.After(5 * time.Second):
						continue
					case <-ctx.Done():
						return
					}
				} else {
					fmt.Printf("\n[INFO] Received %v. Cancelling gracefully; completed stage markers stay valid.\n", sig)
					cancel()

					// Give the running child a moment to die and flush before
					// we check for a second signal.
					time.Sleep(100 * time.Millisecond)

					select {
					case <-sigs:
						fmt.Println("\n[FATAL] Second interrupt received. Forcing immediate exit.")
						os.Exit(130)
					case <-time.After(500 * time.Millisecond):
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if ctx.Err() != nil {
		return
	}

	cmd := "build"
	if len(os.Args) >= 2 {
		cmd = os.Args[1]
	}

	cfg, err := takumi.LoadConfig(takumi.ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading configuration: %v\n", err)
		os.Exit(1)
	}
	takumi.Debug = cfg.Values["TAKUMI_DEBUG"] == "1"

	var runErr error
	switch cmd {
	case "build", "b":
		// Install and package steps must not be torn in half by a single
		// stray Ctrl+C.
		isCriticalAtomic.Store(1)
		defer isCriticalAtomic.Store(0)
		runErr = takumi.RunBuild(ctx, cfg)
	case "fetch", "f":
		runErr = takumi.RunFetch(ctx, cfg)
	case "status", "s":
		runErr = takumi.RunStatus(ctx, cfg)
	case "publish", "p":
		runErr = takumi.RunPublish(ctx, cfg)
	case "version":
		fmt.Printf("takumi %s (%s/%s, built %s)\n", takumi.Version(), runtime.GOOS, runtime.GOARCH, takumi.BuildDate())
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Println("Unknown command:", cmd)
		usage()
		os.Exit(2)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(1)
	}
}
