// Command zerobuffer runs a small duplex echo service, demonstrating the
// request/response channel built on top of this repo's ring buffers: a
// server subcommand and a client subcommand exercised against the same
// named channel.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AlephTX/zerobuffer"
	"github.com/AlephTX/zerobuffer/config"
	"github.com/AlephTX/zerobuffer/duplex"
	"github.com/AlephTX/zerobuffer/telemetry"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfgPath := os.Getenv("ZEROBUFFER_CONFIG")
	rc, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch os.Args[1] {
	case "serve":
		runServe(ctx, rc, os.Args[2:])
	case "client":
		runClient(rc, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: zerobuffer serve -channel NAME [-telemetry :8089]")
	fmt.Fprintln(os.Stderr, "       zerobuffer client -channel NAME -message TEXT")
}

func runServe(ctx context.Context, rc config.RuntimeConfig, args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	channel := fs.String("channel", "echo", "duplex channel name")
	telemetryAddr := fs.String("telemetry", "", "if set, serve a read-only stats websocket here, e.g. :8089")
	fs.Parse(args)

	factory := duplex.NewFactory(zerobuffer.WithNamespace(rc.Namespace()))
	srv, err := factory.CreateImmutableServer(*channel, rc.BufferConfig(), echoHandler)
	if err != nil {
		log.Fatalf("serve: create server: %v", err)
	}

	// errgroup supervises the optional telemetry listener alongside the
	// main wait-for-shutdown goroutine, the same role AlephTX-aleph-tx/
	// feeder/main.go's sync.WaitGroup plays over its exchange feeds.
	g, gctx := errgroup.WithContext(ctx)

	if *telemetryAddr != "" {
		ts := telemetry.NewServer(time.Second)
		ts.Register(*channel, srv)
		httpSrv := &http.Server{Addr: *telemetryAddr, Handler: ts}
		g.Go(func() error {
			log.Printf("serve: telemetry listening on %s", *telemetryAddr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("telemetry: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return httpSrv.Close()
		})
	}

	log.Printf("serve: channel %q: waiting for client...", *channel)
	if err := srv.Start(duplex.SingleThread, duplex.WithOnInit(func(meta []byte) {
		log.Printf("serve: channel %q: client metadata: %d bytes", *channel, len(meta))
	}), duplex.WithOnError(func(err error) {
		log.Printf("serve: channel %q: %v", *channel, err)
	})); err != nil {
		log.Fatalf("serve: start: %v", err)
	}

	<-ctx.Done()
	log.Printf("serve: stopping...")
	if err := srv.Stop(); err != nil {
		log.Printf("serve: stop: %v", err)
	}
	if err := g.Wait(); err != nil {
		log.Printf("serve: %v", err)
	}
}

func echoHandler(request []byte) ([]byte, error) {
	resp := make([]byte, len(request))
	copy(resp, request)
	return resp, nil
}

func runClient(rc config.RuntimeConfig, args []string) {
	fs := flag.NewFlagSet("client", flag.ExitOnError)
	channel := fs.String("channel", "echo", "duplex channel name")
	message := fs.String("message", "hello", "request body to send")
	timeout := fs.Duration("timeout", 5*time.Second, "response timeout")
	fs.Parse(args)

	factory := duplex.NewFactory(zerobuffer.WithNamespace(rc.Namespace()))
	c, err := factory.CreateClient(*channel, rc.BufferConfig())
	if err != nil {
		log.Fatalf("client: connect: %v", err)
	}
	defer c.Close()

	resp, err := c.SendRequest([]byte(*message), *timeout)
	if err != nil {
		log.Fatalf("client: send: %v", err)
	}
	defer resp.Release()

	fmt.Printf("response (seq %d): %s\n", resp.Sequence, resp.Data)
}
