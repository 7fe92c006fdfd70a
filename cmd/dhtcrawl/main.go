// Command dhtcrawl is a thin CLI wrapper over package engine: given an
// info hash it runs an iterative peer lookup and prints what it finds;
// given none, it runs the engine in passive observer mode and reports
// what it sees.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"dhtcore/engine"
	"dhtcore/nodeid"
)

// errInterrupted signals that the run was cut short by a signal rather
// than failing outright; run maps it to exit code 130.
var errInterrupted = fmt.Errorf("interrupted")

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()
	sugared := logger.Sugar()

	app := &cli.App{
		Name:  "dhtcrawl",
		Usage: "look up peers for a BitTorrent info hash, or passively observe DHT traffic",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "timeout", Value: 10, Usage: "seconds to run; 0 means run until interrupted (observer mode only)"},
			&cli.IntFlag{Name: "port", Value: 0, Usage: "local UDP port; 0 selects an ephemeral port"},
			&cli.StringSliceFlag{Name: "bootstrap", Usage: "bootstrap router host:port, repeatable"},
		},
		Action: func(c *cli.Context) error {
			return runAction(c, sugared)
		},
	}

	err := app.Run(args)
	switch {
	case err == nil:
		return 0
	case err == errInterrupted:
		return 130
	default:
		sugared.Errorf("dhtcrawl: %v", err)
		return 1
	}
}

func runAction(c *cli.Context, log *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	localID, err := nodeid.Random()
	if err != nil {
		return fmt.Errorf("generate local id: %w", err)
	}

	infoHashArg := c.Args().First()
	passive := infoHashArg == ""

	cfg := engine.Config{
		LocalID:    localID,
		ListenAddr: fmt.Sprintf("0.0.0.0:%d", c.Int("port")),
		Passive:    passive,
		Logger:     log,
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer eng.Close()

	serveCtx, cancelServe := context.WithCancel(context.Background())
	defer cancelServe()
	go func() {
		if err := eng.Serve(serveCtx); err != nil {
			log.Debugf("dhtcrawl: serve loop exited: %v", err)
		}
	}()

	hosts := c.StringSlice("bootstrap")
	if err := eng.Bootstrap(ctx, hosts); err != nil {
		if ctx.Err() != nil {
			return errInterrupted
		}
		return fmt.Errorf("bootstrap: %w", err)
	}

	timeout := c.Int("timeout")

	if passive {
		var dur time.Duration
		if timeout > 0 {
			dur = time.Duration(timeout) * time.Second
		}
		eng.RunObserver(ctx, dur)
		printObserved(eng)
		return interruptedErr(ctx)
	}

	infoHash, err := parseInfoHash(infoHashArg)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(time.Duration(timeout) * time.Second)
	peers := eng.LookupPeers(ctx, infoHash, deadline)
	for _, p := range peers {
		fmt.Printf("%s:%d\n", p.IP, p.Port)
	}
	return interruptedErr(ctx)
}

func parseInfoHash(s string) (nodeid.ID, error) {
	if len(s) != 40 {
		return nodeid.ID{}, fmt.Errorf("info hash must be 40 hex characters, got %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nodeid.ID{}, fmt.Errorf("info hash is not valid hex: %w", err)
	}
	return nodeid.FromBytes(b)
}

func printObserved(eng *engine.Engine) {
	observed := eng.Observed()
	if observed == nil {
		return
	}
	for id, rec := range observed.Snapshot() {
		fmt.Printf("%s seen=%d first=%s sources=%d\n", id, rec.Count, rec.FirstSeen.Format(time.RFC3339), len(rec.Sources))
	}
}

func interruptedErr(ctx context.Context) error {
	if ctx.Err() != nil {
		return errInterrupted
	}
	return nil
}
