// Command rpcprobe is an interactive console for local JSON-RPC services
// reachable over a Unix domain socket. It connects with retry, identifies
// itself to the server, and drives a menu-based session for sending preset
// or manually built requests and watching server notifications.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	rpcprobe "github.com/rpcprobe/rpcprobe"
	defaults "github.com/rpcprobe/rpcprobe/default"
	"github.com/rpcprobe/rpcprobe/internal/conn"
	"github.com/rpcprobe/rpcprobe/internal/console"
	"github.com/rpcprobe/rpcprobe/internal/rpc"
	"github.com/rpcprobe/rpcprobe/internal/session"
)

func main() {
	var (
		socketFlag = flag.StringP("socketfile", "s", "", "path to the service's Unix domain socket")
		presetFlag = flag.StringP("presets", "p", "", "path to an API presets JSON file")
		configFlag = flag.StringP("config", "c", "", "path to the config file")
		timeout    = flag.Int("timeout", 0, "request timeout in seconds (overrides config)")
		verbose    = flag.BoolP("verbose", "v", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	// Logs go to stderr so they never interleave with console output.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := rpcprobe.LoadConfig(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rpcprobe: %v\n", err)
		os.Exit(1)
	}

	if *timeout > 0 {
		cfg.TimeoutSeconds = *timeout
	}

	sockPath := rpcprobe.ResolveSocketPath(*socketFlag, cfg)
	if sockPath == "" {
		fmt.Fprintln(os.Stderr, "rpcprobe: no socket path configured")
		os.Exit(1)
	}

	presets, err := loadPresets(*presetFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rpcprobe: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	con := console.New(os.Stdin, os.Stdout)

	err = run(ctx, cfg, sockPath, presets, con)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
		fmt.Println()
	default:
		fmt.Fprintf(os.Stderr, "rpcprobe: %v\n", err)
		os.Exit(1)
	}
}

// loadPresets returns the presets from path, or the embedded defaults when
// no file is given.
func loadPresets(path string) ([]rpcprobe.Preset, error) {
	if path == "" {
		return rpcprobe.ParsePresets(defaults.DefaultPresetsJSON)
	}
	presets, err := rpcprobe.LoadPresets(rpcprobe.ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("load presets: %w", err)
	}
	return presets, nil
}

// run owns the outer connection loop: dial with retry, identify, hand the
// connection to the interactive session, and redial when the connection
// drops out from under it. Every pass discards the dead connection's
// pending requests before a new one is made.
func run(ctx context.Context, cfg *rpcprobe.Config, sockPath string, presets []rpcprobe.Preset, con *console.Console) error {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	for {
		corr := rpc.New(timeout)
		con.Printf("Connecting to %s\n", sockPath)
		c, err := conn.Dial(ctx, sockPath, corr)
		if err != nil {
			corr.Close(conn.ErrClosed)
			return err
		}
		con.Println("Connected")

		idResp, err := c.Identify(ctx, cfg.Identify)
		if err != nil {
			c.Close()
			corr.Close(conn.ErrClosed)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			con.Println("Disconnected during identification, reconnecting")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		con.Printf("Client identified with server: %s\n", idResp.Display())

		sess := session.New(c, corr, con, presets)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return sess.Run(gctx)
		})
		g.Go(func() error {
			// A dead socket must unblock the session, and a finished
			// session must stop mattering to the socket.
			select {
			case <-c.Done():
				return conn.ErrClosed
			case <-gctx.Done():
				return gctx.Err()
			}
		})
		err = g.Wait()
		c.Close()
		corr.Close(conn.ErrClosed)

		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, conn.ErrClosed):
			con.Println("Disconnected from server, reconnecting")
		default:
			return err
		}
	}
}
