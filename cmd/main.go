package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"vsfy/config"
	"vsfy/logging"
	"vsfy/vsfy/api"
	"vsfy/vsfy/client"
	"vsfy/vsfy/commands"
	"vsfy/vsfy/dirserver"
)

var log = logging.GetLogger()

type CLI struct {
	input  io.Reader
	output io.Writer
}

func (c *CLI) usage(fs *pflag.FlagSet) {
	fmt.Fprintln(c.output, "Usage: vsfy [flags] <command>")
	fmt.Fprintln(c.output, "")
	fmt.Fprintln(c.output, "Commands:")
	fmt.Fprintln(c.output, "  run               - Connect and start the interactive menu")
	fmt.Fprintln(c.output, "  list              - List every item known to the directory")
	fmt.Fprintln(c.output, "  info <clientId>   - Show what the directory knows about a client")
	fmt.Fprintln(c.output, "  request <item>    - Fetch an item from the peer that holds it")
	fmt.Fprintln(c.output, "  serve             - Share the catalog and start the HTTP API")
	fmt.Fprintln(c.output, "  directory         - Run an in-memory directory server")
	fmt.Fprintln(c.output, "")
	fmt.Fprintln(c.output, "Flags:")
	fs.SetOutput(c.output)
	fs.PrintDefaults()
}

func (c *CLI) Run(ctx context.Context, args []string) error {
	fs := config.Flags()
	if err := fs.Parse(args); err != nil {
		c.usage(fs)
		return err
	}
	if fs.NArg() < 1 {
		c.usage(fs)
		return fmt.Errorf("no command provided")
	}

	configPath, _ := fs.GetString("config")
	cfg, err := config.LoadWithFlags(configPath, fs)
	if err != nil {
		return err
	}

	out, closeLog, err := logging.Open(cfg.Logging.Output)
	if err != nil {
		return fmt.Errorf("failed to open log output: %w", err)
	}
	defer closeLog()
	logger := logging.New(out, cfg.Logging.Format, cfg.Logging.Level)
	logging.SetLogger(logger)
	log = logger

	command, rest := fs.Arg(0), fs.Args()[1:]
	if command == "directory" {
		return runDirectory(ctx, cfg, logger)
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Connect(ctx); err != nil {
		return err
	}

	switch command {
	case "run":
		shell := commands.NewShell(a.client, a.consumer, c.input, c.output, logger)
		return shell.Run(ctx)

	case "list":
		for line, err := range a.client.RequestList(ctx) {
			if err != nil {
				return err
			}
			fmt.Fprintln(c.output, line)
		}

	case "info":
		if len(rest) < 1 {
			return fmt.Errorf("info requires a client ID")
		}
		line, err := a.client.RequestInfo(ctx, rest[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(c.output, line)

	case "request":
		if len(rest) < 1 {
			return fmt.Errorf("request requires an item name")
		}
		item := strings.Join(rest, " ")
		result, err := a.client.Fetch(ctx, item, a.consumer)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.output, "Received %s from %s (%d bytes)\n", result.Item, result.Peer, result.Bytes)

	case "serve":
		return serve(ctx, a, logger)

	default:
		return fmt.Errorf("unknown command: %s", command)
	}

	return nil
}

// serve shares the catalog and exposes the HTTP API until ctx is done or the
// directory connection drops.
func serve(ctx context.Context, a *app, logger *slog.Logger) error {
	handler := api.NewAPIHandler(a.client.Identity, a.client, a.consumer, a.uploads, a.downloads, logger)
	srv := &http.Server{
		Addr:              a.cfg.API.Listen,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-a.client.Done():
			return client.ErrConnectionClosed
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func runDirectory(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	srv := dirserver.New(logger)
	if _, err := srv.Listen(net.JoinHostPort("", strconv.Itoa(cfg.Directory.Port))); err != nil {
		return err
	}
	return srv.Serve(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := &CLI{
		input:  os.Stdin,
		output: os.Stdout,
	}

	if err := cli.Run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		stop()
		logging.LogFatal(log, "vsfy failed", "err", err)
	}
}
