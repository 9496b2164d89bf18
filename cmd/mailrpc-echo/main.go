/*
mailrpc-echo runs an echo service, or calls one. Use either as

	$ mailrpc-echo -config echo.yaml

to serve sys.echo.echo on the configured port (registering with etcd when
endpoints are configured), or

	$ mailrpc-echo -config echo.yaml -cl hello world

to call it through the configured servers or etcd.
*/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mailrpc/client"
	"mailrpc/config"
	"mailrpc/message"
	"mailrpc/registry"
	"mailrpc/server"
)

const serverType = "echo"

func main() {
	path := flag.String("config", "", "YAML config file (defaults when empty)")
	asClient := flag.Bool("cl", false, "call the echo service instead of serving it")
	debug := flag.Bool("debug", false, "development logging")
	flag.Parse()

	log, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := config.Default()
	if *path != "" {
		if cfg, err = config.Load(*path); err != nil {
			log.Fatal("load config", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *asClient {
		err = runClient(ctx, cfg, log, flag.Args())
	} else {
		err = runServer(ctx, cfg, log)
	}
	if err != nil {
		log.Fatal("echo failed", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func echo(_ context.Context, msg *message.Message) ([]any, error) {
	out := make([]any, len(msg.Args))
	for i, a := range msg.Args {
		out[i] = a
	}
	return out, nil
}

func runServer(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	if cfg.Server.ServerType == "" {
		cfg.Server.ServerType = serverType
	}
	if cfg.Server.ID == "" {
		host, _ := os.Hostname()
		cfg.Server.ID = fmt.Sprintf("%s-%s-%d", serverType, host, os.Getpid())
	}

	var reg registry.Registry
	etcd, err := cfg.Registry(log.Named("registry"))
	if err != nil {
		return err
	}
	if etcd != nil {
		defer etcd.Close()
		reg = etcd
	}

	services := server.Services{"sys": server.Namespace{"echo": server.Service{"echo": echo}}}
	g, err := server.NewGateway(services, cfg.GatewayOptions(reg, log)...)
	if err != nil {
		return err
	}
	if err := g.Start(ctx); err != nil {
		return err
	}
	log.Info("echo server ready", zap.String("server_id", cfg.Server.ID), zap.String("addr", g.Addr()))

	<-ctx.Done()
	return g.Stop()
}

func runClient(ctx context.Context, cfg config.Config, log *zap.Logger, args []string) error {
	c, err := client.New(cfg.ClientOptions(log)...)
	if err != nil {
		return err
	}
	if err := c.Start(); err != nil {
		return err
	}
	defer c.Stop(true)

	etcd, err := cfg.Registry(log.Named("registry"))
	if err != nil {
		return err
	}
	if etcd != nil {
		defer etcd.Close()
		go c.Sync(ctx, etcd)
		// Give the first snapshot a moment to land.
		deadline := time.Now().Add(cfg.ConnectTimeout)
		for len(c.ServerIDs(serverType)) == 0 && time.Now().Before(deadline) {
			time.Sleep(50 * time.Millisecond)
		}
	} else {
		c.AddServers(cfg.Servers)
	}

	callArgs := make([]any, len(args))
	for i, a := range args {
		callArgs[i] = a
	}
	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	reply, err := c.Proxy("sys", serverType, "echo").Call(callCtx, nil, "echo", callArgs...)
	if err != nil {
		return err
	}
	results := []json.RawMessage(reply)
	if len(results) > 0 {
		results = results[1:]
	}
	out, err := json.Marshal(results)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
