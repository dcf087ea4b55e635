// Command dfm-process runs the client-facing HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"goa.design/clue/log"

	"github.com/earth2dfm/dfm/bus"
	businmem "github.com/earth2dfm/dfm/bus/inmem"
	"github.com/earth2dfm/dfm/bus/pulsebus"
	"github.com/earth2dfm/dfm/config"
	"github.com/earth2dfm/dfm/service/process"
	"github.com/earth2dfm/dfm/store"
	storemem "github.com/earth2dfm/dfm/store/inmem"
	"github.com/earth2dfm/dfm/store/redisstore"
	"github.com/earth2dfm/dfm/telemetry"

	"github.com/redis/go-redis/v9"
)

// version is stamped at build time.
var version = "dev"

func main() {
	var (
		addr  = flag.String("addr", ":8080", "listen address")
		debug = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *debug {
		ctx = log.Context(ctx, log.WithDebug())
	}
	logger := telemetry.NewClueLogger()

	settings := config.FromEnv()
	st, b, err := backends(settings, logger)
	if err != nil {
		log.Fatal(ctx, err, log.KV{K: "msg", V: "initialize backends"})
	}

	svc, err := process.New(process.Options{
		Site:       settings.SiteName,
		Store:      st,
		Bus:        b,
		AuthMethod: settings.AuthMethod,
		AuthAPIKey: settings.AuthAPIKey,
		Version:    version,
		Name:       "dfm-process",
		Logger:     logger,
	})
	if err != nil {
		log.Fatal(ctx, err, log.KV{K: "msg", V: "initialize service"})
	}

	srv := &http.Server{
		Addr:         *addr,
		Handler:      svc.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		log.Infof(ctx, "listening on %s", *addr)
		errc <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(ctx, err, log.KV{K: "msg", V: "server failed"})
		}
	case sig := <-stop:
		log.Infof(ctx, "received %s, shutting down", sig)
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf(ctx, err, "graceful shutdown")
		}
	}
}

// backends wires the store and bus from the environment settings.
func backends(settings config.Settings, logger telemetry.Logger) (store.Store, bus.Bus, error) {
	if settings.UseFakeRedis {
		return storemem.New(), businmem.New(), nil
	}
	client := redis.NewClient(settings.RedisOptions())
	st, err := redisstore.New(redisstore.Options{Redis: client})
	if err != nil {
		return nil, nil, err
	}
	b, err := pulsebus.New(pulsebus.Options{Redis: client, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return st, b, nil
}
