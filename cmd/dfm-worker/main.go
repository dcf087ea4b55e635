// Command dfm-worker runs the execution service for one site.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	"github.com/earth2dfm/dfm/bus"
	businmem "github.com/earth2dfm/dfm/bus/inmem"
	"github.com/earth2dfm/dfm/bus/pulsebus"
	"github.com/earth2dfm/dfm/config"
	"github.com/earth2dfm/dfm/execute"
	_ "github.com/earth2dfm/dfm/execute/adapter/dfmops"
	"github.com/earth2dfm/dfm/service/worker"
	"github.com/earth2dfm/dfm/store"
	storemem "github.com/earth2dfm/dfm/store/inmem"
	"github.com/earth2dfm/dfm/store/redisstore"
	"github.com/earth2dfm/dfm/telemetry"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
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
	if settings.SiteConfigPath == "" {
		log.Fatal(ctx, errors.New("SITE_CONFIG is required"), log.KV{K: "msg", V: "missing configuration"})
	}
	siteCfg, err := config.LoadSiteConfig(settings.SiteConfigPath)
	if err != nil {
		log.Fatal(ctx, err, log.KV{K: "msg", V: "load site config"})
	}
	secrets, err := config.LoadSecrets(settings.SiteSecretsPath)
	if err != nil {
		log.Fatal(ctx, err, log.KV{K: "msg", V: "load site secrets"})
	}

	st, b, err := backends(settings, logger)
	if err != nil {
		log.Fatal(ctx, err, log.KV{K: "msg", V: "initialize backends"})
	}

	// Advertise the served site so request contexts resolve it.
	if err := st.Put(ctx, store.ThisSiteKey, siteCfg.Site); err != nil {
		log.Fatal(ctx, err, log.KV{K: "msg", V: "advertise site"})
	}

	w, err := worker.New(worker.Options{
		Site:      execute.NewSite(siteCfg, secrets, logger),
		Store:     st,
		Bus:       b,
		Heartbeat: siteCfg.HeartbeatInterval(),
		Logger:    logger,
	})
	if err != nil {
		log.Fatal(ctx, err, log.KV{K: "msg", V: "initialize worker"})
	}

	runCtx, cancel := context.WithCancel(ctx)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-stop
		log.Infof(ctx, "received %s, shutting down", sig)
		cancel()
	}()

	log.Infof(ctx, "worker running on site %s", siteCfg.Site)
	if err := w.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(ctx, err, log.KV{K: "msg", V: "worker failed"})
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
