// Command dfm-scheduler runs the deadline service.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	"github.com/earth2dfm/dfm/bus/pulsebus"
	"github.com/earth2dfm/dfm/config"
	"github.com/earth2dfm/dfm/service/scheduler"
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
	addr := settings.RedisOptions().Addr
	if settings.UseFakeRedis {
		mr, err := miniredis.Run()
		if err != nil {
			log.Fatal(ctx, err, log.KV{K: "msg", V: "start embedded redis"})
		}
		defer mr.Close()
		addr = mr.Addr()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       settings.RedisDB,
		Password: settings.RedisPassword,
	})

	b, err := pulsebus.New(pulsebus.Options{Redis: client, Logger: logger})
	if err != nil {
		log.Fatal(ctx, err, log.KV{K: "msg", V: "initialize bus"})
	}
	s, err := scheduler.New(scheduler.Options{Redis: client, Bus: b, Logger: logger})
	if err != nil {
		log.Fatal(ctx, err, log.KV{K: "msg", V: "initialize scheduler"})
	}

	runCtx, cancel := context.WithCancel(ctx)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-stop
		log.Infof(ctx, "received %s, shutting down", sig)
		cancel()
	}()

	log.Infof(ctx, "scheduler running on site %s", settings.SiteName)
	if err := s.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(ctx, err, log.KV{K: "msg", V: "scheduler failed"})
	}
}
