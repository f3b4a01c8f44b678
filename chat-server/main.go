package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shardchat/chat"
	"shardchat/configs"
	"shardchat/coordinator"
	"shardchat/facade"
)

var (
	addr    string
	conf    string
	catalog string
	redis   string
	debug   bool
	sweep   bool
	stats   bool
)

func usage() {
	flag.PrintDefaults()
}

func init() {
	flag.StringVar(&addr, "addr", "", "listen address, overrides the config file")
	flag.StringVar(&conf, "conf", configs.ConfigFileLocation, "path to the server config file")
	flag.StringVar(&catalog, "catalog", "", "catalog conninfo, overrides the config file")
	flag.StringVar(&redis, "redis", "", "redis address, overrides the config file")
	flag.BoolVar(&debug, "debug", false, "print debug logs")
	flag.BoolVar(&sweep, "sweep", true, "run the transfer recovery sweeper")
	flag.BoolVar(&stats, "stats", false, "print windowed transfer stats")
}

func main() {
	flag.Usage = usage
	flag.Parse()
	configs.ShowDebugInfo = debug
	configs.ShowWarnings = debug
	configs.ProfileStore = stats

	if err := configs.LoadConfig(conf); err != nil {
		configs.Warn(false, "config file not loaded, running on defaults: "+err.Error())
	}
	if addr != "" {
		configs.ChatServerAddress = addr
	}
	if catalog != "" {
		configs.CatalogConnInfo = catalog
	}
	if redis != "" {
		configs.RedisAddress = redis
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fc, err := facade.NewDBFacade(ctx, configs.CatalogConnInfo)
	configs.CheckError(err)
	defer fc.Close()

	if sweep {
		go coordinator.NewSweeper(fc.Router()).Run(ctx)
	}

	if configs.ProfileStore {
		go func() {
			ticker := time.NewTicker(time.Duration(configs.RunStatsInterval) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					fc.TransferStats().Log()
					fc.TransferStats().Clear()
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	cache := chat.NewCache(configs.RedisAddress)
	defer cache.Close()

	srv := chat.NewServer(fc, cache, configs.ChatServerAddress)
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		configs.DPrintf("shutting down")
		cancel()
		srv.Stop()
	}()
	configs.DPrintf("chat server listening on %s", srv.Addr())
	srv.Run()
}
