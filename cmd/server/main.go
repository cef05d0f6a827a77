// Command server boots the video cache proxy standalone: load config,
// construct the Manager Facade, bind the progressive proxy and debug/admin
// API, and block until an OS signal asks for graceful shutdown.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"videocache/internal/vconfig"
	"videocache/internal/videocache"
	"videocache/internal/xlog"
)

func main() {
	holder, err := vconfig.NewHolder("config.json")
	if err != nil {
		xlog.Base().Fatal().Err(err).Msg("failed to load config")
	}
	defer holder.Close()

	cfg := holder.Get()
	xlog.Configure(xlog.Config{Level: cfg.LogLevel})
	log := xlog.Component("main")

	mgr, err := videocache.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct manager")
	}
	defer mgr.Release()

	addr, err := mgr.Start()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start proxy")
	}
	log.Info().Str("addr", addr).Msg("video cache proxy listening")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")
}
