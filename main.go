package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/gommon/log"

	"github.com/himanshub16/upnext-karaoke/hub"
	"github.com/himanshub16/upnext-karaoke/master"
	"github.com/himanshub16/upnext-karaoke/queue"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("failed to load .env: %v", err)
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(configPath string) error {
	var (
		cfg       *Config
		repo      PlaylistRepository
		engine    *queue.Engine
		arbiter   *master.Arbiter
		socketHub *hub.Hub
		youtube   *YouTubeClient
		service   *ServiceImpl
		keys      *KeyRing
		err       error
	)

	cfg, err = LoadConfig(configPath)
	if err != nil {
		return err
	}
	log.SetLevel(cfg.Server.Level())
	log.Infof("starting %s %s", cfg.App.Name, cfg.App.Version)

	log.Info("database url ", cfg.Database.URL)
	repo, err = OpenPlaylistRepository(cfg.Database.URL)
	if err != nil {
		return err
	}

	keys = NewKeyRing(cfg.YouTube.APIKeys)
	youtube = NewYouTubeClient(cfg.YouTube, cfg.Search, keys)

	engine = queue.NewEngine()
	arbiter = master.NewArbiter()

	socketHub = hub.NewHub(engine, arbiter, 0)
	socketHub.Attach(engine)
	defer socketHub.Shutdown()

	service = NewService(engine, repo, youtube, cfg.Recommendations)
	service.Start()
	defer service.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = WatchConfig(ctx, configPath, func(next *Config) {
		keys.Replace(next.YouTube.APIKeys)
		youtube.UpdateSettings(next.Search)
		service.UpdateRecommendations(next.Recommendations)
		log.SetLevel(next.Server.Level())
	})
	if err != nil {
		log.Warnf("config hot reload disabled: %v", err)
	}

	echoRouter := NewHTTPRouter(engine, arbiter, socketHub, service, youtube, cfg.Auth)
	echoRouter.Logger.SetLevel(cfg.Server.Level())

	errc := make(chan error, 1)
	go func() {
		errc <- echoRouter.Start(cfg.Server.ListenAddr())
	}()

	select {
	case err = <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// websockets are hijacked connections and are not waited for by Shutdown
	socketHub.Shutdown()
	return echoRouter.Shutdown(shutdownCtx)
}
