package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"drops-miner-backend/internal/common/config"
	"drops-miner-backend/internal/common/logger"
	"drops-miner-backend/internal/common/notify"
	"drops-miner-backend/internal/features/campaign/models"
	campaignsvc "drops-miner-backend/internal/features/campaign/service"
	minerhttp "drops-miner-backend/internal/features/miner/delivery/http"
	minersvc "drops-miner-backend/internal/features/miner/service"
	"drops-miner-backend/internal/platform/browser"
	"drops-miner-backend/internal/platform/kick"
	"drops-miner-backend/internal/platform/twitch"
	"drops-miner-backend/internal/repository/sqlite"
)

func main() {
	cfg := config.Load()
	logger.Init("drops-miner", cfg.Debug)

	db, err := sqlite.NewDatabase(cfg.Store.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("database init failed")
	}
	defer db.Close()

	runtimes := make(map[models.Platform]minersvc.PlatformRuntime)
	var hosts []*browser.ChromeHost

	if cfg.Twitch.Enabled {
		host := browser.NewChromeHost(browser.Options{
			Headless:    cfg.Browser.Headless,
			ExecPath:    cfg.Browser.ExecPath,
			UserDataDir: cfg.Browser.UserDataDir,
			Log:         logger.Component("browser.twitch"),
		})
		hosts = append(hosts, host)

		if cfg.Browser.ImportCookies {
			seedSessionCookie(host, "twitch.tv", "auth-token")
		}

		broker := twitch.NewBroker(host, cfg.Twitch.GQLEndpoint, cfg.Twitch.DropsURL,
			db.Hashes, logger.Component("twitch.broker"))
		runtimes[models.PlatformTwitch] = minersvc.PlatformRuntime{
			Provider: campaignsvc.NewTwitchCatalog(broker, logger.Component("twitch.catalog")),
			Host:     host,
			Claimer:  broker,
			Scripts: minersvc.PageScripts{
				ResolveLive:     twitch.ScriptResolveLive,
				DismissGate:     twitch.ScriptDismissGate,
				ForceLowQuality: twitch.ScriptForceLowQuality,
				LiveCheck:       twitch.ScriptLiveCheck,
			},
		}
	}

	if cfg.Kick.Enabled {
		host := browser.NewChromeHost(browser.Options{
			Headless:    cfg.Browser.Headless,
			ExecPath:    cfg.Browser.ExecPath,
			UserDataDir: cfg.Browser.UserDataDir,
			Log:         logger.Component("browser.kick"),
		})
		hosts = append(hosts, host)

		client := kick.NewClient(host, cfg.Kick.FeedURL, cfg.Kick.DropsURL,
			cfg.Kick.ProgressMarker, logger.Component("kick.client"))
		runtimes[models.PlatformKick] = minersvc.PlatformRuntime{
			Provider: campaignsvc.NewKickCatalog(client, logger.Component("kick.catalog")),
			Host:     host,
			Claimer:  client,
			Scripts: minersvc.PageScripts{
				ResolveLive:     kick.ScriptResolveLive,
				DismissGate:     kick.ScriptDismissGate,
				ForceLowQuality: kick.ScriptForceLowQuality,
				LiveCheck:       kick.ScriptLiveCheck,
			},
		}
	}

	if len(runtimes) == 0 {
		log.Fatal().Msg("no platform enabled")
	}

	defer func() {
		for _, h := range hosts {
			h.Close()
		}
	}()

	notifier := notify.NewLogNotifier(logger.Component("notify"))
	settings := notify.StaticSettings{
		AutoClaim:   cfg.Miner.AutoClaim,
		NotifyReady: cfg.Miner.NotifyReady,
	}

	scheduler := minersvc.NewScheduler(runtimes, db.Claims, notifier, settings,
		logger.Component("scheduler"))
	scheduler.Start()
	defer scheduler.Stop()

	maintenance, err := minersvc.NewMaintenance(db.Hashes, db.Claims, logger.Component("maintenance"))
	if err != nil {
		log.Fatal().Err(err).Msg("maintenance init failed")
	}
	if err := maintenance.Start(); err != nil {
		log.Fatal().Err(err).Msg("maintenance start failed")
	}
	defer maintenance.Stop()

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.Server.Origin},
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		AllowCredentials: true,
	}))

	handler := minerhttp.NewMinerHandler(scheduler, db.Claims, logger.Component("http"))
	handler.RegisterRoutes(router.Group("/api/v1"))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
}

// seedSessionCookie copies an existing platform login from the user's
// installed browsers into the automation host, so the miner does not need
// an interactive sign-in.
func seedSessionCookie(host *browser.ChromeHost, domain, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	value, err := browser.ImportSessionCookie(ctx, domain, name)
	if err != nil {
		log.Warn().Err(err).Str("domain", domain).Msg("session cookie import skipped")
		return
	}
	if err := host.EnsureInitialized(ctx); err != nil {
		log.Warn().Err(err).Msg("browser init failed during cookie import")
		return
	}
	if err := host.AddOrUpdateCookie(ctx, name, value, "."+domain, "/"); err != nil {
		log.Warn().Err(err).Str("domain", domain).Msg("session cookie seed failed")
		return
	}
	log.Info().Str("domain", domain).Msg("session cookie imported")
}
