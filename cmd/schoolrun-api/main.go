// README: Entry point; loads config, wires services, starts the HTTP server and the ETA sweeper.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"schoolrun/internal/config"
	httptransport "schoolrun/internal/http"
	"schoolrun/internal/infra"
	"schoolrun/internal/logger"
	"schoolrun/internal/maps"
	"schoolrun/internal/metrics"
	"schoolrun/internal/modules/absence"
	"schoolrun/internal/modules/directory"
	"schoolrun/internal/modules/enrollment"
	"schoolrun/internal/modules/eta"
	"schoolrun/internal/modules/journey"
	"schoolrun/internal/modules/location"
	"schoolrun/internal/modules/routing"
	"schoolrun/internal/notify"
	"schoolrun/internal/publisher"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal(err)
	}
	log := logger.Setup(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File, JSON: cfg.Log.JSON})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var collector *metrics.Collector
	if cfg.MetricsEnabled {
		collector = metrics.NewCollector()
	}

	fb, err := infra.NewFirebase(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, cfg.Firebase.DatabaseURL)
	if err != nil {
		log.Fatalf("firebase init: %v", err)
	}
	defer fb.Close()

	redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password)
	if err != nil {
		log.Fatal(err)
	}
	defer redisClient.Close()

	var dbPool *pgxpool.Pool
	if cfg.DB.DSN != "" {
		dbPool, err = infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			log.Fatal(err)
		}
		defer dbPool.Close()
	} else {
		log.Warn("SCHOOLRUN_DB_DSN not set; journey events and location snapshots are disabled")
	}

	var provider eta.Provider = eta.HaversineProvider{SpeedMps: cfg.ETA.FallbackSpeedMps}
	if cfg.ETA.MapsAPIKey != "" {
		routes, err := maps.NewRouteService(cfg.ETA.MapsAPIKey)
		if err != nil {
			log.Fatalf("maps init: %v", err)
		}
		provider = routes
	} else {
		log.Warn("SCHOOLRUN_MAPS_API_KEY not set; estimating ETAs from straight-line distance")
	}
	etaCache := eta.NewCache(provider, eta.Options{TTL: cfg.ETA.TTL, Timeout: cfg.ETA.Timeout, Metrics: collector})
	go etaCache.Run(ctx)

	locOpts := location.Options{
		HistoryLimit:   cfg.Location.HistoryLimit,
		GeofenceRadius: cfg.Location.GeofenceRadiusMeters,
		Metrics:        collector,
	}
	switch cfg.Location.Broadcast {
	case "rtdb":
		locOpts.Broadcaster = location.NewRTDBBroadcaster(fb.Realtime)
	case "nats":
		nc, err := publisher.NewNATSPublisher(cfg.NATS.URL)
		if err != nil {
			log.Fatalf("nats connect: %v", err)
		}
		defer nc.Close()
		locOpts.Broadcaster = nc
	}
	var events journey.EventLog
	if dbPool != nil {
		locOpts.Snapshots = location.NewSnapshotStore(dbPool)
		events = journey.NewPGEventLog(dbPool)
	}
	locationSvc := location.NewService(location.NewStore(redisClient), locOpts)

	dir := directory.NewStore(fb.Firestore)
	notifier := notify.NewNotifier(notify.NewFCMDispatcher(fb.Firestore, fb.Messaging, dir), collector)
	absenceStore := absence.NewFirestoreStore(fb.Firestore)

	journeySvc := journey.NewService(journey.Deps{
		Store:          journey.NewFirestoreStore(fb.Firestore),
		Directory:      dir,
		Routes:         routing.NewBuilder(dir, cfg.Journey.ResolveConcurrency),
		ETA:            etaCache,
		Tracker:        locationSvc,
		Absences:       absenceStore,
		Notifier:       notifier,
		Events:         events,
		Metrics:        collector,
		GeofenceRadius: cfg.Location.GeofenceRadiusMeters,
	})
	absenceSvc := absence.NewService(absenceStore, journeySvc, dir, notifier, cfg.Journey.EarlyArrivalThreshold)
	enrollmentSvc := enrollment.NewService(enrollment.NewFirestoreStore(fb.Firestore), dir, notifier, collector)

	gin.SetMode(gin.ReleaseMode)
	router := httptransport.NewRouter(httptransport.RouterDeps{
		Verifier:    fb.Verifier,
		Metrics:     collector,
		Journeys:    journeySvc,
		Locations:   journeySvc,
		Positions:   locationSvc,
		Roster:      dir,
		Absences:    absenceSvc,
		Enrollments: enrollmentSvc,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("shutdown")
		}
	}()

	log.WithField("addr", cfg.HTTP.Addr).Info("schoolrun api listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
