package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiwari-pos/tableorder/internal/cart"
	"github.com/kiwari-pos/tableorder/internal/config"
	"github.com/kiwari-pos/tableorder/internal/events"
	"github.com/kiwari-pos/tableorder/internal/logging"
	"github.com/kiwari-pos/tableorder/internal/metrics"
	"github.com/kiwari-pos/tableorder/internal/poller"
	"github.com/kiwari-pos/tableorder/internal/router"
	"github.com/kiwari-pos/tableorder/internal/service"
	"github.com/kiwari-pos/tableorder/internal/store"
	"github.com/kiwari-pos/tableorder/internal/ws"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	m := metrics.NewRegistry()

	orders, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	cartStore, closeCarts, err := openCarts(cfg)
	if err != nil {
		return err
	}
	defer closeCarts()
	carts := cart.NewService(cartStore)

	hub := ws.NewHub()
	hubSink := events.NewHubPublisher(hub)
	fanout := events.NewFanout(log, m, events.Sink{Name: "ws", Publisher: hubSink})

	if cfg.AMQPURL != "" {
		kitchen, err := events.DialAMQP(cfg.AMQPURL)
		if err != nil {
			return fmt.Errorf("connect kitchen feed: %w", err)
		}
		defer kitchen.Close()
		fanout.Add(events.Sink{Name: "amqp", Publisher: kitchen})
		log.Info("kitchen feed enabled")
	}

	orderSvc := service.NewOrderService(orders, carts, fanout, log, m)
	groupSvc := service.NewGroupService(carts, orderSvc, fanout, log, m)

	surfaces := poller.NewManager(orderSvc.Orders, poller.Options{
		Interval:    cfg.PollInterval,
		SettleDelay: cfg.PollSettleDelay,
		Log:         log,
		Metrics:     m,
	}, hub.Visible, hubSink)
	fanout.Add(events.Sink{Name: "poller", Publisher: surfaces})

	hub.OnRoom(surfaces.Open, surfaces.Close)
	hub.OnMessage(surfaces.HandleMessage)
	go hub.Run()

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: router.New(cfg, router.Deps{
			Orders:  orderSvc,
			Groups:  groupSvc,
			Carts:   carts,
			Hub:     hub,
			Metrics: m,
			Log:     log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{"port": cfg.Port, "store": cfg.StoreDriver}).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return surfaces.Run(ctx)
	})
	return g.Wait()
}

// openStore connects the Order Store selected by STORE_DRIVER.
func openStore(ctx context.Context, cfg *config.Config) (service.OrderStore, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		return store.NewMemory(), func() {}, nil

	case "sqlite", "mysql":
		db, err := store.OpenGorm(cfg.StoreDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		st, err := store.NewGormStore(db)
		if err != nil {
			return nil, nil, err
		}
		closeDB := func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
		return st, closeDB, nil

	default:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}
		st := store.NewPostgres(pool)
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, pool.Close, nil
	}
}

// openCarts uses Pebble when CART_DIR is set so carts survive a restart.
func openCarts(cfg *config.Config) (cart.Store, func(), error) {
	if cfg.CartDir == "" {
		return cart.NewMemoryStore(), func() {}, nil
	}
	p, err := cart.NewPebbleStore(cfg.CartDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open cart store: %w", err)
	}
	return p, func() { p.Close() }, nil
}
