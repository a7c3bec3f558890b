package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiwari-pos/tableorder/internal/auth"
	"github.com/kiwari-pos/tableorder/internal/config"
	"github.com/kiwari-pos/tableorder/internal/enum"
	"github.com/kiwari-pos/tableorder/internal/logging"
	"github.com/kiwari-pos/tableorder/internal/order"
	"github.com/kiwari-pos/tableorder/internal/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// orderCreator is the part of an Order Store the seed needs.
type orderCreator interface {
	CreateOrder(ctx context.Context, arg store.CreateOrderParams) (*order.Order, error)
}

func main() {
	// CLI flags
	table := flag.String("table", "", "Table ID the staff token is issued for")
	name := flag.String("name", "", "Staff display name")
	demo := flag.Bool("demo", false, "Also create a sample order on the table")
	flag.Parse()

	// Fall back to environment variables, then defaults
	if *table == "" {
		*table = os.Getenv("SEED_TABLE")
	}
	if *name == "" {
		*name = os.Getenv("SEED_NAME")
	}
	if *table == "" {
		*table = "mesa-1"
	}
	if *name == "" {
		*name = "Caja"
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	st, closeStore, err := migrate(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("migrate")
	}
	defer closeStore()

	if *demo {
		if err := seedOrder(ctx, st, *table, log); err != nil {
			log.WithError(err).Fatal("seed demo order")
		}
	}

	token, err := auth.GenerateToken(cfg.JWTSecret, *table, uuid.NewString(), *name, enum.RoleStaff)
	if err != nil {
		log.WithError(err).Fatal("generate staff token")
	}

	log.WithField("table_id", *table).Info("seed completed successfully")
	fmt.Println(token)
}

// migrate creates the schema of the configured store.
func migrate(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (orderCreator, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("STORE_DRIVER=memory has no schema; nothing to migrate")
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
		log.WithField("driver", cfg.StoreDriver).Info("schema migrated")
		return st, func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}, nil

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
		log.WithField("driver", "postgres").Info("schema migrated")
		return st, pool.Close, nil
	}
}

// seedOrder creates order #1 on the table unless it already exists.
func seedOrder(ctx context.Context, st orderCreator, tableID string, log logrus.FieldLogger) error {
	items := []order.Item{
		{DishID: "tacos-pastor", Name: "Tacos al pastor", Price: decimal.RequireFromString("89.00"), Quantity: 2},
		{DishID: "agua-jamaica", Name: "Agua de jamaica", Price: decimal.RequireFromString("35.00"), Quantity: 1, Notes: "sin hielo"},
	}
	o, err := st.CreateOrder(ctx, store.CreateOrderParams{
		TableID: tableID,
		Number:  1,
		Items:   items,
		Status:  order.StatusSent,
		Total:   order.Total(items),
	})
	if errors.Is(err, store.ErrOrderNumberConflict) {
		log.WithField("table_id", tableID).Info("demo order already exists, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"table_id": tableID, "order_id": o.ID}).Info("created demo order")
	return nil
}
