package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/tea-session-scheduling/internal/appointment"
	"github.com/hackgods/tea-session-scheduling/internal/db"
	"github.com/hackgods/tea-session-scheduling/internal/logger"
)

var dayTypes = []appointment.DayType{
	appointment.DayTeaTasting,
	appointment.DayIntroGongfu,
	appointment.DayGuidedMeditation,
}

func main() {
	log, err := logger.New(getEnv("LOG_LEVEL", "info"), "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{})
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(pool, log); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	if err := seedAdmins(context.Background(), pool, faker, log); err != nil {
		log.Fatal("seed admins", zap.Error(err))
	}
	if err := seedCustomers(context.Background(), pool, faker, getInt("SEED_USERS", 500), log); err != nil {
		log.Fatal("seed customers", zap.Error(err))
	}
	if err := seedDays(context.Background(), pool, faker, getInt("SEED_DAYS", 60), log); err != nil {
		log.Fatal("seed days", zap.Error(err))
	}

	log.Info("seed complete")
}

const insertUser = `
	INSERT INTO users (id, username, email, first_name, last_name, phone_number, is_staff, is_superuser)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (username) DO NOTHING`

// seedAdmins creates one staff member and one superuser with fixed usernames
// so repeated runs stay idempotent.
func seedAdmins(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, log *zap.Logger) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, a := range []struct {
			username  string
			superuser bool
		}{
			{"staff", false},
			{"admin", true},
		} {
			id := uuid.New()
			_, err := tx.Exec(ctx, insertUser,
				id, a.username, a.username+"@teahouse.local",
				faker.FirstName(), faker.LastName(), faker.Phone(),
				true, a.superuser,
			)
			if err != nil {
				return err
			}
			log.Info("admin account", zap.String("username", a.username), zap.Bool("superuser", a.superuser))
		}
		return nil
	})
}

func seedCustomers(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, log *zap.Logger) error {
	log.Info("seeding customers", zap.Int("count", count))

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		batch := &pgx.Batch{}
		for i := offset; i < end; i++ {
			first, last := faker.FirstName(), faker.LastName()
			batch.Queue(insertUser,
				uuid.New(), fmt.Sprintf("%s%d", faker.Username(), i), faker.Email(),
				first, last, faker.Phone(), false, false,
			)
		}

		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			return tx.SendBatch(ctx, batch).Close()
		})
		if err != nil {
			return err
		}

		log.Info("customers seeded", zap.Int("done", end), zap.Int("total", count))
	}
	return nil
}

// seedDays opens the next count days starting tomorrow with a random session type.
func seedDays(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, log *zap.Logger) error {
	log.Info("opening days", zap.Int("count", count))

	start := appointment.Day(time.Now()).AddDate(0, 0, 1)
	batch := &pgx.Batch{}
	for i := 0; i < count; i++ {
		dayType := dayTypes[faker.Number(0, len(dayTypes)-1)]
		batch.Queue(`
			INSERT INTO available_days (date, day_type)
			VALUES ($1, $2)
			ON CONFLICT (date) DO UPDATE SET day_type = EXCLUDED.day_type, updated_at = now()`,
			start.AddDate(0, 0, i), string(dayType),
		)
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
