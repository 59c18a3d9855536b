package db

import (
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"chat-core/internal/config"
)

// Connect initializes the database connection and runs migrations.
func Connect(cfg config.DatabaseConfig, log zerolog.Logger) (*sqlx.DB, error) {
	db, err := Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Str("driver", cfg.Driver).Msg("database migrations applied")
	return db, nil
}

// Open connects with either the lib/pq ("postgres") or pgx ("pgx") driver.
func Open(driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	return db, nil
}

func Migrate(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
            id BIGSERIAL PRIMARY KEY,
            type TEXT NOT NULL,
            context_ref TEXT NOT NULL,
            user_low BIGINT NOT NULL,
            user_high BIGINT NOT NULL,
            last_message_id BIGINT NOT NULL DEFAULT 0,
            last_message_content TEXT,
            last_message_sender_id BIGINT,
            last_message_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE(context_ref, user_low, user_high),
            CHECK (user_low < user_high)
        );`,
		`CREATE TABLE IF NOT EXISTS room_participants (
            room_id BIGINT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
            user_id BIGINT NOT NULL,
            unread_count INT NOT NULL DEFAULT 0 CHECK (unread_count >= 0),
            last_read_id BIGINT NOT NULL DEFAULT 0,
            last_seen_at TIMESTAMPTZ,
            joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY(room_id, user_id)
        );`,
		`CREATE INDEX IF NOT EXISTS room_participants_user_idx ON room_participants (user_id);`,
		`CREATE TABLE IF NOT EXISTS messages (
            room_id BIGINT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
            id BIGINT NOT NULL,
            sender_id BIGINT NOT NULL,
            content TEXT NOT NULL,
            temp_id TEXT,
            retry_of TEXT,
            is_read BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY(room_id, id)
        );`,
		`CREATE INDEX IF NOT EXISTS messages_temp_id_idx ON messages (room_id, sender_id, temp_id) WHERE temp_id IS NOT NULL;`,
		`CREATE INDEX IF NOT EXISTS messages_retry_of_idx ON messages (room_id, sender_id, retry_of) WHERE retry_of IS NOT NULL;`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}
