package repository

import (
	"context"
	"fmt"

	sectionsense "github.com/jacobmichels/Section-Sense-Go"
	"github.com/jacobmichels/Section-Sense-Go/config"
	"github.com/rs/zerolog/log"
)

func New(ctx context.Context, cfg config.Database) (sectionsense.AccountStore, error) {
	switch cfg.Type {
	case "firestore":
		log.Info().Str("project", cfg.Firestore.ProjectID).Msg("creating firestore repository")
		return newFirestoreRepository(ctx, cfg.Firestore)
	case "sqlite":
		log.Info().Msg("creating sqlite repository")
		return newSQLiteRepository(ctx, cfg.SQLite)
	case "memory":
		log.Warn().Msg("creating in-memory repository, accounts will not survive a restart")
		return NewMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("invalid database type %q", cfg.Type)
	}
}
