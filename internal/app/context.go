package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"plenario/internal/config"
	"plenario/internal/repo"
)

// ResolveChamberAndConfig picks the active chamber and ensures a chamber +
// config row exist in the DB, seeding defaults if missing. It prefers the
// explicit override, then plenario.yml in the workspace.
func ResolveChamberAndConfig(ctx context.Context, workspace, chamberOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	fileCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, err
	}

	chamberID := chamberOverride
	if chamberID == "" && fileCfg != nil {
		chamberID = fileCfg.Chamber.ID
	}
	if chamberID == "" {
		return "", nil, fmt.Errorf("chamber not specified; use --chamber or create %s", config.Path(workspace))
	}

	seedCfg := fileCfg
	if seedCfg == nil {
		seedCfg = config.Default(chamberID)
	}
	seedCfg.Chamber.ID = chamberID

	if _, _, err := r.GetChamber(ctx, chamberID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createChamber(ctx, r, chamberID, seedCfg); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetChamberConfig(ctx, chamberID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertChamberConfig(ctx, chamberID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed chamber config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Chamber.ID = chamberID
	return chamberID, cfg, nil
}

// createChamber inserts a minimal chamber footprint using the seed config.
func createChamber(ctx context.Context, r repo.Repo, chamberID string, seedCfg *config.Config) error {
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	name := seedCfg.Chamber.Name
	if name == "" {
		name = chamberID
	}
	if err := r.InsertChamber(ctx, tx, chamberID, name, seedCfg.Chamber.Seats, now); err != nil {
		return fmt.Errorf("insert chamber: %w", err)
	}
	if err := r.UpsertChamberConfigTx(ctx, tx, chamberID, seedCfg); err != nil {
		return fmt.Errorf("insert chamber config: %w", err)
	}
	return tx.Commit()
}
