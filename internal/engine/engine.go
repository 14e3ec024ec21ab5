package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"plenario/internal/cache"
	"plenario/internal/config"
	"plenario/internal/domain"
	"plenario/internal/events"
	"plenario/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Cache  cache.Cache
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

// InitChamber creates the chamber row plus its stored config.
func (e Engine) InitChamber(ctx context.Context, chamberID, name string, actorID string) error {
	if e.Config == nil {
		return errors.New("config not loaded")
	}
	if name == "" {
		name = e.Config.Chamber.Name
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertChamber(ctx, tx, chamberID, name, e.Config.Chamber.Seats, e.nowStr()); err != nil {
		return fmt.Errorf("insert chamber: %w", err)
	}
	if err := e.Repo.UpsertChamberConfigTx(ctx, tx, chamberID, e.Config); err != nil {
		return fmt.Errorf("insert chamber config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "chamber.init", chamberID, "chamber", chamberID, actorID, events.EventPayload{"seats": e.Config.Chamber.Seats}); err != nil {
		return err
	}
	return tx.Commit()
}

// PropositionCreateOptions are parameters for registering a proposition.
type PropositionCreateOptions struct {
	ID          string
	ChamberID   string
	Category    string
	Number      string
	Title       string
	Summary     string
	Attributes  map[string]any
	Regime      string
	PresentedAt string
	ActorID     string
}

func (e Engine) CreateProposition(ctx context.Context, opts PropositionCreateOptions) (domain.Proposition, error) {
	if opts.Title == "" {
		return domain.Proposition{}, validationErr("MISSING_TITLE", "title is required")
	}
	if opts.Category == "" {
		return domain.Proposition{}, validationErr("MISSING_CATEGORY", "category is required")
	}
	if opts.Regime == "" {
		opts.Regime = domain.RegimeNormal
	}
	if _, ok := regimeMultipliers[opts.Regime]; !ok {
		return domain.Proposition{}, validationErr(CodeInvalidRegime, "unknown urgency regime %s", opts.Regime)
	}
	now := e.nowStr()
	presented := opts.PresentedAt
	if presented == "" {
		presented = now
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	var attrs *string
	if len(opts.Attributes) > 0 {
		b, err := json.Marshal(opts.Attributes)
		if err != nil {
			return domain.Proposition{}, err
		}
		s := string(b)
		attrs = &s
	}
	p := domain.Proposition{
		ID:             id,
		ChamberID:      opts.ChamberID,
		Category:       opts.Category,
		Number:         opts.Number,
		Title:          opts.Title,
		Summary:        opts.Summary,
		AttributesJSON: attrs,
		Regime:         opts.Regime,
		VotingTurn:     1,
		PresentedAt:    presented,
		Status:         "active",
		CreatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposition{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProposition(ctx, tx, p); err != nil {
		return domain.Proposition{}, err
	}
	if err := e.Events.Append(ctx, tx, "proposition.created", p.ChamberID, "proposition", p.ID, opts.ActorID, events.EventPayload{
		"category": p.Category,
		"regime":   p.Regime,
	}); err != nil {
		return domain.Proposition{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposition{}, err
	}
	return p, nil
}

// propositionAttributes decodes the free-form attribute payload used by
// conditional branches and the agenda generator.
func propositionAttributes(p domain.Proposition) map[string]any {
	if p.AttributesJSON == nil || *p.AttributesJSON == "" {
		return map[string]any{}
	}
	var attrs map[string]any
	if err := json.Unmarshal([]byte(*p.AttributesJSON), &attrs); err != nil {
		return map[string]any{}
	}
	return attrs
}

// cacheGet is fail-open: cache trouble is logged and treated as a miss.
func (e Engine) cacheGet(ctx context.Context, key string) (string, bool) {
	if e.Cache == nil {
		return "", false
	}
	val, ok, err := e.Cache.Get(ctx, key)
	if err != nil {
		log.Printf("cache: get %s failed (continuing without cache): %v", key, err)
		return "", false
	}
	return val, ok
}

func (e Engine) cacheSet(ctx context.Context, key, value string) {
	if e.Cache == nil {
		return
	}
	ttl := 60 * time.Second
	if e.Config != nil && e.Config.Cache.TTLSeconds > 0 {
		ttl = time.Duration(e.Config.Cache.TTLSeconds) * time.Second
	}
	if err := e.Cache.Set(ctx, key, value, ttl); err != nil {
		log.Printf("cache: set %s failed (continuing without cache): %v", key, err)
	}
}

// cacheInvalidate drops all keys matching the pattern, fail-open.
func (e Engine) cacheInvalidate(ctx context.Context, pattern string) {
	if e.Cache == nil {
		return
	}
	keys, err := e.Cache.Keys(ctx, pattern)
	if err != nil {
		log.Printf("cache: keys %s failed (continuing without cache): %v", pattern, err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := e.Cache.Del(ctx, keys...); err != nil {
		log.Printf("cache: del failed (continuing without cache): %v", err)
	}
}

func notFoundAs(err error, code, format string, args ...any) error {
	if errors.Is(err, repo.ErrNotFound) {
		return notFoundErr(code, format, args...)
	}
	return err
}
