package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nftswap/core/events"
	"nftswap/native/exchange"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Open connects to the activity database and migrates the schema.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("indexer: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return db, nil
}

// Indexer persists committed exchange events. It implements events.Emitter;
// write failures are logged and never reach the engine.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

func New(db *gorm.DB, log *slog.Logger) *Indexer {
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{db: db, logger: log, now: time.Now}
}

// Emit records evt when it carries an exchange payload.
func (i *Indexer) Emit(evt events.Event) {
	payload, ok := exchange.Unwrap(evt)
	if !ok {
		return
	}
	record, err := i.toActivity(payload.Type, payload.Attributes)
	if err != nil {
		i.logger.Error("indexer encode failed", slog.String("type", payload.Type), slog.String("error", err.Error()))
		return
	}
	if err := i.db.Create(record).Error; err != nil {
		i.logger.Error("indexer write failed", slog.String("type", payload.Type), slog.String("error", err.Error()))
	}
}

func (i *Indexer) toActivity(kind string, attrs map[string]string) (*Activity, error) {
	raw, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}
	record := &Activity{
		EventID:    uuid.New(),
		Type:       kind,
		Attributes: string(raw),
		CreatedAt:  i.now().UTC(),
	}
	switch kind {
	case exchange.EventTypeOffersMatched:
		record.Trader = attrs["makerTrader"]
		record.Counterparty = attrs["takerTrader"]
		record.OfferHash = attrs["sellHash"]
		record.RelatedHash = attrs["buyHash"]
		record.Amount = attrs["price"]
		record.OfferID = parseID(attrs["listingId"])
	case exchange.EventTypeFeeDistributed:
		record.Trader = attrs["recipient"]
		record.Amount = attrs["amount"]
	default:
		record.Trader = attrs["trader"]
		record.OfferHash = attrs["hash"]
		record.Amount = attrs["amount"]
		record.OfferID = parseID(attrs["id"])
	}
	return record, nil
}

func parseID(raw string) uint64 {
	id, _ := strconv.ParseUint(raw, 10, 64)
	return id
}

// Filter narrows an activity query. Zero values match everything.
type Filter struct {
	Trader    string
	OfferHash string
	Type      string
	OfferID   uint64
	// Before pages backwards from a sequence number.
	Before uint64
	Limit  int
}

// Activity returns matching records, newest first.
func (i *Indexer) Activity(ctx context.Context, f Filter) ([]Activity, error) {
	q := f.apply(i.db.WithContext(ctx).Model(&Activity{}))
	if f.Before != 0 {
		q = q.Where("id < ?", f.Before)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	var out []Activity
	if err := q.Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (f Filter) apply(q *gorm.DB) *gorm.DB {
	if trader := strings.TrimSpace(f.Trader); trader != "" {
		q = q.Where("trader = ? OR counterparty = ?", trader, trader)
	}
	if hash := strings.TrimSpace(f.OfferHash); hash != "" {
		q = q.Where("offer_hash = ? OR related_hash = ?", hash, hash)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.OfferID != 0 {
		q = q.Where("offer_id = ?", f.OfferID)
	}
	return q
}
