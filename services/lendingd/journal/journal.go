package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"p2plend/core/types"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// subjectKeys are the event attributes that identify the record an event is
// about, in order of precedence.
var subjectKeys = []string{"loan", "offer", "pair", "vault", "market"}

// Entry is one committed state-change event.
type Entry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RequestID  string    `gorm:"size:64;index" json:"requestId,omitempty"`
	Type       string    `gorm:"size:64;index" json:"type"`
	Subject    string    `gorm:"size:96;index" json:"subject,omitempty"`
	Attributes string    `gorm:"type:text" json:"-"`
	Position   int       `json:"-"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
}

// Fields decodes the stored attribute map.
func (e Entry) Fields() (map[string]string, error) {
	out := map[string]string{}
	if e.Attributes == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(e.Attributes), &out); err != nil {
		return nil, fmt.Errorf("journal entry %s: decode attributes: %w", e.ID, err)
	}
	return out, nil
}

// MarshalJSON renders the attributes inline.
func (e Entry) MarshalJSON() ([]byte, error) {
	type plain Entry
	fields, err := e.Fields()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		plain
		Attributes map[string]string `json:"attributes"`
	}{plain: plain(e), Attributes: fields})
}

// Filter narrows List results.
type Filter struct {
	Type    string
	Subject string
	Limit   int
}

// Journal persists committed events for audit queries.
type Journal struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to dsn. postgres:// and postgresql:// DSNs use Postgres; any
// other value is a SQLite DSN, and an empty DSN is a private in-memory SQLite
// database.
func Open(dsn string) (*Journal, error) {
	dsn = strings.TrimSpace(dsn)
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		dialector = postgres.Open(dsn)
	case dsn == "":
		dialector = sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	default:
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal: nil database")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Journal{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Append stores events in one transaction, preserving their order.
func (j *Journal) Append(ctx context.Context, requestID string, events []*types.Event) ([]Entry, error) {
	if j == nil || len(events) == 0 {
		return nil, nil
	}
	now := j.now()
	entries := make([]Entry, 0, len(events))
	for i, evt := range events {
		if evt == nil {
			continue
		}
		attrs, err := json.Marshal(evt.Attributes)
		if err != nil {
			return nil, fmt.Errorf("journal: encode %s: %w", evt.Type, err)
		}
		entries = append(entries, Entry{
			ID:         uuid.New(),
			RequestID:  requestID,
			Type:       evt.Type,
			Subject:    subjectOf(evt),
			Attributes: string(attrs),
			Position:   i,
			CreatedAt:  now,
		})
	}
	if len(entries) == 0 {
		return nil, nil
	}
	err := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&entries).Error
	})
	if err != nil {
		return nil, fmt.Errorf("journal: append: %w", err)
	}
	return entries, nil
}

// List returns entries matching filter, oldest first.
func (j *Journal) List(ctx context.Context, filter Filter) ([]Entry, error) {
	if j == nil {
		return nil, errors.New("journal: not configured")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query := j.db.WithContext(ctx).Model(&Entry{})
	if t := strings.TrimSpace(filter.Type); t != "" {
		query = query.Where("type = ?", t)
	}
	if s := strings.TrimSpace(filter.Subject); s != "" {
		query = query.Where("subject = ?", s)
	}
	var entries []Entry
	if err := query.Order("created_at asc").Order("position asc").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return entries, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func subjectOf(evt *types.Event) string {
	for _, key := range subjectKeys {
		if value := evt.Attributes[key]; value != "" {
			return value
		}
	}
	return ""
}
