package chat

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/suPer8Hu/support-chat/internal/logging"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// MessageCache is a write-through cache of whole session logs. The database stays the
// source of truth: implementations may drop entries at any time.
type MessageCache interface {
	// Load returns the cached log and whether it was present.
	Load(ctx context.Context, sessionID string) ([]Message, bool, error)
	// Store replaces the cached log.
	Store(ctx context.Context, sessionID string, msgs []Message) error
	// Append adds msg to the tail of an already cached log and is a no-op otherwise.
	Append(ctx context.Context, sessionID string, msg Message) error
	Invalidate(ctx context.Context, sessionID string) error
}

type MessageLog struct {
	db    *gorm.DB
	cache MessageCache
	locks *keyedMutex
	fill  singleflight.Group
}

func NewMessageLog(db *gorm.DB, cache MessageCache) *MessageLog {
	return &MessageLog{db: db, cache: cache, locks: newKeyedMutex()}
}

const appendAttempts = 3

// Append stores m at the tail of its session log and returns the stored record.
// Appends to one session are serialized; seq and timestamp never go backwards.
func (l *MessageLog) Append(ctx context.Context, m *Message) (*Message, error) {
	if m == nil || m.SessionID == "" {
		return nil, ErrSessionRequired
	}
	if m.Text == "" {
		return nil, ErrEmptyMessage
	}

	unlock := l.locks.Lock(m.SessionID)
	defer unlock()

	// The lock only covers this process. Another writer on the same database can
	// take the next seq first; the unique (session_id, seq) index rejects the loser.
	var (
		stored Message
		err    error
	)
	for attempt := 1; ; attempt++ {
		stored, err = l.insert(ctx, m)
		if err == nil {
			break
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) || attempt == appendAttempts {
			return nil, storageErr("append message", err)
		}
		logging.FromContext(ctx).Debug("message seq taken, retrying append",
			"session_id", m.SessionID, "seq", stored.Seq, "attempt", attempt)
	}

	if l.cache != nil {
		if err := l.cache.Append(ctx, stored.SessionID, stored); err != nil {
			logging.FromContext(ctx).Warn("message cache append failed",
				"session_id", stored.SessionID, "err", err)
			if err := l.cache.Invalidate(ctx, stored.SessionID); err != nil {
				logging.FromContext(ctx).Warn("message cache invalidate failed",
					"session_id", stored.SessionID, "err", err)
			}
		}
	}

	out := stored
	return &out, nil
}

// insert writes m after the current tail of its session log.
func (l *MessageLog) insert(ctx context.Context, m *Message) (Message, error) {
	var last Message
	hasLast := true
	if err := l.db.WithContext(ctx).
		Where("session_id = ?", m.SessionID).
		Order("seq DESC").
		Take(&last).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return Message{}, err
		}
		hasLast = false
	}

	stored := *m
	if stored.ID == "" {
		stored.ID = ulid.Make().String()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = now()
	} else {
		stored.Timestamp = normalizeTime(stored.Timestamp)
	}
	if hasLast && stored.Timestamp.Before(last.Timestamp) {
		stored.Timestamp = last.Timestamp
	}
	stored.Seq = last.Seq + 1
	stored.Confidence = clampConfidence(stored.Role, stored.Confidence)

	if err := l.db.WithContext(ctx).Create(&stored).Error; err != nil {
		return stored, err
	}
	return stored, nil
}

// List returns the full session log ordered by seq. Unknown sessions yield an empty slice.
func (l *MessageLog) List(ctx context.Context, sessionID string) ([]Message, error) {
	if l.cache != nil {
		msgs, ok, err := l.cache.Load(ctx, sessionID)
		if err != nil {
			logging.FromContext(ctx).Warn("message cache load failed",
				"session_id", sessionID, "err", err)
		} else if ok && l.current(ctx, sessionID, msgs) {
			return msgs, nil
		}
	}

	v, err, _ := l.fill.Do(sessionID, func() (any, error) {
		// Held so appends from this process cannot land between the read and the refill.
		// Appends from other processes are caught by current on the next read.
		unlock := l.locks.Lock(sessionID)
		defer unlock()

		msgs, err := l.load(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if l.cache != nil && len(msgs) > 0 {
			if err := l.cache.Store(ctx, sessionID, msgs); err != nil {
				logging.FromContext(ctx).Warn("message cache store failed",
					"session_id", sessionID, "err", err)
			}
		}
		return msgs, nil
	})
	if err != nil {
		return nil, err
	}
	shared := v.([]Message)
	out := make([]Message, len(shared))
	copy(out, shared)
	return out, nil
}

// current reports whether a cached log still matches the database: seqs run 1..n
// without gaps and n is the durable tail. A refill racing an append from another
// process can leave the cache short, so hits are checked against MAX(seq).
func (l *MessageLog) current(ctx context.Context, sessionID string, cached []Message) bool {
	for i, m := range cached {
		if m.Seq != uint64(i+1) {
			return false
		}
	}

	var tail uint64
	if err := l.db.WithContext(ctx).Model(&Message{}).
		Where("session_id = ?", sessionID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&tail).Error; err != nil {
		logging.FromContext(ctx).Warn("message tail check failed, serving cache",
			"session_id", sessionID, "err", err)
		return true
	}
	return tail == uint64(len(cached))
}

func (l *MessageLog) load(ctx context.Context, sessionID string) ([]Message, error) {
	var msgs []Message
	if err := l.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq ASC").
		Find(&msgs).Error; err != nil {
		return nil, storageErr("list messages", err)
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

func clampConfidence(role Role, c *float64) *float64 {
	if c == nil || role != RoleBot {
		return nil
	}
	v := *c
	switch {
	case v < 0:
		v = 0
	case v > 1:
		v = 1
	}
	return &v
}
