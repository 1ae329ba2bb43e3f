package chat

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/suPer8Hu/support-chat/internal/ai"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// openTestDB returns a private in-memory database with the chat schema.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:chat_test_%d?mode=memory&cache=shared&_pragma=busy_timeout(5000)", dbSeq.Add(1))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&Session{}, &Message{}, &Job{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// fakeProvider replies with reply (or err) and records every prompt it receives.
type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	prompts [][]ai.Message

	reply      string
	confidence *float64
	err        error
	// onChat runs inside Chat before replying.
	onChat func(ctx context.Context) error
}

func (p *fakeProvider) Chat(ctx context.Context, messages []ai.Message) (ai.Completion, error) {
	p.mu.Lock()
	p.calls++
	p.prompts = append(p.prompts, append([]ai.Message(nil), messages...))
	p.mu.Unlock()

	if p.onChat != nil {
		if err := p.onChat(ctx); err != nil {
			return ai.Completion{}, err
		}
	}
	if p.err != nil {
		return ai.Completion{}, p.err
	}
	return ai.Completion{Text: p.reply, Confidence: p.confidence}, nil
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProvider) LastPrompt() []ai.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.prompts) == 0 {
		return nil
	}
	return p.prompts[len(p.prompts)-1]
}

type testEnv struct {
	db       *gorm.DB
	sessions *SessionStore
	messages *MessageLog
	jobs     *JobStore
	broker   *MemoryBroker
	provider *fakeProvider
	svc      *Service
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	db := openTestDB(t)
	env := &testEnv{
		db:       db,
		sessions: NewSessionStore(db),
		messages: NewMessageLog(db, nil),
		jobs:     NewJobStore(db),
		broker:   NewMemoryBroker(),
		provider: &fakeProvider{reply: "Solar panels convert sunlight into electricity."},
	}
	env.svc = NewService(Deps{
		Sessions: env.sessions,
		Messages: env.messages,
		Provider: env.provider,
		Jobs:     env.jobs,
		Broker:   env.broker,
	}, cfg)
	return env
}

func mustList(t *testing.T, l interface {
	List(ctx context.Context, sessionID string) ([]Message, error)
}, sessionID string) []Message {
	t.Helper()
	msgs, err := l.List(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("list %s: %v", sessionID, err)
	}
	return msgs
}

func roles(msgs []Message) []Role {
	out := make([]Role, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

func ptr[T any](v T) *T { return &v }
