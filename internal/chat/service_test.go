package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/suPer8Hu/support-chat/internal/ai"
)

func TestChat_AutoCreatesSessionWithUserAndBot(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	res, err := env.svc.Chat(ctx, Inbound{Text: "Hello, I want to learn about solar energy!"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if res.Session == nil || res.Inbound == nil || res.Reply == nil {
		t.Fatalf("incomplete result %+v", res)
	}
	if res.Reply.Text != env.provider.reply || res.Reply.Role != RoleBot {
		t.Fatalf("unexpected reply %+v", res.Reply)
	}

	msgs := mustList(t, env.messages, res.Session.SessionID)
	if got := roles(msgs); len(got) != 2 || got[0] != RoleUser || got[1] != RoleBot {
		t.Fatalf("expected [user bot], got %v", got)
	}

	sess, err := env.sessions.Get(ctx, res.Session.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !sess.LastActivityAt.Equal(msgs[1].Timestamp) {
		t.Fatalf("lastActivityAt=%s want %s", sess.LastActivityAt, msgs[1].Timestamp)
	}
	if sess.LastActivityAt.Before(sess.CreatedAt) {
		t.Fatalf("lastActivityAt before createdAt")
	}
}

func TestChat_SameSessionIDResolvesOnce(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	sess, err := env.svc.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	for i := 0; i < 2; i++ {
		res, err := env.svc.Chat(ctx, Inbound{SessionID: sess.SessionID, Text: "question"})
		if err != nil {
			t.Fatalf("chat: %v", err)
		}
		if res.Session.SessionID != sess.SessionID {
			t.Fatalf("chat moved to session %s", res.Session.SessionID)
		}
	}

	all, err := env.svc.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 session, got %d", len(all))
	}
	if n := len(mustList(t, env.messages, sess.SessionID)); n != 4 {
		t.Fatalf("expected 4 messages, got %d", n)
	}
}

func TestChat_UnknownSessionIDCreatesFreshSession(t *testing.T) {
	env := newTestEnv(t, Config{})
	res, err := env.svc.Chat(context.Background(), Inbound{SessionID: "not-a-session", Text: "hi"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if res.Session.SessionID == "not-a-session" {
		t.Fatalf("unknown ids must not be adopted")
	}
}

func TestChat_EmptyMessageRejectedBeforeAppend(t *testing.T) {
	env := newTestEnv(t, Config{})
	_, err := env.svc.Chat(context.Background(), Inbound{Text: "   "})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	all, _ := env.svc.ListSessions(context.Background())
	if len(all) != 0 || env.provider.Calls() != 0 {
		t.Fatalf("validation failure must not create sessions or call the model")
	}
}

func TestChat_BotSenderRejected(t *testing.T) {
	env := newTestEnv(t, Config{})
	_, err := env.svc.Chat(context.Background(), Inbound{Text: "hi", Role: RoleBot})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestChat_AdminSenderSkipsModel(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	first, err := env.svc.Chat(ctx, Inbound{Text: "my inverter is beeping"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	calls := env.provider.Calls()

	res, err := env.svc.Chat(ctx, Inbound{SessionID: first.Session.SessionID, Text: "A technician will call you.", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("admin chat: %v", err)
	}
	if res.Reply != nil {
		t.Fatalf("admin message must not produce a reply")
	}
	if res.Inbound.Role != RoleAdmin {
		t.Fatalf("inbound role=%s", res.Inbound.Role)
	}
	if env.provider.Calls() != calls {
		t.Fatalf("admin message called the model")
	}
	if n := len(mustList(t, env.messages, first.Session.SessionID)); n != 3 {
		t.Fatalf("expected 3 messages, got %d", n)
	}
}

func TestAdminReply_AppendsExactlyOneMessage(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	res, err := env.svc.Chat(ctx, Inbound{Text: "How much does a 6kW system cost?"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	sid := res.Session.SessionID
	before := mustList(t, env.messages, sid)
	calls := env.provider.Calls()

	msg, err := env.svc.AdminReply(ctx, sid, "Let me get you a custom quote.")
	if err != nil {
		t.Fatalf("admin reply: %v", err)
	}
	if msg.Role != RoleAdmin || msg.Seq != uint64(len(before)+1) {
		t.Fatalf("unexpected admin message %+v", msg)
	}

	after := mustList(t, env.messages, sid)
	if len(after) != len(before)+1 {
		t.Fatalf("expected %d messages, got %d", len(before)+1, len(after))
	}
	if env.provider.Calls() != calls {
		t.Fatalf("admin reply called the model")
	}

	// next visitor turn must not see the admin text
	if _, err := env.svc.Chat(ctx, Inbound{SessionID: sid, Text: "Thanks!"}); err != nil {
		t.Fatalf("chat: %v", err)
	}
	for _, m := range env.provider.LastPrompt() {
		if strings.Contains(m.Content, "custom quote") {
			t.Fatalf("admin text leaked into the prompt: %+v", env.provider.LastPrompt())
		}
	}
}

func TestAdminReply_Errors(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	if _, err := env.svc.AdminReply(ctx, "missing", "hello"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := env.svc.AdminReply(ctx, "", "hello"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing session, got %v", err)
	}
	sess, _ := env.svc.CreateSession(ctx)
	if _, err := env.svc.AdminReply(ctx, sess.SessionID, " "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty text, got %v", err)
	}
}

func TestChat_UpstreamFailureKeepsInbound(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.provider.err = errors.New("connection refused")

	res, err := env.svc.Chat(context.Background(), Inbound{Text: "anyone there?"})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if res == nil || res.Session == nil || res.Inbound == nil {
		t.Fatalf("result must carry session and inbound: %+v", res)
	}
	msgs := mustList(t, env.messages, res.Session.SessionID)
	if got := roles(msgs); len(got) != 1 || got[0] != RoleUser {
		t.Fatalf("expected only the user message, got %v", got)
	}
}

func TestChat_EmptyCompletionIsUpstreamFailure(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.provider.reply = "  "
	if _, err := env.svc.Chat(context.Background(), Inbound{Text: "hi"}); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestChat_NoProviderIsUpstreamFailure(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(Deps{Sessions: NewSessionStore(db), Messages: NewMessageLog(db, nil)}, Config{})
	if _, err := svc.Chat(context.Background(), Inbound{Text: "hi"}); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestChat_CompletionTimeout(t *testing.T) {
	env := newTestEnv(t, Config{CompletionTimeout: 50 * time.Millisecond})
	env.provider.onChat = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	start := time.Now()
	_, err := env.svc.Chat(context.Background(), Inbound{Text: "hi"})
	if !errors.Is(err, ErrUpstream) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected upstream deadline error, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("timeout not enforced")
	}
}

func TestChat_ReplyRecordedAfterClientCancels(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.provider.onChat = func(context.Context) error {
		cancel() // visitor goes away while the model answers
		return nil
	}

	res, err := env.svc.Chat(ctx, Inbound{Text: "hi"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	msgs := mustList(t, env.messages, res.Session.SessionID)
	if len(msgs) != 2 || msgs[1].ID != res.Reply.ID {
		t.Fatalf("reply not recorded: %+v", msgs)
	}
}

func TestChat_PromptUsesWindowSystemPromptAndRoles(t *testing.T) {
	env := newTestEnv(t, Config{ContextWindowSize: 3, SystemPrompt: "You are a solar assistant."})
	ctx := context.Background()

	res, err := env.svc.Chat(ctx, Inbound{Text: "q1"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if _, err := env.svc.Chat(ctx, Inbound{SessionID: res.Session.SessionID, Text: "q2"}); err != nil {
		t.Fatalf("chat: %v", err)
	}

	prompt := env.provider.LastPrompt()
	// system + last 3 of [q1, a1, q2]
	if len(prompt) != 4 {
		t.Fatalf("expected 4 prompt messages, got %d: %+v", len(prompt), prompt)
	}
	if prompt[0].Role != ai.RoleSystem || prompt[0].Content != "You are a solar assistant." {
		t.Fatalf("unexpected system message %+v", prompt[0])
	}
	wantRoles := []string{ai.RoleUser, ai.RoleAssistant, ai.RoleUser}
	for i, r := range wantRoles {
		if prompt[i+1].Role != r {
			t.Fatalf("prompt[%d].Role=%s want %s", i+1, prompt[i+1].Role, r)
		}
	}
	if prompt[3].Content != "q2" {
		t.Fatalf("newest turn must be last, got %q", prompt[3].Content)
	}

	// window of 1 keeps only the newest turn
	env.svc.cfg.ContextWindowSize = 1
	if _, err := env.svc.Chat(ctx, Inbound{SessionID: res.Session.SessionID, Text: "q3"}); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if prompt := env.provider.LastPrompt(); len(prompt) != 2 || prompt[1].Content != "q3" {
		t.Fatalf("unexpected windowed prompt %+v", prompt)
	}
}

func TestNewService_NormalizesConfig(t *testing.T) {
	svc := NewService(Deps{}, Config{ContextWindowSize: 500})
	if svc.cfg.ContextWindowSize != defaultContextWindowSize {
		t.Fatalf("window=%d", svc.cfg.ContextWindowSize)
	}
	if svc.cfg.CompletionTimeout != defaultCompletionTimeout {
		t.Fatalf("timeout=%s", svc.cfg.CompletionTimeout)
	}
	if NewService(Deps{}, Config{}).cfg.ContextWindowSize != 0 {
		t.Fatalf("0 must keep the whole log")
	}
}

func TestChat_ConfidenceStoredOnBotReply(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.provider.confidence = ptr(0.82)
	res, err := env.svc.Chat(context.Background(), Inbound{Text: "hi"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	msgs := mustList(t, env.messages, res.Session.SessionID)
	if msgs[1].Confidence == nil || *msgs[1].Confidence != 0.82 {
		t.Fatalf("confidence not stored: %v", msgs[1].Confidence)
	}
	if msgs[0].Confidence != nil {
		t.Fatalf("user message must not carry confidence")
	}
}

func TestTranscript(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	tr, err := env.svc.Transcript(ctx, "unknown")
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if tr.Session != nil || len(tr.Messages) != 0 {
		t.Fatalf("unknown session must yield an empty transcript, got %+v", tr)
	}

	res, _ := env.svc.Chat(ctx, Inbound{Text: "hi"})
	tr, err = env.svc.Transcript(ctx, res.Session.SessionID)
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if tr.Session == nil || len(tr.Messages) != 2 {
		t.Fatalf("unexpected transcript %+v", tr)
	}
}

func TestChat_PublishesToLiveSubscribers(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	sess, _ := env.svc.CreateSession(ctx)
	sub, cancel, err := env.broker.Subscribe(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if _, err := env.svc.Chat(ctx, Inbound{SessionID: sess.SessionID, Text: "hi"}); err != nil {
		t.Fatalf("chat: %v", err)
	}
	for _, want := range []Role{RoleUser, RoleBot} {
		select {
		case m := <-sub:
			if m.Role != want {
				t.Fatalf("live role=%s want %s", m.Role, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("no live message for %s", want)
		}
	}
}

// failingSessions fails every write.
type failingSessions struct{ SessionRepository }

func (failingSessions) Create(context.Context) (*Session, error) {
	return nil, storageErr("create session", errors.New("disk full"))
}

func (failingSessions) Get(context.Context, string) (*Session, error) {
	return nil, ErrSessionNotFound
}

func TestChat_StorageFailure(t *testing.T) {
	db := openTestDB(t)
	prov := &fakeProvider{reply: "x"}
	svc := NewService(Deps{Sessions: failingSessions{}, Messages: NewMessageLog(db, nil), Provider: prov}, Config{})

	_, err := svc.Chat(context.Background(), Inbound{Text: "hi"})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if prov.Calls() != 0 {
		t.Fatalf("model must not be called when the session cannot be stored")
	}
}
