package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/suPer8Hu/support-chat/internal/ai"
	"github.com/suPer8Hu/support-chat/internal/logging"
)

type SessionRepository interface {
	Create(ctx context.Context) (*Session, error)
	Get(ctx context.Context, sessionID string) (*Session, error)
	Touch(ctx context.Context, sessionID string, at time.Time) error
	List(ctx context.Context) ([]Session, error)
}

type MessageRepository interface {
	Append(ctx context.Context, m *Message) (*Message, error)
	List(ctx context.Context, sessionID string) ([]Message, error)
}

type JobRepository interface {
	Get(ctx context.Context, id string) (*Job, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Job, error)
	CreateOrGetExisting(ctx context.Context, job *Job) (*Job, bool, error)
	MarkRunning(ctx context.Context, id string) error
	MarkSucceeded(ctx context.Context, id string, resultMsgID string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
}

type Deps struct {
	Sessions SessionRepository
	Messages MessageRepository
	Provider ai.Provider

	// Optional.
	Jobs   JobRepository
	Broker Broker
}

type Config struct {
	// ContextWindowSize caps the turns sent to the model, newest kept. 0 sends the whole log.
	ContextWindowSize int
	CompletionTimeout time.Duration
	SystemPrompt      string
}

const (
	defaultContextWindowSize = 20
	defaultCompletionTimeout = 30 * time.Second
)

// Service is the conversation orchestrator every chat request passes through.
type Service struct {
	sessions  SessionRepository
	messages  MessageRepository
	assembler *ContextAssembler
	provider  ai.Provider
	jobs      JobRepository
	broker    Broker
	cfg       Config
}

func NewService(deps Deps, cfg Config) *Service {
	if cfg.ContextWindowSize < 0 || cfg.ContextWindowSize > 100 {
		cfg.ContextWindowSize = defaultContextWindowSize
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = defaultCompletionTimeout
	}
	return &Service{
		sessions:  deps.Sessions,
		messages:  deps.Messages,
		assembler: NewContextAssembler(deps.Messages),
		provider:  deps.Provider,
		jobs:      deps.Jobs,
		broker:    deps.Broker,
		cfg:       cfg,
	}
}

type Inbound struct {
	SessionID string
	Text      string
	Role      Role
}

// ChatResult is what a chat request produced so far. Session and Inbound are set as soon
// as they are durable, even when a later step fails.
type ChatResult struct {
	Session *Session
	Inbound *Message
	Reply   *Message
}

func (s *Service) CreateSession(ctx context.Context) (*Session, error) {
	sess, err := s.sessions.Create(ctx)
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Info("chat event",
		"event", "session_created",
		"session_id", sess.SessionID,
	)
	return sess, nil
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	return s.sessions.Get(ctx, sessionID)
}

func (s *Service) ListSessions(ctx context.Context) ([]Session, error) {
	return s.sessions.List(ctx)
}

// Transcript returns the session and its full log. Unknown ids are not an error:
// the transcript then has a nil Session and no messages.
func (s *Service) Transcript(ctx context.Context, sessionID string) (*Transcript, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		sess = nil
	}
	msgs, err := s.messages.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &Transcript{SessionID: sessionID, Session: sess, Messages: msgs}, nil
}

// BuildContext exposes the assembler for callers that need the model view of a session.
func (s *Service) BuildContext(ctx context.Context, sessionID string) ([]ContextTurn, error) {
	return s.assembler.BuildContext(ctx, sessionID)
}

// Chat runs one inbound message through the pipeline. Admin messages are recorded
// without a model call. On ErrUpstream the returned result still holds the recorded
// inbound message; it is never rolled back.
func (s *Service) Chat(ctx context.Context, in Inbound) (*ChatResult, error) {
	if in.Role == "" {
		in.Role = RoleUser
	}
	if err := validateInbound(in); err != nil {
		return nil, err
	}

	sess, err := s.resolveSession(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	res := &ChatResult{Session: sess}

	inbound, err := s.record(ctx, &Message{
		SessionID: sess.SessionID,
		Role:      in.Role,
		Text:      in.Text,
	})
	res.Inbound = inbound
	if err != nil {
		return res, err
	}

	if in.Role == RoleAdmin {
		return res, nil
	}

	reply, err := s.dispatch(ctx, sess.SessionID, "")
	res.Reply = reply
	if err != nil {
		return res, err
	}
	return res, nil
}

// AdminReply injects a human reply into an existing session. It never calls the model
// and every call appends exactly one message.
func (s *Service) AdminReply(ctx context.Context, sessionID, text string) (*Message, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrSessionRequired
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.record(ctx, &Message{
		SessionID: sessionID,
		Role:      RoleAdmin,
		Text:      text,
	})
}

// GenerateReply asks the model for the next bot turn of an existing session and records it.
func (s *Service) GenerateReply(ctx context.Context, sessionID string) (*Message, error) {
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.dispatch(ctx, sessionID, "")
}

func validateInbound(in Inbound) error {
	if strings.TrimSpace(in.Text) == "" {
		return ErrEmptyMessage
	}
	switch in.Role {
	case RoleUser, RoleAdmin:
		return nil
	default:
		return fmt.Errorf("%w: role %q cannot send inbound messages", ErrValidation, in.Role)
	}
}

// resolveSession returns the named session or a fresh one when the id is empty or unknown.
func (s *Service) resolveSession(ctx context.Context, sessionID string) (*Session, error) {
	if id := strings.TrimSpace(sessionID); id != "" {
		sess, err := s.sessions.Get(ctx, id)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return s.CreateSession(ctx)
}

// record appends m, moves the session activity clock and notifies live subscribers.
func (s *Service) record(ctx context.Context, m *Message) (*Message, error) {
	log := logging.FromContext(ctx)
	log.Info("chat event",
		"event", eventFor(m.Role),
		"role", m.Role,
		"session_id", m.SessionID,
		"preview", preview(m.Text),
	)

	stored, err := s.messages.Append(ctx, m)
	if err != nil {
		log.Error("append message failed", "session_id", m.SessionID, "role", m.Role, "err", err)
		return nil, err
	}
	if err := s.sessions.Touch(ctx, stored.SessionID, stored.Timestamp); err != nil {
		log.Error("touch session failed", "session_id", stored.SessionID, "err", err)
		return stored, err
	}

	log.Info("chat event",
		"event", "stored",
		"role", stored.Role,
		"session_id", stored.SessionID,
		"message_id", stored.ID,
		"seq", stored.Seq,
	)

	if s.broker != nil {
		if err := s.broker.Publish(ctx, *stored); err != nil {
			log.Warn("live publish failed", "session_id", stored.SessionID, "err", err)
		}
	}
	return stored, nil
}

// dispatch records the model reply under replyID, or a fresh id when replyID is empty.
func (s *Service) dispatch(ctx context.Context, sessionID, replyID string) (*Message, error) {
	if s.provider == nil {
		return nil, upstreamErr(errors.New("no completion provider configured"))
	}

	turns, err := s.assembler.BuildContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CompletionTimeout)
	start := time.Now()
	completion, err := s.provider.Chat(cctx, s.promptMessages(turns))
	cancel()
	if err == nil && strings.TrimSpace(completion.Text) == "" {
		err = errors.New("empty completion")
	}
	if err != nil {
		logging.FromContext(ctx).Error("completion failed",
			"session_id", sessionID, "cost", time.Since(start), "err", err)
		return nil, upstreamErr(err)
	}

	// The reply exists now; keep it even if the visitor went away meanwhile.
	return s.record(context.WithoutCancel(ctx), &Message{
		ID:         replyID,
		SessionID:  sessionID,
		Role:       RoleBot,
		Text:       completion.Text,
		Confidence: completion.Confidence,
	})
}

// promptMessages maps context turns to provider messages, keeping the newest
// ContextWindowSize turns behind the optional system prompt.
func (s *Service) promptMessages(turns []ContextTurn) []ai.Message {
	if n := s.cfg.ContextWindowSize; n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]ai.Message, 0, len(turns)+1)
	if s.cfg.SystemPrompt != "" {
		out = append(out, ai.Message{Role: ai.RoleSystem, Content: s.cfg.SystemPrompt})
	}
	for _, t := range turns {
		role := ai.RoleUser
		if t.Role == RoleBot {
			role = ai.RoleAssistant
		}
		out = append(out, ai.Message{Role: role, Content: t.Text})
	}
	return out
}

type AsyncResult struct {
	Job     *Job
	Created bool
	Inbound *Message
}

var ErrAsyncDisabled = errors.New("async replies are not configured")

// SubmitAsync records a visitor message and queues a reply job for it. A repeated
// idempotency key returns the original job without recording the message again.
func (s *Service) SubmitAsync(ctx context.Context, in Inbound, idempotencyKey string) (*AsyncResult, error) {
	if s.jobs == nil {
		return nil, ErrAsyncDisabled
	}
	if idempotencyKey != "" {
		job, err := s.jobs.GetByIdempotencyKey(ctx, idempotencyKey)
		if err == nil {
			return &AsyncResult{Job: job}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	if in.Role == "" {
		in.Role = RoleUser
	}
	if in.Role != RoleUser {
		return nil, fmt.Errorf("%w: only visitor messages can be queued", ErrValidation)
	}
	if err := validateInbound(in); err != nil {
		return nil, err
	}

	sess, err := s.resolveSession(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	inbound, err := s.record(ctx, &Message{SessionID: sess.SessionID, Role: RoleUser, Text: in.Text})
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:               ulid.Make().String(),
		SessionID:        sess.SessionID,
		InboundMessageID: inbound.ID,
		Status:           JobQueued,
	}
	if idempotencyKey != "" {
		job.IdempotencyKey = &idempotencyKey
	}
	job, created, err := s.jobs.CreateOrGetExisting(ctx, job)
	if err != nil {
		return nil, err
	}
	return &AsyncResult{Job: job, Created: created, Inbound: inbound}, nil
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	if s.jobs == nil {
		return nil, ErrAsyncDisabled
	}
	return s.jobs.Get(ctx, id)
}

// ProcessJob generates and records the reply for a queued job and stores the outcome on the job.
// The reply carries the job id, so a redelivered job whose reply is already in the log
// is only marked succeeded and never answered twice.
func (s *Service) ProcessJob(ctx context.Context, jobID string) error {
	if s.jobs == nil {
		return ErrAsyncDisabled
	}
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == JobSucceeded {
		return nil
	}
	if _, err := s.sessions.Get(ctx, job.SessionID); err != nil {
		return err
	}

	recorded, err := s.findMessage(ctx, job.SessionID, job.ID)
	if err != nil {
		return err
	}
	if recorded != nil {
		logging.FromContext(ctx).Info("reply job already answered",
			"job_id", jobID, "session_id", job.SessionID, "message_id", recorded.ID)
		return s.jobs.MarkSucceeded(ctx, jobID, recorded.ID)
	}

	if err := s.jobs.MarkRunning(ctx, jobID); err != nil {
		return err
	}

	start := time.Now()
	reply, err := s.dispatch(ctx, job.SessionID, job.ID)
	if err != nil {
		logging.FromContext(ctx).Error("reply job failed",
			"job_id", jobID, "session_id", job.SessionID, "cost", time.Since(start), "err", err)
		if markErr := s.jobs.MarkFailed(ctx, jobID, err.Error()); markErr != nil {
			return errors.Join(err, markErr)
		}
		return err
	}
	return s.jobs.MarkSucceeded(ctx, jobID, reply.ID)
}

func (s *Service) findMessage(ctx context.Context, sessionID, messageID string) (*Message, error) {
	msgs, err := s.messages.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].ID == messageID {
			return &msgs[i], nil
		}
	}
	return nil, nil
}

func eventFor(r Role) string {
	switch r {
	case RoleBot:
		return "outbound"
	case RoleAdmin:
		return "admin"
	default:
		return "inbound"
	}
}

func preview(text string) string {
	const limit = 80
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit]) + "..."
}
