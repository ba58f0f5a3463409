package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"ai-tutor/internal/domain"
)

const defaultMaxMessageLen = 2000

type ContentFetcher interface {
	Fetch(ctx context.Context, curriculumID string) (domain.ContentItem, error)
}

type ResponseGenerator interface {
	Generate(ctx context.Context, content domain.ContentItem, history []domain.Message) (string, error)
}

type ThreadStore interface {
	Create(ctx context.Context, thread domain.Thread) error
	Load(ctx context.Context, id string) (domain.Thread, error)
	Save(ctx context.Context, thread domain.Thread) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// ConversationService owns the thread state transitions: start, send,
// regenerate and get.
type ConversationService struct {
	content       ContentFetcher
	generator     ResponseGenerator
	store         ThreadStore
	maxMessageLen int
}

type StartInput struct {
	StudentID     string
	CurriculumIDs []string
}

type StartOutput struct {
	Threads  []domain.Thread
	Contents []domain.ContentItem
}

type SendInput struct {
	ThreadID string
	Action   domain.Action
	Text     string
}

func NewConversationService(c ContentFetcher, g ResponseGenerator, s ThreadStore, maxMessageLen int) (*ConversationService, error) {
	if c == nil {
		return nil, errors.New("usecase: content fetcher must not be nil")
	}
	if g == nil {
		return nil, errors.New("usecase: response generator must not be nil")
	}
	if s == nil {
		return nil, errors.New("usecase: thread store must not be nil")
	}
	if maxMessageLen <= 0 {
		maxMessageLen = defaultMaxMessageLen
	}
	return &ConversationService{
		content:       c,
		generator:     g,
		store:         s,
		maxMessageLen: maxMessageLen,
	}, nil
}

// Start fetches content for every curriculum id and creates one empty thread
// per content item. Nothing is created unless all content resolves.
func (s *ConversationService) Start(ctx context.Context, in StartInput) (StartOutput, error) {
	if len(in.CurriculumIDs) == 0 {
		return StartOutput{}, newError(ErrorInvalidInput, "empty_curriculum_ids", nil)
	}

	contents := make([]domain.ContentItem, 0, len(in.CurriculumIDs))
	for _, raw := range in.CurriculumIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			return StartOutput{}, newError(ErrorInvalidInput, "blank_curriculum_id", nil)
		}
		item, err := s.content.Fetch(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrContentNotFound) {
				return StartOutput{}, newError(ErrorNotFound, "content_not_found", err)
			}
			return StartOutput{}, newError(ErrorUpstream, "content_lookup_error", err)
		}
		contents = append(contents, item)
	}

	studentID := strings.TrimSpace(in.StudentID)
	threads := make([]domain.Thread, 0, len(contents))
	for i, item := range contents {
		ts := now()
		thread := domain.Thread{
			ID:            newUUID(),
			StudentID:     studentID,
			CurriculumIDs: curriculumIDsFor(item, strings.TrimSpace(in.CurriculumIDs[i])),
			Content:       item,
			Messages:      []domain.Message{},
			CreatedAt:     ts,
			UpdatedAt:     ts,
		}
		if err := s.store.Create(ctx, thread); err != nil {
			return StartOutput{}, newError(ErrorStore, "store_create_error", err)
		}
		slog.DebugContext(ctx, "thread created", "thread_id", thread.ID, "content_id", item.ContentID)
		threads = append(threads, thread)
	}

	return StartOutput{Threads: threads, Contents: contents}, nil
}

// Send appends a student message and the generated tutor reply. The
// regenerate action is an alias for Regenerate and ignores Text.
func (s *ConversationService) Send(ctx context.Context, in SendInput) (domain.Thread, error) {
	if !in.Action.Valid() {
		return domain.Thread{}, newError(ErrorInvalidInput, "invalid_action", nil)
	}
	if in.Action == domain.ActionRegenerate {
		return s.Regenerate(ctx, in.ThreadID)
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return domain.Thread{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(text) > s.maxMessageLen {
		return domain.Thread{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}

	thread, err := s.load(ctx, in.ThreadID)
	if err != nil {
		return domain.Thread{}, err
	}

	history := make([]domain.Message, 0, len(thread.Messages)+2)
	history = append(history, thread.Messages...)
	history = append(history, newMessage(domain.SenderStudent, in.Action, text))

	return s.reply(ctx, thread, history)
}

// Regenerate drops the most recent tutor message and generates a replacement
// from the remaining history. The generator sees a context marked with
// domain.WithRegeneration.
func (s *ConversationService) Regenerate(ctx context.Context, threadID string) (domain.Thread, error) {
	thread, err := s.load(ctx, threadID)
	if err != nil {
		return domain.Thread{}, err
	}

	idx := thread.LastTutorIndex()
	if idx < 0 {
		return domain.Thread{}, newError(ErrorInvalidState, "no_tutor_message", nil)
	}

	history := make([]domain.Message, 0, len(thread.Messages))
	history = append(history, thread.Messages[:idx]...)
	history = append(history, thread.Messages[idx+1:]...)

	return s.reply(domain.WithRegeneration(ctx), thread, history)
}

// Get returns the thread with its content and ordered messages.
func (s *ConversationService) Get(ctx context.Context, threadID string) (domain.Thread, error) {
	return s.load(ctx, threadID)
}

func (s *ConversationService) load(ctx context.Context, threadID string) (domain.Thread, error) {
	id := strings.TrimSpace(threadID)
	if id == "" {
		return domain.Thread{}, newError(ErrorInvalidInput, "empty_thread_id", nil)
	}
	thread, err := s.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrThreadNotFound) {
			return domain.Thread{}, newError(ErrorNotFound, "thread_not_found", err)
		}
		return domain.Thread{}, newError(ErrorStore, "store_load_error", err)
	}
	return thread, nil
}

// reply generates a tutor message from history, appends it and persists the
// thread. The stored thread is untouched when generation fails.
func (s *ConversationService) reply(ctx context.Context, thread domain.Thread, history []domain.Message) (domain.Thread, error) {
	text, err := s.generator.Generate(ctx, thread.Content, history)
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return domain.Thread{}, newError(ErrorRateLimited, "generation_rate_limited", err)
		}
		return domain.Thread{}, newError(ErrorGeneration, "generation_error", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Thread{}, newError(ErrorGeneration, "empty_reply", nil)
	}

	thread.Messages = append(history, newMessage(domain.SenderTutor, "", text))
	thread.UpdatedAt = now()
	if err := s.store.Save(ctx, thread); err != nil {
		if errors.Is(err, domain.ErrThreadNotFound) {
			return domain.Thread{}, newError(ErrorNotFound, "thread_not_found", err)
		}
		return domain.Thread{}, newError(ErrorStore, "store_save_error", err)
	}
	slog.DebugContext(ctx, "thread updated", "thread_id", thread.ID, "messages", len(thread.Messages))
	return thread, nil
}

func newMessage(sender domain.Sender, action domain.Action, text string) domain.Message {
	return domain.Message{
		ID:        newUUID(),
		Sender:    sender,
		Action:    action,
		Content:   text,
		CreatedAt: now(),
	}
}

// curriculumIDsFor keeps the ids reported by the content service and falls
// back to the requested id when none were returned.
func curriculumIDsFor(item domain.ContentItem, requested string) []string {
	if len(item.CurriculumIDs) > 0 {
		return append([]string(nil), item.CurriculumIDs...)
	}
	return []string{requested}
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}

var now = func() time.Time {
	return time.Now().UTC()
}
