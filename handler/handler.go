package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"ai-tutor/internal/domain"
	"ai-tutor/internal/usecase"
)

const CorrelationHeader = "X-Correlation-Id"

// Conversations is the conversation use case consumed by the handler.
type Conversations interface {
	Start(ctx context.Context, in usecase.StartInput) (usecase.StartOutput, error)
	Send(ctx context.Context, in usecase.SendInput) (domain.Thread, error)
	Regenerate(ctx context.Context, threadID string) (domain.Thread, error)
	Get(ctx context.Context, threadID string) (domain.Thread, error)
}

// Handler implements the chat operations independently of the transport.
type Handler struct {
	conversations Conversations
}

// Result is a transport-neutral response.
type Result struct {
	Status int
	Body   []byte
}

type startRequest struct {
	CurriculumIDs []string `json:"usmos"`
}

type messageRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	Action         string `json:"action"`
}

type regenerateRequest struct {
	ConversationID string `json:"conversation_id"`
}

type threadResponse struct {
	ID            string             `json:"id"`
	StudentID     string             `json:"student_id,omitempty"`
	CurriculumIDs []string           `json:"usmos"`
	ContentID     string             `json:"content_id"`
	Content       domain.ContentItem `json:"content"`
	Messages      []domain.Message   `json:"messages"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

type startResponse struct {
	Threads  []threadResponse     `json:"threads"`
	Contents []domain.ContentItem `json:"contents"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type welcomeResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewHandler(conversations Conversations) (*Handler, error) {
	if conversations == nil {
		return nil, errors.New("handler: conversations must not be nil")
	}
	return &Handler{conversations: conversations}, nil
}

// Start handles POST /chat/start?student_id=.
func (h *Handler) Start(ctx context.Context, studentID string, body []byte) Result {
	var req startRequest
	if err := decodeBody(body, &req); err != nil {
		return h.fail(ctx, "start", invalidBody(err))
	}
	out, err := h.conversations.Start(ctx, usecase.StartInput{
		StudentID:     studentID,
		CurriculumIDs: req.CurriculumIDs,
	})
	if err != nil {
		return h.fail(ctx, "start", err)
	}

	return jsonResult(http.StatusOK, startResponse{
		Threads:  lo.Map(out.Threads, func(t domain.Thread, _ int) threadResponse { return toThreadResponse(t) }),
		Contents: out.Contents,
	})
}

// Message handles POST /chat/message.
func (h *Handler) Message(ctx context.Context, body []byte) Result {
	var req messageRequest
	if err := decodeBody(body, &req); err != nil {
		return h.fail(ctx, "message", invalidBody(err))
	}
	thread, err := h.conversations.Send(ctx, usecase.SendInput{
		ThreadID: req.ConversationID,
		Action:   domain.Action(strings.TrimSpace(req.Action)),
		Text:     req.Content,
	})
	if err != nil {
		return h.fail(ctx, "message", err)
	}
	return jsonResult(http.StatusOK, toThreadResponse(thread))
}

// Regenerate handles POST /chat/regenerate.
func (h *Handler) Regenerate(ctx context.Context, body []byte) Result {
	var req regenerateRequest
	if err := decodeBody(body, &req); err != nil {
		return h.fail(ctx, "regenerate", invalidBody(err))
	}
	thread, err := h.conversations.Regenerate(ctx, req.ConversationID)
	if err != nil {
		return h.fail(ctx, "regenerate", err)
	}
	return jsonResult(http.StatusOK, toThreadResponse(thread))
}

// Conversation handles GET /chat/conversation/{id}.
func (h *Handler) Conversation(ctx context.Context, id string) Result {
	thread, err := h.conversations.Get(ctx, id)
	if err != nil {
		return h.fail(ctx, "conversation", err)
	}
	return jsonResult(http.StatusOK, toThreadResponse(thread))
}

func (h *Handler) Health() Result {
	return jsonResult(http.StatusOK, statusResponse{Status: "ok"})
}

func (h *Handler) Root() Result {
	return jsonResult(http.StatusOK, welcomeResponse{Message: "AI tutor chat API"})
}

// NotFound is returned for unknown routes.
func (h *Handler) NotFound() Result {
	return jsonResult(http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Message: "route_not_found"})
}

// InvalidBody reports a request body the transport could not read.
func (h *Handler) InvalidBody(ctx context.Context, route string, err error) Result {
	return h.fail(ctx, route, invalidBody(err))
}

func (h *Handler) fail(ctx context.Context, route string, err error) Result {
	status, code, reason := mapError(err)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(ctx, level, "request failed",
		"correlation_id", CorrelationIDFromContext(ctx),
		"route", route,
		"code", code,
		"reason", reason,
		"err", err,
	)
	return jsonResult(status, errorResponse{Error: string(code), Message: reason})
}

func mapError(err error) (int, usecase.ErrorCode, string) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, usecase.ErrorInternal, "internal_error"
	}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, ucErr.Code, ucErr.Reason
	case usecase.ErrorNotFound:
		return http.StatusNotFound, ucErr.Code, ucErr.Reason
	case usecase.ErrorInvalidState:
		return http.StatusConflict, ucErr.Code, ucErr.Reason
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests, ucErr.Code, ucErr.Reason
	case usecase.ErrorGeneration, usecase.ErrorUpstream:
		return http.StatusBadGateway, ucErr.Code, ucErr.Reason
	case usecase.ErrorStore:
		return http.StatusInternalServerError, ucErr.Code, ucErr.Reason
	default:
		return http.StatusInternalServerError, usecase.ErrorInternal, ucErr.Reason
	}
}

func invalidBody(err error) error {
	return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_json_body", Err: err}
}

// decodeBody is strict: unknown fields and trailing values are rejected.
func decodeBody(body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return errors.New("empty body")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func jsonResult(status int, v any) Result {
	buf, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal response", "err", err)
		return Result{
			Status: http.StatusInternalServerError,
			Body:   []byte(`{"error":"INTERNAL_ERROR","message":"response_encoding_error"}`),
		}
	}
	return Result{Status: status, Body: buf}
}

func toThreadResponse(t domain.Thread) threadResponse {
	msgs := t.Messages
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return threadResponse{
		ID:            t.ID,
		StudentID:     t.StudentID,
		CurriculumIDs: t.CurriculumIDs,
		ContentID:     t.Content.ContentID,
		Content:       t.Content,
		Messages:      msgs,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

type correlationKey struct{}

// WithCorrelationID stores id on ctx for request-scoped logging.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// ResolveCorrelationID returns the supplied id, or a new one when it is blank.
func ResolveCorrelationID(supplied string) string {
	if id := strings.TrimSpace(supplied); id != "" {
		return id
	}
	return newCorrelationID()
}

var newCorrelationID = func() string {
	return uuid.NewString()
}
