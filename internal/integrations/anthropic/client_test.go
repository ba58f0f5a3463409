package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"ai-tutor/internal/domain"
)

type fakeGetter struct {
	val   string
	err   error
	calls int
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.val, f.err
}

const textResponse = `{
	"id": "msg_01",
	"type": "message",
	"role": "assistant",
	"model": "claude-test",
	"content": [{"type": "text", "text": "{\"reply\":\"What is 10 - 5?\"}"}],
	"stop_reason": "end_turn",
	"usage": {"input_tokens": 10, "output_tokens": 5}
}`

type capturedRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	System    []struct {
		Text string `json:"text"`
	} `json:"system"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"messages"`
}

func TestNewClient_Validates(t *testing.T) {
	_, err := NewClient()
	require.Error(t, err)

	_, err = NewClient(WithParamStore(&fakeGetter{}, ""))
	require.ErrorContains(t, err, "prefix")

	_, err = NewClient(WithAPIKey("k"), WithMaxTokens(0))
	require.ErrorContains(t, err, "max tokens")

	_, err = NewClient(WithAPIKey("k"))
	require.NoError(t, err)
}

func TestChat_HappyPath(t *testing.T) {
	var got capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "sk-ant-from-ssm", r.Header.Get("X-Api-Key"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(textResponse))
	}))
	defer srv.Close()

	getter := &fakeGetter{val: `{"token":"sk-ant-from-ssm"}`}
	c, err := NewClient(WithParamStore(getter, "/ai-tutor"), WithBaseURL(srv.URL), WithMaxTokens(256))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		out, err := c.Chat(context.Background(), "claude-test", []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: "policy"},
			{Role: domain.RoleSystem, Content: "problem"},
			{Role: domain.RoleUser, Content: "[question] How do I start?"},
		})
		require.NoError(t, err)
		require.Equal(t, `{"reply":"What is 10 - 5?"}`, out)
	}
	require.Equal(t, 1, getter.calls)

	require.Equal(t, "claude-test", got.Model)
	require.Equal(t, 256, got.MaxTokens)
	require.Len(t, got.System, 2)
	require.Len(t, got.Messages, 1)
	require.Equal(t, "user", got.Messages[0].Role)
	require.Equal(t, "[question] How do I start?", got.Messages[0].Content[0].Text)
}

func TestChat_RateLimitedSurfacesStatus(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(WithAPIKey("k"), WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), "claude-test", []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}})
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.HTTPStatusCode())
	require.Equal(t, 1, calls)
}

func TestChat_KeyError(t *testing.T) {
	c, err := NewClient(WithParamStore(&fakeGetter{err: errors.New("denied")}, "/p"))
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "claude-test", nil)
	require.ErrorContains(t, err, "denied")

	_, err = c.Chat(context.Background(), " ", nil)
	require.ErrorContains(t, err, "model")
}

func TestToMessageParams_FoldsAndOpensWithUser(t *testing.T) {
	system, turns := toMessageParams([]domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "policy"},
		{Role: domain.RoleAssistant, Content: "Let's discuss this problem."},
		{Role: domain.RoleUser, Content: "[question] a"},
		{Role: domain.RoleUser, Content: "[chat] b"},
		{Role: domain.RoleAssistant, Content: "  "},
	})
	require.Len(t, system, 1)
	require.Len(t, turns, 3)
	require.Equal(t, "user", sdkRole(t, turns[0]))
	require.Equal(t, "assistant", sdkRole(t, turns[1]))
	require.Equal(t, "user", sdkRole(t, turns[2]))
}

func sdkRole(t *testing.T, m any) string {
	t.Helper()
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	var out struct {
		Role string `json:"role"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out.Role
}

func TestChat_KeepsOnlyTextBlocks(t *testing.T) {
	bodies := []string{
		`{"id":"msg_02","type":"message","role":"assistant","model":"claude-test","stop_reason":"end_turn",
			"usage":{"input_tokens":1,"output_tokens":1},
			"content":[
				{"type":"thinking","thinking":"hmm","signature":"sig"},
				{"type":"text","text":"{\"reply\":"},
				{"type":"text","text":"\"Try again.\"}"}
			]}`,
		`{"id":"msg_03","type":"message","role":"assistant","model":"claude-test","stop_reason":"end_turn",
			"usage":{"input_tokens":1,"output_tokens":1},
			"content":[{"type":"thinking","thinking":"hmm","signature":"sig"}]}`,
	}
	call := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(bodies[call]))
		call++
	}))
	defer srv.Close()

	c, err := NewClient(WithAPIKey("k"), WithBaseURL(srv.URL))
	require.NoError(t, err)
	msgs := []domain.ChatMessage{{Role: domain.RoleUser, Content: "[chat] hi"}}

	out, err := c.Chat(context.Background(), "claude-test", msgs)
	require.NoError(t, err)
	require.Equal(t, `{"reply":"Try again."}`, out)

	_, err = c.Chat(context.Background(), "claude-test", msgs)
	require.ErrorContains(t, err, "no text in response")
}
