package handler

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// Handle routes an API Gateway proxy event to the matching chat operation.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := ResolveCorrelationID(headerValue(event.Headers, CorrelationHeader))
	ctx = WithCorrelationID(ctx, correlationID)

	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return toProxyResponse(h.fail(ctx, "decode", invalidBody(err)), correlationID), nil
		}
		body = decoded
	}

	return toProxyResponse(h.route(ctx, event, body), correlationID), nil
}

func (h *Handler) route(ctx context.Context, event events.APIGatewayProxyRequest, body []byte) Result {
	path := "/" + strings.Trim(event.Path, "/")
	method := strings.ToUpper(event.HTTPMethod)

	switch {
	case method == http.MethodGet && path == "/":
		return h.Root()
	case method == http.MethodGet && path == "/health":
		return h.Health()
	case method == http.MethodPost && path == "/chat/start":
		return h.Start(ctx, event.QueryStringParameters["student_id"], body)
	case method == http.MethodPost && path == "/chat/message":
		return h.Message(ctx, body)
	case method == http.MethodPost && path == "/chat/regenerate":
		return h.Regenerate(ctx, body)
	case method == http.MethodGet && strings.HasPrefix(path, "/chat/conversation/"):
		id := event.PathParameters["id"]
		if id == "" {
			id = strings.TrimPrefix(path, "/chat/conversation/")
		}
		if id == "" || strings.Contains(id, "/") {
			return h.NotFound()
		}
		return h.Conversation(ctx, id)
	}
	return h.NotFound()
}

func toProxyResponse(res Result, correlationID string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: res.Status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			CorrelationHeader: correlationID,
		},
		Body: string(res.Body),
	}
}

// headerValue looks up key case-insensitively; API Gateway does not
// normalise header names.
func headerValue(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
