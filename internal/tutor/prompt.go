package tutor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"ai-tutor/internal/domain"
)

const defaultPersona = "You are a patient, encouraging tutor helping a student work through one curriculum problem."

type tutorReply struct {
	Reply string `json:"reply"`
}

type promptContext struct {
	persona    string
	content    domain.ContentItem
	regenerate bool
}

func buildPromptMessages(ctx promptContext, history []domain.Message) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: buildPolicyPrompt()},
		{Role: domain.RoleSystem, Content: buildContentContextPrompt(ctx)},
	}

	hasStudent := false
	for _, m := range history {
		msg, ok := historyToPromptMessage(m)
		if !ok {
			continue
		}
		if m.Sender == domain.SenderStudent {
			hasStudent = true
		}
		messages = append(messages, msg)
	}

	switch {
	case ctx.regenerate:
		messages = append(messages, domain.ChatMessage{
			Role:    domain.RoleUser,
			Content: "[regenerate] Explain this differently from your previous reply.",
		})
	case !hasStudent:
		messages = append(messages, domain.ChatMessage{
			Role:    domain.RoleUser,
			Content: "[start] Introduce the problem and ask how I would approach solving it.",
		})
	}
	return messages
}

func buildPolicyPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You are an AI tutor in a one-to-one chat with a student.",
		"",
		"Task:",
		"Reply to the student's latest message about the problem provided in this request.",
		"",
		"Student Actions:",
		"Each student message starts with a tag in square brackets:",
		"- [question] the student asks about the problem or a concept",
		"- [answer] the student proposes an answer; compare it with the canonical answer",
		"- [chat] free conversation; steer gently back to the problem",
		"- [regenerate] the student wants the previous point explained in a different way",
		"",
		"Behavior Rules:",
		behaviorRules(),
		"",
		"Output Contract:",
		outputContract(),
	}, "\n")
}

func buildContentContextPrompt(ctx promptContext) string {
	persona := strings.TrimSpace(ctx.persona)
	if persona == "" {
		persona = defaultPersona
	}
	explanation := normalizePromptInput(ctx.content.Explanation)
	if explanation == "" {
		explanation = "(none provided)"
	}
	return fmt.Sprintf(
		"%s\n\nCurriculum Content:\n\nProblem:\n%s\n\nCanonical Answer:\n%s\n\nExplanation:\n%s",
		persona,
		normalizePromptInput(ctx.content.Problem),
		normalizePromptInput(ctx.content.Answer),
		explanation,
	)
}

func historyToPromptMessage(m domain.Message) (domain.ChatMessage, bool) {
	text := strings.TrimSpace(m.Content)
	if text == "" {
		return domain.ChatMessage{}, false
	}
	switch m.Sender {
	case domain.SenderStudent:
		action := m.Action
		if action == "" {
			action = domain.ActionChat
		}
		return domain.ChatMessage{Role: domain.RoleUser, Content: fmt.Sprintf("[%s] %s", action, text)}, true
	case domain.SenderTutor:
		return domain.ChatMessage{Role: domain.RoleAssistant, Content: text}, true
	}
	return domain.ChatMessage{}, false
}

func behaviorRules() string {
	return strings.Join([]string{
		"1) Reply only to the latest student message.",
		"2) Guide the student toward the canonical answer; do not simply state it unless they ask for it or have answered.",
		"3) When the student answers, say clearly whether it matches the canonical answer and explain why.",
		"4) Use the explanation as the basis for any worked reasoning.",
		"5) Keep replies short, friendly and at the student's level.",
	}, "\n")
}

func outputContract() string {
	return "Return JSON only with a single key reply (string) holding the message to show the student."
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}

func parseReply(raw string) (string, error) {
	var out tutorReply
	dec := json.NewDecoder(bytes.NewBufferString(stripCodeFence(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return "", fmt.Errorf("tutor: decode reply: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return "", errors.New("tutor: decode reply: multiple JSON values")
		}
		return "", fmt.Errorf("tutor: decode reply trailing data: %w", err)
	}
	reply := strings.TrimSpace(out.Reply)
	if reply == "" {
		return "", errors.New("tutor: reply is empty")
	}
	return reply, nil
}

// stripCodeFence removes a surrounding ``` or ```json fence, which some
// providers add even when asked for bare JSON.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.HasPrefix(strings.TrimSpace(s[:nl]), "{") {
		s = s[nl+1:]
	}
	return strings.TrimSpace(s)
}
