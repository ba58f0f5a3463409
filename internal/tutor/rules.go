package tutor

import (
	"context"
	"fmt"
	"strings"

	"ai-tutor/internal/domain"
)

// Rules is a deterministic generator that needs no model. It answers based on
// the action of the latest student message, or re-explains the problem when
// regenerating.
type Rules struct{}

func (Rules) Generate(ctx context.Context, content domain.ContentItem, history []domain.Message) (string, error) {
	if domain.IsRegeneration(ctx) {
		return explainDifferently(content), nil
	}
	last, ok := lastStudentMessage(history)
	if !ok {
		return fmt.Sprintf("Let's discuss this problem: %s. How would you approach solving it?", content.Problem), nil
	}

	switch last.Action {
	case domain.ActionQuestion:
		return fmt.Sprintf("That's a good question about '%s'. The answer is '%s'. Does that make sense?", content.Problem, content.Answer), nil
	case domain.ActionAnswer:
		if strings.Contains(strings.ToLower(last.Content), strings.ToLower(content.Answer)) {
			return "That's correct! Well done.", nil
		}
		explanation := content.Explanation
		if explanation == "" {
			explanation = "Think about it carefully."
		}
		return fmt.Sprintf("Not quite. The correct answer is '%s'. Let me explain: %s", content.Answer, explanation), nil
	case domain.ActionChat:
		return fmt.Sprintf("I understand your comment. Let's continue discussing this problem: %s", content.Problem), nil
	}
	return explainDifferently(content), nil
}

func explainDifferently(content domain.ContentItem) string {
	return strings.TrimSpace(fmt.Sprintf("Let me try to explain this differently. The problem is '%s' and the answer is '%s'. %s", content.Problem, content.Answer, content.Explanation))
}

func lastStudentMessage(history []domain.Message) (domain.Message, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Sender == domain.SenderStudent {
			return history[i], true
		}
	}
	return domain.Message{}, false
}
