package domain

import (
	"errors"
	"time"
)

var (
	ErrThreadNotFound  = errors.New("thread not found")
	ErrThreadExists    = errors.New("thread already exists")
	ErrContentNotFound = errors.New("content not found")
)

type Sender string

const (
	SenderStudent Sender = "student"
	SenderTutor   Sender = "tutor"
)

// Action is the intent a student attaches to a message.
type Action string

const (
	ActionQuestion   Action = "question"
	ActionAnswer     Action = "answer"
	ActionChat       Action = "chat"
	ActionRegenerate Action = "regenerate"
)

// Valid reports whether a is one of the known student actions.
func (a Action) Valid() bool {
	switch a {
	case ActionQuestion, ActionAnswer, ActionChat, ActionRegenerate:
		return true
	}
	return false
}

// ContentItem is the educational material associated with one curriculum
// identifier.
type ContentItem struct {
	ContentID     string   `json:"content_id"`
	CurriculumIDs []string `json:"usmos"`
	Problem       string   `json:"problem"`
	Answer        string   `json:"answer"`
	Explanation   string   `json:"explanation,omitempty"`
}

// Message is a single conversation turn. Action is only set on student turns.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Action    Action    `json:"action,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"timestamp"`
}

// Thread is the ordered message history tied to one ContentItem.
type Thread struct {
	ID            string      `json:"id"`
	StudentID     string      `json:"student_id,omitempty"`
	CurriculumIDs []string    `json:"usmos"`
	Content       ContentItem `json:"content"`
	Messages      []Message   `json:"messages"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// LastTutorIndex returns the index of the most recent tutor message, or -1.
func (t Thread) LastTutorIndex() int {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].Sender == SenderTutor {
			return i
		}
	}
	return -1
}

// Count returns how many messages were sent by s.
func (t Thread) Count(s Sender) int {
	n := 0
	for _, m := range t.Messages {
		if m.Sender == s {
			n++
		}
	}
	return n
}
