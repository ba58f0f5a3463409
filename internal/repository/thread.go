package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ai-tutor/internal/domain"
)

// Every store keeps a thread as one JSON document keyed by its id.

func encodeThread(thread domain.Thread) ([]byte, error) {
	if strings.TrimSpace(thread.ID) == "" {
		return nil, errors.New("repository: thread id must not be empty")
	}
	buf, err := json.Marshal(thread)
	if err != nil {
		return nil, fmt.Errorf("repository: marshal thread %q: %w", thread.ID, err)
	}
	return buf, nil
}

func decodeThread(id string, raw []byte) (domain.Thread, error) {
	var thread domain.Thread
	if err := json.Unmarshal(raw, &thread); err != nil {
		return domain.Thread{}, fmt.Errorf("repository: unmarshal thread %q: %w", id, err)
	}
	return thread, nil
}

func notFound(id string) error {
	return fmt.Errorf("repository: thread %q: %w", id, domain.ErrThreadNotFound)
}

func alreadyExists(id string) error {
	return fmt.Errorf("repository: thread %q: %w", id, domain.ErrThreadExists)
}
