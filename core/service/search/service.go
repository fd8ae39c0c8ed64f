// Package search fronts the full-text index.
package search

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"mailbridge/core/domain"
	"mailbridge/core/port/out"
)

// Service answers search queries over the user's mirrored mail.
type Service struct {
	messages out.MessageRepository
}

func NewService(messages out.MessageRepository) *Service {
	return &Service{messages: messages}
}

// Text runs a ranked full-text query over subject, body and sender. A blank
// query returns an empty result rather than everything.
func (s *Service) Text(ctx context.Context, userID uuid.UUID, query string, page, limit int) ([]*out.SearchHit, int, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, 0, nil
	}
	return s.messages.SearchText(ctx, userID, query, page, limit)
}

// Sender matches the from field by case-insensitive substring.
func (s *Service) Sender(ctx context.Context, userID uuid.UUID, sender string, page, limit int) ([]*domain.Message, int, error) {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return nil, 0, nil
	}
	return s.messages.SearchSender(ctx, userID, sender, page, limit)
}
