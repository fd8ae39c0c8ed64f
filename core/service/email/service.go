// Package email exposes the mirrored mailbox to the API: listing, reads,
// read-status flips and soft deletes. Ownership is enforced in the storage
// layer; every query is scoped to the calling user.
package email

import (
	"context"

	"github.com/google/uuid"

	"mailbridge/core/domain"
	"mailbridge/core/port/out"
)

// Service reads and mutates mirrored messages.
type Service struct {
	messages    out.MessageRepository
	attachments out.AttachmentRepository
}

func NewService(messages out.MessageRepository, attachments out.AttachmentRepository) *Service {
	return &Service{messages: messages, attachments: attachments}
}

// List returns one page of the user's messages, newest first, with the
// total live count for pagination.
func (s *Service) List(ctx context.Context, userID uuid.UUID, filter out.MessageFilter) ([]*domain.Message, int, error) {
	return s.messages.List(ctx, userID, filter)
}

// Get returns one message with its attachment references.
func (s *Service) Get(ctx context.Context, userID uuid.UUID, messageID int64) (*domain.Message, []*domain.Attachment, error) {
	msg, err := s.messages.GetByID(ctx, userID, messageID)
	if err != nil {
		return nil, nil, err
	}
	atts, err := s.attachments.ListByMessage(ctx, msg.ID)
	if err != nil {
		return nil, nil, err
	}
	return msg, atts, nil
}

// SetReadStatus flips the local read flag. The change is never written back
// to the provider.
func (s *Service) SetReadStatus(ctx context.Context, userID uuid.UUID, messageID int64, isRead bool) error {
	return s.messages.SetReadStatus(ctx, userID, messageID, isRead)
}

// Delete tombstones a message. The row stays behind so a later sync cannot
// resurrect it.
func (s *Service) Delete(ctx context.Context, userID uuid.UUID, messageID int64) error {
	return s.messages.SoftDelete(ctx, userID, messageID)
}
