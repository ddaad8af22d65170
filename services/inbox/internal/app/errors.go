package app

import "errors"

var (
	ErrInvalidInbound        = errors.New("invalid inbound message")
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrCustomerNotFound      = errors.New("customer not found")
	ErrCustomerOwnerMismatch = errors.New("customer belongs to another owner")
	ErrDraftNotFound         = errors.New("draft not found")
	ErrDraftNotActionable    = errors.New("draft is no longer proposed")
	ErrInvalidAIState        = errors.New("invalid ai state")
	ErrInvalidStatus         = errors.New("invalid conversation status")
)
