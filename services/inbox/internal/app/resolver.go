package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"lessonhub/internal/util"
	"lessonhub/pkg/domain"
	"lessonhub/pkg/store"
)

// Resolver maps (owner, channel, external identity) onto exactly one
// conversation. The store's unique key is authoritative; singleflight only
// collapses concurrent resolves inside this process.
type Resolver struct {
	store store.Store
	group singleflight.Group
	now   func() time.Time
}

func NewResolver(s store.Store, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{store: s, now: now}
}

// Resolve returns the conversation for the identity, creating it on first
// contact.
func (r *Resolver) Resolve(ctx context.Context, channel domain.Channel, externalIdentity, ownerID string) (domain.Conversation, error) {
	externalIdentity = strings.TrimSpace(externalIdentity)
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" || externalIdentity == "" {
		return domain.Conversation{}, fmt.Errorf("%w: owner and sender identity required", ErrInvalidInbound)
	}
	if !validChannel(channel) {
		return domain.Conversation{}, fmt.Errorf("%w: unknown channel %q", ErrInvalidInbound, channel)
	}

	key := ownerID + "\x00" + string(channel) + "\x00" + externalIdentity
	v, err, _ := r.group.Do(key, func() (any, error) {
		now := r.now().UTC()
		conv, created, err := r.store.ResolveConversation(ctx, domain.Conversation{
			ID:               util.NewID(),
			OwnerID:          ownerID,
			Channel:          channel,
			ExternalIdentity: externalIdentity,
			Status:           domain.ConversationOpen,
			AIState:          domain.AIOn,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
		if err != nil {
			return domain.Conversation{}, fmt.Errorf("resolve conversation: %w", err)
		}
		if created {
			util.LoggerFromContext(ctx).Info("conversation created", "conversation_id", conv.ID, "channel", channel)
		}
		return conv, nil
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	return v.(domain.Conversation), nil
}

// LinkCustomer attaches a known customer of the same owner to the conversation.
func (r *Resolver) LinkCustomer(ctx context.Context, conversationID, customerID string) (domain.Conversation, error) {
	conv, err := r.load(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	customer, ok, err := r.store.GetCustomer(ctx, customerID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("load customer: %w", err)
	}
	if !ok {
		return domain.Conversation{}, ErrCustomerNotFound
	}
	if customer.OwnerID != conv.OwnerID {
		return domain.Conversation{}, ErrCustomerOwnerMismatch
	}
	return r.update(ctx, conversationID, store.ConversationUpdate{CustomerID: &customer.ID})
}

// SetAIState pauses or resumes AI drafting for a conversation.
func (r *Resolver) SetAIState(ctx context.Context, conversationID string, state domain.AIState) (domain.Conversation, error) {
	switch state {
	case domain.AIOn, domain.AIPausedByHuman:
	default:
		return domain.Conversation{}, fmt.Errorf("%w: %q", ErrInvalidAIState, state)
	}
	return r.update(ctx, conversationID, store.ConversationUpdate{AIState: &state})
}

// SetStatus moves the conversation between open, requires_human and closed.
func (r *Resolver) SetStatus(ctx context.Context, conversationID string, status domain.ConversationStatus) (domain.Conversation, error) {
	switch status {
	case domain.ConversationOpen, domain.ConversationRequiresHuman, domain.ConversationClosed:
	default:
		return domain.Conversation{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return r.update(ctx, conversationID, store.ConversationUpdate{Status: &status})
}

func (r *Resolver) load(ctx context.Context, conversationID string) (domain.Conversation, error) {
	conv, ok, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	if !ok {
		return domain.Conversation{}, ErrConversationNotFound
	}
	return conv, nil
}

func (r *Resolver) update(ctx context.Context, conversationID string, update store.ConversationUpdate) (domain.Conversation, error) {
	conv, err := r.store.UpdateConversation(ctx, conversationID, update)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Conversation{}, ErrConversationNotFound
		}
		return domain.Conversation{}, fmt.Errorf("update conversation: %w", err)
	}
	return conv, nil
}

func validChannel(ch domain.Channel) bool {
	switch ch {
	case domain.ChannelWhatsApp, domain.ChannelSMS, domain.ChannelEmail, domain.ChannelWeb:
		return true
	}
	return false
}
