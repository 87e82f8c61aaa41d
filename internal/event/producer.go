package event

import (
	"context"
	"fmt"
	"time"

	"github.com/Zmiievskyi/Mine-sub000/pkg/kafka"
	"github.com/Zmiievskyi/Mine-sub000/pkg/logger"
)

const (
	// TopicUserRegistered carries new-account events for downstream
	// provisioning (mining workspace setup, CRM sync).
	TopicUserRegistered = "portal.user.registered"

	// TopicVerificationRequested carries verification codes to the mailer.
	TopicVerificationRequested = "portal.user.verification_requested"

	// TopicSessionsRevoked carries bulk-revocation notices for audit.
	TopicSessionsRevoked = "portal.auth.sessions_revoked"

	source        = "auth-service"
	aggregateUser = "user"
)

// UserRegistered is the payload published when an account is created,
// regardless of provider.
type UserRegistered struct {
	UserID        string    `json:"user_id"`
	Email         string    `json:"email,omitempty"`
	Provider      string    `json:"provider"`
	EmailVerified bool      `json:"email_verified"`
	RegisteredAt  time.Time `json:"registered_at"`
}

// VerificationRequested is the payload published when a verification code
// is issued. The code itself travels here; only its hash is stored.
type VerificationRequested struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionsRevoked is the payload published when every session of a user is
// terminated at once.
type SessionsRevoked struct {
	UserID    string    `json:"user_id"`
	Count     int64     `json:"count"`
	Reason    string    `json:"reason"`
	RevokedAt time.Time `json:"revoked_at"`
}

// Publisher emits auth-domain events to Kafka. Publishing failures are
// logged and swallowed; event delivery never blocks an auth operation.
type Publisher struct {
	producer *kafka.Producer
}

// NewPublisher wraps a Kafka producer with the auth-domain topics.
func NewPublisher(producer *kafka.Producer) *Publisher {
	return &Publisher{producer: producer}
}

// UserRegistered publishes a registration event.
func (p *Publisher) UserRegistered(ctx context.Context, payload UserRegistered) {
	p.publish(ctx, TopicUserRegistered, "user.registered", payload.UserID, payload)
}

// VerificationRequested publishes a verification-code event.
func (p *Publisher) VerificationRequested(ctx context.Context, payload VerificationRequested) {
	p.publish(ctx, TopicVerificationRequested, "user.verification_requested", payload.UserID, payload)
}

// SessionsRevoked publishes a bulk-revocation event.
func (p *Publisher) SessionsRevoked(ctx context.Context, payload SessionsRevoked) {
	p.publish(ctx, TopicSessionsRevoked, "auth.sessions_revoked", payload.UserID, payload)
}

func (p *Publisher) publish(ctx context.Context, topic, eventType, aggregateID string, payload any) {
	if p.producer == nil {
		return
	}

	log := logger.FromContext(ctx)

	evt, err := kafka.NewEvent(eventType, aggregateID, aggregateUser, source, payload)
	if err != nil {
		log.ErrorContext(ctx, "failed to build event",
			"event_type", eventType, "error", err.Error())
		return
	}

	if err := p.producer.Publish(ctx, topic, evt); err != nil {
		log.ErrorContext(ctx, fmt.Sprintf("failed to publish %s", eventType),
			"topic", topic, "error", err.Error())
	}
}
