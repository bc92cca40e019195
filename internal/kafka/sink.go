package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"capsule-go/internal/config"
	"capsule-go/internal/services"
)

const (
	headerEventType   = "event-type"
	headerContentType = "content-type"

	eventInvite           = "capsule.invite"
	eventKnowledgeRefresh = "capsule.knowledge_refresh"
)

// KnowledgeRefreshMessage is the payload written to the knowledge refresh topic.
type KnowledgeRefreshMessage struct {
	CapsuleID   string    `json:"capsuleId"`
	Name        string    `json:"name"`
	RequestedAt time.Time `json:"requestedAt"`
}

// CollaboratorSink writes invite notifications and knowledge refresh jobs to Kafka.
// Invites are keyed by invitee and refresh jobs by capsule, so each stays ordered per key.
type CollaboratorSink struct {
	producer     MessageProducer
	inviteTopic  string
	refreshTopic string
	timeout      time.Duration
	now          func() time.Time
}

// NewCollaboratorSink 创建 Kafka 投递端
func NewCollaboratorSink(producer MessageProducer, cfg config.KafkaConfig) *CollaboratorSink {
	return &CollaboratorSink{
		producer:     producer,
		inviteTopic:  cfg.InviteTopic,
		refreshTopic: cfg.KnowledgeRefreshTopic,
		timeout:      cfg.DeliveryTimeout,
		now:          time.Now,
	}
}

func (s *CollaboratorSink) DeliverInvite(ctx context.Context, invite services.InviteNotification) error {
	payload, err := json.Marshal(invite)
	if err != nil {
		return fmt.Errorf("encode invite: %w", err)
	}
	return s.send(ctx, s.inviteTopic, invite.InviteeID, eventInvite, payload)
}

func (s *CollaboratorSink) DeliverKnowledgeRefresh(ctx context.Context, capsuleID, name string) error {
	payload, err := json.Marshal(KnowledgeRefreshMessage{
		CapsuleID:   capsuleID,
		Name:        name,
		RequestedAt: s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode knowledge refresh: %w", err)
	}
	return s.send(ctx, s.refreshTopic, capsuleID, eventKnowledgeRefresh, payload)
}

func (s *CollaboratorSink) send(ctx context.Context, topic, key, eventType string, payload []byte) error {
	if topic == "" {
		return fmt.Errorf("kafka sink: no topic configured")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.producer.Send(ctx, Message{
		Topic: topic,
		Key:   key,
		Value: payload,
		Headers: map[string]string{
			headerEventType:   eventType,
			headerContentType: "application/json",
		},
	})
}
