package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"capsule-go/internal/services"
)

// Publisher is the subset of Client the graph publisher needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// GraphEventPublisher publishes every graph event to "<prefix>.<userID>",
// so each user subscribes only to the events addressed to them.
type GraphEventPublisher struct {
	pub    Publisher
	prefix string
}

func NewGraphEventPublisher(pub Publisher, prefix string) *GraphEventPublisher {
	return &GraphEventPublisher{pub: pub, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject 返回某个用户的事件主题
func (p *GraphEventPublisher) Subject(userID string) string {
	if p.prefix == "" {
		return userID
	}
	return p.prefix + "." + userID
}

// DeliverGraphEvents publishes each event independently; one failed publish does not stop the rest.
func (p *GraphEventPublisher) DeliverGraphEvents(ctx context.Context, events []services.GraphEvent) error {
	var errs []error
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if event.UserID == "" {
			continue
		}
		data, err := json.Marshal(event)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s event: %w", event.Type, err))
			continue
		}
		if err := p.pub.Publish(p.Subject(event.UserID), data); err != nil {
			errs = append(errs, fmt.Errorf("publish %s event to %s: %w", event.Type, event.UserID, err))
		}
	}
	return errors.Join(errs...)
}
