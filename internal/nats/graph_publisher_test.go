package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capsule-go/internal/services"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	out     []published
	failFor string
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	if subject == f.failFor {
		return errors.New("not connected")
	}
	f.out = append(f.out, published{subject: subject, data: data})
	return nil
}

func TestGraphEventPublisher_SubjectPerUser(t *testing.T) {
	pub := &fakePublisher{}
	p := NewGraphEventPublisher(pub, "graph.events.")

	err := p.DeliverGraphEvents(context.Background(), []services.GraphEvent{
		{Type: services.GraphEventFriendRequestSent, UserID: "a", CounterpartID: "b"},
		{Type: services.GraphEventFriendRequestReceived, UserID: "b", CounterpartID: "a"},
		{Type: services.GraphEventFollowed},
	})
	require.NoError(t, err)

	require.Len(t, pub.out, 2)
	assert.Equal(t, "graph.events.a", pub.out[0].subject)
	assert.Equal(t, "graph.events.b", pub.out[1].subject)

	var event services.GraphEvent
	require.NoError(t, json.Unmarshal(pub.out[1].data, &event))
	assert.Equal(t, services.GraphEventFriendRequestReceived, event.Type)
	assert.Equal(t, "a", event.CounterpartID)
}

func TestGraphEventPublisher_ContinuesAfterFailure(t *testing.T) {
	pub := &fakePublisher{failFor: "a"}
	p := NewGraphEventPublisher(pub, "")

	err := p.DeliverGraphEvents(context.Background(), []services.GraphEvent{
		{Type: services.GraphEventBlocked, UserID: "a", CounterpartID: "b"},
		{Type: services.GraphEventBlocked, UserID: "b", CounterpartID: "a"},
	})
	assert.Error(t, err)
	require.Len(t, pub.out, 1)
	assert.Equal(t, "b", pub.out[0].subject)
}
