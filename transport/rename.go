package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
)

// RenameTopics wraps a transport so every topic passes through rename before
// reaching the broker. Brokers with stricter naming rules than dotted queue
// names (SQS queues, JetStream streams) use it.
func RenameTopics(t Transport, rename func(string) string) Transport {
	if rename == nil {
		return t
	}
	out := Transport{Caps: t.Caps}
	if t.Publisher != nil {
		out.Publisher = &renamingPublisher{Publisher: t.Publisher, rename: rename}
	}
	if t.Subscriber != nil {
		out.Subscriber = &renamingSubscriber{Subscriber: t.Subscriber, rename: rename}
	}
	return out
}

type renamingPublisher struct {
	message.Publisher
	rename func(string) string
}

func (p *renamingPublisher) Publish(topic string, msgs ...*message.Message) error {
	return p.Publisher.Publish(p.rename(topic), msgs...)
}

type renamingSubscriber struct {
	message.Subscriber
	rename func(string) string
}

func (s *renamingSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.Subscriber.Subscribe(ctx, s.rename(topic))
}

// Start forwards to the wrapped subscriber when it needs deferred startup.
func (s *renamingSubscriber) Start(ctx context.Context) error {
	if starter, ok := s.Subscriber.(Starter); ok {
		return starter.Start(ctx)
	}
	return nil
}
