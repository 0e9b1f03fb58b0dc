package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nsqio/go-nsq"
	"go.uber.org/zap"

	"github.com/mn-ibiz/pos-sub020/confirmation"
	"github.com/mn-ibiz/pos-sub020/logging"
)

// DefaultTopic is the NSQ topic transitions are published to
const DefaultTopic = "payment.transitions"

type publisher interface {
	Publish(topic string, body []byte) error
	Stop()
}

// NSQPublisher publishes each transition as JSON to an NSQ topic
type NSQPublisher struct {
	producer publisher
	topic    string
}

// NewNSQPublisher connects to nsqd at address
func NewNSQPublisher(address, topic string) (*NSQPublisher, error) {
	producer, err := nsq.NewProducer(address, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create NSQ producer: %w", err)
	}
	producer.SetLogger(zap.NewStdLog(logging.GetLogger()), nsq.LogLevelWarning)

	if err := producer.Ping(); err != nil {
		producer.Stop()
		return nil, fmt.Errorf("failed to ping NSQ daemon: %w", err)
	}

	return newNSQPublisher(producer, topic), nil
}

func newNSQPublisher(p publisher, topic string) *NSQPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &NSQPublisher{producer: p, topic: topic}
}

// Publish sends one transition message
func (p *NSQPublisher) Publish(msg TransitionMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := p.producer.Publish(p.topic, body); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// ObserveTransition publishes t; failures are logged and never stop the attempt
func (p *NSQPublisher) ObserveTransition(ctx context.Context, snap confirmation.Snapshot, t confirmation.Transition) {
	if err := p.Publish(newTransitionMessage(snap, t)); err != nil {
		logging.FromContext(ctx).Error("Failed to publish transition",
			zap.Error(err),
			zap.String("topic", p.topic),
			zap.String("attempt_id", snap.AttemptID),
		)
	}
}

// Stop gracefully stops the producer
func (p *NSQPublisher) Stop() {
	p.producer.Stop()
}
