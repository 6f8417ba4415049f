package dispatcher

import (
	"context"
	"sync"

	"github.com/streadway/amqp"

	"github.com/umbrella22/ops-service/pkg/broker"
	"github.com/umbrella22/ops-service/pkg/errors"
)

// Publisher provides a convenient interface for publishing envelopes onto
// the three dispatch exchanges. It owns one lazily-opened channel, guarded
// by a mutex since amqp.Channel is not safe for concurrent Publish.
type Publisher struct {
	br *broker.Broker

	mu sync.Mutex
	ch *amqp.Channel
}

// NewPublisher wraps br for envelope publishing.
func NewPublisher(br *broker.Broker) *Publisher {
	return &Publisher{br: br}
}

func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.br.Channel()
	if err != nil {
		return nil, err
	}
	p.ch = ch
	return ch, nil
}

func (p *Publisher) publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	ch, err := p.channel()
	if err != nil {
		return err
	}
	err = ch.Publish(exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return errors.NewError().WithCode(errors.BrokerError).
			WithMessagef("publish to %s/%s", exchange, routingKey).WithError(err)
	}
	return nil
}

// PublishTask publishes env to ops.tasks, routed by capability/environment.
func (p *Publisher) PublishTask(ctx context.Context, capability string, env *TaskEnvelope) error {
	body, err := EncodeTask(env)
	if err != nil {
		return errors.NewError().WithCode(errors.BrokerError).WithMessage("encode task envelope").WithError(err)
	}
	routingKey := TasksRoutingKey(capability, env.Environment)
	return p.publish(ctx, p.br.Config().TasksExchange, routingKey, body)
}

// PublishResult publishes env to ops.results. ops.results is a fanout
// exchange, so routingKey is ignored by the broker but still recorded for
// operational tooling that inspects unrouted messages.
func (p *Publisher) PublishResult(ctx context.Context, env *ResultEnvelope) error {
	body, err := EncodeResult(env)
	if err != nil {
		return errors.NewError().WithCode(errors.BrokerError).WithMessage("encode result envelope").WithError(err)
	}
	return p.publish(ctx, p.br.Config().ResultsExchange, string(env.Kind), body)
}

// PublishControl publishes env to ops.control, routed by task.<id> or
// job.<id> depending on env.Kind.
func (p *Publisher) PublishControl(ctx context.Context, env *ControlEnvelope) error {
	body, err := EncodeControl(env)
	if err != nil {
		return errors.NewError().WithCode(errors.BrokerError).WithMessage("encode control envelope").WithError(err)
	}
	return p.publish(ctx, p.br.Config().ControlExchange, ControlRoutingKey(env), body)
}
