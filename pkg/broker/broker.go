// Package broker owns the raw AMQP connection, channel and topology
// plumbing backing the dispatch protocol. It knows nothing about task or
// result envelopes; pkg/dispatcher builds on top of it for that.
package broker

import (
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/umbrella22/ops-service/pkg/config"
	"github.com/umbrella22/ops-service/pkg/errors"
	"github.com/umbrella22/ops-service/pkg/logger/log"
)

// Exchange kinds for the three logical channels of the dispatch protocol.
// TasksExchange and ControlExchange are topic exchanges routed by key;
// ResultsExchange is a fanout so every interested consumer (the
// orchestrator's aggregator, any status-poll subscriber) sees every result.
const (
	tasksExchangeKind   = "topic"
	resultsExchangeKind = "fanout"
	controlExchangeKind = "topic"
)

// Broker owns a single AMQP connection and re-dials it on drop. Callers open
// their own Channel per publisher/consumer via Channel(); Broker does not
// hand out a shared channel, since amqp.Channel is not safe for concurrent
// Publish from multiple goroutines.
type Broker struct {
	cfg config.BrokerConfig

	mu     sync.RWMutex
	conn   *amqp.Connection
	closed bool

	closeNotify chan struct{}
}

// New dials cfg.URL and declares the three exchanges. It returns an error if
// the initial dial fails; Start must be called afterward to keep the
// connection alive across drops.
func New(cfg config.BrokerConfig) (*Broker, error) {
	b := &Broker{cfg: cfg, closeNotify: make(chan struct{})}
	if err := b.connect(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Broker) connect() error {
	conn, err := amqp.Dial(b.cfg.URL)
	if err != nil {
		return errors.NewError().WithCode(errors.BrokerError).WithMessage("dial broker").WithError(err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return errors.NewError().WithCode(errors.BrokerError).WithMessage("open setup channel").WithError(err)
	}
	defer ch.Close()

	if err := declareTopology(ch, b.cfg); err != nil {
		_ = conn.Close()
		return err
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	return nil
}

func declareTopology(ch *amqp.Channel, cfg config.BrokerConfig) error {
	declarations := []struct {
		name string
		kind string
	}{
		{cfg.TasksExchange, tasksExchangeKind},
		{cfg.ResultsExchange, resultsExchangeKind},
		{cfg.ControlExchange, controlExchangeKind},
	}
	for _, d := range declarations {
		if err := ch.ExchangeDeclare(d.name, d.kind, true, false, false, false, nil); err != nil {
			return errors.NewError().WithCode(errors.BrokerError).
				WithMessagef("declare exchange %s", d.name).WithError(err)
		}
	}
	return nil
}

// Start runs a background reconnect loop: whenever the current connection
// closes (drop, broker restart), it redials after cfg.ReconnectInterval
// until stop is closed. Callers obtain a fresh Channel per use, so an
// in-flight Channel from a stale connection simply errors on its next call
// and the caller is expected to retry via Channel().
func (b *Broker) Start(stop <-chan struct{}) {
	go func() {
		for {
			b.mu.RLock()
			conn := b.conn
			b.mu.RUnlock()

			notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))

			select {
			case err := <-notifyClose:
				if err != nil {
					log.Errorf("broker connection lost: %v", err)
				}
			case <-stop:
				return
			}

			b.mu.RLock()
			closed := b.closed
			b.mu.RUnlock()
			if closed {
				return
			}

			for {
				select {
				case <-stop:
					return
				case <-time.After(b.cfg.ReconnectInterval):
				}
				if err := b.connect(); err != nil {
					log.Errorf("broker reconnect failed: %v", err)
					continue
				}
				log.Info("broker reconnected")
				break
			}
		}
	}()
}

// Channel opens a fresh AMQP channel on the current connection, with QoS
// prefetch set from cfg.PrefetchCount when it is positive. Publisher
// confirms are not enabled on the returned channel.
func (b *Broker) Channel() (*amqp.Channel, error) {
	b.mu.RLock()
	conn := b.conn
	closed := b.closed
	b.mu.RUnlock()
	if closed || conn == nil {
		return nil, errors.NewError().WithCode(errors.BrokerError).WithMessage("broker connection closed")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.NewError().WithCode(errors.BrokerError).WithMessage("open channel").WithError(err)
	}
	if b.cfg.PrefetchCount > 0 {
		if err := ch.Qos(b.cfg.PrefetchCount, 0, false); err != nil {
			_ = ch.Close()
			return nil, errors.NewError().WithCode(errors.BrokerError).WithMessage("set qos").WithError(err)
		}
	}
	return ch, nil
}

// Config returns the broker's exchange/tuning configuration.
func (b *Broker) Config() config.BrokerConfig { return b.cfg }

// DeclareQueue declares a durable queue and binds it to exchange with
// routingKey, returning the queue name. An empty name lets the broker
// generate one, declared non-durable, exclusive and auto-delete (the
// runner's per-instance task queue is declared this way).
func DeclareQueue(ch *amqp.Channel, exchange, name, routingKey string) (string, error) {
	durable := name != ""
	q, err := ch.QueueDeclare(name, durable, !durable, !durable, false, nil)
	if err != nil {
		return "", errors.NewError().WithCode(errors.BrokerError).
			WithMessagef("declare queue %s", name).WithError(err)
	}
	if err := ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		return "", errors.NewError().WithCode(errors.BrokerError).
			WithMessagef("bind queue %s to %s", q.Name, exchange).WithError(err)
	}
	return q.Name, nil
}

// Close shuts down the connection and stops any reconnect loop started via
// Start.
func (b *Broker) Close() error {
	b.mu.Lock()
	b.closed = true
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
