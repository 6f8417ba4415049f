package dispatcher

import (
	"context"

	"github.com/streadway/amqp"

	"github.com/umbrella22/ops-service/pkg/database"
	"github.com/umbrella22/ops-service/pkg/database/model"
	dberrors "github.com/umbrella22/ops-service/pkg/errors"
)

// ResultHandler applies a terminal result to Task state; progress envelopes
// are ignored. It returns (applied=false, nil) for a progress envelope, and
// when the envelope was a harmless redelivery
// of a result already applied — at-least-once delivery means every
// consumer must treat "no longer running" as "already handled", not as an
// error.
type ResultHandler struct {
	tasks database.TaskFacadeInterface
}

// NewResultHandler wraps tasks for applying ops.results envelopes.
func NewResultHandler(tasks database.TaskFacadeInterface) *ResultHandler {
	return &ResultHandler{tasks: tasks}
}

// Apply applies env to the Task row it targets. Dedup-by-(task_id, attempt)
// falls out of the facade's own conditional update: Complete/Fail only
// affect a row still in "running", so a redelivered terminal envelope for a
// task already completed finds zero matching rows and is reported here as
// a duplicate rather than surfaced as ErrTaskNotFound.
func (h *ResultHandler) Apply(ctx context.Context, env *ResultEnvelope) (applied bool, err error) {
	if env.Kind != ResultKindTerminal {
		return false, nil
	}

	if env.Status == model.TaskStatusSucceeded {
		exitCode := 0
		if env.ExitCode != nil {
			exitCode = *env.ExitCode
		}
		err = h.tasks.Complete(ctx, env.TaskID, exitCode, env.OutputHandle, false)
	} else {
		err = h.tasks.Fail(ctx, env.TaskID, env.FailureReason, env.ExitCode, env.OutputHandle)
	}

	if err == nil {
		return true, nil
	}
	if err == database.ErrTaskNotFound {
		return false, nil
	}
	return false, err
}

// Consume starts an AMQP consumer on queueName (already bound to
// ops.results by the caller via broker.DeclareQueue) and applies each
// delivery through handle. Deliveries that error are nacked and requeued;
// successfully applied or recognized-duplicate deliveries are acked.
func Consume(ctx context.Context, ch *amqp.Channel, queueName string, handle func(context.Context, *ResultEnvelope) error) error {
	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return dberrors.NewError().WithCode(dberrors.BrokerError).WithMessage("start consumer").WithError(err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			env, decodeErr := DecodeResult(d.Body)
			if decodeErr != nil {
				_ = d.Nack(false, false)
				continue
			}
			if applyErr := handle(ctx, env); applyErr != nil {
				_ = d.Nack(false, true)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// ConsumeTasks starts an AMQP consumer on queueName (already bound to
// ops.tasks by the caller) and hands each decoded TaskEnvelope to handle.
// A handle error nacks-and-requeues the delivery; the envelope itself is a
// wake-up signal only, so requeueing it costs nothing beyond a redundant
// doorbell — the runner's own ClaimTask is what actually owns the task row.
func ConsumeTasks(ctx context.Context, ch *amqp.Channel, queueName string, handle func(context.Context, *TaskEnvelope) error) error {
	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return dberrors.NewError().WithCode(dberrors.BrokerError).WithMessage("start task consumer").WithError(err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			env, decodeErr := DecodeTask(d.Body)
			if decodeErr != nil {
				_ = d.Nack(false, false)
				continue
			}
			if applyErr := handle(ctx, env); applyErr != nil {
				_ = d.Nack(false, true)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// ConsumeControl starts an AMQP consumer on queueName (already bound to
// ops.control by the caller) and hands each decoded ControlEnvelope to
// handle.
func ConsumeControl(ctx context.Context, ch *amqp.Channel, queueName string, handle func(context.Context, *ControlEnvelope) error) error {
	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return dberrors.NewError().WithCode(dberrors.BrokerError).WithMessage("start control consumer").WithError(err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			env, decodeErr := DecodeControl(d.Body)
			if decodeErr != nil {
				_ = d.Nack(false, false)
				continue
			}
			if applyErr := handle(ctx, env); applyErr != nil {
				_ = d.Nack(false, true)
				continue
			}
			_ = d.Ack(false)
		}
	}
}
