package messaging

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/relaykit/eventrelay/internal/core/ports"
)

var _ ports.BatchNotifier = (*RabbitMQBroker)(nil)

// PublishBatchDelivered announces a committed batch on the broker.
// The relay treats any error here as log-and-drop.
func (rmq *RabbitMQBroker) PublishBatchDelivered(ctx context.Context, evt ports.BatchDelivered) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	// Respect context deadline
	if deadline, ok := ctx.Deadline(); ok {
		if time.Until(deadline) <= 0 {
			return ctx.Err()
		}
	}

	_, err = rmq.cb.Execute(func() (interface{}, error) {
		err := rmq.ch.PublishWithContext(
			ctx,
			"",            // exchange (default)
			rmq.queueName, // routing key == queue name
			false,         // mandatory
			false,         // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Body:         body,
			},
		)
		return nil, err
	})
	return err
}
