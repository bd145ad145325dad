package consumerWorker

import (
	"context"
	"encoding/json"

	"github.com/wb-go/wbf/zlog"

	"eventreg/internal/model"
)

type Consumer interface {
	Consume(handler func([]byte) error) error
}

type Sender interface {
	Send(ctx context.Context, n model.Notification) error
}

type Reader struct {
	RMQ    Consumer
	mailer Sender
	done   chan struct{}
	cancel context.CancelFunc
}

func NewReader(rmq Consumer, mailer Sender) *Reader {
	return &Reader{
		RMQ:    rmq,
		mailer: mailer,
		done:   make(chan struct{}),
	}
}

// Handle processes one notification message. Malformed messages are logged
// and dropped; a delivery failure is returned so the broker retries it.
func (r *Reader) Handle(ctx context.Context, body []byte) error {
	var msg model.Notification
	if err := json.Unmarshal(body, &msg); err != nil {
		zlog.Logger.Error().
			Err(err).
			Msgf("Failed to unmarshal message: %s", string(body))
		return nil
	}

	zlog.Logger.Info().
		Str("registration_id", msg.RegistrationID).
		Str("kind", string(msg.Kind)).
		Msg("Received notification from RabbitMQ")

	if err := r.mailer.Send(ctx, msg); err != nil {
		zlog.Logger.Warn().
			Err(err).
			Str("registration_id", msg.RegistrationID).
			Msg("Failed to send notification on e-mail")
		return err
	}
	return nil
}

func (r *Reader) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	zlog.Logger.Info().Msg("RabbitMQ Reader started")

	go func() {
		defer close(r.done)

		handler := func(body []byte) error {
			return r.Handle(cctx, body)
		}

		if err := r.RMQ.Consume(handler); err != nil {
			zlog.Logger.Error().Err(err).Msg("Failed to start consuming")
			return
		}

		<-cctx.Done()
		zlog.Logger.Info().Msg("RabbitMQ Reader stopped by context")
	}()
}

func (r *Reader) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}
