package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-core/internal/common"
	"github.com/noah-isme/storefront-core/internal/obs"
)

// TaskSendMail is the asynq task type carrying one rendered email.
const TaskSendMail = "mail:send"

// MailQueue is the asynq queue mail tasks are placed on.
const MailQueue = "mail"

// Message is the task payload.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// NewMailTask wraps m in an asynq task. Mail is retried at most once.
func NewMailTask(m Message) (*asynq.Task, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSendMail, payload, asynq.MaxRetry(1), asynq.Queue(MailQueue), asynq.Timeout(30*time.Second)), nil
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher implements common.EmailSender by handing mail to the worker.
// When the queue is unavailable it falls back to sending inline.
type Dispatcher struct {
	Client   Enqueuer
	Fallback common.EmailSender
	Timeout  time.Duration
	Logger   zerolog.Logger
}

func (d Dispatcher) Send(to, subject, html string) error {
	if d.Client == nil {
		return d.fallback(to, subject, html, nil)
	}
	task, err := NewMailTask(Message{To: to, Subject: subject, HTML: html})
	if err != nil {
		return err
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	info, err := d.Client.EnqueueContext(ctx, task)
	if err != nil {
		return d.fallback(to, subject, html, err)
	}
	obs.Inc(obs.NotificationTotal, "enqueue", "ok")
	d.Logger.Debug().Str("task_id", info.ID).Str("subject", subject).Msg("mail enqueued")
	return nil
}

func (d Dispatcher) fallback(to, subject, html string, cause error) error {
	if cause != nil {
		obs.Inc(obs.NotificationTotal, "enqueue", "error")
		d.Logger.Warn().Err(cause).Str("subject", subject).Msg("mail queue unavailable, sending inline")
	}
	if d.Fallback == nil {
		if cause != nil {
			return fmt.Errorf("enqueue mail: %w", cause)
		}
		return nil
	}
	return d.Fallback.Send(to, subject, html)
}

// MailHandler delivers mail tasks in the worker.
type MailHandler struct {
	Sender common.EmailSender
	Logger zerolog.Logger
}

// ProcessTask implements asynq.Handler. A malformed payload is skipped since
// retrying it cannot succeed.
func (h MailHandler) ProcessTask(_ context.Context, t *asynq.Task) error {
	var m Message
	if err := json.Unmarshal(t.Payload(), &m); err != nil {
		h.Logger.Error().Err(err).Msg("drop malformed mail task")
		return fmt.Errorf("decode mail task: %v: %w", err, asynq.SkipRetry)
	}
	if m.To == "" {
		return nil
	}
	if err := h.Sender.Send(m.To, m.Subject, m.HTML); err != nil {
		obs.Inc(obs.NotificationTotal, "deliver", "error")
		return fmt.Errorf("deliver mail to %s: %w", m.To, err)
	}
	obs.Inc(obs.NotificationTotal, "deliver", "ok")
	h.Logger.Info().Str("to", m.To).Str("subject", m.Subject).Msg("mail delivered")
	return nil
}
