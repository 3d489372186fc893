package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for purchase order dispatch mail.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeOverdueSweep flips pending vendor bills past due to overdue.
	TaskTypeOverdueSweep = "billing:overdue_sweep"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// NewOverdueSweepTask constructs the sweep task; it carries no payload.
func NewOverdueSweepTask() *asynq.Task {
	return asynq.NewTask(TaskTypeOverdueSweep, nil)
}

// NewSendEmailHandler returns the mail:send handler. Actual SMTP delivery is
// an external collaborator; this logs the dispatch so the mail relay tailing
// the log (or a later SMTP integration) can take over.
func NewSendEmailHandler(logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SendEmailPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		logger.Info("dispatching mail",
			slog.String("to", payload.To),
			slog.String("subject", payload.Subject),
		)
		return nil
	}
}
