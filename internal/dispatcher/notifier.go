package dispatcher

import (
	"log/slog"
	"time"

	"writerctl/pkg/cloudevent"
)

// StatusEventType is the CloudEvent type of aggregate status notifications.
const StatusEventType = "writerctl.status"

// StatusPayload is the data of a status notification.
type StatusPayload struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Jobs    []string  `json:"jobs"`
	Time    time.Time `json:"time"`
}

// StatusNotifier turns aggregate status changes into notifications.
type StatusNotifier struct {
	dispatcher  Dispatcher
	destination string
	signingKey  string
	source      string
	logger      *slog.Logger
}

// NewStatusNotifier creates a notifier. An empty destination disables it.
func NewStatusNotifier(d Dispatcher, destination, signingKey string) *StatusNotifier {
	return &StatusNotifier{
		dispatcher:  d,
		destination: destination,
		signingKey:  signingKey,
		source:      "writerctl",
		logger:      slog.With("component", "notifier"),
	}
}

// Notify queues a status notification. Failures are logged only.
func (n *StatusNotifier) Notify(level, message string, jobs []string) {
	if n == nil || n.destination == "" {
		return
	}
	if jobs == nil {
		jobs = []string{}
	}

	ev, err := cloudevent.New(StatusEventType, n.source, level, StatusPayload{
		Level:   level,
		Message: message,
		Jobs:    jobs,
		Time:    time.Now().UTC(),
	})
	if err != nil {
		n.logger.Error("Cannot build status notification", "error", err)
		return
	}

	if err := n.dispatcher.Dispatch(&Notification{
		Payload:     ev,
		Destination: n.destination,
		SigningKey:  n.signingKey,
	}); err != nil {
		n.logger.Warn("Status notification not queued", "level", level, "error", err)
	}
}
