package repository

import (
	"context"
	"time"

	"PickFlow/internal/domain/models"
	domrepo "PickFlow/internal/domain/repository"
	pkgkafka "PickFlow/pkg/kafka"
	applogger "PickFlow/pkg/logger"
)

const (
	EventRunSummary = "run.summary"
	EventRunAlert   = "run.alert"
)

// KafkaNotifier publishes run summaries and alerts as JSON events keyed by run date.
type KafkaNotifier struct {
	producer     *pkgkafka.Producer
	summaryTopic string
	alertTopic   string
	now          func() time.Time
}

var _ domrepo.Notifier = (*KafkaNotifier)(nil)

// NewKafkaNotifier creates a Kafka-backed notifier.
func NewKafkaNotifier(producer *pkgkafka.Producer, summaryTopic, alertTopic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, summaryTopic: summaryTopic, alertTopic: alertTopic, now: time.Now}
}

type alertEvent struct {
	Subject string    `json:"subject"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

func (n *KafkaNotifier) NotifySummary(ctx context.Context, s models.RunSummary) error {
	return n.producer.Publish(ctx, n.summaryTopic, []byte(s.RunDate), s,
		pkgkafka.Header{Key: "event", Value: EventRunSummary},
		pkgkafka.Header{Key: "run_id", Value: s.RunID},
	)
}

func (n *KafkaNotifier) Alert(ctx context.Context, subject string, cause error) error {
	ev := alertEvent{Subject: subject, At: n.now().UTC()}
	if cause != nil {
		ev.Error = cause.Error()
	}
	return n.producer.Publish(ctx, n.alertTopic, []byte(subject), ev,
		pkgkafka.Header{Key: "event", Value: EventRunAlert},
	)
}

// LogNotifier writes summaries and alerts to the structured log. It is used
// when no broker is configured.
type LogNotifier struct {
	l *applogger.Logger
}

var _ domrepo.Notifier = (*LogNotifier)(nil)

func NewLogNotifier(l *applogger.Logger) *LogNotifier {
	if l == nil {
		l = applogger.Nop()
	}
	return &LogNotifier{l: l}
}

func (n *LogNotifier) NotifySummary(ctx context.Context, s models.RunSummary) error {
	n.l.Info("run summary",
		applogger.String("run_id", s.RunID),
		applogger.String("run_date", s.RunDate),
		applogger.String("mode", s.Mode),
		applogger.Int("considered", s.TotalConsidered),
		applogger.Int("selected", s.Selected),
		applogger.Int("failed", s.Failed),
		applogger.Float64("success_rate", s.SuccessRate),
		applogger.String("regime", string(s.Regime)),
	)
	return nil
}

func (n *LogNotifier) Alert(ctx context.Context, subject string, cause error) error {
	n.l.Error("ALERT "+subject, applogger.Error(cause))
	return nil
}
