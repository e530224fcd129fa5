package audit

import (
	"context"
	"time"

	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/pkg/logger"
	"github.com/jwalitptl/admin-rbac/pkg/messaging"
	"github.com/jwalitptl/admin-rbac/pkg/metrics"
)

const DefaultChannel = "audit.records"

const publishTimeout = 2 * time.Second

// Publisher fans committed records out to a broker channel for downstream
// consumers. Publishing is best effort and never affects the audited
// operation.
type Publisher struct {
	broker  messaging.Publisher
	channel string
	metrics *metrics.Metrics
	logger  *logger.Logger
}

func NewPublisher(broker messaging.Publisher, channel string, m *metrics.Metrics, log *logger.Logger) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{
		broker:  broker,
		channel: channel,
		metrics: m,
		logger:  log,
	}
}

func (p *Publisher) Publish(ctx context.Context, rec *model.AuditRecord) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.broker.Publish(ctx, p.channel, rec); err != nil {
		p.metrics.AuditPublishFailures.Inc()
		p.logger.Error(err, "failed to publish audit record",
			"record_id", rec.ID.String(),
			"channel", p.channel,
		)
	}
}
