// Package processor turns one inbound message into a translation result.
package processor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"translation-relay/metrics"
	"translation-relay/models"
)

// TextService is the external translation and reply capability.
type TextService interface {
	Translate(ctx context.Context, text, hint string) (string, error)
	GenerateReply(ctx context.Context, text string) (string, error)
}

// Processor is safe for concurrent use; it touches no shared state other
// than the metrics registry.
type Processor struct {
	text    TextService
	metrics *metrics.Registry
	logger  logrus.FieldLogger
	now     func() time.Time
}

func New(text TextService, m *metrics.Registry, logger logrus.FieldLogger) *Processor {
	return &Processor{
		text:    text,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Handle translates msg and, when requested, generates a reply to the
// translation. A failure in either step fails the whole message: the errors
// counter is incremented once and the error is returned for the caller to
// report as an ErrorResult.
func (p *Processor) Handle(ctx context.Context, userID string, msg models.IncomingMessage) (models.TranslationResult, error) {
	p.metrics.Inc(metrics.TotalMessages)

	translated, err := p.text.Translate(ctx, msg.Text, msg.Language)
	if err != nil {
		p.metrics.Inc(metrics.Errors)
		p.logger.WithError(err).WithField("user_id", userID).Warn("Translation failed")
		return models.TranslationResult{}, err
	}
	p.metrics.Inc(metrics.TranslatedCount)

	var reply *string
	if msg.NeedResponse {
		r, err := p.text.GenerateReply(ctx, translated)
		if err != nil {
			p.metrics.Inc(metrics.Errors)
			p.logger.WithError(err).WithField("user_id", userID).Warn("Reply generation failed")
			return models.TranslationResult{}, err
		}
		reply = &r
	}

	return models.TranslationResult{
		Timestamp:      p.now(),
		UserID:         userID,
		OriginalText:   msg.Text,
		TranslatedText: translated,
		AutoReply:      reply,
	}, nil
}
