package job

import (
	"context"
	"errors"

	"github.com/elberrd/pricewatch/internal/scraper"
)

// PublisherNotifier forwards terminal job reports to a message topic.
type PublisherNotifier struct {
	publisher scraper.Publisher
	topic     string
}

// NewPublisherNotifier wraps a Publisher as a job Notifier.
func NewPublisherNotifier(publisher scraper.Publisher, topic string) *PublisherNotifier {
	return &PublisherNotifier{publisher: publisher, topic: topic}
}

// Notify publishes the report.
func (n *PublisherNotifier) Notify(ctx context.Context, report Report) error {
	_, err := n.publisher.Publish(ctx, n.topic, report)
	return err
}

// MultiNotifier fans a report out to several notifiers. Each notifier
// gets its chance even when earlier ones fail.
type MultiNotifier []Notifier

// Notify delivers to every notifier and joins the failures.
func (m MultiNotifier) Notify(ctx context.Context, report Report) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
