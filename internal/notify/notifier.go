package notify

import (
	"context"
	"log/slog"

	"github.com/jacklau/autofix/internal/pipeline"
	"github.com/jacklau/autofix/internal/pubsub"
)

// Report is what a notifier announces about one fix job.
type Report struct {
	Event       pubsub.EventType
	Repo        string
	File        string
	Line        int
	EndLine     int
	IssueType   string
	Description string
	URL         string
	Detail      string
}

// Notifier sends notifications about fix job outcomes.
type Notifier interface {
	Notify(ctx context.Context, report Report) error
}

// MultiNotifier sends notifications to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a MultiNotifier from the given notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Notify sends the report to all configured notifiers.
// It logs errors from individual notifiers but continues to the rest.
// Returns the last error encountered, if any.
func (m *MultiNotifier) Notify(ctx context.Context, report Report) error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, report); err != nil {
			slog.Warn("notifier error", "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// NewNotifier builds a notifier for whichever webhook URLs are set. It
// returns nil when neither is.
func NewNotifier(slackURL, discordURL string) Notifier {
	var ns []Notifier
	if slackURL != "" {
		ns = append(ns, NewSlackNotifier(slackURL))
	}
	if discordURL != "" {
		ns = append(ns, NewDiscordNotifier(discordURL))
	}
	switch len(ns) {
	case 0:
		return nil
	case 1:
		return ns[0]
	default:
		return NewMultiNotifier(ns...)
	}
}

// ReportFromEvent converts a pipeline outcome into a Report. Only delivered
// and rejected outcomes are announced.
func ReportFromEvent(evt pubsub.Event[pipeline.Outcome]) (Report, bool) {
	if evt.Type != pubsub.Delivered && evt.Type != pubsub.Rejected {
		return Report{}, false
	}
	job := evt.Payload.Job
	r := Report{
		Event:       evt.Type,
		Repo:        job.Repo(),
		File:        job.FilePath,
		Line:        job.Issue.Line,
		EndLine:     job.Issue.EndLine,
		IssueType:   job.Issue.Type(),
		Description: job.Issue.Describe(),
		URL:         evt.Payload.URL,
	}
	if res := evt.Payload.Result; res != nil && evt.Type == pubsub.Rejected {
		r.Detail = res.Verdict.String()
	}
	return r, true
}

// Listen announces outcomes from events until the channel closes. A failed
// notification is retried once.
func Listen(ctx context.Context, events <-chan pubsub.Event[pipeline.Outcome], n Notifier, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for evt := range events {
		report, ok := ReportFromEvent(evt)
		if !ok {
			continue
		}
		if err := n.Notify(ctx, report); err != nil {
			logger.Warn("notification failed, retrying once", "error", err, "repo", report.Repo)
			if err := n.Notify(ctx, report); err != nil {
				logger.Error("notification retry failed", "error", err, "repo", report.Repo)
			}
		}
	}
}
