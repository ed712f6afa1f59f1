package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/arkstatus/internal/metrics"
	"github.com/woozymasta/arkstatus/internal/models"
)

// sweepLimit is how many recent channel messages the history sweep inspects.
const sweepLimit = 50

var (
	// ErrPublish is returned when the report message could not be created.
	ErrPublish = errors.New("publish failed")

	// ErrMessageNotFound is returned by a Channel for a message that no longer exists.
	ErrMessageNotFound = errors.New("message not found")

	// ErrForbidden is returned by a Channel when the bot lacks channel permissions.
	ErrForbidden = errors.New("missing channel permissions")
)

// Message is a channel message as seen by the publisher.
type Message struct {
	ID        string
	ChannelID string
	AuthorID  string
	Title     string
	Pinned    bool
}

// Channel is the messaging platform the reports are published to.
type Channel interface {
	Send(ctx context.Context, channelID string, payload Payload) (Message, error)
	Delete(ctx context.Context, channelID, messageID string) error
	Pin(ctx context.Context, channelID, messageID string) error
	Fetch(ctx context.Context, channelID, messageID string) (Message, error)
	History(ctx context.Context, channelID string, limit int) ([]Message, error)
	SelfID() string
}

// Publisher replaces the live report message of a tenant with a fresh one.
type Publisher struct {
	channel  Channel
	now      func() time.Time
	renderer Renderer
	sweep    bool
}

// NewPublisher creates a publisher. With sweep enabled, stale bot reports are
// removed from channel history whenever no prior message is known.
func NewPublisher(channel Channel, renderer Renderer, sweep bool) *Publisher {
	return &Publisher{
		channel:  channel,
		renderer: renderer,
		sweep:    sweep,
		now:      time.Now,
	}
}

// Publish deletes the prior message best-effort, sends the new report and pins it.
// When sending fails the returned handle is unset so the next cycle starts from scratch.
func (p *Publisher) Publish(ctx context.Context, report models.TenantReport, channelID string, prior models.PublishedMessageHandle) (models.PublishedMessageHandle, error) {
	logger := log.With().Str("tenant", report.TenantID).Str("channel", channelID).Logger()
	payload := p.renderer.Render(report)

	if prior.IsSet() {
		p.deleteBestEffort(ctx, prior.ChannelID, prior.MessageID)
	} else if p.sweep {
		p.sweepHistory(ctx, channelID)
	}

	msg, err := p.channel.Send(ctx, channelID, payload)
	if err != nil {
		metrics.PublishFailures.WithLabelValues("send").Inc()
		return models.PublishedMessageHandle{TenantID: report.TenantID}, fmt.Errorf("%w: send to %s: %v", ErrPublish, channelID, err)
	}

	handle := models.PublishedMessageHandle{
		TenantID:    report.TenantID,
		ChannelID:   channelID,
		MessageID:   msg.ID,
		PublishedAt: p.now().UTC(),
	}

	if err := p.channel.Pin(ctx, channelID, msg.ID); err != nil {
		metrics.PublishFailures.WithLabelValues("pin").Inc()
		logger.Warn().Err(err).Str("message", msg.ID).Msg("Failed to pin report message")
	}

	logger.Debug().
		Str("message", msg.ID).
		Str("severity", report.Severity.String()).
		Int("records", len(report.Records)).
		Msg("Report published")

	return handle, nil
}

// Live reports whether the handle still references an existing message.
func (p *Publisher) Live(ctx context.Context, handle models.PublishedMessageHandle) (bool, error) {
	if !handle.IsSet() {
		return false, nil
	}

	_, err := p.channel.Fetch(ctx, handle.ChannelID, handle.MessageID)
	if errors.Is(err, ErrMessageNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

// Retract deletes the message a handle references, used when a tenant disables its report channel.
func (p *Publisher) Retract(ctx context.Context, handle models.PublishedMessageHandle) {
	if handle.IsSet() {
		p.deleteBestEffort(ctx, handle.ChannelID, handle.MessageID)
	}
}

// deleteBestEffort removes a message, missing messages and permission errors are not failures.
func (p *Publisher) deleteBestEffort(ctx context.Context, channelID, messageID string) {
	err := p.channel.Delete(ctx, channelID, messageID)
	switch {
	case err == nil:
	case errors.Is(err, ErrMessageNotFound):
		log.Debug().Str("channel", channelID).Str("message", messageID).Msg("Prior report already gone")
	case errors.Is(err, ErrForbidden):
		log.Warn().Str("channel", channelID).Str("message", messageID).Msg("No permission to delete prior report")
	default:
		metrics.PublishFailures.WithLabelValues("delete").Inc()
		log.Warn().Err(err).Str("channel", channelID).Str("message", messageID).Msg("Failed to delete prior report")
	}
}

// sweepHistory deletes earlier reports of this bot, used when the live handle was lost.
func (p *Publisher) sweepHistory(ctx context.Context, channelID string) {
	self := p.channel.SelfID()
	if self == "" {
		return
	}

	messages, err := p.channel.History(ctx, channelID, sweepLimit)
	if err != nil {
		metrics.PublishFailures.WithLabelValues("history").Inc()
		log.Warn().Err(err).Str("channel", channelID).Msg("History sweep failed")
		return
	}

	for _, m := range messages {
		if m.AuthorID == self && m.Title == Title {
			p.deleteBestEffort(ctx, channelID, m.ID)
		}
	}
}
