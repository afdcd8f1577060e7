package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-desk/internal/config"
	"github.com/spec-kit/ticket-desk/internal/domain"
	"github.com/spec-kit/ticket-desk/internal/events"
)

const (
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
)

// Notice is one rendered notification.
type Notice struct {
	Channel   string
	Recipient string
	TicketID  string
	Subject   string
}

// NoticeSender delivers a notice. The default sender only logs.
type NoticeSender func(ctx context.Context, notice Notice) error

// NotificationService turns ticket events into notices: new tickets go to
// the webhook, and requesters are emailed when their ticket is resolved
// or closed.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
	send       NoticeSender
}

func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
	n.send = n.logNotice
	return n
}

// WithSender replaces the delivery function.
func (n *NotificationService) WithSender(send NoticeSender) *NotificationService {
	n.send = send
	return n
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventTicketStatusChanged, n.handleTicketStatusChanged)
	n.dispatcher.Subscribe(events.EventTicketConflict, n.handleTicketConflict)
}

func (n *NotificationService) handleTicketCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketCreatedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	return n.webhook(ctx, event.TicketID,
		fmt.Sprintf("[%s] %s opened: %s", payload.Priority, payload.Code, payload.Title))
}

func (n *NotificationService) handleTicketStatusChanged(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketStatusChangedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	subject := fmt.Sprintf("%s moved from %s to %s", payload.Code, payload.OldStatus, payload.NewStatus)
	if err := n.webhook(ctx, event.TicketID, subject); err != nil {
		return err
	}
	switch payload.NewStatus {
	case domain.TicketStatusResolved, domain.TicketStatusClosed:
		return n.email(ctx, payload.RequesterEmail, event.TicketID, subject)
	}
	return nil
}

// Conflicts are only logged.
func (n *NotificationService) handleTicketConflict(_ context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.TicketConflictPayload)
	n.logger.Debug("ticket conflict",
		zap.String("ticket_id", event.TicketID),
		zap.String("expected_version", payload.ExpectedVersion),
		zap.String("current_version", payload.CurrentVersion))
	return nil
}

func (n *NotificationService) email(ctx context.Context, to, ticketID, subject string) error {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" || strings.TrimSpace(to) == "" {
		return nil
	}
	return n.send(ctx, Notice{Channel: ChannelEmail, Recipient: to, TicketID: ticketID, Subject: subject})
}

func (n *NotificationService) webhook(ctx context.Context, ticketID, subject string) error {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return nil
	}
	return n.send(ctx, Notice{Channel: ChannelWebhook, Recipient: n.cfg.WebhookURL, TicketID: ticketID, Subject: subject})
}

func (n *NotificationService) logNotice(_ context.Context, notice Notice) error {
	fields := []zap.Field{
		zap.String("channel", notice.Channel),
		zap.String("to", notice.Recipient),
		zap.String("ticket_id", notice.TicketID),
		zap.String("subject", notice.Subject),
	}
	if notice.Channel == ChannelEmail {
		fields = append(fields, zap.String("from", n.cfg.EmailFrom))
	}
	n.logger.Info("notification queued", fields...)
	return nil
}
