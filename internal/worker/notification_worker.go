package worker

import (
	"github.com/spec-kit/ticket-desk/internal/events"
	"github.com/spec-kit/ticket-desk/internal/service"
)

// StartNotificationWorker registers notification handlers and, when a Redis
// publisher is configured, forwards every ticket event to it.
func StartNotificationWorker(dispatcher events.Dispatcher, notificationService *service.NotificationService, publisher *events.RedisPublisher) {
	if notificationService != nil {
		notificationService.RegisterHandlers()
	}
	if publisher != nil && dispatcher != nil {
		publisher.Attach(dispatcher)
	}
}
