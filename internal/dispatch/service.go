package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
)

// Config tunes the dispatcher.
type Config struct {
	// MaxConcurrentDispatches bounds in-flight variant dispatches per message.
	MaxConcurrentDispatches int
}

// Service is the entry point of the dispatch core: Resolve, then Dispatch.
type Service struct {
	resolver *Resolver
	router   *Router
	logger   *slog.Logger
}

// NewService wires the core with its collaborators.
func NewService(
	directory push.VariantDirectory,
	endpoints push.EndpointResolver,
	senders Senders,
	cfg Config,
	logger *slog.Logger,
) *Service {
	return &Service{
		resolver: NewResolver(directory, logger),
		router:   NewRouter(endpoints, senders, cfg.MaxConcurrentDispatches, logger),
		logger:   logger.With("component", "DispatchService"),
	}
}

// Send routes msg to the variants of app selected by the message criteria and
// blocks until every platform sender has returned.
func (s *Service) Send(ctx context.Context, app *push.Application, msg *push.Message) error {
	s.logger.Info("Processing send request", "message_id", msg.ID, "application_id", applicationID(app))

	targets, err := s.resolver.Resolve(ctx, app, msg.Criteria)
	if err != nil {
		return fmt.Errorf("failed to resolve targets for message %s: %w", msg.ID, err)
	}
	if targets.Total() == 0 {
		s.logger.Info("No variants matched the send criteria; nothing to dispatch", "message_id", msg.ID)
		return nil
	}

	return s.router.Dispatch(ctx, targets, msg)
}

// SendAsync is the fire-and-forget form of Send. Cancelling ctx after SendAsync
// returns does not stop the dispatch; failures are only logged.
func (s *Service) SendAsync(ctx context.Context, app *push.Application, msg *push.Message) {
	detached := context.WithoutCancel(ctx)
	go func() {
		if err := s.Send(detached, app, msg); err != nil {
			s.logger.Error("Asynchronous send failed", "message_id", msg.ID, "err", err)
		}
	}()
}

func applicationID(app *push.Application) string {
	if app == nil {
		return ""
	}
	return app.ID
}
