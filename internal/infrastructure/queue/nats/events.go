package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/pricewatch/internal/core/domain"
	"github.com/kirillkom/pricewatch/internal/infrastructure/resilience"
)

const (
	DefaultSubject = "pricewatch.collections.sealed"
	queueGroup     = "pricewatch-loaders"
)

type Options struct {
	Name           string
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	Executor       *resilience.Executor
	Logger         *slog.Logger
}

// Events carries "collection sealed" notifications between the stager and workers.
type Events struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	logger   *slog.Logger
}

func Connect(url, subject string, opts Options) (*Events, error) {
	if strings.TrimSpace(subject) == "" {
		subject = DefaultSubject
	}
	if opts.Name == "" {
		opts.Name = "pricewatch"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 2 * time.Second
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = 60
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats")

	conn, err := nats.Connect(url,
		nats.Name(opts.Name),
		nats.Timeout(opts.ConnectTimeout),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Events{conn: conn, subject: subject, executor: opts.Executor, logger: logger}, nil
}

func (e *Events) Close() {
	if e.conn != nil {
		e.conn.Close()
	}
}

func (e *Events) PublishCollectionSealed(ctx context.Context, key string) error {
	publish := func(context.Context) error {
		if err := e.conn.Publish(e.subject, []byte(key)); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	var err error
	if e.executor != nil {
		err = e.executor.Execute(ctx, "nats.publish", publish, classify)
	} else {
		err = publish(ctx)
	}
	if err != nil && classify(err).Retry {
		return domain.WrapError(domain.ErrTemporary, "publish collection sealed", err)
	}
	return err
}

// SubscribeCollectionSealed blocks until ctx ends. Handlers run one at a time
// per process; the queue group spreads events across workers.
func (e *Events) SubscribeCollectionSealed(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := e.conn.QueueSubscribe(e.subject, queueGroup, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		key := strings.TrimSpace(string(msg.Data))
		if key == "" {
			e.logger.Warn("empty_collection_event")
			return
		}
		if err := handler(ctx, key); err != nil {
			e.logger.Error("collection_event_failed", "collection", key, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := e.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

func classify(err error) resilience.Verdict {
	switch {
	case err == nil:
		return resilience.Verdict{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.Verdict{}
	case resilience.IsCircuitOpen(err),
		errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrDisconnected),
		errors.Is(err, nats.ErrConnectionReconnecting):
		return resilience.Verdict{Retry: true, Trip: true}
	default:
		return resilience.Verdict{Trip: true}
	}
}
