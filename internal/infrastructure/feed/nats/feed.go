package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/pacsight/rvutrack/internal/core/domain"
	"github.com/pacsight/rvutrack/internal/infrastructure/resilience"
)

// Feed delivers worklist snapshots over NATS. Capture agents publish one
// message per polling tick; the tracker consumes them through a queue group
// so multiple tracker instances share the stream without double-processing.
type Feed struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	limiter  *rate.Limiter
	onDrop   func()
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor

	// MinInterval throttles snapshot delivery. Snapshots arriving faster
	// than one per interval are dropped rather than queued, since each
	// snapshot supersedes the last.
	MinInterval time.Duration
	OnDrop      func()
}

func New(url, subject string) (*Feed, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Feed, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("rvutrack"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	var limiter *rate.Limiter
	if options.MinInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(options.MinInterval), 1)
	}
	return &Feed{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
		limiter:  limiter,
		onDrop:   options.OnDrop,
	}, nil
}

func (f *Feed) Close() {
	if f.conn != nil {
		f.conn.Close()
	}
}

// snapshotMessage is the wire form of one worklist polling tick.
type snapshotMessage struct {
	VisibleAccession string            `json:"visible_accession"`
	Descriptions     map[string]string `json:"descriptions"`
	PatientClass     string            `json:"patient_class"`
	TakenAt          time.Time         `json:"taken_at"`
}

func encodeSnapshot(snap domain.Snapshot) ([]byte, error) {
	payload, err := json.Marshal(snapshotMessage{
		VisibleAccession: snap.VisibleAccession,
		Descriptions:     snap.Descriptions,
		PatientClass:     snap.PatientClass,
		TakenAt:          snap.TakenAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return payload, nil
}

func decodeSnapshot(data []byte) (domain.Snapshot, error) {
	var msg snapshotMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	snap := domain.Snapshot{
		VisibleAccession: msg.VisibleAccession,
		Descriptions:     msg.Descriptions,
		PatientClass:     msg.PatientClass,
		TakenAt:          msg.TakenAt,
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now()
	}
	return snap, nil
}

func (f *Feed) PublishSnapshot(ctx context.Context, snap domain.Snapshot) error {
	payload, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	call := func(_ context.Context) error {
		if err := f.conn.Publish(f.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if f.executor != nil {
		err = f.executor.Execute(ctx, "nats.publish_snapshot", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// Subscribe blocks until ctx is cancelled, invoking handler for each
// snapshot. Malformed messages and throttled snapshots are dropped; the
// subscription stays up either way.
func (f *Feed) Subscribe(ctx context.Context, handler func(context.Context, domain.Snapshot) error) error {
	sub, err := f.conn.QueueSubscribe(f.subject, "trackers", func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		if f.limiter != nil && !f.limiter.Allow() {
			if f.onDrop != nil {
				f.onDrop()
			}
			return
		}

		snap, err := decodeSnapshot(msg.Data)
		if err != nil {
			slog.Warn("dropping malformed snapshot", "error", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, snap); err != nil {
			slog.Error("snapshot handler failed", "visible_accession", snap.VisibleAccession, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := f.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := f.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
