package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/ericfisherdev/mytotp/internal/application"
	"github.com/ericfisherdev/mytotp/internal/domain/model"
	"github.com/ericfisherdev/mytotp/internal/domain/port/driven"
)

// Sentinel errors returned by Link.Send.
var (
	// ErrLinkClosed is reported for records sent on, or still queued in, a
	// closed link.
	ErrLinkClosed = errors.New("controller link closed")

	// ErrSendQueueFull is returned when a record is offered while the send
	// queue is already full.
	ErrSendQueueFull = errors.New("controller link send queue full")
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	sendQueueLen = 4
)

var _ driven.Outbox = (*Link)(nil)

// Submitter applies one inbound batch; *application.Device implements it.
type Submitter interface {
	Submit(ctx context.Context, msgs []model.Message) (model.BatchResult, error)
}

type outbound struct {
	msg  model.Message
	done func(error)
}

// Link is one authenticated controller connection. It implements the Outbox
// port: each record becomes its own frame and done fires when the websocket
// write returns.
type Link struct {
	id      string
	conn    *websocket.Conn
	limiter *rate.Limiter
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	send   chan outbound
	done   chan struct{}
}

func newLink(id string, conn *websocket.Conn, limiter *rate.Limiter, logger *slog.Logger) *Link {
	return &Link{
		id:      id,
		conn:    conn,
		limiter: limiter,
		logger:  logger.With("link_id", id),
		send:    make(chan outbound, sendQueueLen),
		done:    make(chan struct{}),
	}
}

// ID returns the link's correlation id.
func (l *Link) ID() string {
	return l.id
}

// Send queues msg without blocking.
func (l *Link) Send(msg model.Message, done func(error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLinkClosed
	}
	select {
	case l.send <- outbound{msg: msg, done: done}:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close shuts the link down. Queued records complete with ErrLinkClosed.
// Close is safe to call more than once.
func (l *Link) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	close(l.done)
}

// drain fails every record still queued. It runs after Close, so no new
// records can arrive.
func (l *Link) drain() {
	for {
		select {
		case out := <-l.send:
			out.done(ErrLinkClosed)
		default:
			return
		}
	}
}

// writePump writes queued records and periodic pings until the link closes.
func (l *Link) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		l.Close()
		l.conn.Close()
		l.drain()
	}()

	for {
		select {
		case <-l.done:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = l.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case out := <-l.send:
			data, err := EncodeFrame(out.msg)
			if err != nil {
				out.done(err)
				continue
			}

			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				out.done(fmt.Errorf("write %s: %w", out.msg.Kind, err))
				l.logger.Warn("link write failed", "error", err)
				return
			}
			out.done(nil)

		case <-ticker.C:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump decodes inbound frames and submits each as one batch. Frames over
// the inbound rate are held until the limiter admits them, which stalls the
// sender through websocket backpressure instead of discarding records. It
// returns when the connection fails, the link closes or the device stops.
func (l *Link) readPump(ctx context.Context, device Submitter, maxFrameBytes int64) {
	defer l.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-l.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	l.conn.SetReadLimit(maxFrameBytes)
	_ = l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.logger.Warn("link read failed", "error", err)
			}
			return
		}

		if !l.limiter.Allow() {
			l.logger.Debug("inbound frame delayed: rate limit exceeded", "bytes", len(data))
			if err := l.limiter.Wait(ctx); err != nil {
				return
			}
		}

		msgs, recErrs, err := DecodeFrame(data)
		if err != nil {
			l.logger.Warn("inbound frame dropped", "error", err)
			continue
		}
		for _, recErr := range recErrs {
			l.logger.Warn("inbound record skipped", "error", recErr)
		}
		if len(msgs) == 0 {
			continue
		}

		res, err := device.Submit(ctx, msgs)
		if err != nil {
			if errors.Is(err, application.ErrDeviceStopped) || ctx.Err() != nil {
				return
			}
			l.logger.Error("submitting batch", "error", err)
			continue
		}
		l.logger.Debug("batch submitted",
			"records", len(msgs),
			"applied", res.Applied,
			"rejected", len(res.Rejected),
		)
	}
}
