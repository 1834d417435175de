package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ericfisherdev/mytotp/internal/adapter/driving/link"
	"github.com/ericfisherdev/mytotp/internal/domain/model"
)

// ErrClientClosed is returned once the connection to the device is gone.
var ErrClientClosed = errors.New("device connection closed")

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	closeWait        = 2 * time.Second
	itemQueueLen     = 64
)

var _ Sender = (*Client)(nil)

// Client is a controller connection to a device's link endpoint.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	items   chan model.PublicCredential
	done    chan struct{}
	err     error
}

// Dial connects to the device link at url and authenticates with token.
func Dial(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		conn:   conn,
		logger: logger,
		items:  make(chan model.PublicCredential, itemQueueLen),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Send writes msg as its own frame. It returns once the frame is written.
func (c *Client) Send(ctx context.Context, msg model.Message) error {
	return c.write(ctx, msg)
}

// SendBatch writes msgs as a single frame, which the device applies as one
// batch.
func (c *Client) SendBatch(ctx context.Context, msgs ...model.Message) error {
	return c.write(ctx, msgs...)
}

func (c *Client) write(ctx context.Context, msgs ...model.Message) error {
	data, err := link.EncodeFrame(msgs...)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// List asks the device for its credentials and collects list items until
// none arrives for quiet. Items left over from an earlier listing are
// discarded first.
func (c *Client) List(ctx context.Context, quiet time.Duration) ([]model.PublicCredential, error) {
	c.discardPending()

	if err := c.Send(ctx, model.Message{Kind: model.KindStartListing}); err != nil {
		return nil, fmt.Errorf("start listing: %w", err)
	}

	var out []model.PublicCredential
	timer := time.NewTimer(quiet)
	defer timer.Stop()

	for {
		select {
		case item := <-c.items:
			out = append(out, item)
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(quiet)

		case <-timer.C:
			return out, nil

		case <-c.done:
			if c.err != nil {
				return out, fmt.Errorf("listing interrupted: %w", c.err)
			}
			return out, ErrClientClosed

		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
}

// Close performs the websocket closing handshake and tears the connection
// down. The device answers the close frame only after applying every frame
// sent before it, so nothing sent before Close is lost.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	if err == nil {
		select {
		case <-c.done:
		case <-time.After(closeWait):
		}
	}

	closeErr := c.conn.Close()
	<-c.done
	return closeErr
}

func (c *Client) discardPending() {
	for {
		select {
		case <-c.items:
		default:
			return
		}
	}
}

// readLoop forwards list items until the connection fails. c.err is written
// before done is closed.
func (c *Client) readLoop() {
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.err = err
			}
			return
		}

		msgs, recErrs, err := link.DecodeFrame(data)
		if err != nil {
			c.logger.Warn("device frame dropped", "error", err)
			continue
		}
		for _, recErr := range recErrs {
			c.logger.Warn("device record skipped", "error", recErr)
		}

		for _, msg := range msgs {
			if msg.Kind != model.KindListItem {
				c.logger.Debug("ignoring device record", "kind", msg.Kind)
				continue
			}
			select {
			case c.items <- model.PublicCredential{ID: msg.ID, Name: msg.Name}:
			default:
				c.logger.Warn("list item dropped: queue full", "id", msg.ID)
			}
		}
	}
}
