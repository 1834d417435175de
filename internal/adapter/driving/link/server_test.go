package link_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/mytotp/internal/adapter/driving/link"
	"github.com/ericfisherdev/mytotp/internal/application"
	"github.com/ericfisherdev/mytotp/internal/domain/model"
)

const testToken = "pairing-token"

type linkFixture struct {
	srv    *httptest.Server
	link   *link.Server
	links  *application.OutboxProvider
	device *application.Device
}

func newLinkFixture(t *testing.T, cfg link.Config) *linkFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	links := application.NewOutboxProvider()
	device := application.NewDevice(links, nil, func() int64 { return 1_700_000_000 }, time.Hour, logger)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		device.Start(ctx)
		close(stopped)
	}()

	if cfg.Token == "" {
		cfg.Token = testToken
	}
	if cfg.MaxFrameBytes == 0 {
		cfg.MaxFrameBytes = 4096
	}
	if cfg.InboundRate == 0 {
		cfg.InboundRate = 1000
		cfg.InboundBurst = 100
	}

	server := link.NewServer(device, links, cfg, logger)
	srv := httptest.NewServer(server)

	t.Cleanup(func() {
		server.Close()
		srv.Close()
		cancel()
		<-stopped
	})

	return &linkFixture{srv: srv, link: server, links: links, device: device}
}

func (f *linkFixture) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *linkFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+testToken)
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL(), header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, f.links.HasOutbox, time.Second, time.Millisecond)
	return conn
}

func (f *linkFixture) credentials(t *testing.T) int {
	t.Helper()
	status, err := f.device.Status(context.Background())
	require.NoError(t, err)
	return status.Credentials
}

func writeFrame(t *testing.T, conn *websocket.Conn, msgs ...model.Message) {
	t.Helper()
	data, err := link.EncodeFrame(msgs...)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readFrame(t *testing.T, conn *websocket.Conn) []model.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msgs, recErrs, err := link.DecodeFrame(data)
	require.NoError(t, err)
	require.Empty(t, recErrs)
	return msgs
}

func create(id model.CredentialID, name string) model.Message {
	return model.Message{
		Kind:   model.KindCreateCredential,
		ID:     id,
		Name:   name,
		Secret: bytes.Repeat([]byte{byte(id)}, model.SecretSize),
	}
}

func TestServer_RejectsMissingOrWrongToken(t *testing.T) {
	f := newLinkFixture(t, link.Config{})

	for name, header := range map[string]http.Header{
		"missing": {},
		"wrong":   {"Authorization": []string{"Bearer nope"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(f.wsURL(), header)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
	assert.False(t, f.links.HasOutbox())
}

func TestServer_AcceptsQueryToken(t *testing.T) {
	f := newLinkFixture(t, link.Config{})

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL()+"?token="+testToken, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, f.link.Connected, time.Second, time.Millisecond)
}

func TestServer_BatchAndListingEndToEnd(t *testing.T) {
	f := newLinkFixture(t, link.Config{})
	conn := f.dial(t)

	writeFrame(t, conn, create(3, "C"), create(1, "A"), create(2, "B"),
		model.Message{Kind: model.KindSetOrder, Order: []model.CredentialID{1, 2, 3}})
	writeFrame(t, conn, model.Message{Kind: model.KindStartListing})

	for _, want := range []model.PublicCredential{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}, {ID: 3, Name: "C"}} {
		msgs := readFrame(t, conn)
		require.Len(t, msgs, 1, "one record per outbound frame")
		assert.Equal(t, model.ListItem(want), msgs[0])
	}

	require.Eventually(t, func() bool {
		status, err := f.device.Status(context.Background())
		return err == nil && status.Listing.Cursor == 3 && !status.Listing.InFlight
	}, time.Second, time.Millisecond)
}

func TestServer_SkipsIncompleteRecords(t *testing.T) {
	f := newLinkFixture(t, link.Config{})
	conn := f.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"records":[{"kind":"credential.create","id":1,"name":"no secret"}]}`)))
	writeFrame(t, conn, create(2, "B"))

	require.Eventually(t, func() bool { return f.credentials(t) == 1 }, time.Second, time.Millisecond)
}

func TestServer_NewLinkReplacesPrevious(t *testing.T) {
	f := newLinkFixture(t, link.Config{})
	first := f.dial(t)
	before := f.links.Get()

	second := f.dial(t)
	require.Eventually(t, func() bool { return f.links.Get() != before }, time.Second, time.Millisecond)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	require.Error(t, err, "replaced link is closed")

	writeFrame(t, second, create(1, "A"))
	require.Eventually(t, func() bool { return f.credentials(t) == 1 }, time.Second, time.Millisecond)
	assert.True(t, f.link.Connected())
}

func TestServer_OversizedFrameClosesLink(t *testing.T) {
	f := newLinkFixture(t, link.Config{MaxFrameBytes: 128})
	conn := f.dial(t)

	writeFrame(t, conn, create(1, strings.Repeat("x", 200)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	require.Eventually(t, func() bool { return !f.links.HasOutbox() }, time.Second, time.Millisecond)
	assert.Equal(t, 0, f.credentials(t))
}

func TestServer_RateLimitPacesFramesWithoutDropping(t *testing.T) {
	// Defaults from config: 20 frames/s with a burst of 10.
	f := newLinkFixture(t, link.Config{InboundRate: 20, InboundBurst: 10})
	conn := f.dial(t)

	start := time.Now()
	for i := range 15 {
		writeFrame(t, conn, create(model.CredentialID(i), fmt.Sprintf("c%d", i)))
	}

	require.Eventually(t, func() bool { return f.credentials(t) == 15 }, 3*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond, "frames past the burst are paced")
}

func TestServer_CloseReleasesRateLimitedReader(t *testing.T) {
	f := newLinkFixture(t, link.Config{InboundRate: 0.001, InboundBurst: 1})
	conn := f.dial(t)

	writeFrame(t, conn, create(1, "A"))
	writeFrame(t, conn, create(2, "B"))
	require.Eventually(t, func() bool { return f.credentials(t) == 1 }, time.Second, time.Millisecond)

	f.link.Close()

	require.Eventually(t, func() bool { return !f.links.HasOutbox() }, time.Second, time.Millisecond)
	assert.False(t, f.link.Connected())
	assert.Equal(t, 1, f.credentials(t))
}

func TestServer_CloseDropsActiveLink(t *testing.T) {
	f := newLinkFixture(t, link.Config{})
	conn := f.dial(t)

	f.link.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.False(t, f.link.Connected())
	assert.False(t, f.links.HasOutbox())
}
