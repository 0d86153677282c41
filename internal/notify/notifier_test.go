package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
	bodies []string
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.titles = append(r.titles, title)
	r.bodies = append(r.bodies, message)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAlertMessage(t *testing.T) {
	a := Alert{
		Entity: "transaction",
		ID:     "tx-1",
		Fields: map[string]string{"reason": "timeout", "attempts": "3"},
	}
	assert.Equal(t, "transaction tx-1\nattempts: 3\nreason: timeout", a.Message())
}

func TestNotifier_FiltersEvents(t *testing.T) {
	ctx := context.Background()
	rec := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{rec}, []string{EventSettlementFailed}, discardLogger())

	require.NoError(t, n.Alert(ctx, Alert{Event: EventIssuanceFailed, Title: "skipped"}))
	require.NoError(t, n.Alert(ctx, Alert{Event: EventSettlementFailed, Title: "sent"}))

	assert.Equal(t, []string{"sent"}, rec.titles)
}

func TestNotifier_ContinuesAfterSenderFailure(t *testing.T) {
	ctx := context.Background()
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.Alert(ctx, Alert{Event: EventSettlementTimeout, Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Len(t, good.titles, 1)
}

func TestTelegramSender_Send(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42").WithBaseURL(srv.URL)
	require.NoError(t, s.Send(context.Background(), "a<b", "x & y"))

	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "<b>a&lt;b</b>\n<pre>x &amp; y</pre>", got["text"])
}

func TestDiscordSender_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad embed"))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad embed")
}

func TestNotifier_DiscordRendersAlertFields(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewNotifier([]Sender{NewDiscordSender(srv.URL)}, nil, discardLogger())
	err := n.Alert(context.Background(), Alert{
		Event:  EventSettlementFailed,
		Title:  "Settlement failed",
		Entity: "purchase",
		ID:     "p-1",
		Fields: map[string]string{"tokens": "10", "investor": "inv-1"},
	})
	require.NoError(t, err)

	require.Len(t, got.Embeds, 1)
	embed := got.Embeds[0]
	assert.Equal(t, "Settlement failed", embed.Title)
	assert.Equal(t, colourFailure, embed.Color)
	assert.Contains(t, embed.Description, "p-1")
	require.Len(t, embed.Fields, 2)
	assert.Equal(t, "investor", embed.Fields[0].Name)
	assert.Equal(t, "tokens", embed.Fields[1].Name)
}
