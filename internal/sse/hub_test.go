package sse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"scripthost/internal/logsink"
)

func TestHub_BroadcastsLines(t *testing.T) {
	hub := NewHub()
	all := NewClient("")
	onlyErr := NewClient("stderr")
	hub.RegisterClient(all)
	hub.RegisterClient(onlyErr)
	require.Equal(t, 2, hub.ClientCount())
	require.NotEqual(t, all.ID, onlyErr.ID)

	hub.Write(logsink.Debug, "stdout", "out\n")
	hub.Write(logsink.Error, "stderr", "err\n")

	require.Len(t, all.EventChan, 2)
	require.Len(t, onlyErr.EventChan, 1)

	ev := <-onlyErr.EventChan
	require.Equal(t, "line", ev.Type)
	line := ev.Data.(LineEvent)
	require.Equal(t, "stderr", line.Tag)
	require.Equal(t, "ERROR", line.Severity)
	require.Equal(t, "err\n", line.Message)
}

func TestHub_UnregisterStopsDelivery(t *testing.T) {
	hub := NewHub()
	c := NewClient("")
	hub.RegisterClient(c)
	hub.UnregisterClient(c.ID)
	hub.UnregisterClient(c.ID)

	hub.Write(logsink.Info, "stdout", "x\n")
	require.Empty(t, c.EventChan)
	require.Zero(t, hub.ClientCount())
}

func TestHub_FullClientDoesNotBlock(t *testing.T) {
	hub := NewHub()
	c := &Client{ID: "slow", EventChan: make(chan Event, 1), Done: make(chan struct{})}
	hub.RegisterClient(c)

	for i := 0; i < 10; i++ {
		hub.Write(logsink.Info, "stdout", "x\n")
	}
	require.Len(t, c.EventChan, 1)
}

func TestFormatSSE(t *testing.T) {
	out, err := FormatSSE(Event{Type: "line", Data: map[string]string{"message": "hi\n"}})
	require.NoError(t, err)
	require.Equal(t, "event: line\ndata: {\"message\":\"hi\\n\"}\n\n", string(out))

	_, err = FormatSSE(Event{Type: "bad", Data: func() {}})
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "marshal"))
}
