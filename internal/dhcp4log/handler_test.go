package dhcp4log_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/AdguardTeam/dhcp4d/internal/dhcp4log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_formatsBracketedLine(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var buf bytes.Buffer
	h := dhcp4log.NewHandler(ctx, dhcp4log.SyncWriter(&buf), slog.LevelInfo)

	l := slog.New(h)
	l.Info("lease committed", "ip", "10.0.0.10")

	require.Eventually(t, func() (ok bool) {
		return buf.Len() > 0
	}, time.Second, time.Millisecond)

	line := buf.String()
	assert.Contains(t, line, "[INFO] lease committed")
	assert.Contains(t, line, "ip=10.0.0.10")
}

func TestHandler_levelFiltering(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var buf bytes.Buffer
	h := dhcp4log.NewHandler(ctx, dhcp4log.SyncWriter(&buf), slog.LevelWarn)

	l := slog.New(h)
	l.Debug("should not appear")
	l.Info("should not appear either")

	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, buf.String())

	l.Warn("this one counts")
	require.Eventually(t, func() (ok bool) {
		return buf.Len() > 0
	}, time.Second, time.Millisecond)
	assert.Contains(t, buf.String(), "[WARN] this one counts")
}

func TestHandler_drainsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var buf bytes.Buffer
	h := dhcp4log.NewHandler(ctx, dhcp4log.SyncWriter(&buf), slog.LevelInfo)

	l := slog.New(h)
	for i := 0; i < 5; i++ {
		l.Info("draining")
	}

	cancel()

	require.Eventually(t, func() (ok bool) {
		return bytes.Count(buf.Bytes(), []byte("draining")) == 5
	}, time.Second, time.Millisecond)
}

func TestHandler_withAttrsAndGroup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var buf bytes.Buffer
	h := dhcp4log.NewHandler(ctx, dhcp4log.SyncWriter(&buf), slog.LevelInfo)

	l := slog.New(h).With("req_id", "abc").WithGroup("dhcp4svc")
	l.Info("dispatched")

	require.Eventually(t, func() (ok bool) {
		return buf.Len() > 0
	}, time.Second, time.Millisecond)

	line := buf.String()
	assert.Contains(t, line, "dhcp4svc: dispatched")
	assert.Contains(t, line, "req_id=abc")
}
