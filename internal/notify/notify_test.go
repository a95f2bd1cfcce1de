package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(core), "bookings@teahouse.local")

	err := n.Notify(context.Background(), Message{
		To:      []string{"mei@example.com"},
		Subject: "Appointment Confirmed",
		Body:    "Your appointment on 2025-06-01 has been confirmed.",
	})
	require.NoError(t, err)

	entries := logs.FilterMessage("notification").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "Appointment Confirmed", fields["subject"])
	assert.Equal(t, "bookings@teahouse.local", fields["from"])
}
