package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tether/pkg/types"
)

func TestGateway_StartStop(t *testing.T) {
	gw := NewGateway(NewRegistry(), nil)

	require.NoError(t, gw.Start(context.Background()))
	assert.ErrorIs(t, gw.Start(context.Background()), ErrGatewayAlreadyRunning)

	require.NoError(t, gw.Stop())
	assert.ErrorIs(t, gw.Stop(), ErrGatewayNotRunning)
}

func TestGateway_EmitRejectsInvalidTargets(t *testing.T) {
	gw := NewGateway(NewRegistry(), nil)

	err := gw.EmitToNamespace("bad namespace!", types.Notification{Title: "x"})
	assert.ErrorIs(t, err, ErrInvalidNamespace)

	err = gw.EmitToRoom("7", "room with spaces", types.Notification{Title: "x"})
	assert.ErrorIs(t, err, ErrInvalidRoom)

	err = gw.EmitToRoom("", "ticket-42", types.Notification{Title: "x"})
	assert.ErrorIs(t, err, ErrInvalidNamespace)
}

// Malformed payloads are rejected at the publish boundary and never
// reach a connection.
func TestGateway_EmitRejectsInvalidEvents(t *testing.T) {
	gw := NewGateway(NewRegistry(), nil)

	assert.ErrorIs(t, gw.EmitToNamespace("7", nil), types.ErrNilEvent)
	assert.ErrorIs(t, gw.EmitToNamespace("7", types.TicketUpdate{}), types.ErrMissingTicketID)
	assert.ErrorIs(t, gw.EmitToRoom("7", "ticket-42", types.UserTyping{TicketID: "42"}), types.ErrInvalidUserID)
}

func TestGateway_EmitToEmptyNamespaceIsNoop(t *testing.T) {
	gw := NewGateway(NewRegistry(), nil)

	assert.NoError(t, gw.EmitToNamespace("ghost", types.Notification{Title: "hello"}))
	assert.NoError(t, gw.EmitToRoom("ghost", "ticket-42", types.TicketUpdate{TicketID: "42"}))
}

func TestGateway_EmitDeliversToRegisteredConnections(t *testing.T) {
	registry := NewRegistry()
	gw := NewGateway(registry, nil)

	conn := newTestConnection(t, "7", "agent_1", time.Now())
	require.NoError(t, registry.Register(conn))
	registry.JoinRoom(conn.ID(), "ticket-42")

	assert.NoError(t, gw.EmitToNamespace("7", types.Notification{Title: "hello"}))
	assert.NoError(t, gw.EmitToRoom("7", "ticket-42", types.TicketUpdate{TicketID: "42"}))
}
