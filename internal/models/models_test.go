package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnectionStatusIsTerminal(t *testing.T) {
	t.Parallel()

	terminal := []ConnectionStatus{
		ConnectionStatusUpdated,
		ConnectionStatusLoginError,
		ConnectionStatusDeleted,
	}
	for _, s := range terminal {
		require.True(t, s.IsTerminal(), "%s should be terminal", s)
	}

	inFlight := []ConnectionStatus{
		ConnectionStatusCreated,
		ConnectionStatusUpdating,
		ConnectionStatusWaitingInput,
		ConnectionStatus("unknown"),
	}
	for _, s := range inFlight {
		require.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}
