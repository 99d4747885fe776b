package guardproc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcceptConnectionRateLimited(t *testing.T) {
	p := NewProcessor(Config{MaxConnectRate: 1})
	defer p.Close()

	require.True(t, p.AcceptConnection(nil, nil, nil), "first connect within burst must be allowed")
	require.False(t, p.AcceptConnection(nil, nil, nil), "second immediate connect must exceed the burst")
}

func TestAcceptConnectionRejectsAboveCPUThreshold(t *testing.T) {
	p := NewProcessor(Config{MaxConnectRate: 1000, CPURejectThreshold: 50})
	defer p.Close()

	p.cpuPercent.Store(float64(90))
	require.False(t, p.AcceptConnection(nil, nil, nil))

	p.cpuPercent.Store(float64(10))
	require.True(t, p.AcceptConnection(nil, nil, nil))
}
