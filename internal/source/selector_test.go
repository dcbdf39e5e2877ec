package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/endpoint"
)

func nodes() []Node {
	return []Node{
		{Name: "drone", TargetPort: 5600, Latency: 20 * time.Millisecond},
		{Name: "gate", URI: "rtsp://gate.local:8554/live"},
		{Name: "yard", URI: "tcp://10.0.0.9:5000"},
	}
}

func name(t *testing.T, s *Selector) string {
	t.Helper()
	n, ok := s.Current()
	require.True(t, ok)
	return n.Name
}

func TestSelector_Cycles(t *testing.T) {
	s := NewSelector(nodes())
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, "drone", name(t, s))

	s.SelectNext()
	assert.Equal(t, "gate", name(t, s))
	s.SelectNext()
	s.SelectNext()
	assert.Equal(t, "drone", name(t, s), "next wraps to the first node")

	s.SelectPrevious()
	assert.Equal(t, "yard", name(t, s), "previous wraps to the last node")
}

func TestSelector_Empty(t *testing.T) {
	s := NewSelector(nil)
	s.SelectNext()
	s.SelectPrevious()
	_, ok := s.Current()
	assert.False(t, ok)
}

func TestSelector_ReplaceKeepsSelection(t *testing.T) {
	s := NewSelector(nodes())
	s.SelectNext()

	s.Replace([]Node{{Name: "yard", URI: "tcp://10.0.0.9:5000"}, {Name: "gate", URI: "rtsp://gate.local/x"}})
	assert.Equal(t, "gate", name(t, s))

	s.Replace([]Node{{Name: "new", TargetPort: 5700}})
	assert.Equal(t, "new", name(t, s))
}

func TestNode_Endpoint(t *testing.T) {
	tests := []struct {
		node      Node
		transport endpoint.Transport
		uri       string
		wantErr   bool
	}{
		{Node{Name: "push", TargetPort: 5600}, endpoint.Datagram, "udp://0.0.0.0:5600", false},
		{Node{Name: "rtsp", URI: "rtsp://cam/live"}, endpoint.Session, "rtsp://cam/live", false},
		{Node{Name: "ts", URI: "tcp://10.0.0.2:5000"}, endpoint.StreamSocket, "tcp://10.0.0.2:5000", false},
		{Node{Name: "none"}, 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.node.Name, func(t *testing.T) {
			ep, err := tt.node.Endpoint()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.transport, ep.Transport)
			assert.Equal(t, tt.uri, ep.URI)
			assert.Equal(t, tt.node.Latency, ep.Latency)
		})
	}
}
