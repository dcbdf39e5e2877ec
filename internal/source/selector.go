// Package source holds the list of stream sources the receiver can switch
// between and which one is current.
package source

import (
	"fmt"
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/endpoint"
)

// Node is one selectable stream source.
type Node struct {
	Name       string
	URI        string        // empty: the node pushes to TargetPort
	TargetPort int           // local port a pushing node streams to
	Latency    time.Duration // expected network latency
}

// Endpoint resolves the node to a stream endpoint. A node without a URI
// streams to udp://0.0.0.0:<TargetPort>.
func (n Node) Endpoint() (endpoint.Endpoint, error) {
	if n.URI != "" {
		return endpoint.Parse(n.URI, n.Latency)
	}
	if n.TargetPort <= 0 || n.TargetPort > 65535 {
		return endpoint.Endpoint{}, fmt.Errorf("source: node %q has neither uri nor valid target port", n.Name)
	}
	return endpoint.ForPort(n.TargetPort, n.Latency), nil
}

// Selector is a cyclic cursor over a fixed node list. Safe for concurrent use.
type Selector struct {
	mu    sync.RWMutex
	nodes []Node
	index int
}

// NewSelector returns a selector positioned on the first node.
func NewSelector(nodes []Node) *Selector {
	return &Selector{nodes: append([]Node(nil), nodes...)}
}

// Len returns the number of nodes.
func (s *Selector) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Current returns the selected node. ok is false when the list is empty.
func (s *Selector) Current() (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.nodes) == 0 {
		return Node{}, false
	}
	return s.nodes[s.index], true
}

// SelectNext moves to the next node, wrapping around.
func (s *Selector) SelectNext() {
	s.move(1)
}

// SelectPrevious moves to the previous node, wrapping around.
func (s *Selector) SelectPrevious() {
	s.move(-1)
}

// Replace swaps the node list, keeping the selection on the node with the same
// name when it is still present.
func (s *Selector) Replace(nodes []Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current string
	if len(s.nodes) > 0 {
		current = s.nodes[s.index].Name
	}
	s.nodes = append([]Node(nil), nodes...)
	s.index = 0
	for i, n := range s.nodes {
		if n.Name == current {
			s.index = i
			break
		}
	}
}

func (s *Selector) move(step int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.nodes)
	if n == 0 {
		return
	}
	s.index = ((s.index+step)%n + n) % n
}
