/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package supervisor

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/auoms/auoms/internal/logging"
)

// StatusSnapshot is what a status-socket client receives in response to
// an {"op":"status"} request. QueueDepth/QueueUsedBytes/MalformedCount/
// GapCount/Outputs are filled in by whatever StatusProvider the
// daemon wires up; this package only owns the socket and the envelope.
type StatusSnapshot struct {
	QueueDepth     int            `json:"queue_depth"`
	QueueUsedBytes int64          `json:"queue_used_bytes"`
	MalformedCount int            `json:"malformed_count"`
	GapCount       int            `json:"gap_count"`
	Outputs        []OutputStatus `json:"outputs"`
}

// OutputStatus is one output worker's reported state.
type OutputStatus struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

// StatusProvider supplies the live counters a status request reports.
// cmd/auoms wires this to the queue, parser, and output workers it
// constructed; this package has no direct dependency on any of them.
type StatusProvider interface {
	Snapshot() StatusSnapshot
}

// statusRequest is the only request shape currently understood; unknown
// ops get an error response rather than being silently ignored.
type statusRequest struct {
	Op string `json:"op"`
}

// statusResponse is versioned so a future field can be added without
// breaking clients that only understand version 1, mirroring the
// incremental api_v2/v3 pattern the retrieval pack's own status-style
// tests are named after.
type statusResponse struct {
	Op      string         `json:"op"`
	Version int            `json:"version"`
	ID      string         `json:"id"`
	Status  StatusSnapshot `json:"status"`
}

const statusProtocolVersion = 1

// StatusServer serves JSON status requests over a unix domain socket.
type StatusServer struct {
	path     string
	provider StatusProvider
	log      *logging.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	done     chan struct{}
}

// NewStatusServer builds a server that will listen at path once Start is
// called. log may be nil.
func NewStatusServer(path string, provider StatusProvider, log *logging.Logger) *StatusServer {
	if log == nil {
		log = logging.NewDiscardLogger()
	}
	return &StatusServer{path: path, provider: provider, log: log, done: make(chan struct{})}
}

// Start removes any stale socket file, binds a new unix listener, and
// begins accepting connections in its own goroutine.
func (s *StatusServer) Start() error {
	os.Remove(s.path)
	l, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(l)
	return nil
}

// Stop closes the listener, unblocking the accept loop, and waits for
// in-flight connections to be drained.
func (s *StatusServer) Stop() {
	close(s.done)
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	os.Remove(s.path)
}

func (s *StatusServer) acceptLoop(l net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				s.log.Warnf("status: accept failed: %v", err)
				return
			}
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *StatusServer) handle(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	dec := json.NewDecoder(bufio.NewReader(conn))
	var req statusRequest
	if err := dec.Decode(&req); err != nil {
		s.log.Warnf("status: malformed request: %v", err)
		return
	}
	if req.Op != "status" {
		json.NewEncoder(conn).Encode(map[string]string{"error": "unknown op: " + req.Op})
		return
	}

	resp := statusResponse{
		Op:      "status",
		Version: statusProtocolVersion,
		ID:      uuid.NewString(),
		Status:  s.provider.Snapshot(),
	}
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.log.Warnf("status: write response: %v", err)
	}
}
