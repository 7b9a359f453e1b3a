package replication

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redis/internal/protocol"
)

func TestReplIDIsFortyHex(t *testing.T) {
	m := NewMaster()
	assert.Len(t, m.ReplID(), 40)
}

func TestWaitReturnsReplicaCountWhenOffsetZero(t *testing.T) {
	m := NewMaster()
	server, client := net.Pipe()
	defer client.Close()
	go io_discard(server)
	m.AddReplica("127.0.0.1:1", server)

	got := m.Wait(1, 50*time.Millisecond)
	assert.Equal(t, 1, got)
}

func TestBroadcastAdvancesOffsetByFrameLength(t *testing.T) {
	m := NewMaster()
	cmd := protocol.Command{Name: "SET", Args: [][]byte{[]byte("x"), []byte("1")}}
	want := cmd.Frame().Len()

	m.Broadcast(cmd)

	require.Equal(t, uint64(want), m.Offset())
}

func TestWaitCountsAckedReplicas(t *testing.T) {
	m := NewMaster()
	server, client := net.Pipe()
	defer client.Close()
	go io_discard(server)
	r := m.AddReplica("127.0.0.1:2", server)

	cmd := protocol.Command{Name: "SET", Args: [][]byte{[]byte("x"), []byte("1")}}
	m.Broadcast(cmd)

	r.setAcked(m.Offset())

	got := m.Wait(1, 100*time.Millisecond)
	assert.Equal(t, 1, got)
}

func TestDropReplicaOnFullQueue(t *testing.T) {
	m := NewMaster()
	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()

	// Build the replica entry directly (no writer goroutine draining it) so
	// filling its queue deterministically exercises the full-queue path.
	r := &Replica{addr: "127.0.0.1:3", conn: server, out: make(chan []byte, replicaQueueDepth), online: true}
	m.mu.Lock()
	m.replicas[r.addr] = r
	m.mu.Unlock()

	for i := 0; i < replicaQueueDepth; i++ {
		r.out <- []byte("x")
	}

	m.fanOut([]byte("y"))

	assert.Eventually(t, func() bool { return m.ReplicaCount() == 0 }, 200*time.Millisecond, 5*time.Millisecond)
}

func io_discard(c net.Conn) {
	buf := make([]byte, 4096)
	for {
		if _, err := c.Read(buf); err != nil {
			return
		}
	}
}
