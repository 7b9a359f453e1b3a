// Package replication implements the master and slave halves of §4.6:
// per-replica broadcast with offset bookkeeping and WAIT on the master
// side, handshake/apply/ACK on the slave side.
package replication

import (
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"redis/internal/log"
	"redis/internal/protocol"
)

// replicaQueueDepth is the broadcast channel capacity per replica link
// (spec §4.6 requires capacity >= 32).
const replicaQueueDepth = 32

// Replica is one connected, promoted replica-serving connection: an
// outbound writer draining queued frames, and an offset last acked via
// REPLCONF ACK.
type Replica struct {
	addr string
	conn net.Conn
	out  chan []byte

	mu     sync.Mutex
	offset uint64
	online bool
}

func (r *Replica) Addr() string { return r.addr }

func (r *Replica) ackedOffset() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offset
}

func (r *Replica) setAcked(offset uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if offset > r.offset {
		r.offset = offset
	}
}

// enqueue attempts a non-blocking send; a full queue means this replica is
// too slow to keep up, and per §5's backpressure rule it must be dropped
// rather than silently lose a command (which would break the offset
// invariant).
func (r *Replica) enqueue(frame []byte) bool {
	select {
	case r.out <- frame:
		return true
	default:
		return false
	}
}

func (r *Replica) runWriter(m *Master) {
	for frame := range r.out {
		if _, err := r.conn.Write(frame); err != nil {
			log.Debugf("replica %s write failed: %v", r.addr, err)
			m.dropReplica(r)
			return
		}
	}
}

// Master holds the shared replication state a running server exposes to
// every accepted connection: the replica table, the broadcast offset, and
// the fixed-per-process replication id.
type Master struct {
	replID string
	offset uint64 // atomic; cumulative bytes of write-accountable commands

	mu       sync.RWMutex
	replicas map[string]*Replica
}

func NewMaster() *Master {
	return &Master{
		replID:   generateReplID(),
		replicas: make(map[string]*Replica),
	}
}

func generateReplID() string {
	buf := make([]byte, 20)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%x", buf)
}

func (m *Master) ReplID() string { return m.replID }

func (m *Master) Offset() uint64 { return atomic.LoadUint64(&m.offset) }

func (m *Master) ReplicaCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.replicas)
}

// AddReplica registers a newly-promoted connection as an outbound replica
// link and starts its writer goroutine.
func (m *Master) AddReplica(addr string, conn net.Conn) *Replica {
	r := &Replica{
		addr:   addr,
		conn:   conn,
		out:    make(chan []byte, replicaQueueDepth),
		online: true,
	}
	m.mu.Lock()
	m.replicas[addr] = r
	m.mu.Unlock()

	go r.runWriter(m)
	return r
}

func (m *Master) dropReplica(r *Replica) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.replicas[r.addr]; ok && cur == r {
		delete(m.replicas, r.addr)
	}
	r.mu.Lock()
	if r.online {
		r.online = false
		r.mu.Unlock()
		_ = r.conn.Close()
	} else {
		r.mu.Unlock()
	}
}

func (m *Master) RemoveReplica(addr string) {
	m.mu.Lock()
	r, ok := m.replicas[addr]
	if ok {
		delete(m.replicas, addr)
	}
	m.mu.Unlock()
	if ok {
		close(r.out)
	}
}

// UpdateReplicaAck records a REPLCONF ACK <offset> from the given peer.
func (m *Master) UpdateReplicaAck(addr string, offset uint64) {
	m.mu.RLock()
	r, ok := m.replicas[addr]
	m.mu.RUnlock()
	if ok {
		r.setAcked(offset)
	}
}

// Broadcast encodes cmd as an Array frame, adds its length to
// master_repl_offset (incremented before the send per §5's ordering
// note), and pushes it to every online replica, dropping any whose queue
// is full.
func (m *Master) Broadcast(cmd protocol.Command) {
	frame := cmd.Frame().Encode()
	atomic.AddUint64(&m.offset, uint64(len(frame)))
	m.fanOut(frame)
}

// broadcastGetAck sends a synthetic REPLCONF GETACK * to every replica
// without touching master_repl_offset; the reply it provokes is not
// counted on the replica side either (§4.6).
func (m *Master) broadcastGetAck() {
	frame := protocol.Command{Name: "REPLCONF", Args: [][]byte{[]byte("GETACK"), []byte("*")}}.Frame().Encode()
	m.fanOut(frame)
}

func (m *Master) fanOut(frame []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.replicas {
		if !r.enqueue(frame) {
			log.Debugf("replica %s queue full, dropping", r.addr)
			go m.dropReplica(r)
		}
	}
}

func (m *Master) countAcked(target uint64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.replicas {
		if r.ackedOffset() >= target {
			n++
		}
	}
	return n
}

// Wait implements the §4.4 WAIT algorithm.
func (m *Master) Wait(n int, timeout time.Duration) int {
	target := m.Offset()
	if target == 0 {
		return m.ReplicaCount()
	}
	if count := m.countAcked(target); count >= n {
		return count
	}

	m.broadcastGetAck()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if count := m.countAcked(target); count >= n {
			return count
		}
		if time.Now().After(deadline) {
			return m.countAcked(target)
		}
		<-ticker.C
	}
}

// InfoLines renders the master's `# Replication` fields per §6.
func (m *Master) InfoLines() []string {
	return []string{
		"role:master",
		fmt.Sprintf("connected_slaves:%d", m.ReplicaCount()),
		fmt.Sprintf("master_replid:%s", m.replID),
		fmt.Sprintf("master_repl_offset:%d", m.Offset()),
	}
}

// Shutdown closes every replica writer, unblocking their goroutines.
func (m *Master) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for addr, r := range m.replicas {
		close(r.out)
		delete(m.replicas, addr)
	}
}
