package replication

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"

	"redis/internal/log"
	"redis/internal/protocol"
)

// Applier executes a replicated command against the local keyspace. The
// handler package supplies the concrete implementation so this package
// doesn't need to know about connection state or reply-writing.
type Applier interface {
	ApplyReplicated(cmd protocol.Command) error
}

// SnapshotLoader populates a keyspace from a raw RDB payload, as handed to
// the slave by the master's FULLRESYNC.
type SnapshotLoader func(payload []byte) error

// Slave is the replica side of §4.6: it owns the connection to the
// master, performs the handshake, ingests the snapshot, then applies the
// command stream, tracking bytes_processed for ACK accounting.
type Slave struct {
	conn   net.Conn
	reader *bufio.Reader

	masterReplID string

	bytesProcessed uint64 // atomic

	apply  Applier
	load   SnapshotLoader
	buf    []byte
}

// Connect dials the master, performs the full handshake sequence of
// §4.6's slave-side startup, and returns a Slave ready for Run.
func Connect(host string, port int, ownPort int, apply Applier, load SnapshotLoader) (*Slave, error) {
	conn, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("dial master: %w", err)
	}

	s := &Slave{
		conn:   conn,
		reader: bufio.NewReader(conn),
		apply:  apply,
		load:   load,
	}

	if err := s.handshake(ownPort); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Slave) sendCommand(name string, args ...string) error {
	c := protocol.Command{Name: name}
	for _, a := range args {
		c.Args = append(c.Args, []byte(a))
	}
	_, err := s.conn.Write(c.Frame().Encode())
	return err
}

// readFrame reads and parses exactly one frame from the master connection,
// growing s.buf as needed until Parse no longer reports Incomplete.
func (s *Slave) readFrame() (protocol.Frame, error) {
	for {
		f, rest, err := protocol.Parse(s.buf)
		if err == nil {
			s.buf = rest
			return f, nil
		}
		if err != protocol.ErrIncomplete {
			return protocol.Frame{}, err
		}
		chunk := make([]byte, 4096)
		n, rerr := s.reader.Read(chunk)
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
		}
		if rerr != nil {
			return protocol.Frame{}, rerr
		}
	}
}

func (s *Slave) handshake(ownPort int) error {
	if err := s.sendCommand("PING"); err != nil {
		return fmt.Errorf("handshake PING: %w", err)
	}
	if _, err := s.readFrame(); err != nil {
		return fmt.Errorf("handshake PING reply: %w", err)
	}

	if err := s.sendCommand("REPLCONF", "listening-port", strconv.Itoa(ownPort)); err != nil {
		return fmt.Errorf("handshake REPLCONF listening-port: %w", err)
	}
	if _, err := s.readFrame(); err != nil {
		return fmt.Errorf("handshake REPLCONF listening-port reply: %w", err)
	}

	if err := s.sendCommand("REPLCONF", "capa", "psync2"); err != nil {
		return fmt.Errorf("handshake REPLCONF capa: %w", err)
	}
	if _, err := s.readFrame(); err != nil {
		return fmt.Errorf("handshake REPLCONF capa reply: %w", err)
	}

	if err := s.sendCommand("PSYNC", "?", "-1"); err != nil {
		return fmt.Errorf("handshake PSYNC: %w", err)
	}
	full, err := s.readFrame()
	if err != nil {
		return fmt.Errorf("handshake PSYNC reply: %w", err)
	}
	if full.Kind != protocol.SimpleString {
		return fmt.Errorf("handshake: expected FULLRESYNC simple string, got %v", full.Kind)
	}
	var replID string
	var offset int64
	if _, err := fmt.Sscanf(full.Str, "FULLRESYNC %s %d", &replID, &offset); err != nil {
		return fmt.Errorf("handshake: malformed FULLRESYNC %q: %w", full.Str, err)
	}
	s.masterReplID = replID

	payload, rest, rerr := protocol.ParseRawBulk(s.buf)
	for rerr == protocol.ErrIncomplete {
		chunk := make([]byte, 4096)
		n, readErr := s.reader.Read(chunk)
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
		}
		if readErr != nil {
			return fmt.Errorf("handshake: reading RDB payload: %w", readErr)
		}
		payload, rest, rerr = protocol.ParseRawBulk(s.buf)
	}
	if rerr != nil {
		return fmt.Errorf("handshake: malformed RDB frame: %w", rerr)
	}
	s.buf = rest

	if s.load != nil {
		if err := s.load(payload); err != nil {
			log.Warnf("snapshot load failed, continuing: %v", err)
		}
	}

	log.Infof("replica handshake complete, master replid=%s", replID)
	return nil
}

func (s *Slave) BytesProcessed() uint64 { return atomic.LoadUint64(&s.bytesProcessed) }

func (s *Slave) MasterReplID() string { return s.masterReplID }

// Run enters the command-apply loop of §4.6 and blocks until the
// connection is lost. Replica-accountable commands add their encoded
// length to bytes_processed after successful application; REPLCONF GETACK
// provokes an ACK reply that is itself not counted.
func (s *Slave) Run() error {
	for {
		f, err := s.readFrame()
		if err != nil {
			return err
		}

		cmd, err := protocol.CommandFromFrame(f)
		if err != nil {
			log.Warnf("replication stream: %v", err)
			continue
		}

		// GETACK is answered with the offset as it stood before this
		// command; the GETACK itself is then counted like any other
		// REPLCONF, while the ACK reply is not counted.
		if cmd.Name == "REPLCONF" && len(cmd.Args) >= 1 && string(cmd.Args[0]) == "GETACK" {
			ack := protocol.Command{
				Name: "REPLCONF",
				Args: [][]byte{[]byte("ACK"), []byte(strconv.FormatUint(s.BytesProcessed(), 10))},
			}
			if _, err := s.conn.Write(ack.Frame().Encode()); err != nil {
				return fmt.Errorf("writing ACK: %w", err)
			}
			atomic.AddUint64(&s.bytesProcessed, uint64(cmd.Frame().Len()))
			continue
		}

		if cmd.Name != "PING" {
			if err := s.apply.ApplyReplicated(cmd); err != nil {
				log.Warnf("applying replicated command %s: %v", cmd.Name, err)
			}
		}

		if protocol.IsReplicaAccountable(cmd.Name) {
			atomic.AddUint64(&s.bytesProcessed, uint64(cmd.Frame().Len()))
		}
	}
}

// Close tears down the connection to the master.
func (s *Slave) Close() error {
	return s.conn.Close()
}
