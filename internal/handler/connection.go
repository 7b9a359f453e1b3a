package handler

import (
	"net"
	"strconv"
	"strings"
	"time"

	"redis/internal/log"
	"redis/internal/protocol"
)

// Serve drives one client connection through the FSM of §4.3:
// Reading -> Dispatching -> (Writing -> Reading)* -> (Closed | PromotedReplica).
func Serve(conn net.Conn, ex *Executor) {
	defer conn.Close()
	addr := conn.RemoteAddr().String()

	var buf []byte
	readChunk := make([]byte, 4096)
	listeningPort := ""

	for {
		frame, rest, err := protocol.ParseCommandFrame(buf)
		if err == protocol.ErrIncomplete {
			n, rerr := conn.Read(readChunk)
			if n > 0 {
				buf = append(buf, readChunk[:n]...)
			}
			if rerr != nil {
				return
			}
			continue
		}
		if err != nil {
			if protocol.IsMalformed(err) {
				log.Debugf("%s: malformed frame, dropping buffer: %v", addr, err)
				buf = nil
				continue
			}
			return
		}
		buf = rest

		cmd, err := protocol.CommandFromFrame(frame)
		if err != nil {
			writeReply(conn, protocol.Err("ERR "+err.Error()))
			continue
		}

		switch cmd.Name {
		case "REPLCONF":
			if len(cmd.Args) >= 2 && equalFold(cmd.Args[0], "listening-port") {
				listeningPort = string(cmd.Args[1])
			}
			writeReply(conn, protocol.Str("OK"))
			continue

		case "PSYNC":
			promoteToReplica(conn, ex, addr, listeningPort, &buf)
			return

		case "WAIT":
			writeReply(conn, execWait(ex, cmd))
			continue
		}

		reply := ex.Execute(cmd)
		writeReply(conn, reply)

		if protocol.IsWriteAccountable(cmd.Name) && ex.Master != nil {
			ex.Master.Broadcast(cmd)
		}
	}
}

func equalFold(b []byte, s string) bool {
	return strings.EqualFold(string(b), s)
}

func writeReply(conn net.Conn, f protocol.Frame) {
	if _, err := conn.Write(f.Encode()); err != nil {
		log.Debugf("write reply: %v", err)
	}
}

func execWait(ex *Executor, cmd protocol.Command) protocol.Frame {
	if len(cmd.Args) != 2 {
		return protocol.Err("ERR wrong number of arguments for 'wait' command")
	}
	n, err1 := strconv.Atoi(string(cmd.Args[0]))
	ms, err2 := strconv.Atoi(string(cmd.Args[1]))
	if err1 != nil || err2 != nil {
		return protocol.Err("ERR value is not an integer or out of range")
	}
	if ex.Master == nil {
		return protocol.Int(0)
	}
	got := ex.Master.Wait(n, time.Duration(ms)*time.Millisecond)
	return protocol.Int(int64(got))
}

// fixedEmptyRDB is a structurally valid, empty RDB snapshot: the magic
// header, version, and an immediate EOF opcode plus its (unchecked) 8-byte
// checksum footer. §4.6 allows a fixed constant blob here.
var fixedEmptyRDB = []byte("REDIS0011\xff\x00\x00\x00\x00\x00\x00\x00\x00")

// promoteToReplica answers PSYNC with FULLRESYNC + a raw RDB frame, then
// hands the connection to the replication master as an outbound replica
// link. The connection's remaining lifetime is: the master's writer
// goroutine drains the broadcast to conn, while this goroutine keeps
// reading inbound frames, expecting only REPLCONF ACK.
func promoteToReplica(conn net.Conn, ex *Executor, addr, listeningPort string, buf *[]byte) {
	if ex.Master == nil {
		writeReply(conn, protocol.Err("ERR this instance has no replication master state"))
		return
	}

	resync := "FULLRESYNC " + ex.Master.ReplID() + " 0"
	if _, err := conn.Write(protocol.Str(resync).Encode()); err != nil {
		return
	}
	if _, err := conn.Write(protocol.EncodeRawBulk(fixedEmptyRDB)); err != nil {
		return
	}

	replicaAddr := addr
	if listeningPort != "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			replicaAddr = net.JoinHostPort(host, listeningPort)
		}
	}

	ex.Master.AddReplica(replicaAddr, conn)
	log.Infof("replica %s promoted", replicaAddr)
	defer ex.Master.RemoveReplica(replicaAddr)

	readChunk := make([]byte, 4096)
	for {
		frame, rest, err := protocol.Parse(*buf)
		if err == protocol.ErrIncomplete {
			n, rerr := conn.Read(readChunk)
			if n > 0 {
				*buf = append(*buf, readChunk[:n]...)
			}
			if rerr != nil {
				return
			}
			continue
		}
		if err != nil {
			if protocol.IsMalformed(err) {
				*buf = nil
				continue
			}
			return
		}
		*buf = rest

		cmd, err := protocol.CommandFromFrame(frame)
		if err != nil {
			continue
		}
		if cmd.Name == "REPLCONF" && len(cmd.Args) >= 2 && equalFold(cmd.Args[0], "ACK") {
			offset, err := strconv.ParseUint(string(cmd.Args[1]), 10, 64)
			if err == nil {
				ex.Master.UpdateReplicaAck(replicaAddr, offset)
			}
		}
	}
}
