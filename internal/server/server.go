package server

import (
	"bufio"
	"bytes"
	"fmt"
	"net"

	"redis/internal/expiry"
	"redis/internal/handler"
	"redis/internal/log"
	"redis/internal/rdb"
	"redis/internal/replication"
	"redis/internal/storage"
)

// Server owns the shared state of one running process: the keyspace, the
// expiry scheduler, the command executor, and — depending on Config —
// either a replication.Master (accepting PSYNC from replicas) or a
// replication.Slave (connected to this process's own master).
type Server struct {
	cfg Config
	ln  net.Listener

	keyspace  *storage.Keyspace
	scheduler *expiry.Scheduler
	executor  *handler.Executor

	master *replication.Master
	slave  *replication.Slave
}

// New wires the keyspace, scheduler, and executor together, loads the
// startup snapshot (non-fatal on failure, per §6), and — if cfg is a
// replica — connects to the master and starts the apply loop.
func New(cfg Config) (*Server, error) {
	ks := storage.NewKeyspace()
	sched := expiry.New(ks)

	if err := rdb.LoadFile(cfg.Dir+"/"+cfg.DBFilename, ks); err != nil {
		log.Warnf("snapshot load failed, starting with empty keyspace: %v", err)
	}

	s := &Server{
		cfg:       cfg,
		keyspace:  ks,
		scheduler: sched,
	}

	ex := &handler.Executor{
		Keyspace:  ks,
		Scheduler: sched,
		Config:    handler.Config{Dir: cfg.Dir, DBFilename: cfg.DBFilename},
	}

	if cfg.IsReplica() {
		slave, err := replication.Connect(cfg.ReplicaOfHost, cfg.ReplicaOfPort, cfg.Port, ex, func(payload []byte) error {
			return rdb.Load(bufio.NewReader(bytes.NewReader(payload)), ks)
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to master %s:%d: %w", cfg.ReplicaOfHost, cfg.ReplicaOfPort, err)
		}
		s.slave = slave
		ex.Role = &slaveRole{host: cfg.ReplicaOfHost, port: cfg.ReplicaOfPort, slave: slave}
		go func() {
			if err := slave.Run(); err != nil {
				log.Warnf("replication stream from master ended: %v", err)
			}
		}()
	} else {
		master := replication.NewMaster()
		s.master = master
		ex.Master = master
		ex.Role = &masterRole{master}
	}

	s.executor = ex
	return s, nil
}

// Start binds the listener and begins accepting connections; it blocks
// until the listener is closed.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}
	s.ln = ln
	log.Infof("listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go handler.Serve(conn, s.executor)
	}
}

// Shutdown stops accepting connections, cancels pending expiry timers, and
// (if a replica) disconnects from the master.
func (s *Server) Shutdown() {
	if s.ln != nil {
		s.ln.Close()
	}
	s.scheduler.Stop()
	if s.master != nil {
		s.master.Shutdown()
	}
	if s.slave != nil {
		s.slave.Close()
	}
}

type masterRole struct{ master *replication.Master }

func (r *masterRole) Lines() []string { return r.master.InfoLines() }

type slaveRole struct {
	host  string
	port  int
	slave *replication.Slave
}

func (r *slaveRole) Lines() []string {
	return []string{
		"role:slave",
		fmt.Sprintf("master_host:%s", r.host),
		fmt.Sprintf("master_port:%d", r.port),
		"master_link_status:up",
		fmt.Sprintf("slave_repl_offset:%d", r.slave.BytesProcessed()),
		fmt.Sprintf("master_replid:%s", r.slave.MasterReplID()),
	}
}
