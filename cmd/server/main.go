package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"redis/internal/log"
	"redis/internal/server"
)

func main() {
	cfg := server.DefaultConfig()
	var replicaOf string

	root := &cobra.Command{
		Use:   "redis-server",
		Short: "an in-memory key-value server speaking the wire protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			if replicaOf != "" {
				host, port, err := splitReplicaOf(replicaOf)
				if err != nil {
					return err
				}
				cfg.ReplicaOfHost = host
				cfg.ReplicaOfPort = port
			}
			return run(cfg)
		},
	}

	root.Flags().StringVar(&cfg.Dir, "dir", cfg.Dir, "directory holding the startup snapshot")
	root.Flags().StringVar(&cfg.DBFilename, "dbfilename", cfg.DBFilename, "snapshot filename within --dir")
	root.Flags().IntVar(&cfg.Port, "port", cfg.Port, "listening port")
	root.Flags().StringVar(&cfg.Host, "host", cfg.Host, "listening host")
	root.Flags().StringVar(&replicaOf, "replicaof", "", `"<host> <port>": boot as a replica of the given master`)

	if err := root.Execute(); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func splitReplicaOf(v string) (string, int, error) {
	fields := strings.Fields(v)
	if len(fields) != 2 {
		return "", 0, fmt.Errorf(`--replicaof must be "<host> <port>", got %q`, v)
	}
	port, err := strconv.Atoi(fields[1])
	if err != nil {
		return "", 0, fmt.Errorf("--replicaof: invalid port %q: %w", fields[1], err)
	}
	return fields[0], port, nil
}

func run(cfg server.Config) error {
	srv, err := server.New(cfg)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("shutting down")
		srv.Shutdown()
	}()

	log.Infof("starting on %s:%d (dir=%s dbfilename=%s replica=%v)", cfg.Host, cfg.Port, cfg.Dir, cfg.DBFilename, cfg.IsReplica())
	return srv.Start()
}
