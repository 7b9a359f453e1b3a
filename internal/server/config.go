package server

// Config is the subset of server configuration the wire protocol itself
// exposes (CONFIG GET, the startup snapshot path, --replicaof). CLI
// parsing and the rest of the config surface live in cmd/server and are
// out of scope here (§1).
type Config struct {
	Host string
	Port int

	Dir        string
	DBFilename string

	// ReplicaOfHost/ReplicaOfPort are set when this process should boot as
	// a replica of another server (--replicaof "<host> <port>").
	ReplicaOfHost string
	ReplicaOfPort int
}

func DefaultConfig() Config {
	return Config{
		Host:       "0.0.0.0",
		Port:       6379,
		Dir:        ".",
		DBFilename: "dump.rdb",
	}
}

func (c Config) IsReplica() bool { return c.ReplicaOfHost != "" }
