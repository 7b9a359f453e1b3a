package handler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"redis/internal/expiry"
	"redis/internal/protocol"
	"redis/internal/replication"
	"redis/internal/storage"
)

const wrongType = "WRONGTYPE Operation against a key holding the wrong kind of value"

// Config carries the bits of server configuration CONFIG GET needs to
// answer from. It deliberately mirrors only
// the fields the wire protocol exposes — CLI parsing and the rest of the
// config surface are out of scope (§1).
type Config struct {
	Dir        string
	DBFilename string
}

// RoleInfo is supplied by the server so INFO can report the
// current replication role without the handler package depending on the
// server package.
type RoleInfo interface {
	// Lines renders this server's current `# Replication` fields.
	Lines() []string
}

// Executor holds everything a command needs to run: the shared keyspace,
// the expiry scheduler, static config, and (if this process is a master)
// the replication broadcaster. One Executor is shared by every
// connection and by the replica apply loop.
type Executor struct {
	Keyspace  *storage.Keyspace
	Scheduler *expiry.Scheduler
	Config    Config
	Master    *replication.Master // nil when this process is itself a replica
	Role      RoleInfo
}

// ApplyReplicated executes cmd as received from a master, silently: no
// reply is produced and the command is not re-broadcast. It implements
// replication.Applier.
func (e *Executor) ApplyReplicated(cmd protocol.Command) error {
	_, err := e.dispatch(cmd)
	return err
}

// replyErr is how command handlers report a protocol-level SimpleError:
// it both becomes the wire reply and is returned as the Go error so
// ApplyReplicated can log it without producing a reply.
type replyErr struct{ msg string }

func (e replyErr) Error() string { return e.msg }

// Execute runs cmd for a live client connection, returning the reply
// frame to write. Broadcasting to replicas is left to the caller.
func (e *Executor) Execute(cmd protocol.Command) protocol.Frame {
	f, err := e.dispatch(cmd)
	if err != nil {
		if re, ok := err.(replyErr); ok {
			return protocol.Err(re.msg)
		}
		return protocol.Err("ERR " + err.Error())
	}
	return f
}

func (e *Executor) dispatch(cmd protocol.Command) (protocol.Frame, error) {
	switch cmd.Name {
	case "PING":
		return protocol.Str("PONG"), nil

	case "ECHO":
		if len(cmd.Args) != 1 {
			return protocol.Frame{}, replyErr{"ERR wrong number of arguments for 'echo' command"}
		}
		return protocol.Bulk(cmd.Args[0]), nil

	case "GET":
		return e.execGet(cmd)

	case "SET":
		return e.execSet(cmd)

	case "DEL":
		return e.execDel(cmd)

	case "TYPE":
		if len(cmd.Args) != 1 {
			return protocol.Frame{}, replyErr{"ERR wrong number of arguments for 'type' command"}
		}
		return protocol.Str(e.Keyspace.Type(string(cmd.Args[0]))), nil

	case "KEYS":
		return e.execKeys(cmd)

	case "CONFIG":
		return e.execConfig(cmd)

	case "INFO":
		return e.execInfo(), nil

	case "SAVE":
		return protocol.Str("OK"), nil

	case "SELECT":
		if len(cmd.Args) != 1 {
			return protocol.Frame{}, replyErr{"ERR wrong number of arguments for 'select' command"}
		}
		return protocol.Str("OK"), nil

	case "XADD":
		return e.execXAdd(cmd)

	case "XRANGE":
		return e.execXRange(cmd)

	case "XREAD":
		return e.execXRead(cmd)

	case "REPLCONF":
		return protocol.Str("OK"), nil

	default:
		return protocol.Frame{}, replyErr{fmt.Sprintf("ERR unknown command '%s'", cmd.Name)}
	}
}

func (e *Executor) execGet(cmd protocol.Command) (protocol.Frame, error) {
	if len(cmd.Args) != 1 {
		return protocol.Frame{}, replyErr{"ERR wrong number of arguments for 'get' command"}
	}
	v, ok := e.Keyspace.Get(string(cmd.Args[0]))
	if !ok {
		return protocol.NullBulk(), nil
	}
	if v.Kind != storage.TypeString {
		return protocol.Frame{}, replyErr{wrongType}
	}
	return protocol.Bulk(v.Str), nil
}

func (e *Executor) execSet(cmd protocol.Command) (protocol.Frame, error) {
	if len(cmd.Args) != 2 && len(cmd.Args) != 4 {
		return protocol.Frame{}, replyErr{"ERR wrong number of arguments for 'set' command"}
	}
	key := string(cmd.Args[0])
	e.Keyspace.Set(key, storage.NewStringValue(cmd.Args[1]))

	if len(cmd.Args) == 4 {
		if !strings.EqualFold(string(cmd.Args[2]), "PX") {
			return protocol.Frame{}, replyErr{"ERR syntax error"}
		}
		ms, err := strconv.ParseInt(string(cmd.Args[3]), 10, 64)
		if err != nil || ms < 0 {
			return protocol.Frame{}, replyErr{"ERR value is not an integer or out of range"}
		}
		e.Keyspace.SetExpiryAt(key, time.Now().UnixMilli()+ms)
		if e.Scheduler != nil {
			e.Scheduler.Schedule(key, time.Duration(ms)*time.Millisecond)
		}
	}
	return protocol.Str("OK"), nil
}

func (e *Executor) execDel(cmd protocol.Command) (protocol.Frame, error) {
	if len(cmd.Args) < 1 {
		return protocol.Frame{}, replyErr{"ERR wrong number of arguments for 'del' command"}
	}
	keys := make([]string, len(cmd.Args))
	for i, a := range cmd.Args {
		keys[i] = string(a)
	}
	return protocol.Int(int64(e.Keyspace.Del(keys...))), nil
}

func (e *Executor) execKeys(cmd protocol.Command) (protocol.Frame, error) {
	if len(cmd.Args) != 1 {
		return protocol.Frame{}, replyErr{"ERR wrong number of arguments for 'keys' command"}
	}
	if string(cmd.Args[0]) != "*" {
		return protocol.Arr(), nil
	}
	keys := e.Keyspace.Keys()
	items := make([]protocol.Frame, len(keys))
	for i, k := range keys {
		items[i] = protocol.BulkStr(k)
	}
	return protocol.Arr(items...), nil
}

func (e *Executor) execConfig(cmd protocol.Command) (protocol.Frame, error) {
	if len(cmd.Args) < 2 || !strings.EqualFold(string(cmd.Args[0]), "GET") {
		return protocol.Frame{}, replyErr{"ERR unknown subcommand for 'config'"}
	}
	name := strings.ToLower(string(cmd.Args[1]))
	switch name {
	case "dir":
		return protocol.Arr(protocol.BulkStr("dir"), protocol.BulkStr(e.Config.Dir)), nil
	case "dbfilename":
		return protocol.Arr(protocol.BulkStr("dbfilename"), protocol.BulkStr(e.Config.DBFilename)), nil
	default:
		// §9: the reference implementation panics on unknown names; this
		// spec requires an empty array instead.
		return protocol.Arr(), nil
	}
}

func (e *Executor) execInfo() protocol.Frame {
	var lines []string
	if e.Role != nil {
		lines = e.Role.Lines()
	} else {
		lines = []string{"role:master", "master_replid:0000000000000000000000000000000000000000", "master_repl_offset:0"}
	}
	body := strings.Join(lines, "\r\n") + "\r\n"
	return protocol.BulkStr(body)
}

func (e *Executor) execXAdd(cmd protocol.Command) (protocol.Frame, error) {
	if len(cmd.Args) < 4 || len(cmd.Args)%2 != 0 {
		return protocol.Frame{}, replyErr{"ERR wrong number of arguments for 'xadd' command"}
	}
	key := string(cmd.Args[0])
	idText := string(cmd.Args[1])
	fieldArgs := cmd.Args[2:]

	fields := make([]storage.Field, 0, len(fieldArgs)/2)
	for i := 0; i < len(fieldArgs); i += 2 {
		fields = append(fields, storage.Field{Name: fieldArgs[i], Value: fieldArgs[i+1]})
	}

	var resultID storage.StreamID
	err := e.Keyspace.Mutate(key, func(existing *storage.Value) (*storage.Value, error) {
		var v *storage.Value
		if existing == nil {
			v = storage.NewStreamValue()
		} else if existing.Kind != storage.TypeStream {
			return nil, replyErr{wrongType}
		} else {
			v = existing
		}

		id, err := parseStreamID(idText, v.Stream)
		if err != nil {
			return nil, replyErr{err.Error()}
		}
		if err := v.Stream.Append(id, fields); err != nil {
			return nil, replyErr{err.Error()}
		}
		resultID = id
		return v, nil
	})
	if err != nil {
		return protocol.Frame{}, err
	}
	return protocol.BulkStr(resultID.String()), nil
}

func (e *Executor) execXRange(cmd protocol.Command) (protocol.Frame, error) {
	if len(cmd.Args) != 3 {
		return protocol.Frame{}, replyErr{"ERR wrong number of arguments for 'xrange' command"}
	}
	key := string(cmd.Args[0])
	from, err := parseRangeBound(string(cmd.Args[1]), true)
	if err != nil {
		return protocol.Frame{}, replyErr{err.Error()}
	}
	to, err := parseRangeBound(string(cmd.Args[2]), false)
	if err != nil {
		return protocol.Frame{}, replyErr{err.Error()}
	}

	v, ok := e.Keyspace.Get(key)
	if !ok {
		return protocol.Arr(), nil
	}
	if v.Kind != storage.TypeStream {
		return protocol.Frame{}, replyErr{wrongType}
	}
	return entriesFrame(v.Stream.Range(from, to)), nil
}

func (e *Executor) execXRead(cmd protocol.Command) (protocol.Frame, error) {
	args := cmd.Args
	if len(args) < 3 || !strings.EqualFold(string(args[0]), "STREAMS") {
		return protocol.Frame{}, replyErr{"ERR wrong number of arguments for 'xread' command"}
	}
	rest := args[1:]
	if len(rest)%2 != 0 {
		return protocol.Frame{}, replyErr{"ERR Unbalanced XREAD list of streams: for each stream key an ID or '$' must be specified."}
	}
	n := len(rest) / 2
	keys := rest[:n]
	ids := rest[n:]

	results := make([]protocol.Frame, 0, n)
	for i := 0; i < n; i++ {
		key := string(keys[i])

		v, ok := e.Keyspace.Get(key)
		if ok && v.Kind != storage.TypeStream {
			return protocol.Frame{}, replyErr{wrongType}
		}

		var after storage.StreamID
		if string(ids[i]) == "$" {
			if ok {
				after = v.Stream.LastID()
			} else {
				after = storage.MaxStreamID
			}
		} else {
			id, err := parseExactID(string(ids[i]))
			if err != nil {
				return protocol.Frame{}, replyErr{err.Error()}
			}
			after = id
		}

		if !ok {
			continue
		}
		entries := v.Stream.After(after)
		if len(entries) == 0 {
			continue
		}
		results = append(results, protocol.Arr(protocol.BulkStr(key), entriesFrame(entries)))
	}
	return protocol.Arr(results...), nil
}

func entriesFrame(entries []storage.StreamEntry) protocol.Frame {
	items := make([]protocol.Frame, len(entries))
	for i, e := range entries {
		fieldItems := make([]protocol.Frame, 0, len(e.Fields)*2)
		for _, f := range e.Fields {
			fieldItems = append(fieldItems, protocol.Bulk(f.Name), protocol.Bulk(f.Value))
		}
		items[i] = protocol.Arr(protocol.BulkStr(e.ID.String()), protocol.Arr(fieldItems...))
	}
	return protocol.Arr(items...)
}
