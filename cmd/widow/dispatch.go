// Package widow is blackwidow's in-process command surface: the
// operator-facing set of data-type operations (get/set/hset/sadd/zadd/
// rpush, …) that the teacher's cmd/kv package dialed out to an RPC shard
// for. Since command routing and network framing are explicitly out of
// scope for the core (spec.md §1), widow calls straight into an opened
// *engine.Engine in the same process instead of building a client
// protocol — it is an operator tool, not a RESP server.
//
// Dispatch is shared by two front ends: the one-shot cobra subcommands in
// this package (each opens the engine, runs one command, closes it) and
// cmd/serve's REPL (opens the engine once and runs many commands against
// it, avoiding the open/close cost per line).
package widow

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/justforfun1323/blackwidow/internal/engine"
	"github.com/justforfun1323/blackwidow/internal/metrics"
)

// Dispatch runs one command (args[0] is the command name, case
// insensitive) against e and returns its human-readable reply. It
// mirrors redis-cli's "one line in, one line out" shape rather than
// spec.md's typed Go return values, since this package's only job is to
// render operator-facing text. Every call is tracked by
// metrics.Track under its owning engine and command name.
func Dispatch(e *engine.Engine, args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("empty command")
	}
	name := strings.ToUpper(args[0])
	rest := args[1:]

	cmd, ok := commandTable[name]
	if !ok {
		return "", fmt.Errorf("unknown command %q", args[0])
	}

	var reply string
	err := metrics.Track(cmd.engine, name, func() error {
		r, err := cmd.fn(e, rest)
		reply = r
		return err
	})
	return reply, err
}

type commandFunc func(e *engine.Engine, args []string) (string, error)

// command pairs a dispatch function with the engine name metrics.Track
// records it under.
type command struct {
	engine string
	fn     commandFunc
}

var commandTable = map[string]command{
	"EXISTS": {"core", cmdExists},
	"DEL":    {"core", cmdDel},
	"TYPE":   {"core", cmdType},
	"EXPIRE": {"core", cmdExpire},
	"TTL":    {"core", cmdTTL},
	"SCAN":   {"core", cmdScan},

	"SET":  {"strings", cmdSet},
	"GET":  {"strings", cmdGet},
	"INCR": {"strings", cmdIncr},

	"HSET":    {"hashes", cmdHSet},
	"HGET":    {"hashes", cmdHGet},
	"HDEL":    {"hashes", cmdHDel},
	"HGETALL": {"hashes", cmdHGetAll},

	"SADD":     {"sets", cmdSAdd},
	"SMEMBERS": {"sets", cmdSMembers},
	"SREM":     {"sets", cmdSRem},
	"SCARD":    {"sets", cmdSCard},

	"ZADD":   {"zsets", cmdZAdd},
	"ZRANGE": {"zsets", cmdZRange},
	"ZSCORE": {"zsets", cmdZScore},
	"ZREM":   {"zsets", cmdZRem},

	"RPUSH":  {"lists", cmdRPush},
	"LPUSH":  {"lists", cmdLPush},
	"LRANGE": {"lists", cmdLRange},
	"LPOP":   {"lists", cmdLPop},
	"RPOP":   {"lists", cmdRPop},
}

// Commands returns the sorted list of recognized command names, used by
// the REPL's HELP output.
func Commands() []string {
	names := make([]string, 0, len(commandTable))
	for name := range commandTable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func requireArgs(args []string, n int, usage string) error {
	if len(args) < n {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

func nilReply() string { return "(nil)" }

func boolReply(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func bytesReply(b []byte, ok bool) string {
	if !ok {
		return nilReply()
	}
	return string(b)
}

// --------------------------------------------------------------------------
// Cross-type
// --------------------------------------------------------------------------

func cmdExists(e *engine.Engine, args []string) (string, error) {
	if err := requireArgs(args, 1, "EXISTS key"); err != nil {
		return "", err
	}
	ok, err := e.Exists(args[0])
	if err != nil {
		return "", err
	}
	return boolReply(ok), nil
}

func cmdDel(e *engine.Engine, args []string) (string, error) {
	if err := requireArgs(args, 1, "DEL key [key ...]"); err != nil {
		return "", err
	}
	count := 0
	for _, key := range args {
		ok, err := e.Del(key)
		if err != nil {
			return "", err
		}
		if ok {
			count++
		}
	}
	return strconv.Itoa(count), nil
}

func cmdType(e *engine.Engine, args []string) (string, error) {
	if err := requireArgs(args, 1, "TYPE key"); err != nil {
		return "", err
	}
	t, err := e.Type(args[0])
	if err != nil {
		return "", err
	}
	if t == "" {
		return "none", nil
	}
	return t, nil
}

func cmdExpire(e *engine.Engine, args []string) (string, error) {
	if err := requireArgs(args, 2, "EXPIRE key seconds"); err != nil {
		return "", err
	}
	seconds, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return "", fmt.Errorf("invalid seconds %q: %w", args[1], err)
	}
	ok, err := e.Expire(args[0], uint32(seconds))
	if err != nil {
		return "", err
	}
	return boolReply(ok), nil
}

func cmdTTL(e *engine.Engine, args []string) (string, error) {
	if err := requireArgs(args, 1, "TTL key"); err != nil {
		return "", err
	}
	ttl, err := e.TTL(args[0])
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(ttl, 10), nil
}

func cmdScan(e *engine.Engine, args []string) (string, error) {
	cursor := int64(0)
	pattern := "*"
	if len(args) >= 1 {
		c, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid cursor %q: %w", args[0], err)
		}
		cursor = c
	}
	if len(args) >= 2 {
		pattern = args[1]
	}
	keys, next, err := e.Scan(cursor, pattern, 10)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("cursor=%d keys=%s", next, strings.Join(keys, ",")), nil
}

// --------------------------------------------------------------------------
// Strings
// --------------------------------------------------------------------------

func cmdSet(e *engine.Engine, args []string) (string, error) {
	if err := requireArgs(args, 2, "SET key value"); err != nil {
		return "", err
	}
	if err := e.Strings.Set(args[0], []byte(args[1])); err != nil {
		return "", err
	}
	return "OK", nil
}

func cmdGet(e *engine.Engine, args []string) (string, error) {
	if err := requireArgs(args, 1, "GET key"); err != nil {
		return "", err
	}
	v, ok, err := e.Strings.Get(args[0])
	if err != nil {
		return "", err
	}
	return bytesReply(v, ok), nil
}

func cmdIncr(e *engine.Engine, args []string) (string, error) {
	if err := requireArgs(args, 1, "INCR key [by]"); err != nil {
		return "", err
	}
	delta := int64(1)
	if len(args) >= 2 {
		d, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid delta %q: %w", args[1], err)
		}
		delta = d
	}
	n, err := e.Strings.IncrBy(args[0], delta)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n, 10), nil
}

// --------------------------------------------------------------------------
// Hashes
// --------------------------------------------------------------------------

func cmdHSet(e *engine.Engine, args []string) (string, error) {
	if err := requireArgs(args, 3, "HSET key field value"); err != nil {
		return "", err
	}
	n, err := e.Hashes.HSet(args[0], args[1], []byte(args[2]))
	if err != nil {
		return "", err
	}
	return strconv.Itoa(n), nil
}

func cmdHGet(e *engine.Engine, args []string) (string, error) {
	if err := requireArgs(args, 2, "HGET key field"); err != nil {
		return "", err
	}
	v, ok, err := e.Hashes.HGet(args[0], args[1])
	if err != nil {
		return "", err
	}
	return bytesReply(v, ok), nil
}

func cmdHDel(e *engine.Engine, args []string) (string, error) {
	if err := requireArgs(args, 2, "HDEL key field [field ...]"); err != nil {
		return "", err
	}
	n, err := e.Hashes.HDel(args[0], args[1:]...)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(n), nil
}

func cmdHGetAll(e *engine.Engine, args []string) (string, error) {
	if err := requireArgs(args, 1, "HGETALL key"); err != nil {
		return "", err
	}
	m, err := e.Hashes.HGetAll(args[0])
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for field, value := range m {
		fmt.Fprintf(&b, "%s=%s ", field, value)
	}
	return strings.TrimSpace(b.String()), nil
}

// --------------------------------------------------------------------------
// Sets
// --------------------------------------------------------------------------

func cmdSAdd(e *engine.Engine, args []string) (string, error) {
	if err := requireArgs(args, 2, "SADD key member [member ...]"); err != nil {
		return "", err
	}
	n, err := e.Sets.SAdd(args[0], args[1:]...)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(n), nil
}

func cmdSMembers(e *engine.Engine, args []string) (string, error) {
	if err := requireArgs(args, 1, "SMEMBERS key"); err != nil {
		return "", err
	}
	members, err := e.Sets.SMembers(args[0])
	if err != nil {
		return "", err
	}
	return strings.Join(members, ","), nil
}

func cmdSRem(e *engine.Engine, args []string) (string, error) {
	if err := requireArgs(args, 2, "SREM key member [member ...]"); err != nil {
		return "", err
	}
	n, err := e.Sets.SRem(args[0], args[1:]...)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(n), nil
}

func cmdSCard(e *engine.Engine, args []string) (string, error) {
	if err := requireArgs(args, 1, "SCARD key"); err != nil {
		return "", err
	}
	n, err := e.Sets.SCard(args[0])
	if err != nil {
		return "", err
	}
	return strconv.Itoa(n), nil
}

// --------------------------------------------------------------------------
// Sorted sets
// --------------------------------------------------------------------------

func cmdZAdd(e *engine.Engine, args []string) (string, error) {
	if err := requireArgs(args, 3, "ZADD key score member [score member ...]"); err != nil {
		return "", err
	}
	if len(args[1:])%2 != 0 {
		return "", fmt.Errorf("ZADD requires score/member pairs")
	}
	members := map[string]float64{}
	for i := 1; i+1 < len(args); i += 2 {
		score, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			return "", fmt.Errorf("invalid score %q: %w", args[i], err)
		}
		members[args[i+1]] = score
	}
	n, err := e.ZSets.ZAdd(args[0], members)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(n), nil
}

func cmdZRange(e *engine.Engine, args []string) (string, error) {
	if err := requireArgs(args, 3, "ZRANGE key start stop"); err != nil {
		return "", err
	}
	start, err := strconv.Atoi(args[1])
	if err != nil {
		return "", fmt.Errorf("invalid start %q: %w", args[1], err)
	}
	stop, err := strconv.Atoi(args[2])
	if err != nil {
		return "", fmt.Errorf("invalid stop %q: %w", args[2], err)
	}
	members, scores, err := e.ZSets.ZRange(args[0], start, stop, false)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(members))
	for i, m := range members {
		parts[i] = fmt.Sprintf("%s:%g", m, scores[i])
	}
	return strings.Join(parts, ","), nil
}

func cmdZScore(e *engine.Engine, args []string) (string, error) {
	if err := requireArgs(args, 2, "ZSCORE key member"); err != nil {
		return "", err
	}
	score, ok, err := e.ZSets.ZScore(args[0], args[1])
	if err != nil {
		return "", err
	}
	if !ok {
		return nilReply(), nil
	}
	return strconv.FormatFloat(score, 'g', -1, 64), nil
}

func cmdZRem(e *engine.Engine, args []string) (string, error) {
	if err := requireArgs(args, 2, "ZREM key member [member ...]"); err != nil {
		return "", err
	}
	n, err := e.ZSets.ZRem(args[0], args[1:]...)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(n), nil
}

// --------------------------------------------------------------------------
// Lists
// --------------------------------------------------------------------------

func cmdRPush(e *engine.Engine, args []string) (string, error) {
	if err := requireArgs(args, 2, "RPUSH key value [value ...]"); err != nil {
		return "", err
	}
	n, err := e.Lists.RPush(args[0], byteSlices(args[1:])...)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(n), nil
}

func cmdLPush(e *engine.Engine, args []string) (string, error) {
	if err := requireArgs(args, 2, "LPUSH key value [value ...]"); err != nil {
		return "", err
	}
	n, err := e.Lists.LPush(args[0], byteSlices(args[1:])...)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(n), nil
}

func cmdLRange(e *engine.Engine, args []string) (string, error) {
	if err := requireArgs(args, 3, "LRANGE key start stop"); err != nil {
		return "", err
	}
	start, err := strconv.Atoi(args[1])
	if err != nil {
		return "", fmt.Errorf("invalid start %q: %w", args[1], err)
	}
	stop, err := strconv.Atoi(args[2])
	if err != nil {
		return "", fmt.Errorf("invalid stop %q: %w", args[2], err)
	}
	values, err := e.Lists.LRange(args[0], start, stop)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ","), nil
}

func cmdLPop(e *engine.Engine, args []string) (string, error) {
	if err := requireArgs(args, 1, "LPOP key [count]"); err != nil {
		return "", err
	}
	count := popCount(args)
	values, err := e.Lists.LPop(args[0], count)
	if err != nil {
		return "", err
	}
	return joinPop(values), nil
}

func cmdRPop(e *engine.Engine, args []string) (string, error) {
	if err := requireArgs(args, 1, "RPOP key [count]"); err != nil {
		return "", err
	}
	count := popCount(args)
	values, err := e.Lists.RPop(args[0], count)
	if err != nil {
		return "", err
	}
	return joinPop(values), nil
}

func popCount(args []string) int {
	if len(args) >= 2 {
		if n, err := strconv.Atoi(args[1]); err == nil {
			return n
		}
	}
	return 1
}

func joinPop(values [][]byte) string {
	if len(values) == 0 {
		return nilReply()
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ",")
}

func byteSlices(args []string) [][]byte {
	out := make([][]byte, len(args))
	for i, a := range args {
		out[i] = []byte(a)
	}
	return out
}
