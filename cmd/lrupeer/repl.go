package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/IvanBrykalov/genlru/cache"
)

const helpText = `commands:
  set <key> <value>   store value (JSON, or any text stored as a JSON string)
  get <key>           read and promote
  peek <key>          read without promoting
  has <key>           presence
  del <key>           delete
  keys                keys, oldest first
  len | size          resident entries
  cap                 capacity
  resize <n>          change capacity
  clear               drop everything (local only)
  stats               hit/miss/eviction counters
  status              replication status
  quit | exit         stop the node`

// repl executes line commands against a cache.
type repl struct {
	cache  cache.Cache[string, json.RawMessage]
	status func() string
}

// serve reads commands from in until EOF, "quit" or ctx is done.
func (r *repl) serve(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	done := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		done <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-done:
			return err
		case line := <-lines:
			if r.exec(line, out) {
				return nil
			}
		}
	}
}

// exec runs one command and reports whether the session should end.
func (r *repl) exec(line string, out io.Writer) (quit bool) {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	cmd = strings.ToLower(cmd)
	rest = strings.TrimSpace(rest)
	key, arg, _ := strings.Cut(rest, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
	case "set":
		if key == "" {
			fmt.Fprintln(out, "ERR usage: set <key> <value>")
			return false
		}
		r.cache.Set(key, toJSON(arg))
		fmt.Fprintln(out, "OK")
	case "get", "peek":
		if key == "" {
			fmt.Fprintf(out, "ERR usage: %s <key>\n", cmd)
			return false
		}
		get := r.cache.Get
		if cmd == "peek" {
			get = r.cache.Peek
		}
		if v, ok := get(key); ok {
			fmt.Fprintln(out, string(v))
		} else {
			fmt.Fprintln(out, "(nil)")
		}
	case "has":
		fmt.Fprintln(out, r.cache.Has(key))
	case "del", "delete":
		fmt.Fprintln(out, r.cache.Delete(key))
	case "keys":
		for k := range r.cache.Ascending() {
			fmt.Fprintln(out, k)
		}
	case "len", "size":
		fmt.Fprintln(out, r.cache.Len())
	case "cap":
		fmt.Fprintln(out, r.cache.Cap())
	case "resize":
		n, err := strconv.Atoi(key)
		if err == nil {
			err = r.cache.Resize(n)
		}
		if err != nil {
			fmt.Fprintf(out, "ERR %v\n", err)
			return false
		}
		fmt.Fprintln(out, "OK")
	case "clear":
		r.cache.Clear()
		fmt.Fprintln(out, "OK")
	case "stats":
		s := r.cache.Stats()
		fmt.Fprintf(out, "hits=%d misses=%d evictions=%d rotations=%d\n", s.Hits, s.Misses, s.Evictions, s.Rotations)
	case "status":
		fmt.Fprintln(out, r.status())
	case "help":
		fmt.Fprintln(out, helpText)
	case "quit", "exit":
		return true
	default:
		fmt.Fprintf(out, "ERR unknown command %q (try help)\n", cmd)
	}
	return false
}

// toJSON keeps valid JSON as is and encodes anything else as a JSON string.
func toJSON(s string) json.RawMessage {
	if s != "" && json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}
