// Package server implements the Celerix line protocol over TCP.
package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-favorites/pkg/sdk"
)

// maxConns bounds concurrently served connections.
const maxConns = 100

// CommandObserver is told about every command the router handled.
type CommandObserver interface {
	ObserveCommand(command string, ok bool)
}

type Router struct {
	store    sdk.CelerixStore
	logger   *slog.Logger
	observer CommandObserver

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	stopped  bool
	wg       sync.WaitGroup
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithObserver reports each handled command to o.
func WithObserver(o CommandObserver) Option {
	return func(r *Router) { r.observer = o }
}

func NewRouter(s sdk.CelerixStore, opts ...Option) *Router {
	r := &Router{
		store:  s,
		logger: slog.Default(),
		conns:  make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "tcp_router")
	return r
}

// Listen starts the TCP server and blocks until Stop is called.
func (r *Router) Listen(port string) error {
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}
	return r.Serve(listener)
}

// Serve accepts connections on listener until Stop is called.
func (r *Router) Serve(listener net.Listener) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		listener.Close()
		return nil
	}
	r.listener = listener
	r.mu.Unlock()

	r.logger.Info("tcp router listening", "addr", listener.Addr().String())
	semaphore := make(chan struct{}, maxConns)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if r.isStopped() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.logger.Warn("accept failed", "error", err)
			continue
		}

		r.mu.Lock()
		if r.stopped {
			r.mu.Unlock()
			conn.Close()
			return nil
		}
		r.wg.Add(1)
		r.mu.Unlock()

		// Aggressive timeouts for light traffic prevent resource exhaustion
		conn.SetDeadline(time.Now().Add(5 * time.Minute))

		go func(c net.Conn) {
			defer r.wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()
			r.HandleConnection(c)
		}(conn)
	}
}

// Stop closes the listener and every open connection, then waits for their
// handlers to return.
func (r *Router) Stop() {
	r.mu.Lock()
	r.stopped = true
	if r.listener != nil {
		r.listener.Close()
	}
	for c := range r.conns {
		c.Close()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Router) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *Router) track(conn net.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.conns[conn] = struct{}{}
	return true
}

func (r *Router) untrack(conn net.Conn) {
	r.mu.Lock()
	delete(r.conns, conn)
	r.mu.Unlock()
	conn.Close()
}

// HandleConnection serves commands on conn until QUIT, EOF or a read timeout.
func (r *Router) HandleConnection(conn net.Conn) {
	if !r.track(conn) {
		conn.Close()
		return
	}
	defer r.untrack(conn)

	reader := bufio.NewReader(conn)
	for {
		// Set a deadline for the next command
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		line, err := reader.ReadString('\n')
		if err != nil {
			return // Connection closed or timeout
		}

		parts := strings.Fields(strings.TrimSpace(line))
		if len(parts) < 1 {
			continue
		}

		command := strings.ToUpper(parts[0])
		if command == "QUIT" {
			return
		}
		resp, handled := r.dispatch(command, parts)
		if !handled {
			continue
		}
		fmt.Fprintln(conn, resp)
		if r.observer != nil {
			r.observer.ObserveCommand(command, !strings.HasPrefix(resp, "ERR"))
		}
	}
}

// dispatch executes one command. Commands with too few arguments or an
// unknown verb are ignored, matching the protocol's tolerant behavior.
func (r *Router) dispatch(command string, parts []string) (string, bool) {
	switch command {
	case "GET":
		if len(parts) < 4 {
			return "", false
		}
		val, err := r.store.Get(parts[1], parts[2], parts[3])
		return reply(val, err), true

	case "SET":
		if len(parts) < 5 {
			return "", false
		}
		// The value is everything after the 4th word
		var val any
		if err := json.Unmarshal([]byte(strings.Join(parts[4:], " ")), &val); err != nil {
			return "ERR invalid json value", true
		}
		return ack(r.store.Set(parts[1], parts[2], parts[3], val)), true

	case "DEL":
		if len(parts) < 4 {
			return "", false
		}
		return ack(r.store.Delete(parts[1], parts[2], parts[3])), true

	case "LIST_PERSONAS":
		list, err := r.store.GetPersonas()
		return reply(list, err), true

	case "LIST_APPS":
		if len(parts) < 2 {
			return "", false
		}
		list, err := r.store.GetApps(parts[1])
		return reply(list, err), true

	case "DUMP":
		if len(parts) < 3 {
			return "", false
		}
		data, err := r.store.GetAppStore(parts[1], parts[2])
		return reply(data, err), true

	case "DUMP_APP":
		if len(parts) < 2 {
			return "", false
		}
		data, err := r.store.DumpApp(parts[1])
		return reply(data, err), true

	case "GET_GLOBAL":
		if len(parts) < 3 {
			return "", false
		}
		val, personaID, err := r.store.GetGlobal(parts[1], parts[2])
		if err != nil {
			return reply(nil, err), true
		}
		return reply(map[string]any{"persona": personaID, "value": val}, nil), true

	case "MOVE":
		if len(parts) < 5 {
			return "", false
		}
		// MOVE src dst app key
		return ack(r.store.Move(parts[1], parts[2], parts[3], parts[4])), true

	case "PING":
		return "PONG", true
	}
	return "", false
}

func reply(val any, err error) string {
	if err != nil {
		return "ERR " + err.Error()
	}
	res, err := json.Marshal(val)
	if err != nil {
		return "ERR internal error"
	}
	return "OK " + string(res)
}

func ack(err error) string {
	if err != nil {
		return "ERR " + err.Error()
	}
	return "OK"
}
