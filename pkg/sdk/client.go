// Package sdk provides the client-side library for interacting with the Celerix Store.
// It supports both remote connections over TCP and local embedded mode, and
// adapts either one into storage for a favorites.Manager.
package sdk

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
)

// Client is a remote client for the Celerix Store daemon.
// It implements the CelerixStore interface.
type Client struct {
	addr   string
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex // Protects concurrent access to the connection
	logger *slog.Logger
}

// Connect establishes a connection to a remote Celerix Store daemon.
func Connect(addr string) (*Client, error) {
	c := &Client{
		addr:   addr,
		logger: slog.Default().With("component", "sdk_client", "addr", addr),
	}
	if err := c.reconnect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) reconnect() error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 60 * time.Second,
	}
	conn, err := dialer.Dial("tcp", c.addr)
	if err != nil {
		return err
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

// Internal helper for TCP communication
func (c *Client) sendAndReceive(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	var resp string

	// Try up to 3 times with backoff
	for i := 0; i < 3; i++ {
		if c.conn == nil {
			if reconnectErr := c.reconnect(); reconnectErr != nil {
				err = fmt.Errorf("reconnect failed: %w", reconnectErr)
				time.Sleep(time.Duration(i*100) * time.Millisecond)
				continue
			}
		}

		c.conn.SetDeadline(time.Now().Add(30 * time.Second))

		_, err = fmt.Fprint(c.conn, cmd+"\n")
		if err == nil {
			resp, err = c.reader.ReadString('\n')
			if err == nil {
				resp = strings.TrimSpace(resp)
				if msg, ok := strings.CutPrefix(resp, "ERR"); ok {
					return "", remoteError(strings.TrimSpace(msg))
				}
				return resp, nil
			}
		}

		c.logger.Warn("request failed, reconnecting", "attempt", i+1, "error", err)
		if closeErr := c.reconnect(); closeErr != nil {
			c.logger.Warn("reconnect attempt failed", "error", closeErr)
		}

		time.Sleep(time.Duration((i+1)*200) * time.Millisecond)
	}

	return "", fmt.Errorf("failed after 3 attempts. last error: %w", err)
}

// remoteError maps the daemon's error text back to the shared sentinels.
func remoteError(msg string) error {
	for _, sentinel := range []error{ErrKeyNotFound, ErrAppNotFound, ErrPersonaNotFound} {
		if msg == sentinel.Error() {
			return sentinel
		}
	}
	return errors.New(msg)
}

// decode strips the OK prefix from resp and unmarshals the rest into v.
func decode(resp string, v any) error {
	return json.Unmarshal([]byte(strings.TrimPrefix(resp, "OK ")), v)
}

func (c *Client) Get(personaID, appID, key string) (any, error) {
	resp, err := c.sendAndReceive(fmt.Sprintf("GET %s %s %s", personaID, appID, key))
	if err != nil {
		return nil, err
	}
	var val any
	err = decode(resp, &val)
	return val, err
}

func (c *Client) Set(personaID, appID, key string, val any) error {
	jsonData, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("encode value for %s: %w", key, err)
	}
	_, err = c.sendAndReceive(fmt.Sprintf("SET %s %s %s %s", personaID, appID, key, string(jsonData)))
	return err
}

func (c *Client) Delete(personaID, appID, key string) error {
	_, err := c.sendAndReceive(fmt.Sprintf("DEL %s %s %s", personaID, appID, key))
	return err
}

func (c *Client) GetPersonas() ([]string, error) {
	resp, err := c.sendAndReceive("LIST_PERSONAS")
	if err != nil {
		return nil, err
	}
	var list []string
	err = decode(resp, &list)
	return list, err
}

func (c *Client) GetApps(personaID string) ([]string, error) {
	resp, err := c.sendAndReceive(fmt.Sprintf("LIST_APPS %s", personaID))
	if err != nil {
		return nil, err
	}
	var list []string
	err = decode(resp, &list)
	return list, err
}

func (c *Client) GetAppStore(personaID, appID string) (map[string]any, error) {
	resp, err := c.sendAndReceive(fmt.Sprintf("DUMP %s %s", personaID, appID))
	if err != nil {
		return nil, err
	}
	var store map[string]any
	err = decode(resp, &store)
	return store, err
}

func (c *Client) DumpApp(appID string) (map[string]map[string]any, error) {
	resp, err := c.sendAndReceive(fmt.Sprintf("DUMP_APP %s", appID))
	if err != nil {
		return nil, err
	}
	var store map[string]map[string]any
	err = decode(resp, &store)
	return store, err
}

func (c *Client) GetGlobal(appID, key string) (any, string, error) {
	resp, err := c.sendAndReceive(fmt.Sprintf("GET_GLOBAL %s %s", appID, key))
	if err != nil {
		return nil, "", err
	}
	var out struct {
		Persona string `json:"persona"`
		Value   any    `json:"value"`
	}
	err = decode(resp, &out)
	return out.Value, out.Persona, err
}

func (c *Client) Move(srcPersona, dstPersona, appID, key string) error {
	_, err := c.sendAndReceive(fmt.Sprintf("MOVE %s %s %s %s", srcPersona, dstPersona, appID, key))
	return err
}

// Ping checks that the daemon answers.
func (c *Client) Ping() error {
	resp, err := c.sendAndReceive("PING")
	if err != nil {
		return err
	}
	if resp != "PONG" {
		return fmt.Errorf("unexpected ping response %q", resp)
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	fmt.Fprintln(c.conn, "QUIT")
	err := c.conn.Close()
	c.conn = nil
	return err
}

// App returns a scoped interface for a specific persona and application.
func (c *Client) App(personaID, appID string) *AppScope {
	return App(c, personaID, appID)
}

// --- Generics Support ---

// Get retrieves a type-safe value using Go generics.
// It handles JSON unmarshaling into the target type automatically.
func Get[T any](s KVReader, personaID, appID, key string) (T, error) {
	var target T
	val, err := s.Get(personaID, appID, key)
	if err != nil {
		return target, err
	}

	// If it's already the right type (e.g. from MemStore), just return it
	if v, ok := val.(T); ok {
		return v, nil
	}

	// Otherwise it is a map/slice from JSON, so re-marshal into the target.
	raw, err := json.Marshal(val)
	if err != nil {
		return target, err
	}
	err = json.Unmarshal(raw, &target)
	return target, err
}

// Set stores a type-safe value using Go generics.
func Set[T any](s KVWriter, personaID, appID, key string, val T) error {
	return s.Set(personaID, appID, key, val)
}
