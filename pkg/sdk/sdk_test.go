package sdk_test

import (
	"errors"
	"net"
	"testing"

	"github.com/celerix-dev/celerix-favorites/internal/server"
	"github.com/celerix-dev/celerix-favorites/pkg/engine"
	"github.com/celerix-dev/celerix-favorites/pkg/sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapStore is a single-app KVStore keyed by key only.
type mapStore struct {
	data map[string]any
}

func (m *mapStore) Get(personaID, appID, key string) (any, error) {
	val, ok := m.data[key]
	if !ok {
		return nil, sdk.ErrKeyNotFound
	}
	return val, nil
}

func (m *mapStore) Set(personaID, appID, key string, val any) error {
	m.data[key] = val
	return nil
}

func (m *mapStore) Delete(personaID, appID, key string) error {
	delete(m.data, key)
	return nil
}

type user struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func TestGenericGetSet(t *testing.T) {
	ms := &mapStore{data: make(map[string]any)}

	require.NoError(t, sdk.Set(ms, "p1", "a1", "user1", user{Name: "Alice", Age: 30}))

	got, err := sdk.Get[user](ms, "p1", "a1", "user1")
	require.NoError(t, err)
	assert.Equal(t, user{Name: "Alice", Age: 30}, got)
}

func TestGenericGetWithJsonConversion(t *testing.T) {
	// Simulate data coming from JSON (where it's map[string]any)
	ms := &mapStore{data: map[string]any{
		"user1": map[string]any{"name": "Bob", "age": float64(25)},
	}}

	got, err := sdk.Get[user](ms, "p1", "a1", "user1")
	require.NoError(t, err)
	assert.Equal(t, user{Name: "Bob", Age: 25}, got)
}

func TestAppScopeAndVault(t *testing.T) {
	ms := engine.NewMemStore(nil, nil)
	scope := sdk.App(ms, "p1", "a1")

	require.NoError(t, scope.Set("plain", "hidden"))
	val, err := scope.Get("plain")
	require.NoError(t, err)
	assert.Equal(t, "hidden", val)

	v := scope.Vault([]byte("thisis32byteslongsecretkey123456"))
	require.NoError(t, v.Set("password", "topsecret"))

	pass, err := v.Get("password")
	require.NoError(t, err)
	assert.Equal(t, "topsecret", pass)

	raw, err := scope.Get("password")
	require.NoError(t, err)
	assert.NotEqual(t, "topsecret", raw, "vault value should be encrypted in store")

	require.NoError(t, scope.Delete("plain"))
	_, err = scope.Get("plain")
	assert.ErrorIs(t, err, sdk.ErrKeyNotFound)
}

func startServer(t *testing.T, store *engine.MemStore) string {
	t.Helper()
	router := server.NewRouter(store)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go router.Serve(listener)
	t.Cleanup(router.Stop)
	return listener.Addr().String()
}

func TestClient_Integration(t *testing.T) {
	store := engine.NewMemStore(nil, nil)
	addr := startServer(t, store)

	client, err := sdk.Connect(addr)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Ping())
	require.NoError(t, client.Set("p1", "a1", "k1", "v1"))

	val, err := client.Get("p1", "a1", "k1")
	require.NoError(t, err)
	assert.Equal(t, "v1", val)

	_, err = client.Get("p1", "a1", "missing")
	assert.ErrorIs(t, err, sdk.ErrKeyNotFound)

	personas, err := client.GetPersonas()
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, personas)

	app := client.App("p1", "a1")
	require.NoError(t, app.Set("k2", "v2"))
	val, err = app.Get("k2")
	require.NoError(t, err)
	assert.Equal(t, "v2", val)

	vault := app.Vault([]byte("thisis32byteslongsecretkey123456"))
	require.NoError(t, vault.Set("secret", "mypassword"))
	got, err := vault.Get("secret")
	require.NoError(t, err)
	assert.Equal(t, "mypassword", got)

	require.NoError(t, client.Move("p1", "p2", "a1", "k1"))
	val, owner, err := client.GetGlobal("a1", "k1")
	require.NoError(t, err)
	assert.Equal(t, "v1", val)
	assert.Equal(t, "p2", owner)
}

func TestClient_RetryLogic(t *testing.T) {
	store := engine.NewMemStore(nil, nil)
	router := server.NewRouter(store)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go router.Serve(listener)

	client, err := sdk.Connect(listener.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Set("p1", "a1", "k1", "v1"))

	// With the daemon gone every attempt fails, and the client reports it
	// instead of panicking.
	router.Stop()
	_, err = client.Get("p1", "a1", "k1")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, sdk.ErrKeyNotFound))
}

func TestOpen_FallsBackToEmbedded(t *testing.T) {
	store, err := sdk.Open(sdk.Options{
		DataDir:    t.TempDir(),
		Backend:    engine.BackendJSON,
		RemoteAddr: "127.0.0.1:1",
	})
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.(*engine.MemStore)
	assert.True(t, ok)
}
