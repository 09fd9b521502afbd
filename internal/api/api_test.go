package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/celerix-dev/celerix-favorites/pkg/engine"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRouter(t *testing.T) (*gin.Engine, *engine.MemStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := engine.NewMemStore(nil, nil)
	r := gin.New()
	SetupRoutes(r, &Handler{Store: store}, nil, nil)
	return r, store
}

func do(r http.Handler, method, path string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetPersonas(t *testing.T) {
	r, store := setupTestRouter(t)
	require.NoError(t, store.Set("p1", "a1", "k1", "v1"))

	w := do(r, http.MethodGet, "/api/personas", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var personas []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &personas))
	assert.Equal(t, []string{"p1"}, personas)
}

func TestSetAndGetAppStore(t *testing.T) {
	r, _ := setupTestRouter(t)

	body, _ := json.Marshal(map[string]any{"name": "test"})
	w := do(r, http.MethodPost, "/api/personas/p1/apps/a1/k1", bytes.NewBuffer(body))
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/api/personas/p1/apps/a1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var data map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &data))
	assert.Equal(t, map[string]any{"name": "test"}, data["k1"])

	w = do(r, http.MethodGet, "/api/personas/p1/apps/a1/k1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"name":"test"}`, w.Body.String())
}

func TestGetMissingIsNotFound(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := do(r, http.MethodGet, "/api/personas/nobody/apps/a1/k1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/api/global/a1/k1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMove(t *testing.T) {
	r, store := setupTestRouter(t)
	require.NoError(t, store.Set("p1", "a1", "k1", "v1"))

	body, _ := json.Marshal(map[string]string{
		"src_persona": "p1",
		"dst_persona": "p2",
		"app_id":      "a1",
		"key":         "k1",
	})
	w := do(r, http.MethodPost, "/api/move", bytes.NewBuffer(body))
	require.Equal(t, http.StatusOK, w.Code)

	val, err := store.Get("p2", "a1", "k1")
	require.NoError(t, err)
	assert.Equal(t, "v1", val)

	_, err = store.Get("p1", "a1", "k1")
	assert.Error(t, err, "key should have been deleted from source persona")

	w = do(r, http.MethodPost, "/api/move", bytes.NewBufferString(`{"src_persona":"p1"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetGlobalAPI(t *testing.T) {
	r, store := setupTestRouter(t)
	require.NoError(t, store.Set("p1", "a1", "k1", "v1"))

	w := do(r, http.MethodGet, "/api/global/a1/k1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "p1", res["persona"])
	assert.Equal(t, "v1", res["value"])
}

func TestDeleteAPI(t *testing.T) {
	r, store := setupTestRouter(t)
	require.NoError(t, store.Set("p1", "a1", "k1", "v1"))

	w := do(r, http.MethodDelete, "/api/personas/p1/apps/a1/k1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, err := store.Get("p1", "a1", "k1")
	assert.ErrorIs(t, err, engine.ErrKeyNotFound)
}

func TestInvalidJSONSet(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := do(r, http.MethodPost, "/api/personas/p1/apps/a1/k1", bytes.NewBufferString("invalid"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := do(r, http.MethodOptions, "/api/personas", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
