package sdk

import (
	"log/slog"
	"os"

	"github.com/celerix-dev/celerix-favorites/pkg/engine"
)

// Options selects and configures a store.
type Options struct {
	// DataDir is where the embedded engine keeps its data.
	DataDir string
	// Backend is the embedded persister: json, badger or sqlite.
	Backend engine.Backend
	// RemoteAddr, when set, selects the daemon at that address.
	RemoteAddr string
	Logger     *slog.Logger
}

// New initializes the store based on the environment.
// It returns the Interface, so the app doesn't care if it's local or remote.
func New(dataDir string) (CelerixStore, error) {
	backend, err := engine.ParseBackend(os.Getenv("CELERIX_BACKEND"))
	if err != nil {
		return nil, err
	}
	return Open(Options{
		DataDir:    dataDir,
		Backend:    backend,
		RemoteAddr: os.Getenv("CELERIX_STORE_ADDR"),
	})
}

// Open connects to the daemon when RemoteAddr is set and reachable, and
// otherwise falls back to the embedded engine.
func Open(opts Options) (CelerixStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if opts.RemoteAddr != "" {
		client, err := Connect(opts.RemoteAddr)
		if err == nil {
			return client, nil
		}
		logger.Warn("remote store unreachable, using embedded mode", "addr", opts.RemoteAddr, "error", err)
	}

	// This uses the same engine the server uses, but inside the app process.
	return engine.Open(opts.Backend, opts.DataDir, logger)
}
