// Package backendtest runs an embedded backend on a throwaway SQLite file.
package backendtest

import (
	"path/filepath"
	"testing"

	"github.com/matheus3301/shopchat/internal/backend"
	"github.com/matheus3301/shopchat/internal/realtime"
	"github.com/matheus3301/shopchat/internal/store"
	"go.uber.org/zap"
)

// New returns a migrated backend and its broker. Both are closed with t.
func New(t testing.TB, opts ...backend.Option) (*backend.Service, *realtime.Broker) {
	t.Helper()
	db, err := store.Open(store.DriverSQLite, filepath.Join(t.TempDir(), "hub.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	broker := realtime.NewBroker(zap.NewNop())
	return backend.New(db, broker, zap.NewNop(), opts...), broker
}
