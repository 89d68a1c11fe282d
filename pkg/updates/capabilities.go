package updates

import (
	"context"
	"encoding/json"
	"net/http"
)

// EmbeddedUpdateID is stored as the pending update when the server rolls back to the embedded update.
const EmbeddedUpdateID = "embedded"

// FetchResult is a raw manifest response.
type FetchResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Downloader fetches manifests and assets from the update server.
type Downloader interface {
	FetchManifest(ctx context.Context, url string, headers http.Header) (*FetchResult, error)
	FetchAsset(ctx context.Context, url string) ([]byte, error)
}

// Tx is the view of the database inside a transaction.
type Tx interface {
	LaunchedUpdateID() (string, error)
	SetLaunchedUpdateID(id string) error
	PendingUpdateID() (string, error)
	SetPendingUpdateID(id string) error
	PutUpdate(id string, manifest json.RawMessage) error
	HasAsset(key string) (bool, error)
	PutAsset(key string, data []byte) error
}

// Database stores updates and their assets. fn runs in a single transaction that is
// committed only if fn returns nil.
type Database interface {
	Transaction(ctx context.Context, fn func(tx Tx) error) error
}

// Reloader restarts the application on the given update.
type Reloader interface {
	Reload(ctx context.Context, updateID string) error
}

// ReloaderFunc adapts a function to Reloader.
type ReloaderFunc func(ctx context.Context, updateID string) error

// Reload calls f.
func (f ReloaderFunc) Reload(ctx context.Context, updateID string) error { return f(ctx, updateID) }
