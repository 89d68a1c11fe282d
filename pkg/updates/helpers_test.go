package updates_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"maps"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/DIMO-Network/updates-client/pkg/config"
	"github.com/DIMO-Network/updates-client/pkg/updates"
	"github.com/stretchr/testify/require"
)

const (
	testUpdateURL      = "https://u.example.com/manifest"
	testRuntimeVersion = "1.0.0"
	testProjectID      = "285dc9ca-a25d-4f60-93be-36dc312266d7"
	testScopeKey       = "@test/app"
)

func assetHash(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

type testAsset struct {
	key  string
	data []byte
}

func manifestJSON(t *testing.T, id string, assets ...testAsset) []byte {
	t.Helper()
	m := map[string]any{
		"id":             id,
		"createdAt":      "2024-05-01T12:00:00.000Z",
		"runtimeVersion": testRuntimeVersion,
		"launchAsset": map[string]any{
			"key":         "bundle",
			"hash":        assetHash([]byte("bundle-" + id)),
			"contentType": "application/javascript",
			"url":         "https://assets.example.com/bundle-" + id,
		},
		"assets":   []any{},
		"metadata": map[string]any{},
		"extra": map[string]any{
			"scopeKey": testScopeKey,
			"eas":      map[string]any{"projectId": testProjectID},
		},
	}
	list := []any{}
	for _, a := range assets {
		list = append(list, map[string]any{
			"key":           a.key,
			"hash":          assetHash(a.data),
			"fileExtension": ".png",
			"contentType":   "image/png",
			"url":           "https://assets.example.com/" + a.key,
		})
	}
	m["assets"] = list
	body, err := json.Marshal(m)
	require.NoError(t, err)
	return body
}

type multipartPart struct {
	name      string
	body      []byte
	signature string
}

func multipartBody(t *testing.T, parts ...multipartPart) (http.Header, []byte) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, p := range parts {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q`, p.name))
		header.Set("Content-Type", "application/json")
		if p.signature != "" {
			header.Set("expo-signature", p.signature)
		}
		w, err := writer.CreatePart(header)
		require.NoError(t, err)
		_, err = w.Write(p.body)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	header := http.Header{}
	header.Set("Content-Type", "multipart/mixed; boundary="+writer.Boundary())
	header.Set("expo-protocol-version", "1")
	return header, buf.Bytes()
}

type fakeDownloader struct {
	mu            sync.Mutex
	manifest      *updates.FetchResult
	assets        map[string][]byte
	block         bool
	requests      []http.Header
	assetRequests int
}

func (d *fakeDownloader) FetchManifest(_ context.Context, url string, headers http.Header) (*updates.FetchResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if url != testUpdateURL {
		return nil, fmt.Errorf("unexpected url %s", url)
	}
	d.requests = append(d.requests, headers.Clone())
	if d.manifest == nil {
		return nil, fmt.Errorf("connection refused")
	}
	return d.manifest, nil
}

func (d *fakeDownloader) FetchAsset(ctx context.Context, url string) ([]byte, error) {
	d.mu.Lock()
	d.assetRequests++
	block := d.block
	data, ok := d.assets[url]
	d.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if !ok {
		return nil, fmt.Errorf("not found: %s", url)
	}
	return data, nil
}

func (d *fakeDownloader) serveAssets(id string, assets ...testAsset) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.assets == nil {
		d.assets = map[string][]byte{}
	}
	d.assets["https://assets.example.com/bundle-"+id] = []byte("bundle-" + id)
	for _, a := range assets {
		d.assets["https://assets.example.com/"+a.key] = a.data
	}
}

type memDB struct {
	mu       sync.Mutex
	launched string
	pending  string
	updates  map[string]json.RawMessage
	assets   map[string][]byte
}

func newMemDB() *memDB {
	return &memDB{updates: map[string]json.RawMessage{}, assets: map[string][]byte{}}
}

func (db *memDB) Transaction(_ context.Context, fn func(tx updates.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	tx := &memTx{
		launched: db.launched,
		pending:  db.pending,
		updates:  maps.Clone(db.updates),
		assets:   maps.Clone(db.assets),
	}
	if err := fn(tx); err != nil {
		return err
	}
	db.launched, db.pending, db.updates, db.assets = tx.launched, tx.pending, tx.updates, tx.assets
	return nil
}

type memTx struct {
	launched string
	pending  string
	updates  map[string]json.RawMessage
	assets   map[string][]byte
}

func (tx *memTx) LaunchedUpdateID() (string, error)      { return tx.launched, nil }
func (tx *memTx) SetLaunchedUpdateID(id string) error    { tx.launched = id; return nil }
func (tx *memTx) PendingUpdateID() (string, error)       { return tx.pending, nil }
func (tx *memTx) SetPendingUpdateID(id string) error     { tx.pending = id; return nil }
func (tx *memTx) HasAsset(key string) (bool, error)      { _, ok := tx.assets[key]; return ok, nil }
func (tx *memTx) PutAsset(key string, data []byte) error { tx.assets[key] = data; return nil }
func (tx *memTx) PutUpdate(id string, manifest json.RawMessage) error {
	tx.updates[id] = manifest
	return nil
}

func testSettings() *config.UpdatesSettings {
	return &config.UpdatesSettings{
		UpdateURL:              testUpdateURL,
		RuntimeVersion:         testRuntimeVersion,
		Platform:               "ios",
		Channel:                "production",
		CheckOnLaunch:          true,
		MaxConcurrentDownloads: 2,
		Watchdog:               config.WatchdogSettings{Interval: 5 * time.Second},
	}
}
