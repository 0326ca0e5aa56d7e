package web_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/swaggest/assertjson"

	"hermod/internal/block"
	"hermod/internal/config"
	"hermod/internal/core"
	"hermod/internal/meta/metatest"
	"hermod/internal/web"
)

const token = "test-token"

func newServer(t *testing.T) http.Handler {
	t.Helper()

	cfg := config.Default()
	cfg.App.DownloadDir = t.TempDir()
	cfg.WebSeed.IdleInterval = config.Duration(time.Millisecond * 20)

	c := core.New(cfg, t.TempDir())
	require.NoError(t, c.Start())
	t.Cleanup(c.Shutdown)

	return web.New(c, token, true)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func post(t *testing.T, h http.Handler, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var b bytes.Buffer
	require.NoError(t, json.NewEncoder(&b).Encode(body))

	req := httptest.NewRequest(http.MethodPost, "/json_rpc", &b)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", auth)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func call(t *testing.T, h http.Handler, method string, params any) rpcResponse {
	t.Helper()

	rec := post(t, h, token, map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res rpcResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())

	return res
}

func requireResult(t *testing.T, res rpcResponse, v any) {
	t.Helper()

	require.Nil(t, res.Error)
	require.NoError(t, json.Unmarshal(res.Result, v))
}

func requireCode(t *testing.T, res rpcResponse, code int) {
	t.Helper()

	require.NotNil(t, res.Error)
	require.Equal(t, code, res.Error.Code, res.Error.Message)
}

func TestTorrentLifecycle(t *testing.T) {
	files := []metatest.File{{Length: block.Size*3 + 10}}
	tt := metatest.New("file.bin", block.Size*2, files)

	seed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "file.bin", time.Time{}, bytes.NewReader(tt.Content))
	}))
	defer seed.Close()

	h := newServer(t)

	var added web.AddTorrentRes
	requireResult(t, call(t, h, "torrent.add", web.AddTorrentReq{
		TorrentFile: base64.StdEncoding.EncodeToString(tt.Bytes()),
		WebSeeds:    []string{seed.URL + "/file.bin"},
	}), &added)
	require.Len(t, added.InfoHash, 40)

	requireCode(t, call(t, h, "torrent.add", web.AddTorrentReq{
		TorrentFile: base64.StdEncoding.EncodeToString(tt.Bytes()),
	}), 5)

	require.Eventually(t, func() bool {
		var info core.DownloadInfo
		requireResult(t, call(t, h, "torrent.get", web.TorrentReq{InfoHash: added.InfoHash}), &info)
		return info.State == "seeding"
	}, time.Second*20, time.Millisecond*20)

	var list web.ListTorrentsRes
	requireResult(t, call(t, h, "torrent.list", web.ListTorrentsReq{}), &list)
	require.Len(t, list.Torrents, 1)
	require.Equal(t, "file.bin", list.Torrents[0].Name)

	var ok web.OkRes
	requireResult(t, call(t, h, "torrent.stop", web.TorrentReq{InfoHash: added.InfoHash}), &ok)
	require.True(t, ok.Ok)

	requireResult(t, call(t, h, "torrent.start", web.TorrentReq{InfoHash: added.InfoHash}), &ok)
	require.True(t, ok.Ok)

	requireResult(t, call(t, h, "torrent.remove", web.RemoveTorrentReq{InfoHash: added.InfoHash, DeleteData: true}), &ok)
	require.True(t, ok.Ok)

	requireCode(t, call(t, h, "torrent.get", web.TorrentReq{InfoHash: added.InfoHash}), 7)
}

func TestAddTorrentInvalid(t *testing.T) {
	h := newServer(t)

	requireCode(t, call(t, h, "torrent.add", web.AddTorrentReq{}), -32602)

	requireCode(t, call(t, h, "torrent.add", web.AddTorrentReq{
		TorrentFile: base64.StdEncoding.EncodeToString([]byte("not a torrent")),
	}), 2)
}

func TestInvalidHash(t *testing.T) {
	h := newServer(t)

	requireCode(t, call(t, h, "torrent.get", web.TorrentReq{InfoHash: "xyz"}), 6)
	requireCode(t, call(t, h, "torrent.get", web.TorrentReq{InfoHash: "0102030405060708090a0b0c0d0e0f1011121314"}), 7)
}

func TestRequireToken(t *testing.T) {
	h := newServer(t)

	for _, auth := range []string{"", "wrong"} {
		rec := post(t, h, auth, map[string]any{
			"jsonrpc": "2.0",
			"id":      3,
			"method":  "torrent.list",
			"params":  web.ListTorrentsReq{},
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		assertjson.Equal(t, []byte(`{
			"jsonrpc": "2.0",
			"id": 3,
			"error": {"code": 401, "message": "invalid token"}
		}`), rec.Body.Bytes())
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/session", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDebugRoutes(t *testing.T) {
	h := newServer(t)

	req := httptest.NewRequest(http.MethodGet, "/debug/session", nil)
	req.Header.Set("Authorization", token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "info hash")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof", nil))
	require.Equal(t, http.StatusFound, rec.Code)
}

func TestOpenAPIDocument(t *testing.T) {
	h := newServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs/openapi.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	for _, method := range []string{"torrent.add", "torrent.list", "torrent.get", "torrent.start", "torrent.stop", "torrent.remove"} {
		require.Contains(t, rec.Body.String(), method)
	}
}
