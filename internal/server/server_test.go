package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mahyarmirrashed/assetpipe/internal/config"
	"github.com/mahyarmirrashed/assetpipe/internal/pug"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (*config.Config, *Server) {
	t.Helper()
	cfg := config.Default(config.ModeDevelopment)
	cfg.Root = t.TempDir()
	cfg.Port = 0
	return cfg, New(cfg, pug.New(cfg.Path(cfg.Templates.Base), true))
}

func writeFile(t *testing.T, cfg *config.Config, rel, body string) {
	t.Helper()
	p := filepath.Join(cfg.Root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0644))
}

func get(t *testing.T, url string) (int, string, http.Header) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body), resp.Header
}

func TestServesBuiltPagesWithReloadClient(t *testing.T) {
	cfg, s := newServer(t)
	writeFile(t, cfg, "htdocs/about.html", "<html><body><p>about</p></body></html>")
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	status, body, _ := get(t, ts.URL+"/about.html")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "<p>about</p>")
	assert.Contains(t, body, ReloadPath)
	assert.Less(t, strings.Index(body, ReloadPath), strings.Index(body, "</body>"))
}

func TestServesAssetsUnchanged(t *testing.T) {
	cfg, s := newServer(t)
	writeFile(t, cfg, "htdocs/css/main.css", ".a{color:red}")
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	status, body, header := get(t, ts.URL+"/css/main.css")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, ".a{color:red}", body)
	assert.Equal(t, "13", header.Get("Content-Length"))
}

func TestRendersUnbuiltTemplates(t *testing.T) {
	cfg, s := newServer(t)
	writeFile(t, cfg, "src/contact.pug", "p write to us")
	writeFile(t, cfg, "src/blog/index.pug", "h1 blog")
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	status, body, header := get(t, ts.URL+"/contact.html")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "write to us")
	assert.Contains(t, body, ReloadPath)
	assert.Contains(t, header.Get("Content-Type"), "text/html")

	status, body, _ = get(t, ts.URL+"/blog/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "blog")
}

func TestBuiltPagesWinOverTemplates(t *testing.T) {
	cfg, s := newServer(t)
	writeFile(t, cfg, "src/page.pug", "p from template")
	writeFile(t, cfg, "htdocs/page.html", "<p>from build</p>")
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	_, body, _ := get(t, ts.URL+"/page.html")
	assert.Contains(t, body, "from build")
	assert.NotContains(t, body, "from template")
}

func TestMissingPage(t *testing.T) {
	_, s := newServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	status, body, _ := get(t, ts.URL+"/nope.html")
	assert.Equal(t, http.StatusNotFound, status)
	assert.NotContains(t, body, ReloadPath)
}

func TestInject(t *testing.T) {
	assert.True(t, strings.HasSuffix(string(Inject([]byte("<html><body></body></html>"))), "</body></html>"))
	assert.True(t, strings.HasSuffix(string(Inject([]byte("<html></html>"))), ClientScript+"</html>"))
	assert.Equal(t, "<p>x</p>"+ClientScript, string(Inject([]byte("<p>x</p>"))))
}

func TestReloadBroadcast(t *testing.T) {
	_, s := newServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + ReloadPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.reload.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Reload(context.Background()))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg ReloadMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "reload", msg.Type)
}

func TestReloadBroadcastFromManyGoroutines(t *testing.T) {
	_, s := newServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + ReloadPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.reload.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	const senders, rounds = 8, 50
	received := make(chan int, 1)
	go func() {
		n := 0
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		for n < senders*rounds {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
			n++
		}
		received <- n
	}()

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				s.reload.NotifyReload()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, senders*rounds, <-received)
	assert.Equal(t, 1, s.reload.ClientCount())
}

func TestStartAndClose(t *testing.T) {
	cfg, s := newServer(t)
	writeFile(t, cfg, "htdocs/index.html", "<p>home</p>")

	addr, err := s.Start(context.Background())
	require.NoError(t, err)
	_, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	status, body, _ := get(t, "http://127.0.0.1:"+port+"/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "home")

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
