package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// ReloadPath is where preview pages connect for reload signals.
const ReloadPath = "/__assetpipe/reload"

// ReloadMessage is sent to every connected page.
type ReloadMessage struct {
	Type string `json:"type"`
}

// reloadClient is one open page. A websocket connection allows a single
// writer at a time; mu serializes broadcasts to it.
type reloadClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *reloadClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// ReloadServer keeps the websocket connections of the open preview pages.
type ReloadServer struct {
	clients  map[*reloadClient]bool
	mu       sync.RWMutex
	upgrader websocket.Upgrader
}

// NewReloadServer creates a reload server.
func NewReloadServer() *ReloadServer {
	return &ReloadServer{
		clients: make(map[*reloadClient]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // preview only
			},
		},
	}
}

// HandleWebSocket upgrades the request and holds the connection until the
// page goes away.
func (r *ReloadServer) HandleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Debugf("Reload upgrade failed: %v", err)
		return
	}

	client := &reloadClient{conn: conn}
	r.mu.Lock()
	r.clients[client] = true
	r.mu.Unlock()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	r.mu.Lock()
	delete(r.clients, client)
	r.mu.Unlock()
	conn.Close()
}

// NotifyReload tells every page to reload.
func (r *ReloadServer) NotifyReload() {
	r.broadcast(ReloadMessage{Type: "reload"})
}

func (r *ReloadServer) broadcast(msg ReloadMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	r.mu.RLock()
	clients := make([]*reloadClient, 0, len(r.clients))
	for client := range r.clients {
		clients = append(clients, client)
	}
	r.mu.RUnlock()

	for _, client := range clients {
		if err := client.write(data); err != nil {
			r.mu.Lock()
			delete(r.clients, client)
			r.mu.Unlock()
			client.conn.Close()
		}
	}
}

// ClientCount returns the number of connected pages.
func (r *ReloadServer) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Close drops every connection.
func (r *ReloadServer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for client := range r.clients {
		client.conn.Close()
		delete(r.clients, client)
	}
}

// ClientScript is injected into every served page.
const ClientScript = `<script>
(function() {
  var delay = 1000;
  function connect() {
    var protocol = location.protocol === 'https:' ? 'wss:' : 'ws:';
    var ws = new WebSocket(protocol + '//' + location.host + '` + ReloadPath + `');
    ws.onopen = function() { delay = 1000; };
    ws.onmessage = function(e) {
      try {
        if (JSON.parse(e.data).type === 'reload') location.reload();
      } catch (err) {}
    };
    ws.onclose = function() {
      setTimeout(function() { delay = Math.min(delay * 2, 30000); connect(); }, delay);
    };
  }
  connect();
})();
</script>
`
