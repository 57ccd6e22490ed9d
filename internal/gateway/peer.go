package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/codec"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/protocol"
)

// peer is one accepted client socket.
type peer struct {
	user         string
	from         string
	conn         *websocket.Conn
	writeTimeout time.Duration
	// follow gates log_append on agent endpoints.
	follow atomic.Bool

	mu sync.Mutex
}

func (p *peer) send(frameType string, data any) error {
	f, err := protocol.NewFrame(frameType, p.from, data)
	if err != nil {
		return err
	}
	raw, err := codec.Encode(f)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	return p.conn.WriteMessage(websocket.TextMessage, raw)
}

func (p *peer) close() {
	_ = p.conn.Close()
}
