package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/codec"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/protocol"
)

const maxFrameBytes = 1 << 20

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) upgrade(c *gin.Context) (*peer, bool) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", zap.Error(err))
		return nil, false
	}
	conn.SetReadLimit(maxFrameBytes)

	user := c.Query("user")
	if user == "" {
		user = "guest-" + uuid.NewString()[:8]
	}
	p := &peer{
		user:         user,
		from:         s.settings.Name,
		conn:         conn,
		writeTimeout: s.settings.WriteTimeout,
	}
	p.follow.Store(true)

	if !s.track(p) {
		p.close()
		return nil, false
	}
	return p, true
}

// serve reads frames from p until it goes away. ping is answered here.
func (s *Server) serve(p *peer, handle func(protocol.Frame)) {
	defer func() {
		s.untrack(p)
		p.close()
	}()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := codec.Decode(data)
		if err != nil {
			s.logger.Debug("undecodable frame", zap.Error(err))
			continue
		}
		if f.Type == protocol.TypePing {
			_ = p.send(protocol.TypePong, nil)
			continue
		}
		handle(f)
	}
}

func (s *Server) serveChat(c *gin.Context) {
	key := protocol.ChatKey(c.Param("namespace"), c.Param("name"))
	p, ok := s.upgrade(c)
	if !ok {
		return
	}

	users := s.hub.join(key, p)
	s.broadcast(s.hub.post(key, ""), protocol.TypeUserJoin, protocol.Presence{User: p.user, Users: users})
	defer func() {
		users := s.hub.leave(key, p)
		s.broadcast(s.hub.post(key, ""), protocol.TypeUserLeave, protocol.Presence{User: p.user, Users: users})
	}()

	s.serve(p, func(f protocol.Frame) {
		switch f.Type {
		case protocol.TypeSendMessage:
			var in protocol.SendMessage
			if f.Bind(&in) != nil {
				return
			}
			msg := protocol.ChatMessage{
				ID:      s.hub.nextID(),
				Room:    key.Name,
				User:    p.user,
				Content: in.Content,
				TempID:  in.TempID,
			}
			_ = p.send(protocol.TypeMessageAck, protocol.MessageAck{TempID: in.TempID, MessageID: msg.ID})
			s.broadcast(s.hub.post(key, p.user+": "+in.Content), protocol.TypeChatMessage, msg)

		case protocol.TypeTyping:
			var in protocol.Typing
			if f.Bind(&in) != nil {
				return
			}
			in.User = p.user
			s.broadcast(s.hub.post(key, ""), protocol.TypeTyping, in)

		case protocol.TypeLoadHistory:
			var in protocol.LoadHistory
			_ = f.Bind(&in)
			_ = p.send(protocol.TypeLogHistory, s.hub.roomHistory(key, in.Before, in.Limit))
		}
	})
}

func (s *Server) serveAgent(c *gin.Context) {
	key := protocol.AgentLogKey(c.Param("namespace"), c.Param("name"))
	p, ok := s.upgrade(c)
	if !ok {
		return
	}

	_ = p.send(protocol.TypeLogInitial, protocol.LogLines{Lines: s.hub.attach(key, p)})
	defer s.hub.detach(key, p)

	s.serve(p, func(f protocol.Frame) {
		switch f.Type {
		case protocol.TypeSendMessage:
			var in protocol.SendMessage
			if f.Bind(&in) != nil {
				return
			}
			s.answer(key, p, in)

		case protocol.TypeRawCommand:
			var in protocol.RawCommand
			if f.Bind(&in) != nil {
				return
			}
			s.appendLog(key, "$ "+in.Command)
			_ = p.send(protocol.TypeRawCommandResult, protocol.RawCommandResult{
				CommandID: in.CommandID,
				AgentName: key.Name,
				Output:    in.Command + "\n",
			})

		case protocol.TypeLoadHistory:
			var in protocol.LoadHistory
			_ = f.Bind(&in)
			_ = p.send(protocol.TypeLogHistory, s.hub.logHistory(key, in.Before, in.Limit))

		case protocol.TypeToggleFollow:
			var in protocol.ToggleFollow
			if f.Bind(&in) == nil {
				p.follow.Store(in.Follow)
			}

		case protocol.TypeRefresh:
			_ = p.send(protocol.TypeLogInitial, protocol.LogLines{Lines: s.hub.tail(key)})
		}
	})
}

func (s *Server) serveNamespace(c *gin.Context) {
	p, ok := s.upgrade(c)
	if !ok {
		return
	}
	s.serve(p, func(protocol.Frame) {})
}

// answer acknowledges in and, for agent exchanges, streams an echo reply
// one word at a time before sending it whole.
func (s *Server) answer(key protocol.ConnectionKey, p *peer, in protocol.SendMessage) {
	_ = p.send(protocol.TypeMessageAck, protocol.MessageAck{TempID: in.TempID, MessageID: s.hub.nextID()})
	s.appendLog(key, "prompt: "+in.Content)
	if in.ConversationID == "" {
		return
	}

	reply := "echo: " + in.Content
	for _, chunk := range strings.SplitAfter(reply, " ") {
		if s.settings.ChunkDelay > 0 {
			time.Sleep(s.settings.ChunkDelay)
		}
		if err := p.send(protocol.TypeAgentThinkingStream, protocol.ThinkingStream{
			ConversationID: in.ConversationID,
			Chunk:          chunk,
		}); err != nil {
			return
		}
	}
	_ = p.send(protocol.TypeAgentReply, protocol.AgentReply{ConversationID: in.ConversationID, Content: reply})
	s.appendLog(key, "reply: "+reply)
}

func (s *Server) appendLog(key protocol.ConnectionKey, line string) {
	s.broadcast(s.hub.log(key, line), protocol.TypeLogAppend, protocol.LogLines{Lines: []string{line}})
}

func (s *Server) broadcast(peers []*peer, frameType string, data any) {
	for _, p := range peers {
		if err := p.send(frameType, data); err != nil {
			s.logger.Debug("broadcast write failed", zap.String("user", p.user), zap.Error(err))
		}
	}
}
