package ws

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/kiliankoe/casefile/internal/game"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type createRoomReq struct {
	CreatorName  string `json:"creatorName"`
	StableUserID string `json:"stableUserId"`
}

type joinRoomReq struct {
	RoomID       string `json:"roomId"`
	Name         string `json:"name"`
	StableUserID string `json:"stableUserId"`
}

type rejoinReq struct {
	StableUserID string `json:"stableUserId"`
}

type keywordsReq struct {
	Keywords []string `json:"keywords"`
}

// scriptReq carries payload for the first writing stages and title plus
// conclusion for the final one.
type scriptReq struct {
	Payload    string `json:"payload"`
	Title      string `json:"title"`
	Conclusion string `json:"conclusion"`
}

type voteReq struct {
	BestDocumentID   string          `json:"bestDocumentId"`
	ComplianceChecks map[string]bool `json:"complianceChecks"`
}

// Server binds socket.io connections to the room manager and implements
// game.Broadcaster over them.
type Server struct {
	RM *game.RoomManager

	mu       sync.RWMutex
	conns    map[string]socketio.Conn
	limiters map[string]*rate.Limiter

	limit rate.Limit
	burst int
}

func New(eventsPerSecond float64, burst int) *Server {
	return &Server{
		conns:    make(map[string]socketio.Conn),
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(eventsPerSecond),
		burst:    burst,
	}
}

func (srv *Server) SetRoomManager(rm *game.RoomManager) { srv.RM = rm }

// Mount attaches the Socket.IO server with handlers to the given Gin engine.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)

	io.OnConnect("/", func(s socketio.Conn) error {
		srv.connect(s)
		return nil
	})
	io.OnEvent("/", "list_rooms", srv.listRooms)
	io.OnEvent("/", "create_room", srv.createRoom)
	io.OnEvent("/", "join_room", srv.joinRoom)
	io.OnEvent("/", "rejoin_game", srv.rejoinGame)
	io.OnEvent("/", "start_game", srv.startGame)
	io.OnEvent("/", "submit_suggestion", srv.submitSuggestion)
	io.OnEvent("/", "submit_choice", srv.submitChoice)
	io.OnEvent("/", "submit_script", srv.submitScript)
	io.OnEvent("/", "cancel_submission", srv.cancelSubmission)
	io.OnEvent("/", "advance_phase", srv.advancePhase)
	io.OnEvent("/", "submit_vote", srv.submitVote)
	io.OnEvent("/", "leave_room", srv.leaveRoom)

	io.OnError("/", func(s socketio.Conn, e error) {
		if s == nil {
			log.Error().Err(e).Msg("socket error")
			return
		}
		log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})
	io.OnDisconnect("/", srv.disconnect)

	go func() {
		if err := io.Serve(); err != nil {
			log.Error().Err(err).Msg("socket.io serve stopped")
		}
	}()

	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	return io
}

func (srv *Server) connect(s socketio.Conn) {
	srv.mu.Lock()
	srv.conns[s.ID()] = s
	srv.limiters[s.ID()] = rate.NewLimiter(srv.limit, srv.burst)
	srv.mu.Unlock()
	log.Info().Str("sid", s.ID()).Msg("socket connected")
}

func (srv *Server) disconnect(s socketio.Conn, reason string) {
	srv.RM.Disconnect(s.ID())
	srv.mu.Lock()
	delete(srv.conns, s.ID())
	delete(srv.limiters, s.ID())
	srv.mu.Unlock()
	log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
}

func (srv *Server) listRooms(s socketio.Conn) {
	if !srv.allow(s) {
		return
	}
	s.Emit("room_list", map[string]any{"rooms": srv.RM.ListRooms()})
}

func (srv *Server) createRoom(s socketio.Conn, req createRoomReq) {
	if !srv.allow(s) {
		return
	}
	code, err := srv.RM.CreateRoom(s.ID(), req.CreatorName, req.StableUserID)
	if err != nil {
		srv.joinError(s, err)
		return
	}
	log.Info().Str("sid", s.ID()).Str("room", code).Msg("create_room")
	s.Emit("room_created", map[string]any{"roomId": code})
}

func (srv *Server) joinRoom(s socketio.Conn, req joinRoomReq) {
	if !srv.allow(s) {
		return
	}
	if err := srv.RM.JoinRoom(req.RoomID, s.ID(), req.Name, req.StableUserID); err != nil {
		srv.joinError(s, err)
		return
	}
	log.Info().Str("sid", s.ID()).Str("room", req.RoomID).Msg("join_room")
	s.Emit("room_joined", map[string]any{"roomId": req.RoomID})
}

func (srv *Server) rejoinGame(s socketio.Conn, req rejoinReq) {
	if !srv.allow(s) {
		return
	}
	code, err := srv.RM.Rejoin(s.ID(), req.StableUserID)
	if err != nil {
		srv.joinError(s, err)
		return
	}
	log.Info().Str("sid", s.ID()).Str("room", code).Msg("rejoin_game")
	s.Emit("room_joined", map[string]any{"roomId": code})
}

func (srv *Server) startGame(s socketio.Conn) {
	srv.act(s, "start_game", func(g *game.Session) error { return g.Start(s.ID()) })
}

func (srv *Server) submitSuggestion(s socketio.Conn, req keywordsReq) {
	srv.act(s, "submit_suggestion", func(g *game.Session) error { return g.SubmitSuggestion(s.ID(), req.Keywords) })
}

func (srv *Server) submitChoice(s socketio.Conn, req keywordsReq) {
	srv.act(s, "submit_choice", func(g *game.Session) error { return g.SubmitChoice(s.ID(), req.Keywords) })
}

func (srv *Server) submitScript(s socketio.Conn, req scriptReq) {
	payload := game.ScriptPayload{Text: req.Payload, Title: req.Title, Conclusion: req.Conclusion}
	srv.act(s, "submit_script", func(g *game.Session) error { return g.SubmitScript(s.ID(), payload) })
}

func (srv *Server) cancelSubmission(s socketio.Conn) {
	srv.act(s, "cancel_submission", func(g *game.Session) error {
		g.CancelSubmission(s.ID())
		return nil
	})
}

func (srv *Server) advancePhase(s socketio.Conn) {
	srv.act(s, "advance_phase", func(g *game.Session) error { return g.Advance(s.ID()) })
}

func (srv *Server) submitVote(s socketio.Conn, req voteReq) {
	ballot := game.Ballot{BestDocumentID: req.BestDocumentID, Compliance: req.ComplianceChecks}
	srv.act(s, "submit_vote", func(g *game.Session) error { return g.SubmitVote(s.ID(), ballot) })
}

func (srv *Server) leaveRoom(s socketio.Conn) {
	if !srv.allow(s) {
		return
	}
	srv.RM.Leave(s.ID())
	log.Info().Str("sid", s.ID()).Msg("leave_room")
	s.Emit("room_list", map[string]any{"rooms": srv.RM.ListRooms()})
}

// act routes a game action to the caller's room. Rejections go back to the
// caller only.
func (srv *Server) act(s socketio.Conn, action string, fn func(*game.Session) error) {
	if !srv.allow(s) {
		return
	}
	if err := srv.RM.Dispatch(s.ID(), action, fn); err != nil {
		log.Debug().Str("sid", s.ID()).Str("action", action).Err(err).Msg("action rejected")
		s.Emit("notice", map[string]any{"code": game.Code(err), "message": err.Error()})
	}
}

func (srv *Server) allow(s socketio.Conn) bool {
	srv.mu.RLock()
	l := srv.limiters[s.ID()]
	srv.mu.RUnlock()
	if l == nil || l.Allow() {
		return true
	}
	s.Emit("notice", map[string]any{"code": "rate_limited", "message": "too many requests"})
	return false
}

func (srv *Server) joinError(s socketio.Conn, err error) {
	code := game.Code(err)
	if code == "internal" {
		log.Error().Err(err).Str("sid", s.ID()).Msg("join failed")
	}
	s.Emit("join_error", map[string]any{"code": code, "message": err.Error()})
}

func (srv *Server) EmitTo(connID, event string, payload any) {
	srv.mu.RLock()
	c := srv.conns[connID]
	srv.mu.RUnlock()
	if c == nil {
		return
	}
	c.Emit(event, payload)
}

func (srv *Server) EmitAll(event string, payload any) {
	srv.mu.RLock()
	conns := make([]socketio.Conn, 0, len(srv.conns))
	for _, c := range srv.conns {
		conns = append(conns, c)
	}
	srv.mu.RUnlock()
	for _, c := range conns {
		c.Emit(event, payload)
	}
}
