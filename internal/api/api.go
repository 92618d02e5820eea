// Package api exposes the HTTP surface: JSON handlers for hosts and
// players, and the websocket endpoint clients stream session updates from.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hootlabs/hoot/internal/channel"
	"github.com/hootlabs/hoot/internal/domain"
	"github.com/hootlabs/hoot/internal/errors"
	"github.com/hootlabs/hoot/internal/event"
	"github.com/hootlabs/hoot/internal/gateway"
	"github.com/hootlabs/hoot/internal/leaderboard"
	"github.com/hootlabs/hoot/internal/roster"
	"github.com/hootlabs/hoot/internal/scoring"
	"github.com/hootlabs/hoot/internal/session"
)

type Config struct {
	Router      *gin.Engine
	EventBus    *event.Bus
	Session     *session.Service
	Roster      *roster.Service
	Scoring     *scoring.Service
	Leaderboard *leaderboard.Service
	Gateway     *gateway.Manager
	Channel     channel.Channel
	TopicPrefix string
}

type API struct {
	eb          *event.Bus
	session     *session.Service
	roster      *roster.Service
	scoring     *scoring.Service
	leaderboard *leaderboard.Service
	gateway     *gateway.Manager
	ch          channel.Channel
	prefix      string
}

func New(c Config) *API {
	a := &API{
		eb:          c.EventBus,
		session:     c.Session,
		roster:      c.Roster,
		scoring:     c.Scoring,
		leaderboard: c.Leaderboard,
		gateway:     c.Gateway,
		ch:          c.Channel,
		prefix:      c.TopicPrefix,
	}

	a.eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})

	a.register(c.Router)
	return a
}

func (a *API) register(r *gin.Engine) {
	v1 := r.Group("/v1")

	v1.POST("/sessions", a.createSession)
	v1.GET("/sessions/:id", a.getSession)
	v1.POST("/sessions/:id/start", a.startSession)
	v1.POST("/sessions/:id/advance", a.advanceSession)
	v1.POST("/sessions/:id/end", a.endSession)

	v1.POST("/join", a.join)
	v1.POST("/sessions/:id/leave", a.leave)
	v1.GET("/sessions/:id/roster", a.getRoster)

	v1.POST("/sessions/:id/answers", a.submitAnswer)
	v1.GET("/sessions/:id/leaderboard", a.getLeaderboard)
	v1.GET("/sessions/:id/payouts", a.getPayouts)

	r.GET("/ws/sessions/:id", a.serveWebsocket)
}

type (
	Question struct {
		Text          string   `json:"text" binding:"required"`
		Options       []string `json:"options" binding:"required"`
		CorrectOption int      `json:"correct_option"`
		TimeLimitSec  int      `json:"time_limit_sec" binding:"required"`
		Golden        bool     `json:"golden"`
	}

	CreateSessionRequest struct {
		HostID      string     `json:"host_id" binding:"required"`
		ScheduledAt *time.Time `json:"scheduled_at"`
		Questions   []Question `json:"questions" binding:"required"`
	}

	Session struct {
		SessionID       string     `json:"session_id"`
		RoomCode        string     `json:"room_code"`
		HostID          string     `json:"host_id"`
		Status          string     `json:"status"`
		CurrentQuestion int        `json:"current_question"`
		QuestionCount   int        `json:"question_count"`
		StartedAt       *time.Time `json:"started_at,omitempty"`
		EndedAt         *time.Time `json:"ended_at,omitempty"`
	}
)

func (a *API) createSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	questions := make([]session.QuestionInput, 0, len(req.Questions))
	for _, q := range req.Questions {
		questions = append(questions, session.QuestionInput{
			Text:          q.Text,
			Options:       q.Options,
			CorrectOption: q.CorrectOption,
			TimeLimitSec:  q.TimeLimitSec,
			Golden:        q.Golden,
		})
	}

	ss, err := a.session.CreateSession(c.Request.Context(), session.CreateSessionRequest{
		HostID:      req.HostID,
		ScheduledAt: req.ScheduledAt,
		Questions:   questions,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toSession(ss))
}

func (a *API) getSession(c *gin.Context) {
	ss, err := a.session.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSession(ss))
}

type HostActionRequest struct {
	ActorID string `json:"actor_id" binding:"required"`
	Force   bool   `json:"force"`
}

func (a *API) startSession(c *gin.Context) {
	var req HostActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	if err := a.session.Start(c.Request.Context(), c.Param("id"), req.ActorID, req.Force); err != nil {
		renderError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) advanceSession(c *gin.Context) {
	var req HostActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	if err := a.session.Advance(c.Request.Context(), c.Param("id"), req.ActorID); err != nil {
		renderError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) endSession(c *gin.Context) {
	var req HostActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	if err := a.session.End(c.Request.Context(), c.Param("id"), req.ActorID); err != nil {
		renderError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type (
	JoinRequest struct {
		RoomCode    string `json:"room_code" binding:"required"`
		DisplayName string `json:"display_name" binding:"required"`
		IdentityKey string `json:"identity_key"`
	}

	Player struct {
		PlayerID    string    `json:"player_id"`
		SessionID   string    `json:"session_id"`
		DisplayName string    `json:"display_name"`
		JoinedAt    time.Time `json:"joined_at"`
		Score       int64     `json:"score"`
	}
)

func (a *API) join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	p, err := a.roster.Join(c.Request.Context(), roster.JoinRequest{
		RoomCode:    req.RoomCode,
		DisplayName: req.DisplayName,
		IdentityKey: req.IdentityKey,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, toPlayer(p))
}

type LeaveRequest struct {
	PlayerID string `json:"player_id" binding:"required"`
}

func (a *API) leave(c *gin.Context) {
	var req LeaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	if err := a.roster.Leave(c.Request.Context(), c.Param("id"), req.PlayerID); err != nil {
		renderError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) getRoster(c *gin.Context) {
	players, err := a.roster.Roster(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}

	out := make([]Player, 0, len(players))
	for i := range players {
		out = append(out, toPlayer(&players[i]))
	}

	c.JSON(http.StatusOK, gin.H{"players": out})
}

type (
	SubmitAnswerRequest struct {
		PlayerID string `json:"player_id" binding:"required"`
		Option   *int   `json:"option" binding:"required"`
	}

	ScoreUpdate struct {
		PlayerID   string `json:"player_id"`
		QuestionID string `json:"question_id"`
		Points     int64  `json:"points"`
		TotalScore int64  `json:"total_score"`
	}
)

func (a *API) submitAnswer(c *gin.Context) {
	var req SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	update, err := a.scoring.SubmitAnswer(c.Request.Context(), scoring.SubmitRequest{
		SessionID: c.Param("id"),
		PlayerID:  req.PlayerID,
		Option:    *req.Option,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, ScoreUpdate{
		PlayerID:   update.PlayerID,
		QuestionID: update.QuestionID,
		Points:     update.Points,
		TotalScore: update.TotalScore,
	})
}

func (a *API) getLeaderboard(c *gin.Context) {
	l, err := a.leaderboard.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{
		SessionID: c.Param("id"),
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, toLeaderboard(l))
}

type RankedEntry struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	Score       int64  `json:"score"`
	Rank        int    `json:"rank"`
	// Payout is the fraction of the distributable pool, serialized as a
	// decimal string to keep it exact.
	Payout string `json:"payout"`
}

func (a *API) getPayouts(c *gin.Context) {
	table, err := a.leaderboard.FinalTable(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}

	out := make([]RankedEntry, 0, len(table.Entries))
	for _, e := range table.Entries {
		out = append(out, RankedEntry{
			PlayerID:    e.PlayerID,
			DisplayName: e.DisplayName,
			Score:       e.Score,
			Rank:        e.Rank,
			Payout:      e.Payout.String(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"treasury_cut": table.TreasuryCut.String(),
		"entries":      out,
	})
}

func (a *API) serveWebsocket(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := a.session.GetSession(c.Request.Context(), sessionID); err != nil {
		renderError(c, err)
		return
	}

	if err := a.gateway.ServeSession(c.Writer, c.Request, sessionID); err != nil {
		renderError(c, err)
	}
}

func toSession(ss *domain.Session) Session {
	return Session{
		SessionID:       ss.SessionID,
		RoomCode:        ss.RoomCode,
		HostID:          ss.HostID,
		Status:          string(ss.Status),
		CurrentQuestion: ss.CurrentQuestion,
		QuestionCount:   ss.QuestionCount,
		StartedAt:       ss.StartedAt,
		EndedAt:         ss.EndedAt,
	}
}

func toPlayer(p *domain.Player) Player {
	return Player{
		PlayerID:    p.PlayerID,
		SessionID:   p.SessionID,
		DisplayName: p.DisplayName,
		JoinedAt:    p.JoinedAt,
		Score:       p.Score,
	}
}

func toLeaderboard(l *domain.Leaderboard) Leaderboard {
	out := Leaderboard{
		SessionID: l.SessionID,
		Entries:   make([]LeaderboardEntry, 0, len(l.Entries)),
	}
	for _, entry := range l.Entries {
		out.Entries = append(out.Entries, LeaderboardEntry{
			PlayerID: entry.PlayerID,
			Score:    entry.Score,
		})
	}
	return out
}

func renderError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.JSON(e.HTTPStatusCode(), gin.H{"error": e})
}
