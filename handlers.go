package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"canvasclash/canvas"
	"canvasclash/game"
	"canvasclash/protocol"
	"canvasclash/session"
	"canvasclash/storage"
	"canvasclash/wordbank"
)

type Handler struct {
	reg       *session.Registry
	canvasSvc *canvas.Service
	gameSvc   *game.Service
	upgrader  websocket.Upgrader
	log       zerolog.Logger
}

func NewHandler(reg *session.Registry, canvasSvc *canvas.Service, gameSvc *game.Service, log zerolog.Logger) *Handler {
	return &Handler{
		reg:       reg,
		canvasSvc: canvasSvc,
		gameSvc:   gameSvc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin filtering happens in the router middleware.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

type createGameRequest struct {
	MaxPlayers     int      `json:"max_players"`
	RoundsPerGame  int      `json:"rounds_per_game"`
	RoundDurationS int      `json:"round_duration_seconds"`
	Difficulty     string   `json:"difficulty"`
	Category       string   `json:"category"`
	CustomWords    []string `json:"custom_words"`
}

func (h *Handler) CreateGameHandler(ctx *gin.Context) {
	settings := game.DefaultSettings()

	var req createGameRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid settings"})
			return
		}
		if req.MaxPlayers > 0 {
			settings.MaxPlayers = req.MaxPlayers
		}
		if req.RoundsPerGame > 0 {
			settings.RoundsPerGame = req.RoundsPerGame
		}
		if req.RoundDurationS > 0 {
			settings.RoundDuration = time.Duration(req.RoundDurationS) * time.Second
		}
		settings.Difficulty = wordbank.Difficulty(req.Difficulty)
		settings.Category = wordbank.Category(req.Category)
		settings.CustomWords = req.CustomWords
	}

	code, err := h.gameSvc.CreateRoom(settings)
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "could not create room"})
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"code": code})
}

func (h *Handler) ListGamesHandler(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"rooms": h.gameSvc.ListRooms()})
}

func (h *Handler) CanvasSnapshotHandler(ctx *gin.Context) {
	snapshot, err := h.canvasSvc.Snapshot(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			ctx.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no snapshot for this canvas"})
			return
		}
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "snapshot lookup failed"})
		return
	}
	ctx.Data(http.StatusOK, "application/json", snapshot)
}

// CanvasSocketHandler upgrades and attaches to a canvas room. Canvas
// rooms auto-create on first join.
func (h *Handler) CanvasSocketHandler(ctx *gin.Context) {
	roomID := ctx.Param("id")
	userID := ctx.Query("user_id")
	name := ctx.DefaultQuery("name", "Anonymous")
	if roomID == "" || userID == "" {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "room id and user_id required"})
		return
	}

	h.canvasSvc.Ensure(roomID)
	h.attach(ctx, roomID, userID, name)
}

// GameSocketHandler upgrades and attaches to a game room, which must
// already exist.
func (h *Handler) GameSocketHandler(ctx *gin.Context) {
	code := ctx.Param("code")
	userID := ctx.Query("user_id")
	name := ctx.DefaultQuery("name", "Anonymous")
	if userID == "" {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	if !h.gameSvc.Exists(code) {
		ctx.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	h.attach(ctx, code, userID, name)
}

func (h *Handler) attach(ctx *gin.Context, roomID, userID, name string) {
	conn, err := h.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", roomID).Msg("websocket upgrade failed")
		return
	}

	p, err := h.reg.Attach(roomID, userID, name, session.NewWebsocketConn(conn))
	if err != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "room not found"))
		conn.Close()
		return
	}

	go p.WritePump()
	go p.ReadPump()
	p.Deliver(protocol.Join{UserID: userID, UserName: name})
}
