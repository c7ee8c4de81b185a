package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"twinpool/internal/model"
	"twinpool/internal/service"
	"twinpool/pkg/events"
	"twinpool/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the API key guards the stream
	},
}

// EventHandler streams controller and monitor events over WebSocket
type EventHandler struct {
	bus              *events.Bus
	workspaceService *service.WorkspaceService
}

// NewEventHandler creates a new event handler
func NewEventHandler(bus *events.Bus, workspaceService *service.WorkspaceService) *EventHandler {
	return &EventHandler{bus: bus, workspaceService: workspaceService}
}

// Stream sends the current state, then every event until the client leaves.
// Slow clients miss events rather than stall the pool.
// @Summary Event stream
// @Tags events
// @Router /v1/events [get]
func (h *EventHandler) Stream(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "Failed to upgrade to websocket: %v", err)
		return
	}
	defer ws.Close()

	sub, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	// reader: handles pongs and notices the client going away
	gone := make(chan struct{})
	ws.SetReadLimit(512)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, ev := range h.initialEvents() {
		if err := writeEvent(ws, ev); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-sub:
			if !ok {
				ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
				return
			}
			if err := writeEvent(ws, ev); err != nil {
				logger.DebugCtx(c.Request.Context(), "event stream closed: %v", err)
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *EventHandler) initialEvents() []events.Event {
	var path string
	if info := h.workspaceService.Current(); info != nil {
		path = info.Path
	}
	now := time.Now()
	workers := h.workspaceService.Workers()
	jobs := h.workspaceService.Jobs(model.CategoryAll)
	return []events.Event{
		{Type: events.TypeSummary, Source: events.SourcePool, Workspace: path, Data: workers.Summary, Time: now},
		{Type: events.TypeWorkerStats, Source: events.SourcePool, Workspace: path, Data: workers.Stats, Time: now},
		{Type: events.TypeJobs, Source: events.SourceJobMonitor, Workspace: path, Data: jobs, Time: now},
	}
}

func writeEvent(ws *websocket.Conn, ev events.Event) error {
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(ev)
}
