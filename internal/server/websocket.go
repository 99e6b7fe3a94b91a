package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CLI and local tools only
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// watchJob streams job snapshots until the job is terminal or the client goes away.
// Unknown jobs are rejected before the upgrade so the client sees a plain 404.
func (s *Server) watchJob(c *gin.Context) {
	jobID := c.Param("jobId")
	if _, err := s.jobs.GetJobStatus(c.Request.Context(), jobID); err != nil {
		s.writeError(c, err)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reads only serve to notice the client closing.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		job, err := s.jobs.GetJobStatus(ctx, jobID)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("websocket job lookup failed", "job_id", jobID, "error", err)
				s.closeWS(ws, websocket.CloseInternalServerErr, "job lookup failed")
			}
			return
		}

		_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := ws.WriteJSON(job); err != nil {
			s.logger.Debug("websocket write failed", "job_id", jobID, "error", err)
			return
		}
		if job.Status.Terminal() {
			s.closeWS(ws, websocket.CloseNormalClosure, string(job.Status))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) closeWS(ws *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
}
