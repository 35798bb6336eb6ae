package api

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/chatcache/internal/logger"
	"github.com/samcharles93/chatcache/internal/reasoning"
	"github.com/samcharles93/chatcache/internal/session"
	"github.com/samcharles93/chatcache/internal/snapshot"
	"github.com/samcharles93/chatcache/internal/version"
)

const maxSnapshotBytes = 64 << 20

type Server struct {
	store     *SessionStore
	log       logger.Logger
	mediaRoot string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMediaRoot allows turns to name media files under root. Without it
// every media_path is rejected.
func WithMediaRoot(root string) ServerOption {
	return func(s *Server) { s.mediaRoot = root }
}

func NewServer(store *SessionStore, log logger.Logger, opts ...ServerOption) *Server {
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{store: store, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)

	e.POST("/v1/sessions", s.handleCreateSession)
	e.GET("/v1/sessions/:id", s.handleGetSession)
	e.DELETE("/v1/sessions/:id", s.handleDeleteSession)
	e.POST("/v1/sessions/:id/turns", s.handleTurn)
	e.POST("/v1/sessions/:id/reset", s.handleReset)
	e.GET("/v1/sessions/:id/snapshot", s.handleGetSnapshot)
	e.PUT("/v1/sessions/:id/snapshot", s.handlePutSnapshot)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Sessions: s.store.Len(),
		Version:  version.String(),
	})
}

func (s *Server) handleCreateSession(c *echo.Context) error {
	req, err := decodeJSON[CreateSessionRequest](c.Request().Body)
	if err != nil {
		return writeErr(c, err)
	}
	policy, ok := session.ParseResetPolicy(req.ResetPolicy)
	if !ok {
		return writeErr(c, newInvalidRequest("reset_policy must be \"clear\" or \"keep\""))
	}
	if req.ContextSize < 0 || req.MaxReplyUnits < 0 {
		return writeErr(c, newInvalidRequest("sizes must not be negative"))
	}

	entry, err := s.store.Create(c.Request().Header.Get("Idempotency-Key"), SessionOptions{
		SystemPrompt:  req.SystemPrompt,
		ContextSize:   req.ContextSize,
		MaxReplyUnits: req.MaxReplyUnits,
		ResetPolicy:   policy,
	})
	if err != nil {
		s.log.Error("create session failed", "error", err)
		return writeErr(c, err)
	}
	s.log.Info("session created", "id", entry.id)

	// a repeated key may race a turn on the same entry; wait for it
	entry.mu.Lock()
	resp := describe(entry)
	entry.mu.Unlock()
	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleGetSession(c *echo.Context) error {
	var resp SessionResponse
	err := s.store.With(c.Param("id"), func(e *sessionEntry) error {
		resp = describe(e)
		return nil
	})
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDeleteSession(c *echo.Context) error {
	id := c.Param("id")
	if err := s.store.Delete(id); err != nil {
		return writeErr(c, err)
	}
	s.log.Info("session deleted", "id", id)
	return c.JSON(http.StatusOK, DeleteResponse{ID: id, Object: "session.deleted", Deleted: true})
}

func (s *Server) handleTurn(c *echo.Context) error {
	req, err := decodeJSON[TurnRequest](c.Request().Body)
	if err != nil {
		return writeErr(c, err)
	}
	if strings.TrimSpace(req.Text) == "" && req.MediaPath == "" {
		return writeErr(c, newInvalidRequest("text or media_path is required"))
	}
	if req.MediaPath != "" {
		if req.MediaPath, err = s.resolveMedia(req.MediaPath); err != nil {
			return writeErr(c, err)
		}
	}

	id := c.Param("id")
	ctx := c.Request().Context()
	return s.respond(c, s.store.With(id, func(e *sessionEntry) error {
		if !req.Stream {
			reply, err := e.sess.Stream(ctx, req.Text, req.MediaPath, nil)
			if reply.Stop != "" {
				e.turns++
			}
			if err != nil {
				s.log.Warn("turn failed", "id", id, "error", err)
				return err
			}
			split := reasoning.Split(reply.Text)
			return c.JSON(http.StatusOK, newTurnResponse(reply, split.Content, split.Reasoning))
		}

		w, err := NewSSEStreamWriter(c)
		if err != nil {
			return newInvalidRequest(err.Error())
		}
		if err := w.Begin(); err != nil {
			return nil
		}
		var splitter reasoning.Splitter
		reply, err := e.sess.Stream(ctx, req.Text, req.MediaPath, func(chunk string) {
			w.Chunk(splitter.Push(chunk))
		})
		if reply.Stop != "" {
			e.turns++
		}
		if err != nil {
			s.log.Warn("streamed turn failed", "id", id, "error", err)
			_ = w.Failed(err)
			return nil
		}
		w.Chunk(splitter.Flush())
		split := reasoning.Split(reply.Text)
		if err := w.Complete(newTurnResponse(reply, split.Content, split.Reasoning)); err != nil {
			s.log.Debug("client went away before completion", "id", id, "error", err)
		}
		return nil
	}))
}

func (s *Server) handleReset(c *echo.Context) error {
	var resp SessionResponse
	err := s.store.With(c.Param("id"), func(e *sessionEntry) error {
		if err := e.sess.Reset(); err != nil {
			return err
		}
		resp = describe(e)
		return nil
	})
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetSnapshot(c *echo.Context) error {
	var buf bytes.Buffer
	err := s.store.With(c.Param("id"), func(e *sessionEntry) error {
		return snapshot.Encode(&buf, snapshot.Capture(e.sess))
	})
	if err != nil {
		return writeErr(c, err)
	}
	return c.Blob(http.StatusOK, snapshot.ContentType, buf.Bytes())
}

func (s *Server) handlePutSnapshot(c *echo.Context) error {
	snap, err := snapshot.Decode(io.LimitReader(c.Request().Body, maxSnapshotBytes))
	if err != nil {
		return writeErr(c, err)
	}
	var resp SessionResponse
	err = s.store.With(c.Param("id"), func(e *sessionEntry) error {
		if err := snapshot.Apply(e.sess, snap); err != nil {
			return newInvalidRequest(err.Error())
		}
		resp = describe(e)
		return nil
	})
	if err != nil {
		return writeErr(c, err)
	}
	s.log.Info("snapshot restored", "id", c.Param("id"), "messages", len(snap.History))
	return c.JSON(http.StatusOK, resp)
}

// respond writes err unless the handler already produced a response.
func (s *Server) respond(c *echo.Context, err error) error {
	if err == nil {
		return nil
	}
	return writeErr(c, err)
}

func describe(e *sessionEntry) SessionResponse {
	opts := e.sess.Options()
	return SessionResponse{
		ID:        e.id,
		Object:    "session",
		CreatedAt: e.created.Unix(),
		Turns:     e.turns,
		Options: OptionsView{
			ContextSize:   opts.ContextSize,
			MaxReplyUnits: opts.MaxReplyUnits,
			BatchSize:     opts.BatchSize,
			SystemPrompt:  opts.SystemPrompt,
			ResetPolicy:   opts.ResetPolicy.String(),
			Vision:        e.sess.HasVision(),
		},
		History: e.sess.History(),
		Ledger:  e.sess.Ledger(),
	}
}
