// Package dbserve exposes a performance database over HTTP so tuned
// configs can be shared between machines: a tuning box exports its user
// database and a fleet pulls entries instead of re-searching.
package dbserve

import (
	"errors"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/perflab/kerntune/internal/logger"
	"github.com/perflab/kerntune/internal/perfdb"
	"github.com/perflab/kerntune/internal/version"
	"github.com/perflab/kerntune/pkg/dbtext"
)

// snapshotter is implemented by both database variants; Tiered is served
// through its user tier instead.
type snapshotter interface {
	Snapshot() map[string]dbtext.Record
}

type flusher interface {
	Flush() error
}

// Server serves one database. Writes go through the database's own Store,
// so serving a read-only database turns the write endpoint into a 403.
type Server struct {
	db    perfdb.Database
	log   logger.Logger
	clock func() time.Time
}

func NewServer(db perfdb.Database, log logger.Logger) *Server {
	return &Server{
		db:    db,
		log:   logger.OrDiscard(log),
		clock: time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/entry", s.handleGetEntry)
	e.PUT("/v1/entry", s.handlePutEntry)
	e.GET("/v1/export", s.handleExport)
	e.GET("/v1/status", s.handleStatus)
}

// Entry is one (fingerprint key, solver) row on the wire.
type Entry struct {
	Key    string `json:"key"`
	Solver string `json:"solver"`
	Config string `json:"config"`
}

// Export is the full-database payload.
type Export struct {
	ExportedAt time.Time                    `json:"exported_at"`
	Keys       int                          `json:"keys"`
	Entries    map[string]map[string]string `json:"entries"`
}

type statusResponse struct {
	Version  string `json:"version"`
	Keys     int    `json:"keys,omitempty"`
	Writable bool   `json:"writable"`
}

type serverError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleGetEntry(c *echo.Context) error {
	key := c.QueryParam("key")
	solver := c.QueryParam("solver")
	if key == "" || solver == "" {
		return writeBadRequest(c, "key and solver query parameters are required")
	}
	config, ok := s.db.Load(key, solver)
	if !ok {
		return writeNotFound(c, "no entry for key/solver")
	}
	return writeJSON(c, http.StatusOK, Entry{Key: key, Solver: solver, Config: config})
}

func (s *Server) handlePutEntry(c *echo.Context) error {
	requestID := uuid.NewString()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return writeBadRequest(c, "cannot read request body")
	}
	var entry Entry
	if err := json.Unmarshal(body, &entry); err != nil {
		return writeBadRequest(c, "malformed entry payload")
	}
	if entry.Key == "" || entry.Solver == "" || entry.Config == "" {
		return writeBadRequest(c, "key, solver and config are required")
	}

	if err := s.db.Store(entry.Key, entry.Solver, entry.Config); err != nil {
		if errors.Is(err, perfdb.ErrReadOnly) {
			return writeError(c, http.StatusForbidden, "read_only_database",
				"this database does not accept writes", requestID)
		}
		return writeError(c, http.StatusInternalServerError, "store_failed", err.Error(), requestID)
	}
	if f, ok := s.db.(flusher); ok {
		if err := f.Flush(); err != nil {
			s.log.Warn("flush after store failed", "request_id", requestID, "err", err)
		}
	}
	s.log.Info("entry stored",
		"request_id", requestID, "key", entry.Key, "solver", entry.Solver)
	return writeJSON(c, http.StatusOK, map[string]any{
		"stored":     true,
		"request_id": requestID,
	})
}

func (s *Server) handleExport(c *echo.Context) error {
	snap, ok := snapshot(s.db)
	if !ok {
		return writeError(c, http.StatusNotImplemented, "export_unsupported",
			"backing database cannot be snapshotted", "")
	}
	out := Export{
		ExportedAt: s.clock().UTC(),
		Keys:       len(snap),
		Entries:    make(map[string]map[string]string, len(snap)),
	}
	for key, rec := range snap {
		out.Entries[key] = rec
	}
	return writeJSON(c, http.StatusOK, out)
}

func (s *Server) handleStatus(c *echo.Context) error {
	resp := statusResponse{
		Version:  version.String(),
		Writable: writable(s.db),
	}
	if snap, ok := snapshot(s.db); ok {
		resp.Keys = len(snap)
	}
	return writeJSON(c, http.StatusOK, resp)
}

func writable(db perfdb.Database) bool {
	switch v := db.(type) {
	case *perfdb.ReadonlyRamDB:
		return false
	case perfdb.Tiered:
		return v.User != nil
	default:
		return true
	}
}

func snapshot(db perfdb.Database) (map[string]dbtext.Record, bool) {
	switch v := db.(type) {
	case snapshotter:
		return v.Snapshot(), true
	case perfdb.Tiered:
		merged := make(map[string]dbtext.Record)
		if v.System != nil {
			merge(merged, v.System.Snapshot())
		}
		if v.User != nil {
			merge(merged, v.User.Snapshot())
		}
		return merged, true
	default:
		return nil, false
	}
}

func merge(dst, src map[string]dbtext.Record) {
	for key, rec := range src {
		out, ok := dst[key]
		if !ok {
			out = make(dbtext.Record, len(rec))
			dst[key] = out
		}
		for id, cfg := range rec {
			out[id] = cfg
		}
	}
}

func writeJSON(c *echo.Context, status int, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.Blob(status, echo.MIMEApplicationJSON, b)
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "")
}

func writeError(c *echo.Context, status int, errType, msg, requestID string) error {
	return writeJSON(c, status, map[string]any{
		"error": serverError{Message: msg, Type: errType, RequestID: requestID},
	})
}
