// Package api exposes the lowering pipeline over HTTP for debugging:
// submit a portable graph, get back the lowering report and optional
// backend dumps. Not a production surface.
package api

import (
	"net/http"
	"sort"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/anvilml/anvil/internal/graph"
	"github.com/anvilml/anvil/internal/logger"
	"github.com/anvilml/anvil/internal/lower"
	"github.com/anvilml/anvil/internal/npu"
)

type Server struct {
	log logger.Logger
}

func NewServer(log logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{log: log}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/lower", s.handleLower)
	e.GET("/v1/health", s.handleHealth)
}

// LowerResponse is the report returned for one lowering request.
type LowerResponse struct {
	ID          string   `json:"id"`
	Graph       string   `json:"graph"`
	Composed    bool     `json:"composed"`
	Nodes       int      `json:"nodes"`
	Converted   int      `json:"converted"`
	Tensors     int      `json:"tensors"`
	Ops         int      `json:"ops"`
	Diagnostics []string `json:"diagnostics,omitempty"`
	Dump        []string `json:"dump,omitempty"`
}

func (s *Server) handleHealth(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLower(c *echo.Context) error {
	g, err := graph.Decode(c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	q := c.Request().URL.Query()
	opts := lower.BuildOptions{
		Validate: q.Get("validate") == "true",
		Settings: lower.Settings{
			OffloadGraphIOQuantization: q.Get("offload") == "true",
		},
	}

	id := "lower_" + uuid.NewString()
	log := s.log.With("request", id, "graph", g.Name)

	sim := npu.NewSim()
	m, report, err := lower.Build(g, log, sim, opts)
	if err != nil {
		return writeError(c, http.StatusUnprocessableEntity, "lowering_error", err.Error())
	}
	defer m.Close()

	tensors := sim.Tensors(m.Handle())
	ops := sim.Ops(m.Handle())
	resp := LowerResponse{
		ID:          id,
		Graph:       report.Graph,
		Composed:    report.Composed,
		Nodes:       report.Nodes,
		Converted:   report.Converted,
		Tensors:     len(tensors),
		Ops:         len(ops),
		Diagnostics: report.Diagnostics,
	}
	if q.Get("dump") == "true" {
		resp.Dump = dumpGraph(tensors, ops)
	}

	log.Info("lowered graph", "composed", resp.Composed, "tensors", resp.Tensors, "ops", resp.Ops)
	return writeJSON(c, http.StatusOK, resp)
}

func dumpGraph(tensors []*npu.Tensor, ops []*npu.OpConfig) []string {
	sort.Slice(tensors, func(i, j int) bool { return tensors[i].ID < tensors[j].ID })
	out := make([]string, 0, len(tensors)+len(ops))
	for _, t := range tensors {
		out = append(out, npu.DumpTensor(t))
	}
	for _, op := range ops {
		out = append(out, npu.DumpOpConfig(op))
	}
	return out
}

type responseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return writeJSON(c, status, map[string]any{
		"error": responseError{Message: msg, Type: errType},
	})
}

func writeJSON(c *echo.Context, status int, v any) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c.Response().WriteHeader(status)
	return json.NewEncoder(c.Response()).Encode(v)
}
