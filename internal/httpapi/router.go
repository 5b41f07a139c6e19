// Package httpapi exposes the retrieval service over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"docqa/internal/domain"
	"docqa/internal/service"
)

// Port is the HTTP-facing subset of the RAG service.
type Port interface {
	Ask(ctx context.Context, question string) (*domain.Answer, error)
	Rebuild(ctx context.Context) (service.BuildStats, error)
	Stats() service.IndexStats
}

// Options configures the router.
type Options struct {
	// CORSOrigins enables CORS for the listed origins; "*" allows any.
	CORSOrigins []string
	Logger      *slog.Logger
}

// NewRouter registers the API routes on a fresh gin engine.
func NewRouter(svc Port, opts Options) *gin.Engine {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("docqa"))
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware(log))
	if len(opts.CORSOrigins) > 0 {
		router.Use(corsMiddleware(opts.CORSOrigins))
	}

	h := &handlers{svc: svc}
	router.GET("/healthz", h.health)
	v1 := router.Group("/v1")
	v1.GET("/index", h.indexStats)
	v1.POST("/index", h.rebuild)
	v1.POST("/ask", h.ask)
	return router
}

type handlers struct {
	svc Port
}

// AskRequest is the body of POST /v1/ask.
type AskRequest struct {
	Question string `json:"question"`
}

// Source is one retrieved chunk in an answer.
type Source struct {
	SourceID string  `json:"source_id"`
	Page     int     `json:"page,omitempty"`
	Index    int     `json:"chunk_index"`
	Start    int     `json:"start"`
	End      int     `json:"end"`
	Score    float64 `json:"score"`
	Text     string  `json:"text"`
}

// AskResponse is the body of a successful POST /v1/ask.
type AskResponse struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Sources  []Source `json:"sources"`
}

// BuildResponse is the body of a successful POST /v1/index.
type BuildResponse struct {
	Documents  int    `json:"documents"`
	Chunks     int    `json:"chunks"`
	Dimension  int    `json:"dimension"`
	Path       string `json:"path,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "index": h.svc.Stats()})
}

func (h *handlers) indexStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Stats())
}

func (h *handlers) rebuild(c *gin.Context) {
	stats, err := h.svc.Rebuild(c.Request.Context())
	if err != nil {
		respondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, BuildResponse{
		Documents:  stats.Documents,
		Chunks:     stats.Chunks,
		Dimension:  stats.Dimension,
		Path:       stats.Path,
		DurationMS: stats.Duration.Milliseconds(),
	})
}

func (h *handlers) ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}
	ans, err := h.svc.Ask(c.Request.Context(), req.Question)
	if err != nil {
		respondWithServiceError(c, err)
		return
	}
	resp := AskResponse{ID: ans.ID, Question: ans.Question, Answer: ans.Text, Sources: make([]Source, len(ans.Sources))}
	for i, r := range ans.Sources {
		resp.Sources[i] = Source{
			SourceID: r.Chunk.SourceID,
			Page:     r.Chunk.Page,
			Index:    r.Chunk.Index,
			Start:    r.Chunk.Start,
			End:      r.Chunk.End,
			Score:    r.Score,
			Text:     r.Chunk.Text,
		}
	}
	c.JSON(http.StatusOK, resp)
}
