package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/recall"
)

// ErrorResponse is the JSON body returned on request failure.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RecallRequest is the body of POST /v1/recall. Either query text or a raw
// embedding must be provided. From and To are RFC 3339 timestamps bounding
// the archival scan.
type RecallRequest struct {
	Query           string    `json:"query,omitempty"`
	Embedding       []float32 `json:"embedding,omitempty"`
	TopK            int       `json:"top_k,omitempty"`
	IncludeArchived bool      `json:"include_archived,omitempty"`
	From            string    `json:"from,omitempty"`
	To              string    `json:"to,omitempty"`
}

// RecallResponse contains matched memories in ascending distance order.
type RecallResponse struct {
	Count   int            `json:"count"`
	Results []RecallResult `json:"results"`
}

// RecallResult is a single matched memory.
type RecallResult struct {
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	Distance   float64           `json:"distance"`
	Surprise   float64           `json:"surprise"`
	Tier       string            `json:"tier"`
	SessionTag string            `json:"session_tag,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleRecall runs a similarity query across the memory tiers.
func (s *Server) handleRecall(c *fiber.Ctx) error {
	var req RecallRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	query := recall.Query{
		Text:            req.Query,
		Embedding:       req.Embedding,
		TopK:            req.TopK,
		IncludeArchived: req.IncludeArchived,
	}

	var err error
	if query.From, err = parseTimeParam(req.From); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid from timestamp"})
	}
	if query.To, err = parseTimeParam(req.To); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid to timestamp"})
	}

	results, err := s.recaller.Recall(c.Context(), query)
	if err != nil {
		if errors.Is(err, recall.ErrEmptyQuery) {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "query or embedding required"})
		}
		s.logger.Error("recall failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "recall failed"})
	}

	resp := RecallResponse{
		Count:   len(results),
		Results: make([]RecallResult, len(results)),
	}
	for i, r := range results {
		resp.Results[i] = RecallResult{
			ID:         r.Memory.ID,
			Text:       r.Memory.Text,
			Distance:   r.Distance,
			Surprise:   r.Memory.Surprise,
			Tier:       string(r.Memory.Tier),
			SessionTag: r.Memory.SessionTag,
			CreatedAt:  r.Memory.CreatedAt,
			Metadata:   r.Memory.Metadata,
		}
	}

	return c.JSON(resp)
}

// handleStats returns tier counts and admission statistics.
func (s *Server) handleStats(c *fiber.Ctx) error {
	stats, err := s.recaller.Stats(c.Context())
	if err != nil {
		s.logger.Error("stats failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "stats failed"})
	}

	return c.JSON(stats)
}

func parseTimeParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}
