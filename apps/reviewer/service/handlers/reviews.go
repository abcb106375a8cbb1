package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pitabwire/util"

	"github.com/antinvestor/codereview/internal/events"
)

// Publisher publishes a payload to a named queue.
type Publisher interface {
	Publish(ctx context.Context, queueName string, payload any, headers ...map[string]string) error
}

// ReviewHandler accepts review submissions over HTTP and queues them for the
// pipeline.
type ReviewHandler struct {
	publisher    Publisher
	requestQueue string
	maxBodySize  int64
}

// NewReviewHandler creates a review submission handler.
func NewReviewHandler(publisher Publisher, requestQueue string, maxBodySize int) *ReviewHandler {
	return &ReviewHandler{
		publisher:    publisher,
		requestQueue: requestQueue,
		maxBodySize:  int64(maxBodySize),
	}
}

// SubmitResponse is the response for a review submission.
type SubmitResponse struct {
	Status   string   `json:"status"`
	ReviewID string   `json:"review_id,omitempty"`
	EventID  string   `json:"event_id,omitempty"`
	Message  string   `json:"message"`
	Errors   []string `json:"errors,omitempty"`
}

// HandleSubmit handles POST /api/v1/reviews.
func (h *ReviewHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := util.Log(ctx)

	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	if h.maxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	}
	defer util.CloseAndLogOnError(ctx, r.Body, "failed to close request body")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body exceeds maximum size of %d bytes", h.maxBodySize), nil)
			return
		}
		log.WithError(err).Error("failed to read review request body")
		h.writeError(w, http.StatusBadRequest, "Failed to read request body", nil)
		return
	}

	var req events.ReviewRequestedPayload
	if err := json.Unmarshal(body, &req); err != nil {
		log.WithError(err).Debug("invalid JSON in review request")
		h.writeError(w, http.StatusBadRequest, "Invalid JSON in request body", []string{err.Error()})
		return
	}

	if problems := validateReviewRequest(&req); len(problems) > 0 {
		h.writeError(w, http.StatusBadRequest, "Validation failed", problems)
		return
	}

	if req.EventID.IsZero() {
		req.EventID = events.NewEventID()
	}
	if req.ReviewID.IsZero() {
		req.ReviewID = events.NewReviewID()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}

	err = h.publisher.Publish(ctx, h.requestQueue, &req, map[string]string{
		"event_type": string(events.ReviewRequested),
		"event_id":   req.EventID.String(),
	})
	if err != nil {
		log.WithError(err).Error("failed to queue review request")
		h.writeError(w, http.StatusInternalServerError, "Failed to queue request", nil)
		return
	}

	log.Info("review request queued",
		"review_id", req.ReviewID.String(),
		"repository_id", req.RepositoryID,
		"changed_files", len(req.ChangedFiles),
	)

	writeJSON(w, http.StatusAccepted, SubmitResponse{
		Status:   "accepted",
		ReviewID: req.ReviewID.String(),
		EventID:  req.EventID.String(),
		Message:  "Review request queued",
	})
}

func validateReviewRequest(req *events.ReviewRequestedPayload) []string {
	var problems []string
	if strings.TrimSpace(req.RepositoryID) == "" {
		problems = append(problems, "repository_id is required")
	}
	if strings.TrimSpace(req.Diff) == "" && len(req.ChangedFiles) == 0 {
		problems = append(problems, "diff or changed_files is required")
	}
	for _, f := range req.ChangedFiles {
		if strings.TrimSpace(f) == "" {
			problems = append(problems, "changed_files must not contain empty paths")
			break
		}
	}
	if req.PluginTimeoutSeconds < 0 {
		problems = append(problems, "plugin_timeout_seconds must not be negative")
	}
	return problems
}

func (h *ReviewHandler) writeError(w http.ResponseWriter, status int, message string, problems []string) {
	writeJSON(w, status, SubmitResponse{
		Status:  "error",
		Message: message,
		Errors:  problems,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
