package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/services"
	"github.com/miradorstack/mirador-triage/internal/tracker"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

// Orchestrator is the triage facade the transports delegate to.
type Orchestrator interface {
	Analyze(ctx context.Context, text string, threshold float64, limit int) (models.Analysis, error)
	ProcessIssue(ctx context.Context, key string, threshold float64) (models.IssueResult, error)
	BatchProcess(ctx context.Context, keys []string, threshold float64) (models.BatchResult, error)
	CheckTracker(ctx context.Context) (tracker.ServerInfo, error)
	Status(ctx context.Context) models.ConfigStatus
	Recent(id string) (models.Analysis, bool)
}

type processIssueRequest struct {
	IssueKey  string   `json:"issue_key"`
	Threshold *float64 `json:"threshold,omitempty"`
}

type batchProcessRequest struct {
	IssueKeys []string `json:"issue_keys"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// GRPCHandler implements TriageServer on top of an Orchestrator.
type GRPCHandler struct {
	svc Orchestrator
}

// NewGRPCHandler returns a TriageServer backed by svc.
func NewGRPCHandler(svc Orchestrator) *GRPCHandler {
	return &GRPCHandler{svc: svc}
}

func (h *GRPCHandler) Analyze(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req models.AnalyzeRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, status.Error(codes.InvalidArgument, "text is required")
	}
	threshold, err := thresholdOrDefault(req.Threshold)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	analysis, err := h.svc.Analyze(ctx, req.Text, threshold, req.Limit)
	if err != nil {
		return nil, statusFromError(err)
	}
	return encodeStruct(stripEmbeddings(analysis))
}

func (h *GRPCHandler) ProcessIssue(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req processIssueRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	key := strings.ToUpper(strings.TrimSpace(req.IssueKey))
	if !tracker.ValidKey(key) {
		return nil, status.Errorf(codes.InvalidArgument, "invalid issue key %q", req.IssueKey)
	}
	threshold, err := thresholdOrDefault(req.Threshold)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	result, err := h.svc.ProcessIssue(ctx, key, threshold)
	if err != nil {
		return nil, statusFromError(err)
	}
	return encodeStruct(result)
}

func (h *GRPCHandler) BatchProcess(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req batchProcessRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	keys := tracker.ParseKeys(strings.Join(req.IssueKeys, "\n"))
	if len(keys) == 0 {
		return nil, status.Error(codes.InvalidArgument, "no valid issue keys found")
	}
	threshold, err := thresholdOrDefault(req.Threshold)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	result, err := h.svc.BatchProcess(ctx, keys, threshold)
	if err != nil {
		return nil, statusFromError(err)
	}
	return encodeStruct(result)
}

func (h *GRPCHandler) GetConfigStatus(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return encodeStruct(h.svc.Status(ctx))
}

// thresholdOrDefault maps an absent threshold to the configured default.
// An explicit value must lie in [0, 1].
func thresholdOrDefault(v *float64) (float64, error) {
	if v == nil {
		return services.UseDefaultThreshold, nil
	}
	if math.IsNaN(*v) || *v < 0 || *v > 1 {
		return 0, fmt.Errorf("threshold must be between 0 and 1, got %v", *v)
	}
	return *v, nil
}

// stripEmbeddings drops vectors from matches; callers only need metadata.
func stripEmbeddings(a models.Analysis) models.Analysis {
	if len(a.Matches) == 0 {
		return a
	}
	matches := make([]models.SimilarityMatch, len(a.Matches))
	copy(matches, a.Matches)
	for i := range matches {
		matches[i].Incident.Embedding = nil
	}
	a.Matches = matches
	return a
}

func decodeStruct(in *structpb.Struct, v any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal struct: %w", err)
	}
	return json.Unmarshal(raw, v)
}

func encodeStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// statusFromError maps domain error kinds onto gRPC status codes.
func statusFromError(err error) error {
	switch {
	case errors.Is(err, utils.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, utils.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, utils.ErrNotConfigured):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, utils.ErrEmbedding), errors.Is(err, utils.ErrStoreQuery):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
