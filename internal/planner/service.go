package planner

import (
	"context"
	"time"

	"travelist/internal/apperr"
	"travelist/internal/config"
	"travelist/internal/logging"
	"travelist/internal/metrics"
	"travelist/internal/schema"
	"travelist/internal/trip"
)

// TaskSubmitter enqueues asynchronous deep-plan work. Implemented by the
// task engine; declared here so the planner does not depend on it.
type TaskSubmitter interface {
	SubmitPlanDeep(ctx context.Context, req *schema.PlanRequest) (string, error)
}

// Service is the single planning entry point: it dispatches by mode,
// persists on request and records per-call metrics.
type Service struct {
	cfg     *config.Config
	fast    *FastPlanner
	deep    *DeepPlanner
	trips   trip.Store
	tasks   TaskSubmitter
	metrics *metrics.Registry
	logger  logging.Logger
}

// NewService wires the plan service. tasks may be nil when async deep
// planning is not offered.
func NewService(cfg *config.Config, fast *FastPlanner, deep *DeepPlanner, trips trip.Store, metricsReg *metrics.Registry, logger logging.Logger) *Service {
	if metricsReg == nil {
		metricsReg = metrics.NewRegistry(nil)
	}
	return &Service{
		cfg:     cfg,
		fast:    fast,
		deep:    deep,
		trips:   trips,
		metrics: metricsReg,
		logger:  logging.OrNop(logger),
	}
}

// SetTaskSubmitter attaches the async backend after construction (the
// task engine itself depends on this service).
func (s *Service) SetTaskSubmitter(tasks TaskSubmitter) { s.tasks = tasks }

// Plan handles one planning request end to end.
func (s *Service) Plan(ctx context.Context, req *schema.PlanRequest) (*schema.PlanResponseData, error) {
	traceID := logging.NewTraceID("plan")

	if s.trips != nil {
		exists, err := s.trips.UserExists(ctx, req.UserID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindPersistenceFailed, "check user", err).WithTrace(traceID)
		}
		if !exists {
			return nil, apperr.Newf(apperr.KindUserMissing, "user %d does not exist", req.UserID).WithTrace(traceID)
		}
	}

	switch req.Mode {
	case schema.ModeFast:
		return s.runInline(ctx, req, traceID, false)
	case schema.ModeDeep:
		if !s.cfg.PlanDeepEnabled {
			return nil, apperr.New(apperr.KindDeepUnsupported, "deep planning is disabled").WithTrace(traceID)
		}
		if req.Async {
			return s.submitAsync(ctx, req, traceID)
		}
		return s.runInline(ctx, req, traceID, true)
	default:
		return nil, apperr.Newf(apperr.KindBadMode, "unsupported mode %q", req.Mode).WithTrace(traceID)
	}
}

func (s *Service) runInline(ctx context.Context, req *schema.PlanRequest, traceID string, deep bool) (*schema.PlanResponseData, error) {
	started := time.Now()
	var (
		plan        *schema.TripPlan
		planMetrics map[string]any
		err         error
	)
	if deep {
		plan, planMetrics, err = s.deep.Plan(ctx, req)
	} else {
		plan, planMetrics, err = s.fast.Plan(ctx, req)
	}
	latencyMS := float64(time.Since(started).Microseconds()) / 1000.0

	record := metrics.PlanRecord{
		TraceID:     traceID,
		Mode:        req.Mode,
		Destination: req.Destination,
		Days:        req.DayCount(),
		LatencyMS:   latencyMS,
		Success:     err == nil,
	}
	if err != nil {
		record.Error = string(apperr.Normalize(err).Kind)
		s.metrics.RecordPlan(record)
		return nil, apperr.Normalize(err).WithTrace(traceID)
	}
	record.PseudoGeo = pseudoCenter(planMetrics)
	if fb, ok := planMetrics["fallback_to_fast"].(bool); ok {
		record.Fallback = fb
	}
	if tokens, ok := planMetrics["llm_tokens_total"].(int); ok {
		record.Tokens = tokens
	}

	if req.Save {
		tripID, saveErr := s.trips.SavePlan(ctx, req.UserID, plan)
		if saveErr != nil {
			record.Success = false
			record.Error = string(apperr.Normalize(saveErr).Kind)
			s.metrics.RecordPlan(record)
			return nil, apperr.Normalize(saveErr).WithTrace(traceID)
		}
		plan.TripID = tripID
	}
	s.metrics.RecordPlan(record)

	return &schema.PlanResponseData{
		Mode:      req.Mode,
		Async:     false,
		RequestID: req.RequestID,
		SeedMode:  req.SeedMode,
		Plan:      plan,
		Metrics:   planMetrics,
		TraceID:   traceID,
	}, nil
}

func (s *Service) submitAsync(ctx context.Context, req *schema.PlanRequest, traceID string) (*schema.PlanResponseData, error) {
	if s.tasks == nil {
		return nil, apperr.New(apperr.KindDeepUnsupported, "async planning is not available").WithTrace(traceID)
	}
	taskID, err := s.tasks.SubmitPlanDeep(ctx, req)
	if err != nil {
		return nil, apperr.Normalize(err).WithTrace(traceID)
	}
	s.logger.Info("deep plan task %s queued for user %d", taskID, req.UserID)
	return &schema.PlanResponseData{
		Mode:      schema.ModeDeep,
		Async:     true,
		RequestID: req.RequestID,
		TaskID:    taskID,
		TraceID:   traceID,
	}, nil
}

// RunDeepAndSave is the handler body for queued plan:deep tasks: it runs
// the deep planner outside any DB transaction, persists when requested
// and records metrics.
func (s *Service) RunDeepAndSave(ctx context.Context, req *schema.PlanRequest) (*schema.PlanResponseData, error) {
	return s.runInline(ctx, req, logging.NewTraceID("plan"), true)
}

func pseudoCenter(planMetrics map[string]any) bool {
	center, ok := planMetrics["destination_center"].(map[string]any)
	if !ok {
		return false
	}
	source, _ := center["source"].(string)
	return source != "" && source != "api"
}
