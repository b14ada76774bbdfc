package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/taskfleet/dispatch/internal/lg"
	"github.com/taskfleet/dispatch/internal/serverutil"
	"github.com/taskfleet/dispatch/pkg/callback"
	"github.com/taskfleet/dispatch/pkg/coordinator"
	"github.com/taskfleet/dispatch/pkg/executor"
	"github.com/taskfleet/dispatch/pkg/play"
	"github.com/taskfleet/dispatch/pkg/recorder"
	"github.com/taskfleet/dispatch/pkg/workerpool"
)

const maxRunTimeout = 30 * time.Minute

type runRequest struct {
	Playbook string       `json:"playbook"`
	Options  play.Options `json:"options"`
}

type runResponse struct {
	RequestUID uuid.UUID `json:"requid"`
}

func validateRunRequest(req *runRequest) error {
	if strings.TrimSpace(req.Playbook) == "" {
		return fmt.Errorf("playbook path is required")
	}
	return nil
}

type runJob struct {
	RequestUID uuid.UUID
	Playbook   string
	Options    play.Options
}

type runHandler struct {
	pool  *workerpool.Pool[runJob]
	cfg   *DispatchdConfig
	sinks *sinks
	lg    lg.Logger
}

// sinks are the report destinations shared by all runs.
type sinks struct {
	mongo *recorder.MongoSink
}

func newRunHandler(cfg *DispatchdConfig, logger lg.Logger) (*runHandler, error) {
	s := &sinks{}
	if cfg.Mongo.Enabled {
		mongo, err := recorder.NewMongoSink(cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection)
		if err != nil {
			return nil, fmt.Errorf("mongo sink: %w", err)
		}
		s.mongo = mongo
	}
	return &runHandler{
		pool:  workerpool.NewPool[runJob](workerpool.TotalMaxWorkers),
		cfg:   cfg,
		sinks: s,
		lg:    logger,
	}, nil
}

func (h *runHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	request, ok := serverutil.RequestFromContext[runRequest](r.Context())
	if !ok {
		http.Error(rw, "Internal server error", http.StatusInternalServerError)
		return
	}

	uid := uuid.New()
	ctx, cancel := context.WithTimeout(lg.Attach(context.Background(), h.lg), maxRunTimeout)

	h.pool.Submit(workerpool.Job[runJob]{
		Payload: runJob{RequestUID: uid, Playbook: request.Playbook, Options: request.Options},
		Fn:      h.executeRun,
		Ctx:     ctx,
		Cleanup: cancel,
	})

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(rw).Encode(runResponse{RequestUID: uid}); err != nil {
		h.lg.Error("failed to encode response", lg.Err(err))
	}
}

// executeRun loads the playbook and drives every play in it, persisting one
// report per play. Errors are permanent: a play run has side effects and
// must not be retried by the pool.
func (h *runHandler) executeRun(ctx context.Context, job runJob) error {
	logger := h.lg.With(lg.String("requid", job.RequestUID.String()))

	plays, err := play.LoadPlaybook(job.Playbook)
	if err != nil {
		logger.Error("failed to load playbook", lg.Err(err))
		return backoff.Permanent(err)
	}

	bus := callback.NewBus()
	bus.Register(callback.NewLogListener(logger))
	if h.cfg.Kafka.Enabled {
		forwarder := callback.NewKafkaForwarder(h.cfg.Kafka.Brokers, h.cfg.Kafka.Topic, job.RequestUID, logger)
		defer forwarder.Close()
		bus.Register(forwarder)
	}

	factory := executor.NewSSHFactory(h.cfg.SSH, logger)
	coord := coordinator.New(bus, factory, logger)

	for i := range plays {
		report, err := coord.Run(ctx, &plays[i], job.Options)
		if err != nil {
			logger.Error("play run failed", lg.String("play", plays[i].Name), lg.Err(err))
			return backoff.Permanent(err)
		}
		h.persist(ctx, report, logger)
	}
	return nil
}

func (h *runHandler) persist(ctx context.Context, report *coordinator.RunReport, logger lg.Logger) {
	filename := filepath.Join(h.cfg.ReportsDir,
		fmt.Sprintf("%s_%s.json", report.Play, report.RunID))
	if err := recorder.WriteReportFile(report, filename); err != nil {
		logger.Error("failed to write report file", lg.Err(err))
	}
	if h.sinks.mongo != nil {
		if err := h.sinks.mongo.Save(ctx, report); err != nil {
			logger.Error("failed to save report to MongoDB", lg.Err(err))
		}
	}
}

func (h *runHandler) Stop() {
	h.pool.Stop()
	if h.sinks.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.sinks.mongo.Close(ctx); err != nil {
			h.lg.Warn("mongo disconnect", lg.Err(err))
		}
	}
}
