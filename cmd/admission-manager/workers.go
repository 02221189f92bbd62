package main

import (
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"go.uber.org/zap"

	"emergency-admission/internal/common/camunda"
	"emergency-admission/internal/common/config"
	"emergency-admission/internal/common/logger"
	"emergency-admission/internal/pipeline"

	cc "emergency-admission/internal/workers/admission/complete-case"
	miq "emergency-admission/internal/workers/admission/move-in-queue"
	ot "emergency-admission/internal/workers/admission/override-triage"
	rs "emergency-admission/internal/workers/admission/retract-submission"
	si "emergency-admission/internal/workers/admission/submit-incident"
)

// registerWorkers opens a job worker per admission task type. Disabled
// workers are skipped; a handler that cannot be built stops the process.
func registerWorkers(client *camunda.Client, cfg *config.Config, admission *pipeline.Pipeline, log logger.Logger, zapLog *zap.Logger) []worker.JobWorker {
	var workers []worker.JobWorker
	open := func(taskType string, wcfg config.WorkerConfig, handler worker.JobHandler) {
		if jw := camunda.StartWorker(client.GetClient(), taskType, wcfg, handler, zapLog); jw != nil {
			workers = append(workers, jw)
		}
	}

	if wcfg := config.GetWorkerConfig(cfg, si.TaskType); wcfg.Enabled {
		handler, err := si.NewHandler(si.HandlerOptions{Config: si.ConfigFrom(wcfg), Service: admission, Logger: log})
		if err != nil {
			zapLog.Fatal("failed to create submit-incident handler", zap.Error(err))
		}
		open(si.TaskType, wcfg, handler.Handle)
	}

	if wcfg := config.GetWorkerConfig(cfg, cc.TaskType); wcfg.Enabled {
		handler, err := cc.NewHandler(cc.HandlerOptions{Config: cc.ConfigFrom(wcfg), Service: admission, Logger: log})
		if err != nil {
			zapLog.Fatal("failed to create complete-case handler", zap.Error(err))
		}
		open(cc.TaskType, wcfg, handler.Handle)
	}

	if wcfg := config.GetWorkerConfig(cfg, miq.TaskType); wcfg.Enabled {
		handler, err := miq.NewHandler(miq.HandlerOptions{Config: miq.ConfigFrom(wcfg), Service: admission, Logger: log})
		if err != nil {
			zapLog.Fatal("failed to create move-in-queue handler", zap.Error(err))
		}
		open(miq.TaskType, wcfg, handler.Handle)
	}

	if wcfg := config.GetWorkerConfig(cfg, ot.TaskType); wcfg.Enabled {
		handler, err := ot.NewHandler(ot.HandlerOptions{Config: ot.ConfigFrom(wcfg), Service: admission, Logger: log})
		if err != nil {
			zapLog.Fatal("failed to create override-triage handler", zap.Error(err))
		}
		open(ot.TaskType, wcfg, handler.Handle)
	}

	if wcfg := config.GetWorkerConfig(cfg, rs.TaskType); wcfg.Enabled {
		handler, err := rs.NewHandler(rs.HandlerOptions{Config: rs.ConfigFrom(wcfg), Service: admission, Logger: log})
		if err != nil {
			zapLog.Fatal("failed to create retract-submission handler", zap.Error(err))
		}
		open(rs.TaskType, wcfg, handler.Handle)
	}

	zapLog.Info("Admission workers registered", zap.Int("workers", len(workers)))
	return workers
}
