package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kode4food/timebox"

	app "github.com/kode4food/vigil"
	"github.com/kode4food/vigil/internal/client"
	"github.com/kode4food/vigil/internal/config"
	"github.com/kode4food/vigil/internal/converge"
	"github.com/kode4food/vigil/internal/export"
	"github.com/kode4food/vigil/internal/watch"
	"github.com/kode4food/vigil/pkg/api"
	"github.com/kode4food/vigil/pkg/events"
	"github.com/kode4food/vigil/pkg/graph"
	"github.com/kode4food/vigil/pkg/log"
)

type vigil struct {
	cfg        *config.Config
	timebox    *timebox.Timebox
	watchStore *timebox.Store
	client     client.Client
	journal    watch.Journal
	watcher    *watch.Watcher
	quit       chan os.Signal
}

var (
	ErrCreateTimebox    = errors.New("failed to create timebox")
	ErrCreateWatchStore = errors.New("failed to create watch store")
	ErrUsage            = errors.New(
		"usage: vigil run|resume|watch|cancel|approve|reject|list|export|check",
	)
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	v := &vigil{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	v.setupLogging()

	if err := v.run(os.Args[1:]); err != nil {
		slog.Error("Command failed", log.Error(err))
		os.Exit(1)
	}
}

func (v *vigil) run(args []string) error {
	if len(args) == 0 {
		return ErrUsage
	}

	// flow validation needs no stores or engine
	if args[0] == "check" {
		return checkFlow(args[1:])
	}

	if err := v.initialize(); err != nil {
		return err
	}
	defer v.shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signal.Notify(v.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(v.quit)
	go func() {
		<-v.quit
		cancel()
	}()

	switch args[0] {
	case "run":
		return v.runFlow(ctx, args[1:])
	case "resume":
		return v.resumeFlow(ctx, args[1:])
	case "watch":
		return v.watchExecution(ctx, args[1:])
	case "cancel":
		return v.cancelExecution(ctx, args[1:])
	case "approve":
		return v.approveStep(ctx, args[1:])
	case "reject":
		return v.rejectStep(ctx, args[1:])
	case "list":
		return v.listExecutions(ctx, args[1:])
	case "export":
		return v.exportExecution(ctx, args[1:])
	default:
		return fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
	}
}

func (v *vigil) setupLogging() {
	level, ok := logLevels[v.cfg.LogLevel]
	if !ok {
		level = slog.LevelInfo
	}

	env := os.Getenv("ENV")
	logger := log.NewWithLevel(app.Name, env, app.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Debug("Configuration loaded",
		slog.String("engine_url", v.cfg.EngineURL),
		slog.String("watch_redis_addr", v.cfg.WatchStore.Addr),
		slog.Int("watch_redis_db", v.cfg.WatchStore.DB))
}

func (v *vigil) initialize() error {
	var err error

	v.timebox, err = timebox.NewTimebox(timebox.Config{
		MaxRetries: timebox.DefaultMaxRetries,
		CacheSize:  v.cfg.WatchCacheSize,
		Workers:    true,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateTimebox, err)
	}

	v.watchStore, err = v.timebox.NewStore(v.cfg.WatchStore)
	if err != nil {
		_ = v.timebox.Close()
		return fmt.Errorf("%w: %w", ErrCreateWatchStore, err)
	}

	v.client = client.NewHTTPClient(v.cfg.EngineURL, v.cfg.RequestTimeout)

	if v.cfg.JournalAddr != "" {
		v.journal = watch.NewRedisJournal(
			v.cfg.JournalAddr,
			v.cfg.WatchStore.Password,
			v.cfg.WatchStore.DB,
		)
	} else {
		v.journal = watch.NopJournal{}
	}

	v.watcher = watch.New(
		v.watchStore, v.client, v.timebox.GetHub(), v.journal, v.cfg,
	)
	return nil
}

func (v *vigil) shutdown() {
	if v.watcher != nil {
		v.watcher.Shutdown()
	}
	if v.journal != nil {
		_ = v.journal.Close()
	}
	if v.timebox != nil {
		_ = v.timebox.Close()
	}
}

func (v *vigil) runFlow(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: run <flow-id> [key=value ...]", ErrUsage)
	}
	flowID := api.FlowID(args[0])

	inputs := map[string]any{}
	for _, arg := range args[1:] {
		if key, value, ok := strings.Cut(arg, "="); ok {
			inputs[key] = value
		}
	}

	id, err := v.watcher.Start(ctx, &api.StartExecutionRequest{
		FlowID: flowID,
		Inputs: inputs,
	})
	if err != nil {
		return err
	}

	slog.Info("Execution started",
		log.FlowID(flowID),
		log.ExecutionID(id))
	return v.follow(ctx, id)
}

func (v *vigil) resumeFlow(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: resume <flow-id>", ErrUsage)
	}

	id, err := v.watcher.ResumeLatest(ctx, api.FlowID(args[0]))
	if err != nil {
		return err
	}
	if id == "" {
		slog.Info("No in-flight execution to resume",
			log.FlowID(api.FlowID(args[0])))
		return nil
	}

	slog.Info("Resumed execution",
		log.ExecutionID(id))
	return v.follow(ctx, id)
}

func (v *vigil) watchExecution(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: watch <execution-id>", ErrUsage)
	}

	id := api.ExecutionID(args[0])
	if err := v.watcher.Connect(ctx, id, false); err != nil {
		return err
	}
	if v.watcher.IsFinished(id) {
		slog.Info("Execution already finished",
			log.ExecutionID(id))
		return nil
	}
	return v.follow(ctx, id)
}

func (v *vigil) cancelExecution(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: cancel <execution-id>", ErrUsage)
	}
	return v.client.CancelExecution(ctx, api.ExecutionID(args[0]))
}

func (v *vigil) approveStep(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: approve <execution-id> <step-id>", ErrUsage)
	}
	return v.client.SubmitApproval(ctx, api.ExecutionID(args[0]),
		&api.ApprovalDecisionRequest{
			StepID:   api.StepID(args[1]),
			Approved: true,
		},
	)
}

func (v *vigil) rejectStep(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf(
			"%w: reject <execution-id> <step-id> [reason]", ErrUsage,
		)
	}
	reason := ""
	if len(args) > 2 {
		reason = strings.Join(args[2:], " ")
	}
	return v.client.SubmitApproval(ctx, api.ExecutionID(args[0]),
		&api.ApprovalDecisionRequest{
			StepID: api.StepID(args[1]),
			Reason: reason,
		},
	)
}

func (v *vigil) listExecutions(ctx context.Context, args []string) error {
	flowID := api.FlowID("")
	if len(args) > 0 {
		flowID = api.FlowID(args[0])
	}

	digests, err := v.client.ListExecutions(ctx, flowID, 20)
	if err != nil {
		return err
	}
	for _, d := range digests {
		slog.Info("Execution",
			log.ExecutionID(d.ID),
			log.FlowID(d.FlowID),
			log.Status(d.Status),
			slog.Time("last_updated", d.LastUpdated))
	}
	return nil
}

func (v *vigil) exportExecution(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: export <execution-id>", ErrUsage)
	}
	if v.cfg.ExportBucketURL == "" {
		return errors.New("EXPORT_BUCKET_URL is not configured")
	}

	exporter, err := export.NewBlobExporter(
		ctx, v.cfg.ExportBucketURL, "transcripts/",
	)
	if err != nil {
		return err
	}
	defer func() { _ = exporter.Close() }()

	st, err := v.watcher.State(ctx, api.ExecutionID(args[0]))
	if err != nil {
		return err
	}
	if st.ExecutionID == "" {
		st.ExecutionID = api.ExecutionID(args[0])
	}
	if err := exporter.Export(ctx, st); err != nil {
		return err
	}

	slog.Info("Transcript exported",
		log.ExecutionID(st.ExecutionID))
	return nil
}

// checkFlow validates a flow definition file: structural validity, the
// cycles its feedback edges close, and any convergence expressions
func checkFlow(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: check <flow-file>", ErrUsage)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var flow api.Flow
	if err := json.Unmarshal(data, &flow); err != nil {
		return err
	}
	if err := flow.Validate(); err != nil {
		return err
	}

	evaluator := converge.NewEvaluator()
	for id, meta := range flow.EdgeMetadata {
		if !meta.IsFeedbackLoop {
			continue
		}
		source, target, _ := id.Split()
		ok, path := graph.WouldCreateFeedbackLoop(flow.Steps, source, target)
		if !ok {
			slog.Warn("Feedback edge closes no cycle",
				log.FlowID(flow.ID),
				log.EdgeID(id))
		} else {
			slog.Info("Feedback loop",
				log.FlowID(flow.ID),
				log.EdgeID(id),
				slog.Any("path", path))
		}
		if err := evaluator.Validate(meta.ConvergenceCriteria); err != nil {
			return fmt.Errorf("edge %s: %w", id, err)
		}
	}

	for _, loop := range graph.DetectAllFeedbackLoops(flow.Steps) {
		if _, ok := flow.EdgeMetadata[loop.Edge]; !ok {
			slog.Warn("Cycle without feedback metadata",
				log.FlowID(flow.ID),
				log.EdgeID(loop.Edge),
				slog.Any("path", loop.Path))
		}
	}

	slog.Info("Flow is valid",
		log.FlowID(flow.ID),
		slog.Int("steps", len(flow.Steps)),
		slog.Int("edges", len(flow.EdgeMetadata)))
	return nil
}

// follow streams projected events until the execution finishes or the
// process is interrupted, logging each state transition
func (v *vigil) follow(ctx context.Context, id api.ExecutionID) error {
	consumer := v.watcher.NewConsumer()
	defer consumer.Close()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Stopped watching",
				log.ExecutionID(id))
			return nil

		case ev, ok := <-consumer.Receive():
			if !ok {
				return nil
			}
			if !events.IsWatchEvent(ev) ||
				string(ev.AggregateID[1]) != string(id) {
				continue
			}
			logEvent(id, ev)

			et := api.EventType(ev.Type)
			if et.IsTerminal() {
				v.logOutcome(ctx, id)
				return nil
			}
		}
	}
}

func logEvent(id api.ExecutionID, ev *timebox.Event) {
	slog.Info("Event",
		log.ExecutionID(id),
		log.EventType(ev.Type),
		slog.Int64("sequence", ev.Sequence))
}

func (v *vigil) logOutcome(ctx context.Context, id api.ExecutionID) {
	st, err := v.watcher.State(ctx, id)
	if err != nil {
		slog.Error("Failed to load final state",
			log.ExecutionID(id),
			log.Error(err))
		return
	}

	if st.LastError != "" {
		slog.Error("Execution finished with error",
			log.ExecutionID(id),
			log.ErrorString(st.LastError))
		return
	}
	slog.Info("Execution finished",
		log.ExecutionID(id),
		slog.Int("completed_steps", st.Execution.CompletedSteps.Len()))
}
