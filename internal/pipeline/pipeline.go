// Package pipeline runs one batch end to end: stage the uploads into a
// fresh workspace, invoke the tool, resolve its output, record the outcome
// and hand the artifact back as a stream or a one-time download link.
//
// A batch runs synchronously on the caller's goroutine. Every failure path
// disposes of the workspace according to the retention policy.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AdamLaszab/zadanie-skuska/internal/artifact"
	"github.com/AdamLaszab/zadanie-skuska/internal/audit"
	"github.com/AdamLaszab/zadanie-skuska/internal/capability"
	"github.com/AdamLaszab/zadanie-skuska/internal/events"
	"github.com/AdamLaszab/zadanie-skuska/internal/invoke"
	"github.com/AdamLaszab/zadanie-skuska/internal/log"
	"github.com/AdamLaszab/zadanie-skuska/internal/metrics"
	"github.com/AdamLaszab/zadanie-skuska/internal/operation"
	"github.com/AdamLaszab/zadanie-skuska/internal/resolve"
	"github.com/AdamLaszab/zadanie-skuska/internal/tracing"
	"github.com/AdamLaszab/zadanie-skuska/internal/workspace"
)

// Delivery selects how the artifact reaches the caller.
type Delivery string

const (
	DeliveryStream Delivery = "stream"
	DeliveryLink   Delivery = "link"
)

// ParseDelivery accepts "stream" and "link". Empty selects fallback.
func ParseDelivery(raw string, fallback Delivery) (Delivery, error) {
	switch Delivery(raw) {
	case "":
		return fallback, nil
	case DeliveryStream, DeliveryLink:
		return Delivery(raw), nil
	}
	return "", &operation.ValidationError{Field: "delivery", Reason: fmt.Sprintf("must be %q or %q", DeliveryStream, DeliveryLink)}
}

// Resolver locates the tool's output.
type Resolver interface {
	Resolve(workspace, hint, stdout, displayName string) (resolve.Artifact, error)
}

// Issuer mints download capabilities.
type Issuer interface {
	Issue(ctx context.Context, art resolve.Artifact, session, workspaceID string) (capability.Capability, error)
}

// Recorder writes audit entries.
type Recorder interface {
	Record(ctx context.Context, ev audit.Event) audit.Entry
}

// Opener opens artifact bytes for streaming.
type Opener interface {
	Open(ctx context.Context, namespace, relPath string) (*artifact.Object, error)
}

// Request is one batch submission.
type Request struct {
	Operation  operation.Operation
	Uploads    []workspace.Upload
	OutputName string
	Delivery   Delivery
	// Session binds a link to the caller. Required for DeliveryLink.
	Session string
	ActorID *string
	Client  audit.RequestInfo
}

// Outcome is a successful batch. Exactly one of Stream and Capability is
// set, matching the requested delivery.
type Outcome struct {
	BatchID    string
	Artifact   resolve.Artifact
	Stream     *Stream
	Capability *capability.Capability
	// Stderr is whatever the tool printed on a zero exit.
	Stderr   string
	Duration time.Duration
}

// Options configures a Pipeline.
type Options struct {
	Workspaces workspace.Manager
	Invoker    invoke.Invoker
	Resolver   Resolver
	Issuer     Issuer
	Opener     Opener
	Audit      Recorder
	Events     events.Publisher
	// RetainFailed keeps failed workspaces for inspection. Zero removes them
	// immediately.
	RetainFailed time.Duration
}

// Pipeline is the generic batch runner shared by every operation.
type Pipeline struct {
	opts   Options
	tracer trace.Tracer
	logger *slog.Logger
	now    func() time.Time
}

func New(opts Options) (*Pipeline, error) {
	switch {
	case opts.Workspaces == nil:
		return nil, errors.New("pipeline: workspace manager is required")
	case opts.Invoker == nil:
		return nil, errors.New("pipeline: invoker is required")
	case opts.Resolver == nil:
		return nil, errors.New("pipeline: resolver is required")
	case opts.Issuer == nil:
		return nil, errors.New("pipeline: issuer is required")
	case opts.Opener == nil:
		return nil, errors.New("pipeline: opener is required")
	case opts.Audit == nil:
		return nil, errors.New("pipeline: audit recorder is required")
	}
	if opts.Events == nil {
		opts.Events = events.Discard{}
	}
	return &Pipeline{
		opts:   opts,
		tracer: tracing.Tracer("pipeline"),
		logger: log.WithComponent("pipeline"),
		now:    time.Now,
	}, nil
}

// Run executes req. Validation problems surface as
// *operation.ValidationError before any workspace exists; later failures
// carry the typed error of the stage that failed.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Outcome, error) {
	if req.Operation == nil {
		return nil, &operation.ValidationError{Field: "operation", Reason: "is required"}
	}
	op := req.Operation
	opName := op.Name()

	if err := operation.CheckInputs(op, len(req.Uploads)); err != nil {
		return nil, err
	}
	displayName, err := operation.DisplayName(op, req.OutputName)
	if err != nil {
		return nil, err
	}
	if req.Delivery == "" {
		req.Delivery = DeliveryStream
	}
	if req.Delivery == DeliveryLink && req.Session == "" {
		return nil, &operation.ValidationError{Field: "delivery", Reason: "link delivery needs a session"}
	}

	metrics.BatchesInFlight.Inc()
	defer metrics.BatchesInFlight.Dec()

	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("pdf.operation", string(opName)),
		attribute.Int("pdf.inputs", len(req.Uploads)),
		attribute.String("pdf.delivery", string(req.Delivery)),
	))
	defer span.End()

	start := p.now()
	ws, err := p.opts.Workspaces.Create(ctx)
	if err != nil {
		p.recordFailure(ctx, req, "", err, start)
		return nil, err
	}
	span.SetAttributes(attribute.String("pdf.batch_id", ws.ID))
	logger := log.WithOperation(ws.ID, string(opName))

	p.opts.Events.Publish(events.TypeBatchStarted, events.BatchStarted{
		BatchID:   ws.ID,
		Operation: string(opName),
		Inputs:    len(req.Uploads),
		Channel:   string(req.Client.Channel()),
	})
	logger.Info("batch started", "inputs", len(req.Uploads), "delivery", req.Delivery)

	out, err := p.execute(ctx, ws, req, displayName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.dispose(ws, logger)
		p.recordFailure(ctx, req, ws.ID, err, start)
		return nil, err
	}

	out.Duration = p.now().Sub(start)
	p.recordSuccess(ctx, req, out, displayName)
	logger.Info("batch succeeded", "artifact", out.Artifact.DisplayName, "size", out.Artifact.Size, "duration", out.Duration)
	return out, nil
}

func (p *Pipeline) execute(ctx context.Context, ws *workspace.Workspace, req Request, displayName string) (*Outcome, error) {
	op := req.Operation

	stageCtx, stageSpan := p.tracer.Start(ctx, "pipeline.stage")
	for _, up := range req.Uploads {
		if _, err := p.opts.Workspaces.Stage(stageCtx, ws, up); err != nil {
			endSpan(stageSpan, err)
			return nil, err
		}
	}
	hint, err := p.opts.Workspaces.PlanOutput(ws, operation.OutputExt(op))
	if err != nil {
		err = &workspace.StagingError{WorkspaceID: ws.ID, Err: err}
		endSpan(stageSpan, err)
		return nil, err
	}
	endSpan(stageSpan, nil)

	if err := ws.Transition(workspace.StatusInvoked); err != nil {
		return nil, err
	}
	invokeCtx, invokeSpan := p.tracer.Start(ctx, "pipeline.invoke")
	res, err := p.opts.Invoker.Invoke(invokeCtx, invoke.Invocation{
		BatchID:   ws.ID,
		Operation: op,
		Inputs:    ws.InputPaths(),
		Output:    hint,
	})
	if res.Duration > 0 {
		metrics.InvocationDurationSeconds.WithLabelValues(string(op.Name())).Observe(res.Duration.Seconds())
	}
	endSpan(invokeSpan, err)
	if err != nil {
		return nil, err
	}

	_, resolveSpan := p.tracer.Start(ctx, "pipeline.resolve")
	art, err := p.opts.Resolver.Resolve(ws.Root, hint, res.Stdout, displayName)
	endSpan(resolveSpan, err)
	if err != nil {
		return nil, err
	}
	if err := ws.Transition(workspace.StatusResolved); err != nil {
		return nil, err
	}

	out := &Outcome{BatchID: ws.ID, Artifact: art, Stderr: res.Stderr}

	switch req.Delivery {
	case DeliveryLink:
		issueCtx, issueSpan := p.tracer.Start(ctx, "pipeline.issue")
		c, err := p.opts.Issuer.Issue(issueCtx, art, req.Session, ws.ID)
		endSpan(issueSpan, err)
		if err != nil {
			return nil, fmt.Errorf("issue download capability: %w", err)
		}
		out.Capability = &c
	default:
		obj, err := p.opts.Opener.Open(ctx, art.Namespace, art.RelativePath)
		if err != nil {
			return nil, &resolve.OutputMissingError{Hint: hint, Reported: art.RelativePath}
		}
		out.Stream = &Stream{
			Object: obj,
			release: func() {
				if err := p.opts.Workspaces.Cleanup(context.Background(), ws); err != nil {
					p.logger.Error("workspace cleanup after stream failed", "batch_id", ws.ID, "error", err)
				}
			},
		}
	}
	return out, nil
}

// dispose removes or retains a failed workspace. It runs detached from the
// request context so a canceled client cannot leak scratch data.
func (p *Pipeline) dispose(ws *workspace.Workspace, logger *slog.Logger) {
	ctx := context.Background()
	if p.opts.RetainFailed > 0 {
		if err := p.opts.Workspaces.Retain(ctx, ws); err != nil {
			logger.Error("retaining failed workspace", "error", err)
			_ = p.opts.Workspaces.Cleanup(ctx, ws)
			return
		}
		logger.Info("failed workspace retained", "path", ws.Root, "for", p.opts.RetainFailed)
		return
	}
	if err := p.opts.Workspaces.Cleanup(ctx, ws); err != nil {
		logger.Error("workspace cleanup failed", "error", err)
	}
}

func (p *Pipeline) recordSuccess(ctx context.Context, req Request, out *Outcome, displayName string) {
	opName := req.Operation.Name()
	metrics.BatchesTotal.WithLabelValues(string(opName), "success").Inc()

	p.opts.Audit.Record(ctx, audit.Event{
		Action:  string(opName) + "_success",
		Detail:  fmt.Sprintf("%s: %s", successPhrase(opName), displayName),
		ActorID: req.ActorID,
		Request: req.Client,
	})
	p.opts.Events.Publish(events.TypeBatchSucceeded, events.BatchFinished{
		BatchID:    out.BatchID,
		Operation:  string(opName),
		DurationMS: out.Duration.Milliseconds(),
		Artifact:   displayName,
		Size:       out.Artifact.Size,
		Delivery:   string(req.Delivery),
	})
}

func (p *Pipeline) recordFailure(ctx context.Context, req Request, batchID string, err error, start time.Time) {
	opName := req.Operation.Name()
	info := Classify(err)
	metrics.BatchesTotal.WithLabelValues(string(opName), info.Outcome).Inc()

	p.opts.Audit.Record(ctx, audit.Event{
		Action:  string(opName) + "_failed",
		Detail:  failureDetail(opName, err),
		ActorID: req.ActorID,
		Request: req.Client,
	})

	finished := events.BatchFinished{
		BatchID:    batchID,
		Operation:  string(opName),
		DurationMS: p.now().Sub(start).Milliseconds(),
		Error:      err.Error(),
		Code:       info.Code,
	}
	var execErr *invoke.ExecutionError
	if errors.As(err, &execErr) && execErr.Reason == invoke.ReasonExit {
		code := execErr.ExitCode
		finished.ExitCode = &code
	}
	p.opts.Events.Publish(events.TypeBatchFailed, finished)
	p.logger.Warn("batch failed", "batch_id", batchID, "operation", opName, "code", info.Code, "error", err)
}

func failureDetail(op operation.Name, err error) string {
	var execErr *invoke.ExecutionError
	if errors.As(err, &execErr) && execErr.Reason == invoke.ReasonExit {
		return fmt.Sprintf("Message: %s failed | Exit Code: %d | Error Output: %s", op, execErr.ExitCode, execErr.Stderr)
	}
	return fmt.Sprintf("Message: %s failed | Error: %v", op, err)
}

var successPhrases = map[operation.Name]string{
	operation.NameMerge:          "PDF files merged",
	operation.NameRotate:         "PDF pages rotated",
	operation.NameDeletePages:    "PDF pages deleted",
	operation.NameExtractPages:   "PDF pages extracted",
	operation.NameEncrypt:        "PDF file encrypted",
	operation.NameDecrypt:        "PDF file decrypted",
	operation.NameOverlay:        "PDF files overlaid",
	operation.NameExtractText:    "Text extracted from PDF",
	operation.NameReversePages:   "PDF pages reversed",
	operation.NameDuplicatePages: "PDF pages duplicated",
}

func successPhrase(op operation.Name) string {
	if s, ok := successPhrases[op]; ok {
		return s
	}
	return string(op) + " completed"
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Stream is an artifact opened for direct delivery. Closing it removes the
// workspace.
type Stream struct {
	*artifact.Object

	release  func()
	once     sync.Once
	closeErr error
}

var _ io.ReadSeekCloser = (*Stream)(nil)

// Close closes the artifact and releases the workspace. Later calls return
// the result of the first.
func (s *Stream) Close() error {
	s.once.Do(func() {
		s.closeErr = s.Object.Close()
		if s.release != nil {
			s.release()
		}
	})
	return s.closeErr
}
