// Package chat implements the gateway dispatcher: the per-request state
// machine that stitches retrieval, prompt composition, provider dispatch and
// response re-serialization together.
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"raggate-api/internal/config"
	"raggate-api/internal/ctx"
	"raggate-api/internal/database"
	"raggate-api/internal/metrics"
	"raggate-api/internal/prompt"
	"raggate-api/internal/providers"
	"raggate-api/internal/retrieval"
	"raggate-api/internal/shared"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// state names for the per-request lifecycle. Every request walks
// received → retrieving → composing → dispatching → streaming|completed →
// done, with errored reachable from any state.
type state string

const (
	stateReceived    state = "RECEIVED"
	stateRetrieving  state = "RETRIEVING"
	stateComposing   state = "COMPOSING"
	stateDispatching state = "DISPATCHING"
	stateStreaming   state = "STREAMING"
	stateCompleted   state = "COMPLETED"
	stateDone        state = "DONE"
	stateErrored     state = "ERRORED"
)

const degradedHeader = "X-Retrieval-Degraded"

// Dispatcher orchestrates one chat-completion request end to end. All fields
// are read-only after construction; per-request state lives on the stack.
type Dispatcher struct {
	cfg       *config.Config
	registry  *providers.Registry
	retriever *retrieval.Retriever
	composer  *prompt.Composer
	history   *database.History
	log       *zap.SugaredLogger
}

func NewDispatcher(cfg *config.Config, registry *providers.Registry, retriever *retrieval.Retriever,
	composer *prompt.Composer, history *database.History, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		registry:  registry,
		retriever: retriever,
		composer:  composer,
		history:   history,
		log:       log,
	}
}

type request struct {
	c        *ctx.Context
	body     *shared.ChatRequest
	state    state
	start    time.Time
	degraded bool
	provider string
}

func (r *request) transition(to state) {
	r.c.Log.Debugw("state transition", "from", string(r.state), "to", string(to))
	r.state = to
}

// Handle serves POST /v1/chat/completions.
func (d *Dispatcher) Handle(cc echo.Context) error {
	c := cc.(*ctx.Context)
	req := &request{c: c, state: stateReceived, start: time.Now()}

	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return d.fail(req, fmt.Errorf("%w: %w", shared.ErrInvalidRequest, err))
	}
	var body shared.ChatRequest
	if err := json.Unmarshal(raw, &body); err != nil {
		return d.fail(req, fmt.Errorf("%w: %w", shared.ErrInvalidRequest, err))
	}
	if body.Model == "" || len(body.Messages) == 0 {
		return d.fail(req, fmt.Errorf("%w: model and messages are required", shared.ErrInvalidRequest))
	}
	req.body = &body
	c.Log = c.Log.With("model", body.Model, "stream", body.Stream)

	aug, err := d.augment(req)
	if err != nil {
		return d.fail(req, err)
	}

	req.transition(stateDispatching)
	adapter, err := d.registry.Resolve(body.Model)
	if err != nil {
		return d.fail(req, err)
	}
	req.provider = adapter.Name()
	c.Log = c.Log.With("provider", adapter.Name())

	payload, err := adapter.TranslateRequest(aug)
	if err != nil {
		return d.fail(req, err)
	}

	if req.degraded {
		c.Response().Header().Set(degradedHeader, "true")
	}

	res, err := adapter.Send(c.Request().Context(), payload, body.Stream)
	if err != nil {
		return d.fail(req, err)
	}

	if body.Stream {
		return d.streamResponse(req, adapter, res)
	}
	return d.completeResponse(req, adapter, res)
}

// augment runs RECEIVED → RETRIEVING → COMPOSING. Requests that opt out of
// augmentation jump straight to dispatch with the original body unmodified.
func (d *Dispatcher) augment(req *request) (*prompt.AugmentedRequest, error) {
	if req.body.NoRAG {
		req.c.Log.Debugw("augmentation disabled by request")
		return &prompt.AugmentedRequest{ChatRequest: *req.body}, nil
	}

	req.transition(stateRetrieving)
	chunks, err := d.retriever.Retrieve(
		req.c.Request().Context(),
		req.body.UserQuery(),
		d.cfg.Retrieval.TopK,
		d.cfg.Retrieval.MinScore,
	)
	if err != nil {
		if !errors.Is(err, shared.ErrRetrievalUnavailable) {
			return nil, err
		}
		if d.cfg.Retrieval.Policy == config.PolicyAbort {
			return nil, err
		}
		// Degrade: continue to composition with zero chunks. The decision
		// stays observable in response metadata and metrics.
		req.degraded = true
		chunks = nil
		metrics.RetrievalDegraded.Inc()
		req.c.Log.Warnw("knowledge store unreachable, degrading to unaugmented inference", "error", err)
	}

	req.transition(stateComposing)
	aug := d.composer.Compose(req.body, chunks, d.cfg.Retrieval.ContextBudget)
	if dropped := len(chunks) - aug.InjectedChunks; dropped > 0 {
		metrics.DroppedChunks.Add(float64(dropped))
		req.c.Log.Debugw("dropped chunks to fit context budget", "dropped", dropped, "kept", aug.InjectedChunks)
	}
	return aug, nil
}

// completeResponse handles the non-streaming path.
func (d *Dispatcher) completeResponse(req *request, adapter providers.Adapter, res *http.Response) error {
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return d.fail(req, fmt.Errorf("%w: reading response: %w", shared.ErrProviderUnavailable, err))
	}
	completion, err := adapter.TranslateResponse(raw)
	if err != nil {
		return d.fail(req, err)
	}
	completion.RetrievalDegraded = req.degraded

	req.transition(stateCompleted)
	total := time.Since(req.start)
	metrics.RequestDuration.WithLabelValues(req.body.Model, req.provider).Observe(total.Seconds())
	metrics.TimeToFirstToken.WithLabelValues(req.body.Model, req.provider).Observe(total.Seconds())

	rec := database.QueryRecord{
		RequestID:        req.c.Reqid,
		Model:            req.body.Model,
		Provider:         req.provider,
		TimeToFirstToken: total,
		TotalTime:        total,
		Degraded:         req.degraded,
	}
	if completion.Usage != nil {
		rec.PromptTokens = completion.Usage.PromptTokens
		rec.CompletionTokens = completion.Usage.CompletionTokens
	}
	d.history.Record(rec)

	req.transition(stateDone)
	return req.c.JSON(http.StatusOK, completion)
}

// streamResponse forwards each delta to the client as soon as it is
// produced, one SSE event per delta with no further buffering. Client
// disconnects cancel the backend read; backend failures mid-stream emit an
// explicit error event so a partial stream is never silently truncated.
func (d *Dispatcher) streamResponse(req *request, adapter providers.Adapter, res *http.Response) error {
	req.transition(stateStreaming)
	stream := providers.OpenStream(res, adapter)
	defer func() { _ = stream.Close() }()

	c := req.c
	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	var ttft time.Duration
	deltas := 0
	for {
		if c.Request().Context().Err() != nil {
			c.Log.Warnw("client disconnected during streaming, cancelling backend read", "deltas_forwarded", deltas)
			d.record(req, ttft, 0, true)
			return nil
		}

		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// The stream is aborted but the client gets told why: one
			// explicit error event, then no [DONE].
			rerr := shared.AsRequestError(err)
			metrics.ErrorCount.WithLabelValues(req.body.Model, req.provider, rerr.Condition).Inc()
			c.Log.Errorw("stream aborted", "condition", rerr.Condition, "error", err, "deltas_forwarded", deltas)
			d.writeEvent(c, shared.OpenAIError{
				Message: rerr.Err.Error(),
				Object:  "error",
				Type:    rerr.Condition,
				Code:    rerr.StatusCode,
			})
			req.transition(stateErrored)
			d.record(req, ttft, deltas, false)
			return nil
		}

		if deltas == 0 {
			ttft = time.Since(req.start)
			metrics.TimeToFirstToken.WithLabelValues(req.body.Model, req.provider).Observe(ttft.Seconds())
			c.Log.Infow("first token received", "ttft_ms", ttft.Milliseconds())
		}
		deltas++
		if err := d.writeEvent(c, chunk); err != nil {
			c.Log.Warnw("client write failed during streaming", "error", err)
			d.record(req, ttft, deltas, true)
			return nil
		}
	}

	_, _ = fmt.Fprint(c.Response(), "data: [DONE]\n\n")
	c.Response().Flush()

	req.transition(stateCompleted)
	metrics.RequestDuration.WithLabelValues(req.body.Model, req.provider).Observe(time.Since(req.start).Seconds())
	d.record(req, ttft, deltas, false)
	req.transition(stateDone)
	return nil
}

func (d *Dispatcher) writeEvent(c *ctx.Context, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", encoded); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}

func (d *Dispatcher) record(req *request, ttft time.Duration, deltas int, canceled bool) {
	d.history.Record(database.QueryRecord{
		RequestID:        req.c.Reqid,
		Model:            req.body.Model,
		Provider:         req.provider,
		CompletionTokens: deltas,
		TimeToFirstToken: ttft,
		TotalTime:        time.Since(req.start),
		Degraded:         req.degraded,
		Canceled:         canceled,
	})
}

// fail transitions to ERRORED and writes the normalized error payload.
func (d *Dispatcher) fail(req *request, err error) error {
	req.transition(stateErrored)
	rerr := shared.AsRequestError(err)

	model, provider := "", req.provider
	if req.body != nil {
		model = req.body.Model
	}
	metrics.ErrorCount.WithLabelValues(model, provider, rerr.Condition).Inc()
	req.c.Log.Errorw("request failed", "condition", rerr.Condition, "status", rerr.StatusCode, "error", err)

	return req.c.JSON(rerr.StatusCode, shared.OpenAIError{
		Message: rerr.Err.Error(),
		Object:  "error",
		Type:    rerr.Condition,
		Code:    rerr.StatusCode,
	})
}
