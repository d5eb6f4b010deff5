package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/caseview/internal/config"
	"github.com/pitabwire/caseview/internal/observability"
	"github.com/pitabwire/caseview/internal/openapi"
	"github.com/pitabwire/caseview/model"
)

// maxResponseBytes caps how much of an upstream response is read.
const maxResponseBytes = 10 << 20

// serviceClient holds the HTTP client and circuit breaker for one upstream
// service.
type serviceClient struct {
	id      string
	cfg     config.ServiceConfig
	client  *http.Client
	breaker *CircuitBreaker
}

// HTTPOption configures an HTTPSearchInvoker.
type HTTPOption func(*HTTPSearchInvoker)

// WithMetrics records upstream request and breaker metrics.
func WithMetrics(m *observability.Metrics) HTTPOption {
	return func(inv *HTTPSearchInvoker) { inv.metrics = m }
}

// WithHTTPLogger sets the logger for upstream failures.
func WithHTTPLogger(l *zap.Logger) HTTPOption {
	return func(inv *HTTPSearchInvoker) { inv.logger = l }
}

// WithTransport replaces the HTTP transport shared by all service clients.
func WithTransport(rt http.RoundTripper) HTTPOption {
	return func(inv *HTTPSearchInvoker) { inv.transport = rt }
}

// WithBreakerOptions passes options to every service's circuit breaker.
func WithBreakerOptions(opts ...BreakerOption) HTTPOption {
	return func(inv *HTTPSearchInvoker) { inv.breakerOpts = append(inv.breakerOpts, opts...) }
}

// HTTPSearchInvoker posts search requests to upstream services. The endpoint
// comes from the OpenAPI index when the operation is indexed, otherwise from
// the service's configured search paths. Calls are never retried.
type HTTPSearchInvoker struct {
	index       *openapi.Index
	clients     map[string]*serviceClient
	metrics     *observability.Metrics
	logger      *zap.Logger
	transport   http.RoundTripper
	breakerOpts []BreakerOption
}

// NewHTTPSearchInvoker creates an invoker with one client and breaker per
// configured service. idx may be nil.
func NewHTTPSearchInvoker(idx *openapi.Index, services map[string]config.ServiceConfig, opts ...HTTPOption) *HTTPSearchInvoker {
	inv := &HTTPSearchInvoker{
		index:   idx,
		clients: make(map[string]*serviceClient, len(services)),
		logger:  zap.NewNop(),
		transport: &http.Transport{
			MaxIdleConns:        100,
			MaxConnsPerHost:     50,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(inv)
	}

	for id, svcCfg := range services {
		timeout := svcCfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		breakerOpts := append([]BreakerOption{}, inv.breakerOpts...)
		if inv.metrics != nil {
			m, serviceID := inv.metrics, id
			m.SetBackendCircuitBreakerState(serviceID, BreakerClosed.GaugeValue())
			breakerOpts = append(breakerOpts, WithStateChange(func(s BreakerState) {
				m.SetBackendCircuitBreakerState(serviceID, s.GaugeValue())
			}))
		}
		inv.clients[id] = &serviceClient{
			id:      id,
			cfg:     svcCfg,
			client:  &http.Client{Timeout: timeout, Transport: inv.transport},
			breaker: NewCircuitBreaker(svcCfg.CircuitBreaker, breakerOpts...),
		}
	}
	return inv
}

// Supports returns true for http bindings.
func (inv *HTTPSearchInvoker) Supports(binding model.OperationBinding) bool {
	return binding.Type == model.BindingHTTP
}

// Breaker returns the circuit breaker guarding serviceID.
func (inv *HTTPSearchInvoker) Breaker(serviceID string) (*CircuitBreaker, bool) {
	svc, ok := inv.clients[serviceID]
	if !ok {
		return nil, false
	}
	return svc.breaker, true
}

// Search posts req to the bound operation and returns the upstream records.
func (inv *HTTPSearchInvoker) Search(
	ctx context.Context,
	rctx *model.RequestContext,
	binding model.OperationBinding,
	req model.SearchRequest,
) ([]model.Record, error) {
	// 1. Resolve the service and endpoint.
	svc, ok := inv.clients[binding.ServiceID]
	if !ok {
		return nil, model.NewInternalError().WithCause(
			fmt.Errorf("invoker: service %q not configured", binding.ServiceID))
	}
	method, endpoint, err := inv.resolve(svc, binding)
	if err != nil {
		return nil, model.NewInternalError().WithCause(err)
	}

	// 2. Encode and check the request body.
	body, err := json.Marshal(req)
	if err != nil {
		return nil, model.NewInternalError().WithCause(fmt.Errorf("invoker: marshal body: %w", err))
	}
	if err := inv.validate(binding, body); err != nil {
		return nil, model.NewInternalError().WithCause(err)
	}

	// 3. Consult the breaker.
	if err := svc.breaker.Allow(); err != nil {
		inv.logger.Warn("upstream search short-circuited",
			zap.String("service_id", svc.id),
			zap.String("operation_id", binding.OperationID),
		)
		return nil, model.NewBackendUnavailableError().WithCause(err)
	}

	// 4. Execute once.
	start := time.Now()
	status, records, err := inv.execute(ctx, svc, rctx, method, endpoint, body)
	if inv.metrics != nil {
		inv.metrics.RecordBackendRequest(svc.id, binding.OperationID, status, time.Since(start))
	}
	if err != nil {
		inv.logger.Warn("upstream search failed",
			zap.String("service_id", svc.id),
			zap.String("operation_id", binding.OperationID),
			zap.Int("status", status),
			zap.Error(err),
		)
		return nil, err
	}
	return records, nil
}

func (inv *HTTPSearchInvoker) resolve(svc *serviceClient, binding model.OperationBinding) (method, endpoint string, err error) {
	if inv.index != nil {
		if op, ok := inv.index.GetOperation(binding.ServiceID, binding.OperationID); ok {
			return strings.ToUpper(op.Method), op.URL(), nil
		}
	}
	path, ok := svc.cfg.SearchPaths[binding.OperationID]
	if !ok {
		return "", "", fmt.Errorf("invoker: operation %s/%s is neither indexed nor configured",
			binding.ServiceID, binding.OperationID)
	}
	return http.MethodPost, strings.TrimRight(svc.cfg.BaseURL, "/") + path, nil
}

func (inv *HTTPSearchInvoker) validate(binding model.OperationBinding, body []byte) error {
	if inv.index == nil {
		return nil
	}
	if _, ok := inv.index.GetOperation(binding.ServiceID, binding.OperationID); !ok {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return err
	}
	if errs := inv.index.ValidateRequest(binding.ServiceID, binding.OperationID, decoded); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.String()
		}
		return fmt.Errorf("invoker: request does not match %s/%s schema: %s",
			binding.ServiceID, binding.OperationID, strings.Join(msgs, "; "))
	}
	return nil
}

// execute performs the HTTP exchange and classifies the outcome. The
// returned status is 0 when no response was received.
func (inv *HTTPSearchInvoker) execute(
	ctx context.Context,
	svc *serviceClient,
	rctx *model.RequestContext,
	method, endpoint string,
	body []byte,
) (int, []model.Record, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		svc.breaker.RecordIgnored()
		return 0, nil, model.NewInternalError().WithCause(fmt.Errorf("invoker: build request: %w", err))
	}
	httpReq.Header = buildRequestHeaders(rctx)
	observability.InjectTraceHeaders(ctx, httpReq.Header)

	resp, err := svc.client.Do(httpReq)
	if err != nil {
		return 0, nil, classifyTransportError(ctx, svc.breaker, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return resp.StatusCode, nil, classifyTransportError(ctx, svc.breaker, err)
	}
	if len(raw) > maxResponseBytes {
		svc.breaker.RecordFailure()
		return resp.StatusCode, nil, model.NewBackendUnavailableError().WithCause(
			fmt.Errorf("invoker: response exceeds %d bytes", maxResponseBytes))
	}

	switch {
	case isServerError(resp.StatusCode):
		svc.breaker.RecordFailure()
		return resp.StatusCode, nil, model.NewBackendUnavailableError().WithCause(
			fmt.Errorf("invoker: upstream status %d", resp.StatusCode))
	case !isSuccess(resp.StatusCode):
		svc.breaker.RecordIgnored()
		return resp.StatusCode, nil, model.NewBackendUnavailableError().WithCause(
			fmt.Errorf("invoker: upstream status %d", resp.StatusCode))
	}

	var out model.SearchResponse
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		svc.breaker.RecordFailure()
		return resp.StatusCode, nil, model.NewBackendUnavailableError().WithCause(
			fmt.Errorf("invoker: decode response: %w", err))
	}
	svc.breaker.RecordSuccess()

	if !out.Success {
		return resp.StatusCode, nil, model.NewSearchRejectedError(out.Message)
	}
	if out.Data == nil {
		out.Data = []model.Record{}
	}
	return resp.StatusCode, out.Data, nil
}

// classifyTransportError maps a failed exchange onto the error taxonomy and
// reports it to the breaker. Caller cancellation is not an upstream fault.
func classifyTransportError(ctx context.Context, breaker *CircuitBreaker, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		breaker.RecordIgnored()
		return fmt.Errorf("invoker: request cancelled: %w", ctx.Err())
	}
	breaker.RecordFailure()
	if isTimeout(ctx, err) {
		return model.NewBackendTimeoutError().WithCause(err)
	}
	return model.NewBackendUnavailableError().WithCause(err)
}

// --- headers ---

func buildRequestHeaders(rctx *model.RequestContext) http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	h.Set("Content-Type", "application/json")
	if rctx != nil {
		if rctx.CorrelationID != "" {
			h.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
		}
		if rctx.Locale != "" {
			h.Set("Accept-Language", sanitizeHeader(rctx.Locale))
		}
	}
	return h
}

// sanitizeHeader strips CR and LF to prevent header injection.
func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

// --- classification helpers ---

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

func isServerError(code int) bool {
	return code >= 500
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
