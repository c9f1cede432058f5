package availability

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/serviya/platform/internal/nlp"
	"github.com/serviya/platform/internal/observability/metrics"
	"github.com/serviya/platform/internal/storage"
	"github.com/serviya/platform/pkg/logging"
)

const (
	DefaultTimeout      = 45 * time.Second
	MinTimeout          = 10 * time.Second
	DefaultAcceptGrace  = 2 * time.Second
	DefaultPollInterval = 1500 * time.Millisecond

	publishRetryPause = 500 * time.Millisecond
	listenerBackoff   = 3 * time.Second
	publishQueueSize  = 64
)

// Status vocabulary accepted on the response topic. Anything else is
// ignored.
var (
	acceptedStatuses = map[string]struct{}{
		"accepted": {}, "yes": {}, "si": {}, "1": {}, "disponible": {}, "available": {},
	}
	declinedStatuses = map[string]struct{}{
		"declined": {}, "no": {}, "0": {}, "not_available": {}, "ocupado": {},
	}
)

// Config tunes the coordinator. Zero values take the defaults above.
type Config struct {
	RequestTopic    string
	ResponseTopic   string
	Timeout         time.Duration
	AcceptGrace     time.Duration
	PollInterval    time.Duration
	PublishTimeout  time.Duration
	LogSamplingRate int
}

func (c *Config) applyDefaults() {
	if c.RequestTopic == "" {
		c.RequestTopic = "av-proveedores/solicitud"
	}
	if c.ResponseTopic == "" {
		c.ResponseTopic = "av-proveedores/respuesta"
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Timeout < MinTimeout {
		c.Timeout = MinTimeout
	}
	if c.AcceptGrace <= 0 {
		c.AcceptGrace = DefaultAcceptGrace
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.LogSamplingRate <= 0 {
		c.LogSamplingRate = 1
	}
}

// Request is one scatter/gather invocation.
type Request struct {
	Phone       string
	Service     string
	City        string
	NeedSummary string
	Providers   []storage.Provider
}

// GatherResult is what the caller gets back: the accepted providers mapped
// to the original records in candidate order, plus the raw state.
type GatherResult struct {
	Accepted []storage.Provider
	ReqID    string
	State    *State
}

// wireRequest is the JSON published on the request topic. Field names are
// part of the provider-agent contract.
type wireRequest struct {
	ReqID                string      `json:"req_id"`
	Servicio             string      `json:"servicio"`
	Ciudad               string      `json:"ciudad"`
	Candidatos           []Candidate `json:"candidatos"`
	TiempoEsperaSegundos int         `json:"tiempo_espera_segundos"`
}

// wireReply is the JSON received on the response topic. Estado and Status
// are interchangeable.
type wireReply struct {
	ReqID         string `json:"req_id"`
	ProviderID    string `json:"provider_id"`
	ProviderPhone string `json:"provider_phone"`
	Estado        string `json:"estado"`
	Status        string `json:"status"`
}

type publishJob struct {
	reqID    string
	payload  []byte
	deadline time.Time
	attempts int
}

// Coordinator runs the availability protocol. One instance per process: its
// listener and publisher are singleton goroutines, started lazily on the
// first request and stopped only at shutdown.
type Coordinator struct {
	cfg       Config
	transport Transport
	states    *StateStore
	logger    *logging.Logger
	metrics   *metrics.BrokerMetrics

	queue     chan publishJob
	baseCtx   context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
}

func NewCoordinator(cfg Config, transport Transport, states *StateStore, logger *logging.Logger, m *metrics.BrokerMetrics) *Coordinator {
	cfg.applyDefaults()
	if logger == nil {
		logger = logging.Default()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:       cfg,
		transport: transport,
		states:    states,
		logger:    logger,
		metrics:   m,
		queue:     make(chan publishJob, publishQueueSize),
		baseCtx:   baseCtx,
		cancel:    cancel,
	}
}

// Shutdown stops the listener and publisher goroutines.
func (c *Coordinator) Shutdown() {
	c.cancel()
}

// ensureStarted lazily launches the singleton listener and publisher.
func (c *Coordinator) ensureStarted() {
	c.startOnce.Do(func() {
		go c.runListener()
		go c.runPublisher()
	})
}

// Pending is a published request whose gather has not closed yet.
type Pending struct {
	ReqID     string
	Deadline  time.Time
	Originals []storage.Provider
	start     time.Time
	verbose   bool
}

// Start normalizes the candidate set, writes the gather record and
// publishes the request. The returned Pending feeds Await.
func (c *Coordinator) Start(ctx context.Context, req Request) (*Pending, error) {
	candidates, originals := normalizeCandidates(req.Providers)
	reqID := newReqID()
	verbose := c.sampled(reqID)
	start := time.Now()
	deadline := start.Add(c.cfg.Timeout)

	state := &State{
		ReqID:     reqID,
		Phone:     req.Phone,
		Service:   req.Service,
		City:      req.City,
		CreatedAt: start.UTC(),
		Deadline:  deadline.UTC(),
		Providers: candidates,
		Accepted:  []Reply{},
		Declined:  []Reply{},
	}
	if err := c.states.Put(ctx, state); err != nil {
		c.metrics.ObserveAvailabilityRequest("state_error", 0)
		return nil, err
	}

	pending := &Pending{
		ReqID:     reqID,
		Deadline:  deadline,
		Originals: originals,
		start:     start,
		verbose:   verbose,
	}
	if len(candidates) == 0 {
		return pending, nil
	}

	service := req.NeedSummary
	if service == "" {
		service = req.Service
	}
	payload, err := json.Marshal(wireRequest{
		ReqID:                reqID,
		Servicio:             service,
		Ciudad:               req.City,
		Candidatos:           candidates,
		TiempoEsperaSegundos: int(c.cfg.Timeout.Seconds()),
	})
	if err != nil {
		c.metrics.ObserveAvailabilityRequest("encode_error", 0)
		return nil, err
	}

	c.ensureStarted()
	c.enqueue(publishJob{reqID: reqID, payload: payload, deadline: deadline})
	if verbose {
		c.logger.Info("availability request published",
			"req_id", reqID, "phone", req.Phone, "candidates", len(candidates))
	}
	return pending, nil
}

// Await gathers replies for a started request until its deadline, shortened
// by the first-accept grace window. Cancelling ctx abandons the wait but
// not the in-flight request: late replies keep landing in the state record.
func (c *Coordinator) Await(ctx context.Context, pending *Pending) (*GatherResult, error) {
	if len(pending.Originals) == 0 {
		c.metrics.ObserveAvailabilityRequest("no_candidates", 0)
		state, _ := c.states.Get(ctx, pending.ReqID)
		return &GatherResult{Accepted: []storage.Provider{}, ReqID: pending.ReqID, State: state}, nil
	}

	final, outcome := c.gather(ctx, pending.ReqID, pending.Deadline, pending.verbose)
	accepted := []storage.Provider{}
	if final != nil {
		accepted = FilterProvidersByReplies(pending.Originals, final.Accepted)
	}
	c.metrics.ObserveAvailabilityRequest(outcome, time.Since(pending.start).Seconds())
	if pending.verbose && final != nil {
		c.logger.Info("availability gather closed",
			"req_id", pending.ReqID, "outcome", outcome,
			"accepted", len(final.Accepted), "declined", len(final.Declined),
			"elapsed", time.Since(pending.start).String())
	}
	return &GatherResult{Accepted: accepted, ReqID: pending.ReqID, State: final}, nil
}

// RequestAndWait runs Start and Await in one call.
func (c *Coordinator) RequestAndWait(ctx context.Context, req Request) (*GatherResult, error) {
	pending, err := c.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.Await(ctx, pending)
}

// gather polls the state record until the deadline, shortening it to the
// grace window after the first accept.
func (c *Coordinator) gather(ctx context.Context, reqID string, deadline time.Time, verbose bool) (*State, string) {
	var graceDeadline time.Time
	outcome := "timeout"

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			state, _ := c.states.Get(context.Background(), reqID)
			return state, "cancelled"
		case now := <-ticker.C:
			state, err := c.states.Get(ctx, reqID)
			if err != nil {
				continue
			}
			if state != nil && len(state.Accepted) > 0 && graceDeadline.IsZero() {
				graceDeadline = now.Add(c.cfg.AcceptGrace)
				if graceDeadline.After(deadline) {
					graceDeadline = deadline
				}
				if verbose {
					c.logger.Info("first accept observed, closing soon",
						"req_id", reqID, "grace", c.cfg.AcceptGrace.String())
				}
			}
			if !graceDeadline.IsZero() && now.After(graceDeadline) {
				outcome = "accepted"
				return state, outcome
			}
			if now.After(deadline) {
				if state != nil && len(state.Accepted) > 0 {
					outcome = "accepted"
				}
				return state, outcome
			}
		}
	}
}

func (c *Coordinator) enqueue(job publishJob) {
	select {
	case c.queue <- job:
	default:
		// Queue saturated under sustained broker outage; the job is dropped
		// rather than blocking the caller, matching the deadline-capped
		// retry policy.
		c.logger.Warn("publish queue full, dropping request", "req_id", job.reqID)
		c.metrics.ObserveAvailabilityRequest("publish_dropped", 0)
	}
}

// runPublisher consumes the in-process queue. A failed publish gets one
// immediate retry, then re-enqueues after a short pause until the request's
// own deadline passes.
func (c *Coordinator) runPublisher() {
	for {
		select {
		case <-c.baseCtx.Done():
			return
		case job := <-c.queue:
			c.publishWithRetry(job)
		}
	}
}

func (c *Coordinator) publishWithRetry(job publishJob) {
	if time.Now().After(job.deadline) {
		c.logger.Warn("dropping stale availability request", "req_id", job.reqID, "attempts", job.attempts)
		return
	}

	err := c.publishOnce(job.payload)
	if err == nil {
		return
	}
	// One immediate retry before backing off.
	if retryErr := c.publishOnce(job.payload); retryErr == nil {
		return
	}

	c.logger.Warn("availability publish failed, re-enqueueing",
		"req_id", job.reqID, "attempts", job.attempts+1, "error", err)
	job.attempts++

	go func() {
		select {
		case <-c.baseCtx.Done():
		case <-time.After(publishRetryPause):
			c.enqueue(job)
		}
	}()
}

func (c *Coordinator) publishOnce(payload []byte) error {
	ctx, cancel := context.WithTimeout(c.baseCtx, c.cfg.PublishTimeout)
	defer cancel()
	return c.transport.Publish(ctx, c.cfg.RequestTopic, payload)
}

// runListener keeps the response subscription alive for the process
// lifetime, retrying broker errors with a fixed backoff.
func (c *Coordinator) runListener() {
	for {
		err := c.transport.Subscribe(c.cfg.ResponseTopic, c.handleReply)
		if err == nil {
			<-c.baseCtx.Done()
			return
		}
		c.logger.Warn("availability listener subscribe failed, retrying", "error", err)
		select {
		case <-c.baseCtx.Done():
			return
		case <-time.After(listenerBackoff):
		}
	}
}

// handleReply parses one response payload and appends it to the matching
// state record. Unknown req_ids and unknown statuses are dropped silently.
func (c *Coordinator) handleReply(payload []byte) {
	var reply wireReply
	if err := json.Unmarshal(payload, &reply); err != nil {
		c.logger.Debug("availability reply unparseable", "error", err)
		return
	}
	if reply.ReqID == "" {
		return
	}

	status := strings.ToLower(strings.TrimSpace(reply.Estado))
	if status == "" {
		status = strings.ToLower(strings.TrimSpace(reply.Status))
	}
	_, isAccepted := acceptedStatuses[status]
	_, isDeclined := declinedStatuses[status]
	if !isAccepted && !isDeclined {
		return
	}

	ctx, cancel := context.WithTimeout(c.baseCtx, 5*time.Second)
	defer cancel()
	appended, err := c.states.AppendReply(ctx, reply.ReqID, Reply{
		ProviderID:    reply.ProviderID,
		ProviderPhone: reply.ProviderPhone,
		Status:        status,
		ReceivedAt:    time.Now().UTC(),
	}, isAccepted)
	if err != nil {
		c.logger.Warn("availability reply append failed", "req_id", reply.ReqID, "error", err)
		return
	}
	if appended {
		label := "declined"
		if isAccepted {
			label = "accepted"
		}
		c.metrics.ObserveAvailabilityResponse(label)
	}
}

func (c *Coordinator) sampled(reqID string) bool {
	if c.cfg.LogSamplingRate <= 1 {
		return true
	}
	h := fnv.New32a()
	h.Write([]byte(reqID))
	return h.Sum32()%uint32(c.cfg.LogSamplingRate) == 0
}

// normalizeCandidates dedupes the candidate set by id and normalized phone
// and drops entries carrying neither. originals keeps the surviving
// storage records in order for the final mapping.
func normalizeCandidates(providers []storage.Provider) ([]Candidate, []storage.Provider) {
	seenID := make(map[string]struct{}, len(providers))
	seenPhone := make(map[string]struct{}, len(providers))
	candidates := make([]Candidate, 0, len(providers))
	originals := make([]storage.Provider, 0, len(providers))

	for _, p := range providers {
		id := strings.TrimSpace(p.ID)
		phone := nlp.NormalizePhone(p.Phone)
		if id == "" && phone == "" {
			continue
		}
		if id != "" {
			if _, dup := seenID[id]; dup {
				continue
			}
		}
		if phone != "" {
			if _, dup := seenPhone[phone]; dup {
				continue
			}
		}
		if id != "" {
			seenID[id] = struct{}{}
		}
		if phone != "" {
			seenPhone[phone] = struct{}{}
		}
		candidates = append(candidates, Candidate{ID: id, Phone: p.Phone, Name: p.Name})
		originals = append(originals, p)
	}
	return candidates, originals
}

// FilterProvidersByReplies maps accepted replies back onto the original
// provider records, by id first and normalized phone second, preserving the
// candidate order. Reply arrival order is never trusted.
func FilterProvidersByReplies(providers []storage.Provider, accepted []Reply) []storage.Provider {
	if len(accepted) == 0 {
		return []storage.Provider{}
	}

	acceptedIDs := make(map[string]struct{}, len(accepted))
	acceptedPhones := make(map[string]struct{}, len(accepted))
	for _, r := range accepted {
		if id := strings.TrimSpace(r.ProviderID); id != "" {
			acceptedIDs[id] = struct{}{}
		}
		if phone := nlp.NormalizePhone(r.ProviderPhone); phone != "" {
			acceptedPhones[phone] = struct{}{}
		}
	}

	out := make([]storage.Provider, 0, len(accepted))
	for _, p := range providers {
		if _, ok := acceptedIDs[p.ID]; ok {
			out = append(out, p)
			continue
		}
		if phone := nlp.NormalizePhone(p.Phone); phone != "" {
			if _, ok := acceptedPhones[phone]; ok {
				out = append(out, p)
			}
		}
	}
	return out
}

func newReqID() string {
	return "req-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
