package mil

import (
	"context"
	"math"
	"sort"

	"github.com/heavyforge/heavyforge/internal/clock"
	"github.com/heavyforge/heavyforge/internal/errs"
	"github.com/heavyforge/heavyforge/internal/mil/cache"
	"github.com/heavyforge/heavyforge/internal/mil/ratelimit"
)

// Limiter is the subset of ratelimit.Limiter the gateway depends on,
// narrowed to an interface so tests can substitute a no-op.
type Limiter interface {
	Admit(ctx context.Context, scope ratelimit.Scope, identifier string, estimatedCostUSD float64) (*ratelimit.Reservation, error)
	Settle(ctx context.Context, r *ratelimit.Reservation, actualCostUSD float64) error
	Release(ctx context.Context, r *ratelimit.Reservation) error
}

// Gateway is the Model Integration Layer's entry point: the sole path from
// agent code to an LLM vendor.
type Gateway struct {
	registry *Registry
	cache    *cache.Cache
	limiter  Limiter
	sink     UsageSink
	clock    clock.Clock

	// DefaultTargets maps logical roles (DEFAULT_MODEL, REASONING_MODEL, ...)
	// to a registered "provider/model-id". Used by callers that want a role
	// instead of running the routing algorithm.
	DefaultTargets map[string]string
}

// NewGateway builds a Gateway. cache and limiter may be nil to disable
// those stages (used in tests exercising routing in isolation).
func NewGateway(registry *Registry, c *cache.Cache, limiter Limiter, sink UsageSink) *Gateway {
	if sink == nil {
		sink = noopSink{}
	}
	return &Gateway{
		registry:       registry,
		cache:          c,
		limiter:        limiter,
		sink:           sink,
		clock:          clock.System,
		DefaultTargets: make(map[string]string),
	}
}

type noopSink struct{}

func (noopSink) Record(UsageRecord) {}

// ListModels returns every registered descriptor matching pred. A nil pred
// returns the full registry.
func (g *Gateway) ListModels(pred func(ModelDescriptor) bool) []ModelDescriptor {
	if pred == nil {
		return g.registry.Models()
	}
	return g.registry.Filter(pred)
}

// candidate pairs a descriptor with the scores computed against it.
type candidate struct {
	desc         ModelDescriptor
	estCost      float64
	estLatency   float64
}

// RecommendModel is a pure function over the registry and recent
// performance history: no side effects, no cache, no admission check.
func (g *Gateway) RecommendModel(reqs Requirements, policy RoutingPolicy) (string, error) {
	id, _, err := g.route(reqs, policy)
	return id, err
}

// route implements the five-step routing algorithm and returns the winning
// model id along with its descriptor.
func (g *Gateway) route(reqs Requirements, policy RoutingPolicy) (string, ModelDescriptor, error) {
	needed := reqs.EstimatedPromptTokens + reqs.MaxTokens

	pool := g.registry.Filter(func(d ModelDescriptor) bool {
		if !d.HasCapabilities(reqs.Capabilities) {
			return false
		}
		if d.ContextWindow > 0 && needed > d.ContextWindow {
			return false
		}
		return true
	})

	var cands []candidate
	for _, d := range pool {
		estCost := (float64(reqs.EstimatedPromptTokens)*d.InputCostPerMillion + float64(reqs.MaxTokens)*d.OutputCostPerMillion) / 1_000_000
		if policy.MaxCostPerRequest > 0 && estCost > policy.MaxCostPerRequest {
			continue
		}
		if policy.MaxLatencyMS > 0 && d.ObservedLatencyMS > policy.MaxLatencyMS {
			continue
		}
		cands = append(cands, candidate{desc: d, estCost: estCost, estLatency: d.ObservedLatencyMS})
	}

	if len(cands) == 0 {
		return "", ModelDescriptor{}, errs.New(errs.Capacity, "mil: no_eligible_model").WithUserMessage("No suitable model is currently available.")
	}

	wCost, wLatency, wQuality := policy.normalizedWeights()

	minCost, maxCost := cands[0].estCost, cands[0].estCost
	minLat, maxLat := cands[0].estLatency, cands[0].estLatency
	for _, c := range cands[1:] {
		minCost = math.Min(minCost, c.estCost)
		maxCost = math.Max(maxCost, c.estCost)
		minLat = math.Min(minLat, c.estLatency)
		maxLat = math.Max(maxLat, c.estLatency)
	}

	normalize := func(v, lo, hi float64) float64 {
		if hi-lo <= 0 {
			return 0
		}
		return (v - lo) / (hi - lo)
	}

	type scored struct {
		desc  ModelDescriptor
		score float64
	}
	bestList := make([]scored, 0, len(cands))

	for _, c := range cands {
		costHat := normalize(c.estCost, minCost, maxCost)
		latHat := normalize(c.estLatency, minLat, maxLat)
		s := wQuality*c.desc.QualityScore - wCost*costHat - wLatency*latHat
		bestList = append(bestList, scored{desc: c.desc, score: s})
	}

	// Deterministic ordering before tie resolution: highest score first,
	// model id as a stable secondary key.
	sort.SliceStable(bestList, func(i, j int) bool {
		if bestList[i].score != bestList[j].score {
			return bestList[i].score > bestList[j].score
		}
		return bestList[i].desc.ID < bestList[j].desc.ID
	})

	const epsilon = 1e-9
	maxScore := bestList[0].score

	winner := bestList[0]
	if policy.PreferProvider != "" {
		// The preference only decides among candidates already tied for
		// the top score; it never lifts a preferred model above a
		// strictly better rival.
		for _, s := range bestList {
			if s.score < maxScore-epsilon {
				break
			}
			if s.desc.Provider == policy.PreferProvider {
				winner = s
				break
			}
		}
	}

	return winner.desc.ID, winner.desc, nil
}

// Generate runs the full pipeline: routing (if req.ModelID is empty),
// cache lookup, rate/spend admission, provider dispatch, fallback on
// retriable errors, and usage accounting.
func (g *Gateway) Generate(ctx context.Context, req Request) (Response, error) {
	modelID := req.ModelID
	var policy RoutingPolicy
	if req.Policy != nil {
		policy = *req.Policy
	}

	if modelID == "" {
		id, _, err := g.route(Requirements{
			Capabilities:          req.RequiredCapabilities,
			EstimatedPromptTokens: EstimateTokens(req.Prompt + req.SystemPrompt),
			MaxTokens:             req.MaxTokens,
		}, policy)
		if err != nil {
			return Response{}, err
		}
		modelID = id
	}

	chain := append([]string{modelID}, policy.FallbackModels...)

	var lastErr error
	for i, id := range chain {
		resp, err := g.generateOne(ctx, id, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !errs.IsRetriable(err) || i == len(chain)-1 {
			return Response{}, err
		}
	}
	return Response{}, lastErr
}

// generateOne resolves the model/provider and runs exactly one admitted
// dispatch per cache key, even under concurrent identical requests: the
// actual provider call is wrapped in dispatchOne and handed to the cache's
// GetOrLoad, whose singleflight group collapses concurrent callers sharing
// a fingerprint into a single in-flight call.
func (g *Gateway) generateOne(ctx context.Context, modelID string, req Request) (Response, error) {
	desc, ok := g.registry.Model(modelID)
	if !ok {
		return Response{}, errs.New(errs.NotFound, "mil: unknown model "+modelID)
	}
	p, ok := g.registry.Provider(desc.Provider)
	if !ok {
		return Response{}, errs.New(errs.Internal, "mil: provider not registered for "+modelID)
	}

	dispatch := func() (Response, error) {
		return g.dispatchOne(ctx, modelID, desc, p, req)
	}

	var resp Response
	var err error
	if g.cache != nil {
		resp, err, _ = g.cache.GetOrLoad(cache.Fingerprint(modelID, req), dispatch)
	} else {
		resp, err = dispatch()
	}

	if err != nil {
		g.recordUsage(Response{}, req, false, err)
		return Response{}, err
	}

	g.recordUsage(resp, req, true, nil)
	return resp, nil
}

// dispatchOne performs admission and the actual provider call for one
// model. It is the unit of work GetOrLoad runs at most once per cache key
// regardless of how many callers are waiting on it concurrently.
func (g *Gateway) dispatchOne(ctx context.Context, modelID string, desc ModelDescriptor, p Provider, req Request) (Response, error) {
	estCost := (float64(EstimateTokens(req.Prompt+req.SystemPrompt))*desc.InputCostPerMillion + float64(req.MaxTokens)*desc.OutputCostPerMillion) / 1_000_000

	var reservation *ratelimit.Reservation
	if g.limiter != nil {
		r, err := g.limiter.Admit(ctx, ratelimit.ScopeGlobal, modelID, estCost)
		if err != nil {
			return Response{}, err
		}
		reservation = r
	}

	start := g.clock.Now()
	resp, err := p.Generate(ctx, desc.ModelID, req)
	resp.LatencyMS = float64(g.clock.Now().Sub(start).Microseconds()) / 1000.0
	resp.Provider = desc.Provider
	// Providers return the vendor-local model id; the gateway normalizes
	// it back to the registry's "provider/model-id" form for callers.
	resp.ModelUsed = modelID

	if g.limiter != nil {
		if err != nil {
			_ = g.limiter.Release(ctx, reservation)
		} else {
			_ = g.limiter.Settle(ctx, reservation, resp.CostUSD)
		}
	}

	if err != nil {
		return Response{}, err
	}

	g.registry.UpdateObserved(modelID, resp.LatencyMS)
	return resp, nil
}

func (g *Gateway) recordUsage(resp Response, req Request, success bool, err error) {
	rec := UsageRecord{
		Timestamp:    g.clock.Now(),
		Model:        resp.ModelUsed,
		Provider:     resp.Provider,
		TaskType:     req.TaskType,
		UserID:       req.UserID,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		TotalTokens:  resp.TotalTokens(),
		CostUSD:      resp.CostUSD,
		LatencyMS:    resp.LatencyMS,
		WasCached:    resp.WasCached,
		Success:      success,
	}
	if err != nil {
		rec.ErrorKind = string(errs.KindOf(err))
	}
	g.sink.Record(rec)
}
