package processors

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/trustguard/riskcore/internal/contextstore"
	"github.com/trustguard/riskcore/internal/models"
)

// Input is the enriched evaluation bundle handed to every processor. Profile
// and Recent come from the context store; Tenant is the request's config
// snapshot.
type Input struct {
	Auth    *models.AuthContext
	Profile *contextstore.BehavioralProfile
	Recent  []models.Event
	Tenant  *models.TenantConfig
	Policy  *models.AdaptivePolicy
}

// SignalProcessor is a stateless evaluator addressable by a stable name. Any
// persistent state it needs lives in the context store.
type SignalProcessor interface {
	Name() string
	Process(userID string, in *Input) []models.RiskSignal
}

// Registry maps processor names to implementations and fans an input out
// across all of them.
type Registry struct {
	processors []SignalProcessor
	byName     map[string]SignalProcessor
}

func NewRegistry(processors ...SignalProcessor) *Registry {
	r := &Registry{byName: make(map[string]SignalProcessor, len(processors))}
	for _, p := range processors {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p SignalProcessor) {
	if _, exists := r.byName[p.Name()]; exists {
		return
	}
	r.byName[p.Name()] = p
	r.processors = append(r.processors, p)
	sort.Slice(r.processors, func(i, j int) bool {
		return r.processors[i].Name() < r.processors[j].Name()
	})
}

func (r *Registry) Get(name string) (SignalProcessor, bool) {
	p, ok := r.byName[name]
	return p, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.processors))
	for _, p := range r.processors {
		names = append(names, p.Name())
	}
	return names
}

// ProcessAll runs every registered processor. A panicking processor yields an
// empty signal list and the pipeline continues.
func (r *Registry) ProcessAll(userID string, in *Input) []models.RiskSignal {
	var signals []models.RiskSignal
	for _, p := range r.processors {
		signals = append(signals, r.runOne(p, userID, in)...)
	}
	return signals
}

func (r *Registry) runOne(p SignalProcessor, userID string, in *Input) (signals []models.RiskSignal) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("processor", p.Name()).
				Str("user_id", userID).
				Interface("panic", rec).
				Msg("Signal processor panicked")
			signals = nil
		}
	}()
	return p.Process(userID, in)
}
