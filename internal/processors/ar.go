package processors

import (
	"math"

	"github.com/trustguard/riskcore/internal/models"
)

// TemplateMatcher compares a captured AR sample against the user's enrolled
// template and returns a match score in [0,1]. Implementations are pluggable;
// the default is cosine similarity over the stored template vector.
type TemplateMatcher interface {
	Match(sample, template []float64) float64
}

// CosineMatcher is the default template comparison.
type CosineMatcher struct{}

func (CosineMatcher) Match(sample, template []float64) float64 {
	if len(sample) == 0 || len(sample) != len(template) {
		return 0
	}
	var dot, normA, normB float64
	for i := range sample {
		dot += sample[i] * template[i]
		normA += sample[i] * sample[i]
		normB += template[i] * template[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Cosine similarity of arbitrary vectors is in [-1,1]; negative
	// correlation is a non-match.
	if score < 0 {
		return 0
	}
	return score
}

// arKind wires one AR modality: toggle selection, sample extraction and the
// template key in the profile.
type arKind struct {
	signalType  string
	templateKey string
	enabled     func(*models.FeatureToggles) bool
	sample      func(*models.ARData) []float64
	liveness    bool
}

// ARProcessor scores one AR modality against the user template. Liveness (AR
// biometric only) is evaluated first; a failed proof forces a full-risk
// signal and skips the template comparison.
type ARProcessor struct {
	kind    arKind
	matcher TemplateMatcher
}

func newARProcessor(kind arKind, matcher TemplateMatcher) *ARProcessor {
	if matcher == nil {
		matcher = CosineMatcher{}
	}
	return &ARProcessor{kind: kind, matcher: matcher}
}

func NewARGestureProcessor(matcher TemplateMatcher) *ARProcessor {
	return newARProcessor(arKind{
		signalType:  "ar_gesture",
		templateKey: "spatial_gesture",
		enabled:     func(t *models.FeatureToggles) bool { return t.ARGesture },
		sample:      func(d *models.ARData) []float64 { return d.SpatialGesture },
	}, matcher)
}

func NewARGazeProcessor(matcher TemplateMatcher) *ARProcessor {
	return newARProcessor(arKind{
		signalType:  "ar_gaze",
		templateKey: "gaze_pattern",
		enabled:     func(t *models.FeatureToggles) bool { return t.ARGaze },
		sample:      func(d *models.ARData) []float64 { return d.GazePattern },
	}, matcher)
}

func NewAREnvironmentProcessor(matcher TemplateMatcher) *ARProcessor {
	return newARProcessor(arKind{
		signalType:  "ar_environment",
		templateKey: "environment",
		enabled:     func(t *models.FeatureToggles) bool { return t.AREnvironment },
		sample:      func(d *models.ARData) []float64 { return d.Environment },
	}, matcher)
}

func NewARBiometricProcessor(matcher TemplateMatcher) *ARProcessor {
	return newARProcessor(arKind{
		signalType:  "ar_biometric",
		templateKey: "biometric_3d",
		enabled:     func(t *models.FeatureToggles) bool { return t.ARBiometric },
		sample:      func(d *models.ARData) []float64 { return d.Biometric3D },
		liveness:    true,
	}, matcher)
}

func (p *ARProcessor) Name() string { return p.kind.signalType }

func (p *ARProcessor) Process(userID string, in *Input) []models.RiskSignal {
	if in.Policy != nil && !p.kind.enabled(&in.Policy.Toggles) {
		return nil
	}
	ar := in.Auth.AR
	if ar == nil {
		return nil
	}

	if p.kind.liveness && ar.LivenessProof != nil && !*ar.LivenessProof {
		return []models.RiskSignal{{
			Type:       p.kind.signalType,
			Value:      1.0,
			Confidence: 0.8,
			Timestamp:  in.Auth.Timestamp,
		}}
	}

	sample := p.kind.sample(ar)
	if len(sample) == 0 {
		return nil
	}

	var template []float64
	if in.Profile != nil && in.Profile.ARTemplates != nil {
		template = in.Profile.ARTemplates[p.kind.templateKey]
	}
	score := p.matcher.Match(sample, template)

	return []models.RiskSignal{{
		Type:       p.kind.signalType,
		Value:      1 - score,
		Confidence: score,
		Timestamp:  in.Auth.Timestamp,
	}}
}
