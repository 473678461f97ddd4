package autodiff

import (
	"errors"
	"sort"
	"sync"

	"github.com/born-ml/saliency/internal/autodiff/ops"
)

// Gradient rule names understood by the registry.
const (
	GradRelu           = "Relu"
	GradGuidedBackProp = "GuidedBackProp"
	GradDeconvReLU     = "DeconvReLU"
)

// ErrUnknownGradient is returned when an override names a rule that has not
// been registered.
var ErrUnknownGradient = errors.New("unknown gradient rule")

// GradientRegistry maps gradient rule names to ReLU backward rules.
//
// It is an explicit object rather than process state: each AutodiffBackend
// holds one, and callers that want to share rules pass the same registry to
// several backends. Registration is write-once per name.
type GradientRegistry struct {
	mu    sync.RWMutex
	rules map[string]ops.ReLURule
}

// NewGradientRegistry creates a registry holding the standard "Relu" rule.
func NewGradientRegistry() *GradientRegistry {
	r := &GradientRegistry{rules: make(map[string]ops.ReLURule)}
	r.Register(GradRelu, ops.StandardReLU)
	return r
}

// Register adds rule under name. It is idempotent: if name is already
// present the first rule is kept and Register returns false.
func (r *GradientRegistry) Register(name string, rule ops.ReLURule) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[name]; ok {
		return false
	}
	r.rules[name] = rule
	return true
}

// Lookup returns the rule registered under name.
func (r *GradientRegistry) Lookup(name string) (ops.ReLURule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[name]
	return rule, ok
}

// Has reports whether name is registered.
func (r *GradientRegistry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Names returns the registered rule names in sorted order.
func (r *GradientRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.rules))
	for name := range r.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterGuidedBackprop registers the guided backpropagation rule under
// GradGuidedBackProp unless it is already present. It reports whether the
// call registered it.
func RegisterGuidedBackprop(r *GradientRegistry) bool {
	if r.Has(GradGuidedBackProp) {
		return false
	}
	return r.Register(GradGuidedBackProp, ops.GuidedReLU)
}

// RegisterDeconvolution registers the deconvolution rule under
// GradDeconvReLU unless it is already present.
func RegisterDeconvolution(r *GradientRegistry) bool {
	if r.Has(GradDeconvReLU) {
		return false
	}
	return r.Register(GradDeconvReLU, ops.DeconvReLU)
}
