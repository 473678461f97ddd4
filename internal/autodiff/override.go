package autodiff

import "fmt"

// WithGradientOverride runs fn with op gradients remapped, e.g.
//
//	backend.WithGradientOverride(map[string]string{"Relu": "GuidedBackProp"}, func() error {
//		out, err := model.Run(backend, inputs, opts)
//		...
//	})
//
// Every ReLU recorded while fn runs captures the overridden rule, so the
// graph built inside the scope differentiates with it; ReLUs recorded
// before or after keep their own rule. Scopes nest, the innermost mapping
// wins, and the previous state is restored when fn returns or panics.
//
// All target rules must be registered, otherwise ErrUnknownGradient is
// returned and fn is not called.
func (b *AutodiffBackend[B]) WithGradientOverride(mapping map[string]string, fn func() error) error {
	scope := make(map[string]string, len(mapping))
	for op, rule := range mapping {
		if !b.registry.Has(rule) {
			return fmt.Errorf("override %s -> %s: %w", op, rule, ErrUnknownGradient)
		}
		scope[op] = rule
	}

	b.overrides = append(b.overrides, scope)
	defer func() {
		b.overrides = b.overrides[:len(b.overrides)-1]
	}()

	return fn()
}

// ActiveRule returns the gradient rule currently used for op.
func (b *AutodiffBackend[B]) ActiveRule(op string) string {
	return b.activeRule(op)
}

func (b *AutodiffBackend[B]) activeRule(op string) string {
	for i := len(b.overrides) - 1; i >= 0; i-- {
		if rule, ok := b.overrides[i][op]; ok {
			return rule
		}
	}
	return op
}
