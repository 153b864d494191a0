// Package application wires the eligibility screens and the combiner into
// a configurable ensembling pipeline.
package application

import (
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-quorum/infrastructure/screens"
	"github.com/ahrav/go-quorum/internal/ports"
)

// ScreenFactory creates a screen instance from its id and the raw yaml
// parameters block of the pipeline configuration.
type ScreenFactory func(id string, params *yaml.Node) (ports.Screen, error)

// ScreenRegistry is a factory for creating eligibility screens based on
// type and configuration. It supports dynamic registration of screen
// factories so hubs can plug in custom rules alongside the built-in four.
type ScreenRegistry struct {
	// factories maps screen type strings to their factory functions.
	factories map[string]ScreenFactory
	// mu protects concurrent access to the factories map.
	mu sync.RWMutex
}

// NewScreenRegistry creates a registry with the four standard screens
// pre-registered: missingness, plausibility, monotonicity, and dispersion.
func NewScreenRegistry() *ScreenRegistry {
	r := &ScreenRegistry{factories: make(map[string]ScreenFactory)}
	r.registerBuiltinFactories()
	return r
}

func (r *ScreenRegistry) registerBuiltinFactories() {
	r.factories["missingness"] = func(id string, params *yaml.Node) (ports.Screen, error) {
		var config screens.MissingnessConfig
		if err := decodeParams(params, &config); err != nil {
			return nil, err
		}
		return screens.NewMissingnessScreen(id, config)
	}
	r.factories["plausibility"] = func(id string, params *yaml.Node) (ports.Screen, error) {
		var config screens.PlausibilityConfig
		if err := decodeParams(params, &config); err != nil {
			return nil, err
		}
		return screens.NewPlausibilityScreen(id, config)
	}
	r.factories["monotonicity"] = func(id string, params *yaml.Node) (ports.Screen, error) {
		var config screens.MonotonicityConfig
		if err := decodeParams(params, &config); err != nil {
			return nil, err
		}
		return screens.NewMonotonicityScreen(id, config)
	}
	r.factories["dispersion"] = func(id string, params *yaml.Node) (ports.Screen, error) {
		var config screens.DispersionConfig
		if err := decodeParams(params, &config); err != nil {
			return nil, err
		}
		return screens.NewDispersionScreen(id, config)
	}
}

// decodeParams decodes a yaml parameters node into a config struct,
// tolerating absent parameter blocks.
func decodeParams(params *yaml.Node, out any) error {
	if params == nil || params.Kind == 0 {
		return nil
	}
	if err := params.Decode(out); err != nil {
		return fmt.Errorf("decoding parameters: %w", err)
	}
	return nil
}

// CreateScreen instantiates a screen of the given type from its
// configuration parameters.
func (r *ScreenRegistry) CreateScreen(screenType, id string, params *yaml.Node) (ports.Screen, error) {
	r.mu.RLock()
	factory, exists := r.factories[screenType]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported screen type: %s", screenType)
	}
	if id == "" {
		return nil, fmt.Errorf("screen ID cannot be empty")
	}

	screen, err := factory(id, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create screen %s of type %s: %w", id, screenType, err)
	}
	return screen, nil
}

// RegisterScreenFactory registers a factory for a custom screen type,
// extending the registry at runtime.
func (r *ScreenRegistry) RegisterScreenFactory(screenType string, factory ScreenFactory) error {
	if screenType == "" {
		return fmt.Errorf("screen type cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory function cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[screenType] = factory
	return nil
}

// SupportedTypes returns all registered screen types, for validation and
// introspection.
func (r *ScreenRegistry) SupportedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for screenType := range r.factories {
		types = append(types, screenType)
	}
	return types
}
