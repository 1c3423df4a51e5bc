package component

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/c360/sftpstreams/errors"
)

// Factory creates a component from its raw JSON configuration. Factories parse
// and validate configuration only; I/O belongs in Start.
type Factory func(rawConfig json.RawMessage, deps Dependencies) (Discoverable, error)

// ComponentConfig is one entry of the "components" configuration section.
type ComponentConfig struct {
	Type    string          `json:"type"`    // "input" or "output"
	Name    string          `json:"name"`    // factory name, e.g. "sftp-source"
	Enabled bool            `json:"enabled"` // disabled entries are skipped
	Config  json.RawMessage `json:"config"`
}

// RegistrationConfig describes a component type for RegisterWithConfig.
type RegistrationConfig struct {
	Name        string
	Factory     Factory
	Type        string
	Protocol    string
	Description string
	Version     string
}

// Info holds metadata about an available component type
type Info struct {
	Type        string `json:"type"`
	Protocol    string `json:"protocol"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// Registry holds factories by name and the instances created from them.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]RegistrationConfig
	instances map[string]Discoverable
}

// NewRegistry creates a new empty component registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]RegistrationConfig),
		instances: make(map[string]Discoverable),
	}
}

var componentNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,62}$`)

// ValidateComponentName checks instance and factory names.
func ValidateComponentName(name string) error {
	if !componentNamePattern.MatchString(name) {
		return errors.WrapInvalid(fmt.Errorf("invalid component name %q", name),
			"Registry", "ValidateComponentName", "name validation")
	}
	return nil
}

// RegisterWithConfig registers a factory. Duplicate names are rejected.
func (r *Registry) RegisterWithConfig(cfg RegistrationConfig) error {
	if err := ValidateComponentName(cfg.Name); err != nil {
		return err
	}
	if cfg.Factory == nil || cfg.Type == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterWithConfig", "registration validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[cfg.Name]; exists {
		return errors.WrapInvalid(fmt.Errorf("factory '%s' is already registered", cfg.Name),
			"Registry", "RegisterWithConfig", "duplicate factory check")
	}
	r.factories[cfg.Name] = cfg
	return nil
}

// CreateComponent builds an instance from cfg and records it under instanceName.
func (r *Registry) CreateComponent(instanceName string, cfg ComponentConfig, deps Dependencies) (Discoverable, error) {
	if err := ValidateComponentName(instanceName); err != nil {
		return nil, errors.Wrap(err, "Registry", "CreateComponent", "instance name validation")
	}

	r.mu.RLock()
	reg, exists := r.factories[cfg.Name]
	r.mu.RUnlock()
	if !exists {
		return nil, errors.WrapInvalid(fmt.Errorf("unknown component factory '%s'", cfg.Name),
			"Registry", "CreateComponent", "factory lookup")
	}
	if cfg.Type != "" && cfg.Type != reg.Type {
		return nil, errors.WrapInvalid(
			fmt.Errorf("component '%s' is type '%s', not '%s'", cfg.Name, reg.Type, cfg.Type),
			"Registry", "CreateComponent", "type validation")
	}

	c, err := reg.Factory(cfg.Config, deps)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "CreateComponent", "factory execution")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.instances[instanceName]; dup {
		return nil, errors.WrapInvalid(fmt.Errorf("instance '%s' already exists", instanceName),
			"Registry", "CreateComponent", "instance registration")
	}
	r.instances[instanceName] = c
	return c, nil
}

// Component returns an instance by name or nil.
func (r *Registry) Component(name string) Discoverable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instances[name]
}

// ListComponents returns a copy of the instance map
func (r *Registry) ListComponents() map[string]Discoverable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Discoverable, len(r.instances))
	for k, v := range r.instances {
		out[k] = v
	}
	return out
}

// ListAvailable returns information about all registered factories.
func (r *Registry) ListAvailable() map[string]Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Info, len(r.factories))
	for name, reg := range r.factories {
		out[name] = Info{Type: reg.Type, Protocol: reg.Protocol, Description: reg.Description, Version: reg.Version}
	}
	return out
}

// FactoryNames returns the registered factory names in sorted order.
func (r *Registry) FactoryNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
