package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/weftlabs/weft/operation"
)

// ConfigSuffix is the utility sub-path every service answers
// configuration requests on, relative to its self-link.
const ConfigSuffix = "/config"

// Configuration is the runtime configuration snapshot of an instance,
// returned by configuration GETs.
type Configuration struct {
	SelfLink            string        `json:"selfLink"`
	DocumentKind        string        `json:"documentKind"`
	Options             []string      `json:"options"`
	ProcessingStage     string        `json:"processingStage"`
	MaintenanceInterval time.Duration `json:"maintenanceInterval"`
}

// ConfigurationUpdateRequest is the body of a configuration PATCH.
// Option names use their canonical spelling (see Option.String).
type ConfigurationUpdateRequest struct {
	ToggleOptions       map[string]bool `json:"toggleOptions,omitempty"`
	MaintenanceInterval *time.Duration  `json:"maintenanceInterval,omitempty"`
}

// HandleConfigurationRequest answers GET with the configuration
// snapshot and applies PATCH updates. Toggling a forbidden option
// surfaces the failure to the caller.
func (s *Stateless) HandleConfigurationRequest(op *operation.Operation) {
	switch op.Action() {
	case operation.ActionGet:
		op.SetBody(s.configuration()).Complete()

	case operation.ActionPatch:
		req, err := configUpdateFromBody(op.Body())
		if err != nil {
			op.Fail(operation.NewServiceError(operation.StatusBadRequest, "%v", err))
			return
		}
		for name, enable := range req.ToggleOptions {
			opt, err := ParseOption(name)
			if err != nil {
				op.Fail(operation.NewServiceError(operation.StatusBadRequest, "%v", err))
				return
			}
			if err := s.ToggleOption(opt, enable); err != nil {
				op.Fail(operation.NewServiceError(operation.StatusBadRequest, "%v", err))
				return
			}
		}
		if req.MaintenanceInterval != nil {
			if err := s.SetMaintenanceInterval(*req.MaintenanceInterval); err != nil {
				op.Fail(operation.NewServiceError(operation.StatusBadRequest, "%v", err))
				return
			}
		}
		op.SetBody(s.configuration()).Complete()

	default:
		op.Fail(operation.NewServiceError(operation.StatusBadRequest,
			"action not supported for configuration: %s", op.Action()))
	}
}

// configUpdateFromBody accepts either the typed request (in-process
// callers) or raw JSON (operations arriving through a gateway).
func configUpdateFromBody(body any) (*ConfigurationUpdateRequest, error) {
	switch b := body.(type) {
	case *ConfigurationUpdateRequest:
		if b != nil {
			return b, nil
		}
	case json.RawMessage:
		req := &ConfigurationUpdateRequest{}
		if err := json.Unmarshal(b, req); err != nil {
			return nil, fmt.Errorf("decoding configuration update: %w", err)
		}
		return req, nil
	}
	return nil, fmt.Errorf("configuration update request body required")
}

func (s *Stateless) configuration() *Configuration {
	opts := s.Options()
	names := make([]string, len(opts))
	for i, o := range opts {
		names[i] = o.String()
	}
	return &Configuration{
		SelfLink:            s.SelfLink(),
		DocumentKind:        s.DocumentKind(),
		Options:             names,
		ProcessingStage:     s.ProcessingStage().String(),
		MaintenanceInterval: s.MaintenanceInterval(),
	}
}
