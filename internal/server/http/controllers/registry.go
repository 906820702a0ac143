package controllers

import (
	"github.com/go-chi/chi/v5"

	"github.com/rzbill/flojobs/internal/runtime"
	"github.com/rzbill/flojobs/pkg/log"
)

// ControllerRegistry manages all HTTP controllers.
type ControllerRegistry struct {
	general    *GeneralController
	monitoring *MonitoringController
}

// NewControllerRegistry creates a new controller registry.
func NewControllerRegistry(rt *runtime.Runtime, logger log.Logger) *ControllerRegistry {
	return &ControllerRegistry{
		general:    NewGeneralController(rt),
		monitoring: NewMonitoringController(rt, logger),
	}
}

// RegisterRoutes registers every controller's routes on r.
func (cr *ControllerRegistry) RegisterRoutes(r chi.Router) {
	cr.general.RegisterRoutes(r)
	cr.monitoring.RegisterRoutes(r)
}
