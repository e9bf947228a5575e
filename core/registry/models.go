package registry

import (
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/shuttle/core"
)

// NewStudent contains information needed to register a Student.
type NewStudent struct {
	Name          string `json:"name" validate:"required"`
	Institution   string `json:"institution" validate:"required"`
	BoardingPoint string `json:"boarding_point"`
}

func (ns *NewStudent) Clean() {
	ns.Name = core.CleanString(ns.Name)
	ns.Institution = core.CleanString(ns.Institution)
	ns.BoardingPoint = core.CleanString(ns.BoardingPoint)
}

func (ns *NewStudent) Validate(validate *validator.Validate) error {
	ns.Clean()
	return validate.Struct(ns)
}

// NewDriver contains information needed to register a Driver.
type NewDriver struct {
	Name  string `json:"name" validate:"required"`
	BusID string `json:"bus_id"`
}

func (nd *NewDriver) Validate(validate *validator.Validate) error {
	nd.Name = core.CleanString(nd.Name)
	nd.BusID = core.CleanString(nd.BusID)
	return validate.Struct(nd)
}

// NewBus contains information needed to register a Bus.
type NewBus struct {
	Label          string  `json:"label" validate:"required"`
	Capacity       int     `json:"capacity" validate:"gt=0,lte=120"`
	Odometer       int64   `json:"odometer" validate:"gte=0"`
	FuelLevel      float64 `json:"fuel_level" validate:"gte=0,lte=100"`
	MaintenanceDue string  `json:"maintenance_due" validate:"omitempty,datetime=2006-01-02"`
}

func (nb *NewBus) Validate(validate *validator.Validate) error {
	nb.Label = core.CleanString(nb.Label)
	return validate.Struct(nb)
}

// BusTelemetry is a reading reported for a bus. Odometer never decreases.
type BusTelemetry struct {
	Odometer       int64   `json:"odometer" validate:"gte=0"`
	FuelLevel      float64 `json:"fuel_level" validate:"gte=0,lte=100"`
	MaintenanceDue string  `json:"maintenance_due" validate:"omitempty,datetime=2006-01-02"`
}

func (bt BusTelemetry) Validate(validate *validator.Validate) error { return validate.Struct(bt) }

// NewRoute contains information needed to schedule a Route.
type NewRoute struct {
	Destination       string `json:"destination" validate:"required"`
	BoardingPoint     string `json:"boarding_point" validate:"required"`
	ServiceDate       string `json:"service_date" validate:"required,datetime=2006-01-02"`
	Departure         string `json:"departure" validate:"required,clock"`
	EstimatedDuration int    `json:"estimated_duration_minutes" validate:"gte=0"`
	DriverID          string `json:"driver_id" validate:"required"`
	BusID             string `json:"bus_id"` // defaults to the driver's bus
}

func (nr *NewRoute) Validate(validate *validator.Validate) error {
	nr.Destination = core.CleanString(nr.Destination)
	nr.BoardingPoint = core.CleanString(nr.BoardingPoint)
	nr.DriverID = core.CleanString(nr.DriverID)
	nr.BusID = core.CleanString(nr.BusID)
	return validate.Struct(nr)
}

// RouteFilter selects routes. Zero fields match everything.
type RouteFilter struct {
	ServiceDate string `query:"date" validate:"omitempty,datetime=2006-01-02"`
	DriverID    string `query:"driver_id"`
	StudentID   string `query:"student_id"`
	State       string `query:"state"`
}
