package config

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

const (
	ExporterTypeUptimeKuma = "uptime-kuma"
)

// ExporterConfig selects an exporter and the servers it watches. An empty
// Watches list means every server. Raw keeps the full object for the
// exporter's own settings.
type ExporterConfig struct {
	Type    string   `json:"type" validate:"required,exporterType"`
	Watches []string `json:"watches" validate:"dive,required"`
	Raw     json.RawMessage
}

func init() {
	if err := validate.RegisterValidation("exporterType", validateExporterType); err != nil {
		panic(fmt.Sprintf("failed to register exporter type validator: %v", err))
	}
}

func validateExporterType(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case ExporterTypeUptimeKuma:
		return true
	default:
		return false
	}
}

func (e *ExporterConfig) UnmarshalJSON(data []byte) error {
	type alias ExporterConfig
	temp := struct {
		*alias
	}{
		alias: (*alias)(e),
	}

	if err := json.Unmarshal(data, &temp); err != nil {
		return fmt.Errorf("failed to unmarshal exporter config: %w", err)
	}
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}

var _ json.Unmarshaler = (*ExporterConfig)(nil)
