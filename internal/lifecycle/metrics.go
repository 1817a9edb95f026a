package lifecycle

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the lifecycle instruments
type Metrics struct {
	KeysIssued    metric.Int64Counter
	Verifications metric.Int64Counter
	Registrations metric.Int64Counter
	KeysCleaned   metric.Int64Counter
	AdminDeletes  metric.Int64Counter
}

// NewMetrics creates the lifecycle instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.KeysIssued, err = meter.Int64Counter(
		"keyforge_keys_issued_total",
		metric.WithDescription("Total number of keys issued"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create keys issued counter: %w", err)
	}

	m.Verifications, err = meter.Int64Counter(
		"keyforge_key_verifications_total",
		metric.WithDescription("Total number of key verifications by resulting state"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verifications counter: %w", err)
	}

	m.Registrations, err = meter.Int64Counter(
		"keyforge_user_registrations_total",
		metric.WithDescription("Total number of register-or-fetch calls by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create registrations counter: %w", err)
	}

	m.KeysCleaned, err = meter.Int64Counter(
		"keyforge_keys_cleaned_total",
		metric.WithDescription("Total number of keys removed by cleanup"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create keys cleaned counter: %w", err)
	}

	m.AdminDeletes, err = meter.Int64Counter(
		"keyforge_admin_deletes_total",
		metric.WithDescription("Total number of administrative deletions by record kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin deletes counter: %w", err)
	}

	return m, nil
}
