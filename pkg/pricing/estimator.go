// Package pricing estimates the monthly cost of declared resources. The
// Estimator interface is the seam to an external pricing source; the
// bundled Catalog serves estimates from static rate tables.
package pricing

import (
	"context"
	"errors"
	"math"
)

// ErrUnsupportedResource is returned for resource types the estimator
// has no pricing data for. Callers must treat it as "unestimable",
// never as "free".
var ErrUnsupportedResource = errors.New("pricing: unsupported resource type")

// Estimator estimates the monthly cost of one resource in USD.
type Estimator interface {
	EstimateMonthly(ctx context.Context, resourceType string, properties map[string]interface{}, region string) (float64, error)
}

// Round2 rounds to two decimals. Applied at every aggregation boundary
// so totals are reproducible.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
