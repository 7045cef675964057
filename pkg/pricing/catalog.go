package pricing

import (
	"context"
	"fmt"
)

// hoursPerMonth is the convention used for hourly-to-monthly conversion.
const hoursPerMonth = 730

// instanceHourlyRates holds on-demand us-east-1 rates. Unlisted regions
// fall back to these; unlisted instance types are unestimable.
var instanceHourlyRates = map[string]float64{
	"t2.micro":   0.0116,
	"t2.small":   0.023,
	"t2.medium":  0.0464,
	"t3.micro":   0.0104,
	"t3.small":   0.0208,
	"t3.medium":  0.0416,
	"t3.large":   0.0832,
	"m5.large":   0.096,
	"m5.xlarge":  0.192,
	"m5.2xlarge": 0.384,
	"c5.large":   0.085,
	"c5.xlarge":  0.17,
	"r5.large":   0.126,
	"r5.xlarge":  0.252,
	"r5.2xlarge": 0.504,
}

// dbInstanceHourlyRates covers common RDS instance classes.
var dbInstanceHourlyRates = map[string]float64{
	"db.t3.micro":  0.017,
	"db.t3.small":  0.034,
	"db.t3.medium": 0.068,
	"db.m5.large":  0.171,
	"db.m5.xlarge": 0.342,
	"db.r5.large":  0.24,
	"db.r5.xlarge": 0.48,
}

// volumeGiBMonthRates is the per-GiB-month rate by EBS volume type.
var volumeGiBMonthRates = map[string]float64{
	"gp2":      0.10,
	"gp3":      0.08,
	"io1":      0.125,
	"io2":      0.125,
	"st1":      0.045,
	"sc1":      0.015,
	"standard": 0.05,
}

// defaultVolumeSizeGiB is assumed when a volume declares no size.
const defaultVolumeSizeGiB = 8

// Catalog is the static-rate Estimator used when no external pricing
// service is configured.
type Catalog struct{}

// NewCatalog creates a static pricing catalog.
func NewCatalog() *Catalog {
	return &Catalog{}
}

// EstimateMonthly estimates one resource's monthly USD cost from the
// static tables, rounded to two decimals.
func (c *Catalog) EstimateMonthly(ctx context.Context, resourceType string, props map[string]interface{}, region string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	switch resourceType {
	case "aws_instance":
		return c.instanceMonthly(props)
	case "aws_db_instance":
		return c.dbInstanceMonthly(props)
	case "aws_ebs_volume":
		return c.volumeMonthly(props)
	case "aws_s3_bucket":
		// Flat storage estimate; bucket blocks do not declare object volume.
		return Round2(2.30), nil
	case "aws_nat_gateway":
		return Round2(0.045 * hoursPerMonth), nil
	case "aws_s3_bucket_public_access_block",
		"aws_s3_bucket_versioning",
		"aws_s3_bucket_server_side_encryption_configuration",
		"aws_security_group":
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedResource, resourceType)
	}
}

func (c *Catalog) instanceMonthly(props map[string]interface{}) (float64, error) {
	instanceType, ok := props["instance_type"].(string)
	if !ok {
		return 0, fmt.Errorf("%w: aws_instance without instance_type", ErrUnsupportedResource)
	}
	rate, ok := instanceHourlyRates[instanceType]
	if !ok {
		return 0, fmt.Errorf("%w: instance type %s", ErrUnsupportedResource, instanceType)
	}
	return Round2(rate * hoursPerMonth), nil
}

func (c *Catalog) dbInstanceMonthly(props map[string]interface{}) (float64, error) {
	class, ok := props["instance_class"].(string)
	if !ok {
		return 0, fmt.Errorf("%w: aws_db_instance without instance_class", ErrUnsupportedResource)
	}
	rate, ok := dbInstanceHourlyRates[class]
	if !ok {
		return 0, fmt.Errorf("%w: db instance class %s", ErrUnsupportedResource, class)
	}

	monthly := rate * hoursPerMonth
	if size, ok := props["allocated_storage"].(float64); ok {
		monthly += size * volumeGiBMonthRates["gp2"]
	}
	return Round2(monthly), nil
}

func (c *Catalog) volumeMonthly(props map[string]interface{}) (float64, error) {
	volType := "gp2"
	if t, ok := props["type"].(string); ok {
		volType = t
	}
	rate, ok := volumeGiBMonthRates[volType]
	if !ok {
		return 0, fmt.Errorf("%w: volume type %s", ErrUnsupportedResource, volType)
	}

	size := float64(defaultVolumeSizeGiB)
	if s, ok := props["size"].(float64); ok {
		size = s
	}
	return Round2(size * rate), nil
}
