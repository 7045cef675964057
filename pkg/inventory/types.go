// Package inventory discovers live infrastructure resources and
// normalizes them into records that policy checks understand.
package inventory

import "context"

// Record is a normalized view of a live resource, expressed with the
// same resource types and property names used in configuration files.
type Record struct {
	// Type is the resource type, e.g. "aws_instance".
	Type string

	// Name identifies the resource within its type. For live
	// resources this is the cloud identifier (instance ID, bucket
	// name, and so on).
	Name string

	// Region the resource lives in.
	Region string

	// Properties holds the normalized attributes relevant to policy
	// evaluation and cost estimation.
	Properties map[string]interface{}
}

// Ref returns the "type.name" reference for the record.
func (r Record) Ref() string {
	return r.Type + "." + r.Name
}

// Source enumerates live resources from a provider account.
type Source interface {
	// Discover returns all resources visible to the source in the
	// given region. Partial results are never returned: a failure in
	// any service listing fails the whole discovery.
	Discover(ctx context.Context, region string) ([]Record, error)
}
