package audit

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/terravet/terravet/pkg/inventory"
	"github.com/terravet/terravet/pkg/policy"
	"github.com/terravet/terravet/pkg/pricing"
	"github.com/terravet/terravet/pkg/tfconfig"
)

const bareBucket = `
resource "aws_s3_bucket" "logs" {
  bucket = "acme-logs"
}
`

const compliantBucket = `
resource "aws_s3_bucket" "logs" {
  bucket = "acme-logs"

  tags = {
    Team = "platform"
  }
}

resource "aws_s3_bucket_public_access_block" "logs" {
  bucket                  = aws_s3_bucket.logs.id
  block_public_acls       = true
  block_public_policy     = true
  ignore_public_acls      = true
  restrict_public_buckets = true
}

resource "aws_s3_bucket_server_side_encryption_configuration" "logs" {
  bucket = aws_s3_bucket.logs.id

  rule {
    apply_server_side_encryption_by_default {
      sse_algorithm = "AES256"
    }
  }
}

resource "aws_s3_bucket_versioning" "logs" {
  bucket = aws_s3_bucket.logs.id

  versioning_configuration {
    status = "Enabled"
  }
}
`

const openSecurityGroup = `
resource "aws_security_group" "ssh" {
  name = "allow-ssh"

  ingress {
    from_port   = 22
    to_port     = 22
    protocol    = "tcp"
    cidr_blocks = ["0.0.0.0/0"]
  }

  tags = {
    Team = "platform"
  }
}
`

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	registry, err := policy.NewDefaultRegistry(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewDefaultRegistry: %v", err)
	}
	return NewEngine(registry, pricing.NewCatalog(), zerolog.Nop(), nil)
}

func TestAuditBareBucket(t *testing.T) {
	engine := newTestEngine(t)

	result, err := engine.Audit(context.Background(), bareBucket, nil)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}

	// One CRITICAL (public access block), one HIGH (encryption), one
	// MEDIUM (versioning), one LOW (tags): 100-25-15-5-2 = 53.
	if result.Score != 53 {
		t.Errorf("score = %d, want 53", result.Score)
	}
	if result.TotalIssues != 4 {
		t.Fatalf("total issues = %d, want 4", result.TotalIssues)
	}
	if result.CriticalCount != 1 || result.HighCount != 1 || result.MediumCount != 1 || result.LowCount != 1 {
		t.Errorf("severity counts = %d/%d/%d/%d, want 1/1/1/1",
			result.CriticalCount, result.HighCount, result.MediumCount, result.LowCount)
	}

	first := result.Violations[0]
	if first.PolicyCode != "S3_PUBLIC_ACCESS_BLOCK" {
		t.Errorf("first violation = %s, want S3_PUBLIC_ACCESS_BLOCK", first.PolicyCode)
	}
	if first.ResourceRef != "aws_s3_bucket.logs" {
		t.Errorf("first violation ref = %s", first.ResourceRef)
	}
	if !first.AutoFixable {
		t.Error("public access block violation should be auto-fixable")
	}

	last := result.Violations[len(result.Violations)-1]
	if last.PolicyCode != "MISSING_TAGS" || last.ResourceRef != policy.TemplateRef {
		t.Errorf("last violation = %s on %s, want template-wide MISSING_TAGS", last.PolicyCode, last.ResourceRef)
	}

	if len(result.PolicyFailures) != 0 {
		t.Errorf("unexpected policy failures: %v", result.PolicyFailures)
	}
	for _, code := range result.PassedChecks {
		if code == "S3_PUBLIC_ACCESS_BLOCK" {
			t.Error("failing policy listed as passed")
		}
	}
}

func TestAuditEmptyConfig(t *testing.T) {
	engine := newTestEngine(t)

	result, err := engine.Audit(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if result.Score != 100 {
		t.Errorf("score = %d, want 100", result.Score)
	}
	if result.TotalIssues != 0 || result.ResourceCount != 0 {
		t.Errorf("issues = %d, resources = %d, want 0/0", result.TotalIssues, result.ResourceCount)
	}
	if len(result.PassedChecks) == 0 {
		t.Error("expected all active policies to pass")
	}
	if result.Cost == nil || result.Cost.TotalMonthly != 0 {
		t.Errorf("cost = %+v, want zero total", result.Cost)
	}
}

func TestAuditScoreClampsAtZero(t *testing.T) {
	engine := newTestEngine(t)

	var sb strings.Builder
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		sb.WriteString(`
resource "aws_s3_bucket" "` + name + `" {
  bucket = "acme-` + name + `"
}
`)
	}

	result, err := engine.Audit(context.Background(), sb.String(), nil)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if result.CriticalCount != 5 {
		t.Fatalf("critical count = %d, want 5", result.CriticalCount)
	}
	if result.Score != 0 {
		t.Errorf("score = %d, want 0 (clamped)", result.Score)
	}
}

func TestAuditAddingViolationNeverRaisesScore(t *testing.T) {
	engine := newTestEngine(t)

	base, err := engine.Audit(context.Background(), compliantBucket, nil)
	if err != nil {
		t.Fatalf("Audit base: %v", err)
	}
	worse, err := engine.Audit(context.Background(), compliantBucket+openSecurityGroup, nil)
	if err != nil {
		t.Fatalf("Audit worse: %v", err)
	}

	if base.Score != 100 {
		t.Errorf("base score = %d, want 100", base.Score)
	}
	if worse.Score > base.Score {
		t.Errorf("score rose from %d to %d after adding a critical finding", base.Score, worse.Score)
	}
	if worse.CriticalCount != base.CriticalCount+1 {
		t.Errorf("critical count = %d, want %d", worse.CriticalCount, base.CriticalCount+1)
	}
}

func TestAuditIsolatesFailingPolicies(t *testing.T) {
	defs := []policy.Definition{
		{
			Code: "GOOD", Name: "good", Severity: policy.SeverityLow, Category: policy.CategorySecurity,
			Check: func(cfg *tfconfig.Config, raw string) ([]policy.Violation, error) {
				return []policy.Violation{{
					PolicyCode: "GOOD", ResourceRef: "aws_s3_bucket.logs",
					Severity: policy.SeverityLow, Category: policy.CategorySecurity,
				}}, nil
			},
		},
		{
			Code: "ERRORS", Name: "errors", Severity: policy.SeverityHigh, Category: policy.CategorySecurity,
			Check: func(cfg *tfconfig.Config, raw string) ([]policy.Violation, error) {
				return nil, context.DeadlineExceeded
			},
		},
		{
			Code: "PANICS", Name: "panics", Severity: policy.SeverityHigh, Category: policy.CategorySecurity,
			Check: func(cfg *tfconfig.Config, raw string) ([]policy.Violation, error) {
				panic("boom")
			},
		},
	}
	registry, err := policy.NewRegistry(zerolog.Nop(), defs)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	engine := NewEngine(registry, nil, zerolog.Nop(), nil)

	result, err := engine.Audit(context.Background(), bareBucket, nil)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}

	if len(result.PolicyFailures) != 2 {
		t.Fatalf("policy failures = %d, want 2: %+v", len(result.PolicyFailures), result.PolicyFailures)
	}
	failed := map[string]bool{}
	for _, f := range result.PolicyFailures {
		failed[f.PolicyCode] = true
		if f.Message == "" {
			t.Errorf("failure %s has empty message", f.PolicyCode)
		}
	}
	if !failed["ERRORS"] || !failed["PANICS"] {
		t.Errorf("failures = %v, want ERRORS and PANICS", failed)
	}

	if result.TotalIssues != 1 || result.Violations[0].PolicyCode != "GOOD" {
		t.Errorf("expected the surviving policy finding, got %+v", result.Violations)
	}
	// Failed policies penalize neither the score nor the passed list.
	if result.Score != 98 {
		t.Errorf("score = %d, want 98", result.Score)
	}
	for _, code := range result.PassedChecks {
		if code == "ERRORS" || code == "PANICS" {
			t.Errorf("failed policy %s listed as passed", code)
		}
	}
}

func TestAuditActivationDisablesPolicy(t *testing.T) {
	engine := newTestEngine(t)

	opts := &Options{Activation: policy.Activation{"S3_PUBLIC_ACCESS_BLOCK": false}}
	result, err := engine.Audit(context.Background(), bareBucket, opts)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	for _, v := range result.Violations {
		if v.PolicyCode == "S3_PUBLIC_ACCESS_BLOCK" {
			t.Fatal("disabled policy still produced findings")
		}
	}
	// Without the CRITICAL: 100-15-5-2 = 78.
	if result.Score != 78 {
		t.Errorf("score = %d, want 78", result.Score)
	}
}

func TestAuditCostReport(t *testing.T) {
	engine := newTestEngine(t)

	content := `
resource "aws_instance" "web" {
  instance_type = "t3.micro"
}

resource "aws_ebs_volume" "data" {
  size = 100
  type = "gp2"
}

resource "aws_cloudwatch_log_group" "app" {
  name = "app"
}
`
	result, err := engine.Audit(context.Background(), content, nil)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if result.Cost == nil {
		t.Fatal("expected a cost report")
	}
	if len(result.Cost.Items) != 3 {
		t.Fatalf("cost items = %d, want 3", len(result.Cost.Items))
	}

	var unestimable *CostItem
	var total float64
	for i := range result.Cost.Items {
		item := &result.Cost.Items[i]
		if item.Unestimable {
			unestimable = item
			continue
		}
		if item.MonthlyCost <= 0 {
			t.Errorf("%s priced at %f, want > 0", item.ResourceRef, item.MonthlyCost)
		}
		total += item.MonthlyCost
	}
	if unestimable == nil || unestimable.ResourceType != "aws_cloudwatch_log_group" {
		t.Fatalf("expected the log group to be unestimable, got %+v", unestimable)
	}
	if unestimable.MonthlyCost != 0 {
		t.Errorf("unestimable item cost = %f, want 0", unestimable.MonthlyCost)
	}
	if got := pricing.Round2(total); result.Cost.TotalMonthly != got {
		t.Errorf("total = %f, want sum of estimable items %f", result.Cost.TotalMonthly, got)
	}
	if result.Cost.ByType["aws_ebs_volume"] != 10.0 {
		t.Errorf("gp2 100GiB = %f, want 10.00", result.Cost.ByType["aws_ebs_volume"])
	}
}

func TestAuditInventoryRecords(t *testing.T) {
	engine := newTestEngine(t)

	records := []inventory.Record{
		{
			Type:   "aws_instance",
			Name:   "i-0abc123",
			Region: "us-east-1",
			Properties: map[string]interface{}{
				"instance_type":               "t3.micro",
				"associate_public_ip_address": true,
			},
		},
	}

	result, err := engine.AuditInventory(context.Background(), records, nil)
	if err != nil {
		t.Fatalf("AuditInventory: %v", err)
	}
	if result.ResourceCount != 1 {
		t.Fatalf("resource count = %d, want 1", result.ResourceCount)
	}

	var found bool
	for _, v := range result.Violations {
		if v.PolicyCode == "INSTANCE_PUBLIC_IP" && v.ResourceRef == "aws_instance.i-0abc123" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected INSTANCE_PUBLIC_IP finding, got %+v", result.Violations)
	}
}

func TestComputeScoreBounds(t *testing.T) {
	tests := []struct {
		name                        string
		critical, high, medium, low int
		want                        int
	}{
		{"clean", 0, 0, 0, 0, 100},
		{"one of each", 1, 1, 1, 1, 53},
		{"clamped low", 10, 0, 0, 0, 0},
		{"exactly zero", 4, 0, 0, 0, 0},
		{"low only", 0, 0, 0, 3, 94},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeScore(tt.critical, tt.high, tt.medium, tt.low)
			if got != tt.want {
				t.Errorf("computeScore(%d,%d,%d,%d) = %d, want %d",
					tt.critical, tt.high, tt.medium, tt.low, got, tt.want)
			}
			if got < 0 || got > 100 {
				t.Errorf("score %d out of bounds", got)
			}
		})
	}
}
