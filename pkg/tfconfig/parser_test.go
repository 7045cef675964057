package tfconfig

import (
	"strings"
	"testing"
)

const sampleConfig = `
resource "aws_s3_bucket" "logs" {
  bucket = "corp-logs"

  tags = {
    Team = "platform"
  }
}

resource "aws_ebs_volume" "data" {
  availability_zone = "us-east-1a"
  size              = 600
  type              = "gp2"
  encrypted         = false
}

resource "aws_db_instance" "main" {
  engine               = "postgres"
  instance_class       = "db.t3.medium"
  publicly_accessible  = true
}
`

func TestParse_ExtractsResources(t *testing.T) {
	cfg := Parse(sampleConfig)

	if len(cfg.Resources) != 3 {
		t.Fatalf("expected 3 resources, got %d", len(cfg.Resources))
	}

	bucket := cfg.Resources[0]
	if bucket.FullName != "aws_s3_bucket.logs" {
		t.Errorf("expected full name aws_s3_bucket.logs, got %s", bucket.FullName)
	}
	if name, ok := bucket.StringProperty("bucket"); !ok || name != "corp-logs" {
		t.Errorf("expected bucket property corp-logs, got %q (ok=%v)", name, ok)
	}
	if !strings.Contains(bucket.RawText, `Team = "platform"`) {
		t.Errorf("raw text should include nested tags block content, got: %s", bucket.RawText)
	}
	if bucket.StartLine == 0 || bucket.EndLine <= bucket.StartLine {
		t.Errorf("expected valid line span, got %d-%d", bucket.StartLine, bucket.EndLine)
	}
}

func TestParse_PropertyTypesAreStrict(t *testing.T) {
	cfg := Parse(sampleConfig)
	vol := cfg.Resources[1]

	if size, ok := vol.NumberProperty("size"); !ok || size != 600 {
		t.Errorf("expected size 600, got %v (ok=%v)", size, ok)
	}
	if enc, ok := vol.BoolProperty("encrypted"); !ok || enc {
		t.Errorf("expected encrypted=false, got %v (ok=%v)", enc, ok)
	}

	// Wrong-typed reads must resolve to absent, never coerce.
	if _, ok := vol.StringProperty("size"); ok {
		t.Error("numeric property must not resolve as string")
	}
	if _, ok := vol.BoolProperty("type"); ok {
		t.Error("string property must not resolve as bool")
	}
	if _, ok := vol.NumberProperty("encrypted"); ok {
		t.Error("bool property must not resolve as number")
	}
}

func TestParse_ByType(t *testing.T) {
	cfg := Parse(sampleConfig)

	buckets := cfg.ByType("aws_s3_bucket")
	if len(buckets) != 1 || buckets[0].Name != "logs" {
		t.Fatalf("expected one bucket named logs, got %+v", buckets)
	}
	if got := cfg.ByType("aws_lambda_function"); len(got) != 0 {
		t.Fatalf("expected no lambdas, got %d", len(got))
	}
}

func TestParse_MalformedInputDegrades(t *testing.T) {
	malformed := `
resource "aws_s3_bucket" "ok" {
  bucket = "fine"
}

resource "aws_instance" "broken" {
  instance_type =
`
	cfg := Parse(malformed)

	// Parsing must not fail outright; the well-formed block survives.
	found := false
	for _, r := range cfg.Resources {
		if r.FullName == "aws_s3_bucket.ok" {
			found = true
		}
	}
	if !found {
		t.Error("well-formed block should survive malformed sibling")
	}
}

func TestParse_GarbageYieldsEmptyConfig(t *testing.T) {
	cfg := Parse("{{{{ not hcl at all %%%")
	if len(cfg.Resources) != 0 {
		t.Fatalf("expected no resources from garbage input, got %d", len(cfg.Resources))
	}
}

func TestParse_DuplicateFullNameFirstWins(t *testing.T) {
	dup := `
resource "aws_s3_bucket" "a" {
  bucket = "first"
}

resource "aws_s3_bucket" "a" {
  bucket = "second"
}
`
	cfg := Parse(dup)
	if len(cfg.Resources) != 1 {
		t.Fatalf("expected duplicate full names collapsed to 1, got %d", len(cfg.Resources))
	}
	if name, _ := cfg.Resources[0].StringProperty("bucket"); name != "first" {
		t.Errorf("first occurrence should win, got %s", name)
	}
}

func TestParse_ReparseIsStableOnFullName(t *testing.T) {
	cfg := Parse(sampleConfig)
	again := Parse(cfg.Source())

	if len(again.Resources) != len(cfg.Resources) {
		t.Fatalf("reparse changed resource count: %d vs %d", len(again.Resources), len(cfg.Resources))
	}
	names := make(map[string]bool)
	for _, r := range cfg.Resources {
		names[r.FullName] = true
	}
	for _, r := range again.Resources {
		if !names[r.FullName] {
			t.Errorf("reparse introduced unknown resource %s", r.FullName)
		}
	}
}

func TestParse_UnevaluableAttributesAreOmitted(t *testing.T) {
	src := `
resource "aws_instance" "web" {
  ami           = var.ami_id
  instance_type = "t3.micro"
}
`
	cfg := Parse(src)
	if len(cfg.Resources) != 1 {
		t.Fatalf("expected 1 resource, got %d", len(cfg.Resources))
	}
	r := cfg.Resources[0]
	if _, ok := r.Properties["ami"]; ok {
		t.Error("variable-referencing attribute must be omitted, not guessed")
	}
	if it, ok := r.StringProperty("instance_type"); !ok || it != "t3.micro" {
		t.Errorf("literal attribute should decode, got %q", it)
	}
}
