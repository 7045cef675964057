package remediation

import (
	"fmt"
	"strings"

	"github.com/terravet/terravet/pkg/policy"
	"github.com/terravet/terravet/pkg/tfconfig"
)

// templateFix produces the canned edit for an auto-fixable finding.
// The second return is false when no template covers the policy code,
// in which case the planner falls through to the suggester.
func templateFix(cfg *tfconfig.Config, v policy.Violation) (Change, bool) {
	res, ok := findResource(cfg, v.ResourceRef)
	if !ok {
		return Change{}, false
	}

	switch v.PolicyCode {
	case "S3_PUBLIC_ACCESS_BLOCK":
		c := newChange(v, SourceTemplate)
		c.Description = fmt.Sprintf("Add a public access block for bucket %q", res.Name)
		c.After = fmt.Sprintf(`resource "aws_s3_bucket_public_access_block" %q {
  bucket = aws_s3_bucket.%s.id

  block_public_acls       = true
  block_public_policy     = true
  ignore_public_acls      = true
  restrict_public_buckets = true
}`, res.Name, res.Name)
		return c, true

	case "S3_ENCRYPTION":
		c := newChange(v, SourceTemplate)
		c.Description = fmt.Sprintf("Enable server-side encryption for bucket %q", res.Name)
		c.After = fmt.Sprintf(`resource "aws_s3_bucket_server_side_encryption_configuration" %q {
  bucket = aws_s3_bucket.%s.id

  rule {
    apply_server_side_encryption_by_default {
      sse_algorithm = "AES256"
    }
  }
}`, res.Name, res.Name)
		return c, true

	case "S3_VERSIONING":
		c := newChange(v, SourceTemplate)
		c.Description = fmt.Sprintf("Enable versioning for bucket %q", res.Name)
		c.After = fmt.Sprintf(`resource "aws_s3_bucket_versioning" %q {
  bucket = aws_s3_bucket.%s.id

  versioning_configuration {
    status = "Enabled"
  }
}`, res.Name, res.Name)
		return c, true

	case "RDS_PUBLIC_ACCESS":
		c := newChange(v, SourceTemplate)
		c.Description = fmt.Sprintf("Make database %q private", res.Name)
		c.Before = res.RawText
		c.After = setAttribute(res.RawText, "publicly_accessible", "false")
		return c, true

	case "RDS_ENCRYPTION":
		c := newChange(v, SourceTemplate)
		c.Description = fmt.Sprintf("Enable storage encryption for database %q", res.Name)
		c.Before = res.RawText
		c.After = setAttribute(res.RawText, "storage_encrypted", "true")
		return c, true

	case "EC2_IMDSV2":
		c := newChange(v, SourceTemplate)
		c.Description = fmt.Sprintf("Require IMDSv2 on instance %q", res.Name)
		c.Before = res.RawText
		if strings.Contains(res.RawText, "http_tokens") {
			c.After = setAttribute(res.RawText, "http_tokens", `"required"`)
		} else {
			c.After = insertBlock(res.RawText, `  metadata_options {
    http_tokens = "required"
  }`)
		}
		return c, true

	case "EBS_ENCRYPTION":
		c := newChange(v, SourceTemplate)
		c.Description = fmt.Sprintf("Enable encryption on volume %q", res.Name)
		c.Before = res.RawText
		c.After = setAttribute(res.RawText, "encrypted", "true")
		return c, true

	case "EBS_GP2_VOLUME":
		c := newChange(v, SourceTemplate)
		c.Description = fmt.Sprintf("Migrate volume %q from gp2 to gp3", res.Name)
		c.Before = res.RawText
		c.After = setAttribute(res.RawText, "type", `"gp3"`)
		return c, true
	}

	return Change{}, false
}

func findResource(cfg *tfconfig.Config, ref string) (tfconfig.ResourceRecord, bool) {
	for _, r := range cfg.Resources {
		if r.FullName == ref {
			return r, true
		}
	}
	return tfconfig.ResourceRecord{}, false
}

// setAttribute rewrites the named top-level attribute in a resource
// block, or inserts it before the closing brace when absent. Existing
// indentation wins over the default two spaces.
func setAttribute(raw, name, value string) string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, name) {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, name))
		if !strings.HasPrefix(rest, "=") {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		lines[i] = fmt.Sprintf("%s%s = %s", indent, name, value)
		return strings.Join(lines, "\n")
	}
	return insertBlock(raw, fmt.Sprintf("  %s = %s", name, value))
}

// insertBlock inserts text just above the resource's closing brace.
func insertBlock(raw, block string) string {
	idx := strings.LastIndex(raw, "}")
	if idx < 0 {
		return raw + "\n" + block
	}
	head := strings.TrimRight(raw[:idx], " \t\n")
	return head + "\n\n" + block + "\n" + raw[idx:]
}
