package policy

import (
	"fmt"
	"strings"

	"github.com/terravet/terravet/pkg/tfconfig"
)

// Builtin returns the built-in policy catalog in severity-stable
// registration order. Every check is a short, independent predicate over
// resource records; nested attributes that the parser does not model are
// string-matched inside the record's raw text.
func Builtin() []Definition {
	return []Definition{
		s3PublicAccessBlock(),
		sgOpenIngress(),
		rdsPublicAccess(),
		rdsEncryption(),
		s3Encryption(),
		ebsEncryption(),
		ec2IMDSv2(),
		s3Versioning(),
		rdsBackupRetention(),
		instancePublicIP(),
		missingTags(),
		ebsGP2Volume(),
		ebsLargeVolume(),
	}
}

// referencesBucket reports whether raw text points at the given bucket,
// either by resource address or by literal bucket name.
func referencesBucket(raw string, bucket tfconfig.ResourceRecord) bool {
	if strings.Contains(raw, "aws_s3_bucket."+bucket.Name) {
		return true
	}
	if name, ok := bucket.StringProperty("bucket"); ok && name != "" {
		return strings.Contains(raw, `"`+name+`"`)
	}
	return false
}

// hasCompanion reports whether any resource of companionType references
// the bucket.
func hasCompanion(cfg *tfconfig.Config, companionType string, bucket tfconfig.ResourceRecord) bool {
	for _, c := range cfg.ByType(companionType) {
		if referencesBucket(c.RawText, bucket) {
			return true
		}
	}
	return false
}

func s3PublicAccessBlock() Definition {
	d := Definition{
		Code:        "S3_PUBLIC_ACCESS_BLOCK",
		Name:        "S3 bucket public access block",
		Description: "Every S3 bucket must have an associated public access block resource",
		Category:    CategorySecurity,
		Severity:    SeverityCritical,
		Provider:    "aws",
		AutoFixable: true,
	}
	d.Check = func(cfg *tfconfig.Config, raw string) ([]Violation, error) {
		var out []Violation
		for _, b := range cfg.ByType("aws_s3_bucket") {
			if hasCompanion(cfg, "aws_s3_bucket_public_access_block", b) {
				continue
			}
			out = append(out, Violation{
				PolicyCode:  d.Code,
				ResourceRef: b.FullName,
				Severity:    d.Severity,
				Category:    d.Category,
				Message:     fmt.Sprintf("S3 bucket %q has no public access block", b.Name),
				Suggestion:  "Add an aws_s3_bucket_public_access_block resource blocking all public access",
				AutoFixable: true,
			})
		}
		return out, nil
	}
	return d
}

func s3Encryption() Definition {
	d := Definition{
		Code:        "S3_ENCRYPTION",
		Name:        "S3 bucket server-side encryption",
		Description: "Every S3 bucket must have server-side encryption configured",
		Category:    CategorySecurity,
		Severity:    SeverityHigh,
		Provider:    "aws",
		AutoFixable: true,
	}
	d.Check = func(cfg *tfconfig.Config, raw string) ([]Violation, error) {
		var out []Violation
		for _, b := range cfg.ByType("aws_s3_bucket") {
			if strings.Contains(b.RawText, "server_side_encryption_configuration") {
				continue
			}
			if hasCompanion(cfg, "aws_s3_bucket_server_side_encryption_configuration", b) {
				continue
			}
			out = append(out, Violation{
				PolicyCode:  d.Code,
				ResourceRef: b.FullName,
				Severity:    d.Severity,
				Category:    d.Category,
				Message:     fmt.Sprintf("S3 bucket %q has no server-side encryption", b.Name),
				Suggestion:  "Add an aws_s3_bucket_server_side_encryption_configuration resource with AES256",
				AutoFixable: true,
			})
		}
		return out, nil
	}
	return d
}

func s3Versioning() Definition {
	d := Definition{
		Code:        "S3_VERSIONING",
		Name:        "S3 bucket versioning",
		Description: "S3 buckets should have versioning enabled",
		Category:    CategoryReliability,
		Severity:    SeverityMedium,
		Provider:    "aws",
		AutoFixable: true,
	}
	d.Check = func(cfg *tfconfig.Config, raw string) ([]Violation, error) {
		var out []Violation
		for _, b := range cfg.ByType("aws_s3_bucket") {
			if strings.Contains(b.RawText, "versioning") {
				continue
			}
			if hasCompanion(cfg, "aws_s3_bucket_versioning", b) {
				continue
			}
			out = append(out, Violation{
				PolicyCode:  d.Code,
				ResourceRef: b.FullName,
				Severity:    d.Severity,
				Category:    d.Category,
				Message:     fmt.Sprintf("S3 bucket %q has versioning disabled", b.Name),
				Suggestion:  "Add an aws_s3_bucket_versioning resource with status Enabled",
				AutoFixable: true,
			})
		}
		return out, nil
	}
	return d
}

func rdsPublicAccess() Definition {
	d := Definition{
		Code:        "RDS_PUBLIC_ACCESS",
		Name:        "RDS public accessibility",
		Description: "Database instances must not be publicly accessible",
		Category:    CategorySecurity,
		Severity:    SeverityHigh,
		Provider:    "aws",
		AutoFixable: true,
	}
	d.Check = func(cfg *tfconfig.Config, raw string) ([]Violation, error) {
		var out []Violation
		for _, db := range cfg.ByType("aws_db_instance") {
			if public, ok := db.BoolProperty("publicly_accessible"); !ok || !public {
				continue
			}
			out = append(out, Violation{
				PolicyCode:  d.Code,
				ResourceRef: db.FullName,
				Severity:    d.Severity,
				Category:    d.Category,
				Message:     fmt.Sprintf("database %q is publicly accessible", db.Name),
				Suggestion:  "Set publicly_accessible = false",
				AutoFixable: true,
			})
		}
		return out, nil
	}
	return d
}

func rdsEncryption() Definition {
	d := Definition{
		Code:        "RDS_ENCRYPTION",
		Name:        "RDS storage encryption",
		Description: "Database storage must be encrypted at rest",
		Category:    CategorySecurity,
		Severity:    SeverityHigh,
		Provider:    "aws",
		AutoFixable: true,
	}
	d.Check = func(cfg *tfconfig.Config, raw string) ([]Violation, error) {
		var out []Violation
		for _, db := range cfg.ByType("aws_db_instance") {
			if enc, ok := db.BoolProperty("storage_encrypted"); ok && enc {
				continue
			}
			out = append(out, Violation{
				PolicyCode:  d.Code,
				ResourceRef: db.FullName,
				Severity:    d.Severity,
				Category:    d.Category,
				Message:     fmt.Sprintf("database %q has unencrypted storage", db.Name),
				Suggestion:  "Set storage_encrypted = true",
				AutoFixable: true,
			})
		}
		return out, nil
	}
	return d
}

func rdsBackupRetention() Definition {
	d := Definition{
		Code:        "RDS_BACKUP_RETENTION",
		Name:        "RDS backup retention",
		Description: "Database instances should retain backups for at least 7 days",
		Category:    CategoryReliability,
		Severity:    SeverityMedium,
		Provider:    "aws",
	}
	d.Check = func(cfg *tfconfig.Config, raw string) ([]Violation, error) {
		var out []Violation
		for _, db := range cfg.ByType("aws_db_instance") {
			days, ok := db.NumberProperty("backup_retention_period")
			if ok && days >= 7 {
				continue
			}
			out = append(out, Violation{
				PolicyCode:  d.Code,
				ResourceRef: db.FullName,
				Severity:    d.Severity,
				Category:    d.Category,
				Message:     fmt.Sprintf("database %q retains backups for fewer than 7 days", db.Name),
				Suggestion:  "Set backup_retention_period = 7 or higher",
			})
		}
		return out, nil
	}
	return d
}

func ec2IMDSv2() Definition {
	d := Definition{
		Code:        "EC2_IMDSV2",
		Name:        "EC2 instance metadata service v2",
		Description: "Instances must require IMDSv2 session tokens",
		Category:    CategorySecurity,
		Severity:    SeverityHigh,
		Provider:    "aws",
		AutoFixable: true,
	}
	d.Check = func(cfg *tfconfig.Config, raw string) ([]Violation, error) {
		var out []Violation
		for _, inst := range cfg.ByType("aws_instance") {
			if opts, ok := inst.NestedProperty("metadata_options"); ok {
				if tokens, ok := opts["http_tokens"].(string); ok && tokens == "required" {
					continue
				}
			}
			out = append(out, Violation{
				PolicyCode:  d.Code,
				ResourceRef: inst.FullName,
				Severity:    d.Severity,
				Category:    d.Category,
				Message:     fmt.Sprintf("instance %q does not require IMDSv2", inst.Name),
				Suggestion:  `Add a metadata_options block with http_tokens = "required"`,
				AutoFixable: true,
			})
		}
		return out, nil
	}
	return d
}

func ebsEncryption() Definition {
	d := Definition{
		Code:        "EBS_ENCRYPTION",
		Name:        "EBS volume encryption",
		Description: "Block storage volumes must be encrypted",
		Category:    CategorySecurity,
		Severity:    SeverityHigh,
		Provider:    "aws",
		AutoFixable: true,
	}
	d.Check = func(cfg *tfconfig.Config, raw string) ([]Violation, error) {
		var out []Violation
		for _, v := range cfg.ByType("aws_ebs_volume") {
			if enc, ok := v.BoolProperty("encrypted"); ok && enc {
				continue
			}
			out = append(out, Violation{
				PolicyCode:  d.Code,
				ResourceRef: v.FullName,
				Severity:    d.Severity,
				Category:    d.Category,
				Message:     fmt.Sprintf("EBS volume %q is not encrypted", v.Name),
				Suggestion:  "Set encrypted = true",
				AutoFixable: true,
			})
		}
		return out, nil
	}
	return d
}

// gp2 and gp3 per-GiB-month rates used for savings estimates.
const (
	gp2RatePerGiB = 0.10
	gp3RatePerGiB = 0.08
)

func ebsGP2Volume() Definition {
	d := Definition{
		Code:        "EBS_GP2_VOLUME",
		Name:        "EBS gp2 volume",
		Description: "gp2 volumes cost more than gp3 at equal baseline performance",
		Category:    CategoryCost,
		Severity:    SeverityInfo,
		Provider:    "aws",
		AutoFixable: true,
	}
	d.Check = func(cfg *tfconfig.Config, raw string) ([]Violation, error) {
		var out []Violation
		for _, v := range cfg.ByType("aws_ebs_volume") {
			volType, ok := v.StringProperty("type")
			if !ok || volType != "gp2" {
				continue
			}
			size, _ := v.NumberProperty("size")
			savings := size * (gp2RatePerGiB - gp3RatePerGiB)
			out = append(out, Violation{
				PolicyCode:  d.Code,
				ResourceRef: v.FullName,
				Severity:    d.Severity,
				Category:    d.Category,
				Message:     fmt.Sprintf("EBS volume %q uses gp2", v.Name),
				Suggestion:  `Change type to "gp3"`,
				AutoFixable: true,
				Metadata:    map[string]interface{}{"monthlySavings": savings},
			})
		}
		return out, nil
	}
	return d
}

func ebsLargeVolume() Definition {
	d := Definition{
		Code:        "EBS_LARGE_VOLUME",
		Name:        "Large EBS volume",
		Description: "Volumes above 500 GiB are flagged with their estimated monthly cost",
		Category:    CategoryCost,
		Severity:    SeverityInfo,
		Provider:    "aws",
	}
	d.Check = func(cfg *tfconfig.Config, raw string) ([]Violation, error) {
		var out []Violation
		for _, v := range cfg.ByType("aws_ebs_volume") {
			size, ok := v.NumberProperty("size")
			if !ok || size <= 500 {
				continue
			}
			rate := gp3RatePerGiB
			if volType, ok := v.StringProperty("type"); !ok || volType == "gp2" {
				rate = gp2RatePerGiB
			}
			out = append(out, Violation{
				PolicyCode:  d.Code,
				ResourceRef: v.FullName,
				Severity:    d.Severity,
				Category:    d.Category,
				Message:     fmt.Sprintf("EBS volume %q is %.0f GiB", v.Name, size),
				Suggestion:  "Confirm the volume size is required",
				Metadata:    map[string]interface{}{"monthlyCost": size * rate},
			})
		}
		return out, nil
	}
	return d
}

func sgOpenIngress() Definition {
	d := Definition{
		Code:        "SG_OPEN_INGRESS",
		Name:        "Security group open ingress",
		Description: "Security groups must not expose admin ports to the world",
		Category:    CategorySecurity,
		Severity:    SeverityCritical,
		Provider:    "aws",
	}
	d.Check = func(cfg *tfconfig.Config, raw string) ([]Violation, error) {
		var out []Violation
		for _, sg := range cfg.ByType("aws_security_group") {
			if !strings.Contains(sg.RawText, "0.0.0.0/0") {
				continue
			}
			if !exposesAdminPort(sg) {
				continue
			}
			out = append(out, Violation{
				PolicyCode:  d.Code,
				ResourceRef: sg.FullName,
				Severity:    d.Severity,
				Category:    d.Category,
				Message:     fmt.Sprintf("security group %q exposes an admin port to 0.0.0.0/0", sg.Name),
				Suggestion:  "Restrict the ingress CIDR to trusted networks",
			})
		}
		return out, nil
	}
	return d
}

// exposesAdminPort looks for SSH/RDP or all-port ingress. The parser
// models only the first ingress block, so the raw text is checked too.
func exposesAdminPort(sg tfconfig.ResourceRecord) bool {
	if ingress, ok := sg.NestedProperty("ingress"); ok {
		if port, ok := ingress["from_port"].(float64); ok {
			if port == 22 || port == 3389 || port == 0 {
				return true
			}
		}
	}
	for _, marker := range []string{"from_port         = 22", "from_port = 22", "from_port = 3389", "from_port = 0"} {
		if strings.Contains(sg.RawText, marker) {
			return true
		}
	}
	return false
}

func instancePublicIP() Definition {
	d := Definition{
		Code:        "INSTANCE_PUBLIC_IP",
		Name:        "Instance public IP",
		Description: "Instances should not auto-assign public IP addresses",
		Category:    CategorySecurity,
		Severity:    SeverityMedium,
		Provider:    "aws",
	}
	d.Check = func(cfg *tfconfig.Config, raw string) ([]Violation, error) {
		var out []Violation
		for _, inst := range cfg.ByType("aws_instance") {
			if public, ok := inst.BoolProperty("associate_public_ip_address"); !ok || !public {
				continue
			}
			out = append(out, Violation{
				PolicyCode:  d.Code,
				ResourceRef: inst.FullName,
				Severity:    d.Severity,
				Category:    d.Category,
				Message:     fmt.Sprintf("instance %q auto-assigns a public IP", inst.Name),
				Suggestion:  "Set associate_public_ip_address = false and front with a load balancer",
			})
		}
		return out, nil
	}
	return d
}

// taggableTypes are the resource kinds the tagging policy applies to.
var taggableTypes = []string{
	"aws_s3_bucket",
	"aws_instance",
	"aws_db_instance",
	"aws_ebs_volume",
	"aws_security_group",
}

func missingTags() Definition {
	d := Definition{
		Code:        "MISSING_TAGS",
		Name:        "Resource tagging",
		Description: "Taggable resources must carry tags for cost attribution",
		Category:    CategoryCompliance,
		Severity:    SeverityLow,
		Provider:    "aws",
	}
	d.Check = func(cfg *tfconfig.Config, raw string) ([]Violation, error) {
		var untagged []tfconfig.ResourceRecord
		taggable := 0
		for _, t := range taggableTypes {
			for _, r := range cfg.ByType(t) {
				taggable++
				if _, ok := r.NestedProperty("tags"); ok {
					continue
				}
				untagged = append(untagged, r)
			}
		}

		// When nothing in the whole configuration is tagged the finding is
		// template-wide; otherwise each untagged resource is reported.
		if taggable > 0 && len(untagged) == taggable {
			return []Violation{{
				PolicyCode:  d.Code,
				ResourceRef: TemplateRef,
				Severity:    d.Severity,
				Category:    d.Category,
				Message:     "no resource in this configuration carries tags",
				Suggestion:  "Adopt a tagging standard (Team, Environment, CostCenter)",
			}}, nil
		}

		var out []Violation
		for _, r := range untagged {
			out = append(out, Violation{
				PolicyCode:  d.Code,
				ResourceRef: r.FullName,
				Severity:    d.Severity,
				Category:    d.Category,
				Message:     fmt.Sprintf("%s has no tags", r.FullName),
				Suggestion:  "Add a tags block",
			})
		}
		return out, nil
	}
	return d
}
