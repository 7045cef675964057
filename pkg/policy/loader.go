package policy

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Loader loads custom Rego policies from files and directories and
// adapts them into catalog Definitions.
type Loader struct {
	logger zerolog.Logger
}

// NewLoader creates a policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{logger: logger.With().Str("component", "policy-loader").Logger()}
}

// LoadFromPaths loads every .rego file under the given file or directory
// paths. A file that fails to load is logged and skipped so one bad
// policy does not block the rest of the catalog.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Definition, error) {
	var defs []Definition

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}

		if !info.IsDir() {
			def, err := l.loadFile(ctx, path)
			if err != nil {
				return nil, err
			}
			defs = append(defs, def)
			continue
		}

		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(p, ".rego") {
				return nil
			}
			def, err := l.loadFile(ctx, p)
			if err != nil {
				l.logger.Warn().Err(err).Str("path", p).Msg("Skipping policy file")
				return nil
			}
			defs = append(defs, def)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", path, err)
		}
	}

	l.logger.Info().Int("count", len(defs)).Int("sources", len(paths)).Msg("Custom policies loaded")
	return defs, nil
}

// loadFile reads one Rego policy and its header annotations.
func (l *Loader) loadFile(ctx context.Context, path string) (Definition, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read %s: %w", path, err)
	}

	meta := parseAnnotations(string(src))
	if meta.Code == "" {
		base := strings.TrimSuffix(filepath.Base(path), ".rego")
		meta.Code = strings.ToUpper(strings.ReplaceAll(base, "-", "_"))
	}
	if meta.Name == "" {
		meta.Name = meta.Code
	}

	return compileRegoDefinition(ctx, meta, string(src))
}

// parseAnnotations reads "# terravet:<key>: <value>" header comments.
// Unannotated policies default to MEDIUM severity, COMPLIANCE category,
// and all-provider scope.
func parseAnnotations(source string) Definition {
	meta := Definition{
		Category: CategoryCompliance,
		Severity: SeverityMedium,
		Provider: "all",
	}

	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "# terravet:") {
			continue
		}
		rest := strings.TrimPrefix(trimmed, "# terravet:")
		key, value, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch strings.TrimSpace(key) {
		case "code":
			meta.Code = value
		case "name":
			meta.Name = value
		case "description":
			meta.Description = value
		case "severity":
			meta.Severity = Severity(strings.ToUpper(value))
		case "category":
			meta.Category = Category(strings.ToUpper(value))
		case "provider":
			meta.Provider = value
		}
	}
	return meta
}
