package config

import (
	"fmt"
	"os"
	"strings"

	"dwh/internal/schema"
	"dwh/internal/source"
	"dwh/internal/storage"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path names the INI key, e.g.
// "S3.LOG_DATA".
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate checks c before any statement is built. Warnings do not stop a
// run.
//
// Edge cases:
//   - The warehouse kind must be registered; callers import the backends
//     (dwh/internal/storage/all) before validating.
//   - Source locations are checked for form only, never fetched.
func Validate(c *Config) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, args ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	kind := c.Warehouse.Kind
	if _, err := storage.DialectFor(kind); err != nil {
		add(SeverityError, "WAREHOUSE.KIND", "unsupported warehouse kind %q (registered: %s)", kind, strings.Join(storage.Kinds(), ", "))
	}
	nativeCopy := kind == "redshift"

	for _, loc := range []struct {
		path, value string
	}{
		{"S3.LOG_DATA", c.S3.LogData},
		{"S3.LOG_JSONPATH", c.S3.LogJSONPath},
		{"S3.SONG_DATA", c.S3.SongData},
	} {
		if loc.value == "" {
			add(SeverityError, loc.path, "is required")
			continue
		}
		l, err := source.ParseURI(loc.value)
		if err != nil {
			add(SeverityError, loc.path, "%v", err)
			continue
		}
		if nativeCopy && l.Scheme != source.SchemeS3 {
			add(SeverityError, loc.path, "redshift COPY reads only s3:// locations, got %q", loc.value)
		}
	}

	if nativeCopy {
		switch {
		case c.IAMRole.ARN == "":
			add(SeverityError, "IAM_ROLE.ARN", "is required for redshift COPY")
		case !strings.HasPrefix(c.IAMRole.ARN, "arn:"):
			add(SeverityWarning, "IAM_ROLE.ARN", "%q does not look like an ARN", c.IAMRole.ARN)
		}
		if c.S3.Region == "" {
			add(SeverityError, "S3.REGION", "is required for redshift COPY")
		}
	}

	if c.Warehouse.DSN == "" {
		switch kind {
		case "redshift", "postgres":
			for _, f := range []struct {
				path, value string
			}{
				{"CLUSTER.HOST", c.Cluster.Host},
				{"CLUSTER.DB_NAME", c.Cluster.DBName},
				{"CLUSTER.DB_USER", c.Cluster.DBUser},
			} {
				if f.value == "" {
					add(SeverityError, f.path, "is required when WAREHOUSE.DSN is empty")
				}
			}
			if c.Cluster.DBPassword == "" {
				add(SeverityWarning, "CLUSTER.DB_PASSWORD", "is empty")
			}
		default:
			add(SeverityError, "WAREHOUSE.DSN", "is required for kind %q", kind)
		}
	}
	if c.Cluster.DBPort <= 0 || c.Cluster.DBPort > 65535 {
		add(SeverityError, "CLUSTER.DB_PORT", "must be in 1..65535, got %d", c.Cluster.DBPort)
	}

	if (c.AWS.Key == "") != (c.AWS.Secret == "") {
		add(SeverityError, "AWS.KEY", "KEY and SECRET must be set together")
	}
	if c.AWS.Anonymous && c.AWS.Key != "" {
		add(SeverityWarning, "AWS.ANONYMOUS", "static credentials are ignored for anonymous access")
	}

	if _, err := schema.ParseKeyConflict(c.Warehouse.KeyConflict); err != nil {
		add(SeverityError, "WAREHOUSE.KEY_CONFLICT", "%v", err)
	}
	if c.Warehouse.MaxErrors < 0 {
		add(SeverityError, "WAREHOUSE.MAX_ERRORS", "must be >= 0, got %d", c.Warehouse.MaxErrors)
	}
	if c.Warehouse.ConnectRetries < 0 {
		add(SeverityError, "WAREHOUSE.CONNECT_RETRIES", "must be >= 0, got %d", c.Warehouse.ConnectRetries)
	}
	if c.Warehouse.BatchSize <= 0 {
		add(SeverityError, "WAREHOUSE.BATCH_SIZE", "must be > 0, got %d", c.Warehouse.BatchSize)
	}
	if c.Warehouse.LoadWorkers <= 0 {
		add(SeverityError, "WAREHOUSE.LOAD_WORKERS", "must be > 0, got %d", c.Warehouse.LoadWorkers)
	}

	switch c.Metrics.Backend {
	case MetricsNone, "":
	case MetricsPushgateway:
		if c.Metrics.PushgatewayURL == "" {
			add(SeverityError, "METRICS.PUSHGATEWAY_URL", "is required for backend %q", MetricsPushgateway)
		}
	case MetricsDatadog:
		if strings.TrimSpace(os.Getenv("DD_API_KEY")) == "" {
			add(SeverityWarning, "METRICS.BACKEND", "datadog selected but DD_API_KEY is not set; metrics will be disabled")
		}
	default:
		add(SeverityError, "METRICS.BACKEND", "unknown backend %q (want %s, %s or %s)", c.Metrics.Backend, MetricsNone, MetricsPushgateway, MetricsDatadog)
	}
	return out
}
