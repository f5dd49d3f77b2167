// Package config loads the warehouse configuration.
//
// Sources, later ones winning:
//  1. dwh.cfg, an INI file with [CLUSTER], [IAM_ROLE], [S3], [AWS],
//     [WAREHOUSE] and [METRICS] sections. Key names are case-insensitive;
//     values may be wrapped in single or double quotes.
//  2. DWH_* environment variables.
//  3. Defaults, for anything still empty.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/go-ini/ini"
	"github.com/ilyakaznacheev/cleanenv"

	"dwh/internal/queries"
	"dwh/internal/schema"
)

// Config is the whole configuration, one struct per INI section.
type Config struct {
	Cluster   Cluster   `ini:"CLUSTER"`
	IAMRole   IAMRole   `ini:"IAM_ROLE"`
	S3        S3        `ini:"S3"`
	AWS       AWS       `ini:"AWS"`
	Warehouse Warehouse `ini:"WAREHOUSE"`
	Metrics   Metrics   `ini:"METRICS"`
}

// Cluster holds the connection settings of a Redshift or Postgres endpoint.
type Cluster struct {
	Host       string `ini:"host" env:"DWH_HOST"`
	DBName     string `ini:"db_name" env:"DWH_DB_NAME"`
	DBUser     string `ini:"db_user" env:"DWH_DB_USER"`
	DBPassword string `ini:"db_password" env:"DWH_DB_PASSWORD"`
	DBPort     int    `ini:"db_port" env:"DWH_DB_PORT" env-default:"5439"`
}

// IAMRole is the role the warehouse assumes to read object storage.
type IAMRole struct {
	ARN string `ini:"arn" env:"DWH_IAM_ROLE_ARN"`
}

// S3 locates the source data.
type S3 struct {
	LogData     string `ini:"log_data" env:"DWH_LOG_DATA"`
	LogJSONPath string `ini:"log_jsonpath" env:"DWH_LOG_JSONPATH"`
	SongData    string `ini:"song_data" env:"DWH_SONG_DATA"`
	Region      string `ini:"region" env:"DWH_REGION" env-default:"us-west-2"`
}

// AWS holds credentials for reading S3 directly, when the warehouse has no
// native COPY. Empty keys fall back to the default AWS credential chain.
type AWS struct {
	Key          string `ini:"key" env:"DWH_AWS_KEY"`
	Secret       string `ini:"secret" env:"DWH_AWS_SECRET"`
	SessionToken string `ini:"session_token" env:"DWH_AWS_SESSION_TOKEN"`
	Anonymous    bool   `ini:"anonymous" env:"DWH_S3_ANONYMOUS"`
	Endpoint     string `ini:"endpoint" env:"DWH_S3_ENDPOINT"`
}

// Warehouse selects the backend and tunes the run.
type Warehouse struct {
	Kind           string `ini:"kind" env:"DWH_WAREHOUSE_KIND" env-default:"redshift"`
	DSN            string `ini:"dsn" env:"DWH_WAREHOUSE_DSN"`
	KeyConflict    string `ini:"key_conflict" env:"DWH_KEY_CONFLICT" env-default:"first_wins"`
	MaxErrors      int    `ini:"max_errors" env:"DWH_MAX_ERRORS"`
	Parallel       bool   `ini:"parallel" env:"DWH_PARALLEL"`
	ConnectRetries int    `ini:"connect_retries" env:"DWH_CONNECT_RETRIES"`
	BatchSize      int    `ini:"batch_size" env:"DWH_BATCH_SIZE" env-default:"5000"`
	LoadWorkers    int    `ini:"load_workers" env:"DWH_LOAD_WORKERS" env-default:"4"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	Backend        string `ini:"backend" env:"DWH_METRICS_BACKEND" env-default:"none"`
	PushgatewayURL string `ini:"pushgateway_url" env:"DWH_PUSHGATEWAY_URL"`
	Job            string `ini:"job" env:"DWH_METRICS_JOB" env-default:"dwh"`
	Tags           string `ini:"tags" env:"DWH_METRICS_TAGS"`
}

// Metrics backends.
const (
	MetricsNone        = "none"
	MetricsPushgateway = "pushgateway"
	MetricsDatadog     = "datadog"
)

// Load reads path, then applies environment overrides and defaults. An empty
// path skips the file.
func Load(path string) (*Config, error) {
	if path == "" {
		return fromINI(nil)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return fromINI(path)
}

// Parse is Load for INI content already in memory.
func Parse(data []byte) (*Config, error) {
	return fromINI(data)
}

// defaultConnectRetries is set before the file is read, since zero is a
// valid value that env-default would overwrite.
const defaultConnectRetries = 5

func fromINI(src any) (*Config, error) {
	cfg := &Config{Warehouse: Warehouse{ConnectRetries: defaultConnectRetries}}
	if src != nil {
		f, err := ini.LoadSources(ini.LoadOptions{InsensitiveKeys: true}, src)
		if err != nil {
			return nil, fmt.Errorf("config: parse ini: %w", err)
		}
		if err := f.MapTo(cfg); err != nil {
			return nil, fmt.Errorf("config: map ini: %w", err)
		}
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	cfg.trimQuotes()
	return cfg, nil
}

// trimQuotes strips one pair of surrounding quotes from values that arrive
// quoted through the environment.
func (c *Config) trimQuotes() {
	for _, p := range []*string{
		&c.Cluster.Host, &c.Cluster.DBName, &c.Cluster.DBUser, &c.Cluster.DBPassword,
		&c.IAMRole.ARN,
		&c.S3.LogData, &c.S3.LogJSONPath, &c.S3.SongData, &c.S3.Region,
		&c.AWS.Key, &c.AWS.Secret, &c.AWS.SessionToken, &c.AWS.Endpoint,
		&c.Warehouse.Kind, &c.Warehouse.DSN, &c.Warehouse.KeyConflict,
		&c.Metrics.Backend, &c.Metrics.PushgatewayURL, &c.Metrics.Job, &c.Metrics.Tags,
	} {
		*p = unquote(strings.TrimSpace(*p))
	}
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// Sources returns the values the load statements are built from.
func (c *Config) Sources() queries.Sources {
	return queries.Sources{
		LogData:     c.S3.LogData,
		LogJSONPath: c.S3.LogJSONPath,
		SongData:    c.S3.SongData,
		IAMRole:     c.IAMRole.ARN,
		Region:      c.S3.Region,
		MaxErrors:   c.Warehouse.MaxErrors,
	}
}

// Options returns the transform options.
func (c *Config) Options() (queries.Options, error) {
	kc, err := schema.ParseKeyConflict(c.Warehouse.KeyConflict)
	if err != nil {
		return queries.Options{}, err
	}
	return queries.Options{KeyConflict: kc}, nil
}

// DSN returns Warehouse.DSN with environment variables expanded, or, for
// redshift and postgres, a URL built from [CLUSTER].
func (c *Config) DSN() string {
	if c.Warehouse.DSN != "" {
		return os.ExpandEnv(c.Warehouse.DSN)
	}
	switch c.Warehouse.Kind {
	case "redshift", "postgres":
	default:
		return ""
	}
	if c.Cluster.Host == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Cluster.Host, strconv.Itoa(c.Cluster.DBPort)),
		Path:   "/" + c.Cluster.DBName,
	}
	if c.Cluster.DBUser != "" {
		u.User = url.UserPassword(c.Cluster.DBUser, c.Cluster.DBPassword)
	}
	if c.Warehouse.Kind == "redshift" {
		u.RawQuery = "sslmode=require"
	}
	return u.String()
}
