package ongoingai

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ongoingai/sdk-go/internal/observability"
)

// Config holds all SDK settings. Zero values fall back to Default()
// behavior inside New; callers typically start from Default() or Load.
type Config struct {
	// Endpoint is the ingest base URL; batch paths are appended to it.
	Endpoint string `yaml:"endpoint"`
	// ProjectKey identifies the project and derives the signing key.
	ProjectKey string `yaml:"project_key"`
	// Secret is the legacy signing secret, used only when ProjectKey is empty.
	Secret      string `yaml:"secret"`
	Environment string `yaml:"environment"`
	Release     string `yaml:"release"`

	Flush FlushConfig `yaml:"flush"`

	// Costs overrides or extends the built-in per-token cost table.
	Costs map[string]ModelCost `yaml:"costs"`

	Observability ObservabilityConfig `yaml:"observability"`
}

type FlushConfig struct {
	IntervalMS     int `yaml:"interval_ms"`
	ErrorThreshold int `yaml:"error_threshold"`
}

type ObservabilityConfig struct {
	OTel observability.Config `yaml:"otel"`
}

const (
	defaultEndpoint       = "https://ingest.ongoingai.com"
	defaultEnvironment    = "production"
	defaultFlushInterval  = 5000
	defaultErrorThreshold = 10
)

func Default() Config {
	return Config{
		Endpoint:    defaultEndpoint,
		Environment: defaultEnvironment,
		Flush: FlushConfig{
			IntervalMS:     defaultFlushInterval,
			ErrorThreshold: defaultErrorThreshold,
		},
		Observability: ObservabilityConfig{
			OTel: observability.Default(),
		},
	}
}

// Load reads configuration from an optional YAML file and applies
// environment overrides on top. A missing file is not an error; the
// defaults plus environment apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			decoder := yaml.NewDecoder(bytes.NewReader(data))
			decoder.KnownFields(true)
			decodeErr := decoder.Decode(&cfg)
			if errors.Is(decodeErr, io.EOF) {
				decodeErr = nil
			}
			if decodeErr != nil {
				return Config{}, fmt.Errorf("parse yaml %q: %w", path, decodeErr)
			}
			// Reject multi-document configs to keep runtime configuration
			// unambiguous and avoid hidden trailing documents.
			var trailing any
			trailingErr := decoder.Decode(&trailing)
			if trailingErr != nil && !errors.Is(trailingErr, io.EOF) {
				return Config{}, fmt.Errorf("parse yaml %q: %w", path, trailingErr)
			}
			if trailing != nil {
				return Config{}, fmt.Errorf("parse yaml %q: multiple yaml documents are not supported", path)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks configuration invariants required at runtime.
func Validate(cfg Config) error {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return errors.New("endpoint must not be empty")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	if strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
		return fmt.Errorf("endpoint must include scheme and host (got %q)", cfg.Endpoint)
	}

	if strings.TrimSpace(cfg.Environment) == "" {
		return errors.New("environment must not be empty")
	}

	if cfg.Flush.IntervalMS <= 0 {
		return fmt.Errorf("flush.interval_ms must be > 0 (got %d)", cfg.Flush.IntervalMS)
	}
	if cfg.Flush.ErrorThreshold <= 0 {
		return fmt.Errorf("flush.error_threshold must be > 0 (got %d)", cfg.Flush.ErrorThreshold)
	}

	for model, cost := range cfg.Costs {
		if strings.TrimSpace(model) == "" {
			return errors.New("costs keys must not be empty")
		}
		if cost.Input < 0 || cost.Output < 0 {
			return fmt.Errorf("costs[%q] rates must not be negative", model)
		}
	}

	if err := cfg.Observability.OTel.Validate(); err != nil {
		return err
	}

	return nil
}

func applyEnv(cfg *Config) error {
	if endpoint := os.Getenv("ONGOINGAI_ENDPOINT"); endpoint != "" {
		cfg.Endpoint = endpoint
	}
	if projectKey := os.Getenv("ONGOINGAI_PROJECT_KEY"); projectKey != "" {
		cfg.ProjectKey = projectKey
	}
	if secret := os.Getenv("ONGOINGAI_SECRET"); secret != "" {
		cfg.Secret = secret
	}
	if environment := os.Getenv("ONGOINGAI_ENVIRONMENT"); environment != "" {
		cfg.Environment = environment
	}
	if release := os.Getenv("ONGOINGAI_RELEASE"); release != "" {
		cfg.Release = release
	}

	if interval := os.Getenv("ONGOINGAI_FLUSH_INTERVAL_MS"); interval != "" {
		v, err := strconv.Atoi(interval)
		if err != nil {
			return fmt.Errorf("invalid ONGOINGAI_FLUSH_INTERVAL_MS: %w", err)
		}
		cfg.Flush.IntervalMS = v
	}
	if threshold := os.Getenv("ONGOINGAI_ERROR_THRESHOLD"); threshold != "" {
		v, err := strconv.Atoi(threshold)
		if err != nil {
			return fmt.Errorf("invalid ONGOINGAI_ERROR_THRESHOLD: %w", err)
		}
		cfg.Flush.ErrorThreshold = v
	}

	otelConfigured := false
	otelSDKDisabledSet := false
	if sdkDisabled := strings.TrimSpace(os.Getenv("OTEL_SDK_DISABLED")); sdkDisabled != "" {
		v, err := strconv.ParseBool(sdkDisabled)
		if err != nil {
			return fmt.Errorf("invalid OTEL_SDK_DISABLED: %w", err)
		}
		cfg.Observability.OTel.Enabled = !v
		otelSDKDisabledSet = true
		otelConfigured = true
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		cfg.Observability.OTel.Endpoint = endpoint
		otelConfigured = true
	}
	if insecure := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); insecure != "" {
		v, err := strconv.ParseBool(insecure)
		if err != nil {
			return fmt.Errorf("invalid OTEL_EXPORTER_OTLP_INSECURE: %w", err)
		}
		cfg.Observability.OTel.Insecure = v
		otelConfigured = true
	}
	if serviceName := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")); serviceName != "" {
		cfg.Observability.OTel.ServiceName = serviceName
		otelConfigured = true
	}
	if samplingRatio := strings.TrimSpace(os.Getenv("OTEL_TRACES_SAMPLER_ARG")); samplingRatio != "" {
		v, err := strconv.ParseFloat(samplingRatio, 64)
		if err != nil {
			return fmt.Errorf("invalid OTEL_TRACES_SAMPLER_ARG: %w", err)
		}
		cfg.Observability.OTel.SamplingRatio = v
		otelConfigured = true
	}
	if otelConfigured && !otelSDKDisabledSet {
		cfg.Observability.OTel.Enabled = true
	}

	return nil
}
