package devops

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// DeviceEntry maps one terminal to its tenant and local credentials.
// The history poller uses Host/Username/Password to reach the
// terminal's own API; the cloud uses Tenant to route events.
type DeviceEntry struct {
	ID       string `yaml:"id"`
	Tenant   string `yaml:"tenant"`
	Host     string `yaml:"host"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type TenantEntry struct {
	ID       string `yaml:"id"`
	Timezone string `yaml:"timezone"`
}

type RegistryConfig struct {
	Devices []DeviceEntry `yaml:"devices"`
	Tenants []TenantEntry `yaml:"tenants"`
}

// Registry is the resolved device/tenant configuration, loaded once
// at startup. Lookups are by lower-cased device id.
type Registry struct {
	devices map[string]DeviceEntry
	tenants map[string]*time.Location
}

var (
	once     sync.Once
	registry *Registry
	loadErr  error
)

// LoadRegistry loads the registry from the SSM parameter named by
// AICLOCK_REGISTRY_PARAM (default "aiclock-registry"), or from the
// YAML file named by AICLOCK_REGISTRY_FILE when set. The file path
// takes precedence so edge boxes can run without AWS credentials.
func LoadRegistry(ctx context.Context) (*Registry, error) {
	once.Do(func() {
		var raw []byte

		if path := os.Getenv("AICLOCK_REGISTRY_FILE"); path != "" {
			raw, loadErr = os.ReadFile(path)
			if loadErr != nil {
				loadErr = fmt.Errorf("read registry file: %w", loadErr)
				return
			}
		} else {
			paramName := os.Getenv("AICLOCK_REGISTRY_PARAM")
			if paramName == "" {
				paramName = "aiclock-registry"
			}

			cfg, err := config.LoadDefaultConfig(ctx)
			if err != nil {
				loadErr = fmt.Errorf("load aws config: %w", err)
				return
			}

			client := ssm.NewFromConfig(cfg)

			out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
				Name:           aws.String(paramName),
				WithDecryption: aws.Bool(true),
			})
			if err != nil {
				loadErr = fmt.Errorf("get parameter: %w", err)
				return
			}
			raw = []byte(*out.Parameter.Value)
		}

		var parsed RegistryConfig
		if err := yaml.Unmarshal(raw, &parsed); err != nil {
			loadErr = fmt.Errorf("unmarshal yaml: %w", err)
			return
		}

		registry, loadErr = NewRegistry(&parsed)
	})

	return registry, loadErr
}

// NewRegistry resolves a parsed config into lookup form.
func NewRegistry(cfg *RegistryConfig) (*Registry, error) {
	r := &Registry{
		devices: make(map[string]DeviceEntry, len(cfg.Devices)),
		tenants: make(map[string]*time.Location, len(cfg.Tenants)),
	}

	for _, d := range cfg.Devices {
		if d.ID == "" {
			return nil, fmt.Errorf("device entry with empty id")
		}
		r.devices[strings.ToLower(d.ID)] = d
	}

	for _, t := range cfg.Tenants {
		loc := time.UTC
		if t.Timezone != "" {
			var err error
			loc, err = time.LoadLocation(t.Timezone)
			if err != nil {
				return nil, fmt.Errorf("tenant %s: invalid timezone %q: %w", t.ID, t.Timezone, err)
			}
		}
		r.tenants[t.ID] = loc
	}

	return r, nil
}

// Device looks up a terminal by id (case-insensitive).
func (r *Registry) Device(id string) (DeviceEntry, bool) {
	d, ok := r.devices[strings.ToLower(id)]
	return d, ok
}

// Devices returns all registered terminals.
func (r *Registry) Devices() []DeviceEntry {
	out := make([]DeviceEntry, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

// TenantLocation returns the tenant's timezone, defaulting to UTC for
// tenants without an explicit entry.
func (r *Registry) TenantLocation(tenant string) *time.Location {
	if loc, ok := r.tenants[tenant]; ok {
		return loc
	}
	return time.UTC
}

// Tenants lists the tenant ids with registry entries.
func (r *Registry) Tenants() []string {
	out := make([]string, 0, len(r.tenants))
	for t := range r.tenants {
		out = append(out, t)
	}
	return out
}
