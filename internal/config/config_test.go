package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"kostbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("KOSTBOOK_JWT_SECRET", "s3cret")
	yamlContent := `
app:
  name: kostbook
database:
  path: "test.db"
api:
  enabled: true
  jwt:
    secret: "${KOSTBOOK_JWT_SECRET}"
booking:
  grace_minutes: 20
  lock_timeout: 2s
sweep:
  enabled: true
  interval: 30s
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.API.JWT.Secret)
	assert.True(t, cfg.API.HTTP.Enabled)
	assert.Equal(t, 8080, cfg.API.HTTP.Port)
	assert.Equal(t, 20*time.Minute, cfg.Booking.Grace())
	assert.Equal(t, 2*time.Second, cfg.Booking.LockTimeout)
	assert.Equal(t, 30*time.Second, cfg.Sweep.Interval)
	assert.Equal(t, models.DefaultAdmissionRetries, cfg.Booking.MaxRetries)
	assert.Equal(t, "x-api-key", cfg.API.Auth.HeaderAPIKey)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		c := Config{Database: DatabaseConfig{Path: "db"}}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing db path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "http without jwt secret", mutate: func(c *Config) { c.API.HTTP.Enabled = true }, wantErr: true},
		{name: "negative grace", mutate: func(c *Config) { c.Booking.GraceMinutes = -1 }, wantErr: true},
		{name: "negative retries", mutate: func(c *Config) { c.Booking.MaxRetries = -1 }, wantErr: true},
		{name: "lease shorter than lock wait", mutate: func(c *Config) { c.Booking.LockTTL = time.Second }, wantErr: true},
		{name: "sweep too frequent", mutate: func(c *Config) {
			c.Sweep.Enabled = true
			c.Sweep.Interval = time.Millisecond
		}, wantErr: true},
		{name: "duplicate api keys", mutate: func(c *Config) {
			c.API.Auth.APIKeys = []APIClientKey{{Name: "desk", Key: "k"}, {Name: "ops", Key: "k"}}
		}, wantErr: true},
		{name: "unset api keys are ignored", mutate: func(c *Config) {
			c.API.Auth.APIKeys = []APIClientKey{{Name: "desk"}, {Name: "ops"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseReportsAllProblems(t *testing.T) {
	_, err := Parse([]byte(`
api:
  http:
    enabled: true
booking:
  grace_minutes: -5
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path")
	assert.Contains(t, err.Error(), "api.jwt.secret")
	assert.Contains(t, err.Error(), "grace_minutes")
}

func TestParseRejectsBadYAML(t *testing.T) {
	_, err := Parse([]byte("database: [unterminated"))
	assert.ErrorContains(t, err, "decode config")
}

func TestValidateKosts(t *testing.T) {
	ok := []models.Kost{{ID: 1, Name: "A", PricePerHour: 15000, Rooms: []models.Room{{ID: 1}, {ID: 2}}}}
	assert.NoError(t, ValidateKosts(ok))

	assert.Error(t, ValidateKosts([]models.Kost{{ID: 0, Name: "zero", PricePerHour: 1}}))
	assert.Error(t, ValidateKosts([]models.Kost{{ID: 1, PricePerHour: 1}, {ID: 1, PricePerHour: 1}}))
	assert.Error(t, ValidateKosts([]models.Kost{{ID: 1, PricePerHour: 0}}))
	assert.Error(t, ValidateKosts([]models.Kost{
		{ID: 1, PricePerHour: 1, Rooms: []models.Room{{ID: 5}}},
		{ID: 2, PricePerHour: 1, Rooms: []models.Room{{ID: 5}}},
	}))
}
