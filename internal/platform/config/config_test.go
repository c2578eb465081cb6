package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr string
		check   func(*testing.T, Config)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, ":8080", cfg.Server.Addr)
				assert.Empty(t, cfg.Database.URL)
				assert.Empty(t, cfg.Kafka.Brokers)
				assert.Equal(t, "audit-events", cfg.Kafka.Topic)
				assert.Equal(t, "info", cfg.Log.Level)
				assert.Equal(t, "json", cfg.Log.Format)
				assert.Equal(t, 5, cfg.Security.MaxFailedAttempts)
				assert.Equal(t, 5*time.Minute, cfg.Security.Window)
				assert.Equal(t, "high", cfg.Notify.SeverityThreshold)
				assert.Equal(t, 1.0, cfg.Audit.SampleDefaultRate)
				assert.False(t, cfg.Audit.Sampling())
			},
		},
		{
			name: "overrides and lists",
			envVars: map[string]string{
				"AUDIT_ADDR":                   ":9090",
				"KAFKA_BROKERS":                "k1:9092, k2:9092,",
				"AUDIT_CRITICAL_ACTIONS":       "wipe_db,delete_user",
				"SECURITY_MAX_FAILED_ATTEMPTS": "3",
				"SECURITY_WINDOW":              "90s",
				"DATABASE_MAX_OPEN_CONNS":      "not-a-number",
				"AUDIT_REDACT_FIELDS":          "password",
				"AUDIT_REDACT_KEY":             "k",
			},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, ":9090", cfg.Server.Addr)
				assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
				assert.Equal(t, []string{"wipe_db", "delete_user"}, cfg.Audit.CriticalActions)
				assert.Equal(t, 3, cfg.Security.MaxFailedAttempts)
				assert.Equal(t, 90*time.Second, cfg.Security.Window)
				assert.Equal(t, 25, cfg.Database.MaxOpenConns, "unparsable values fall back to the default")
			},
		},
		{
			name: "sampling rates",
			envVars: map[string]string{
				"AUDIT_SAMPLE_DEFAULT_RATE": "0.5",
				"AUDIT_SAMPLE_RATES":        "page.view=0.01, login=1",
			},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, 0.5, cfg.Audit.SampleDefaultRate)
				assert.Equal(t, map[string]float64{"page.view": 0.01, "login": 1}, cfg.Audit.SampleRates)
				assert.True(t, cfg.Audit.Sampling())
			},
		},
		{
			name:    "sample rate out of range",
			envVars: map[string]string{"AUDIT_SAMPLE_DEFAULT_RATE": "2"},
			wantErr: "AUDIT_SAMPLE_DEFAULT_RATE",
		},
		{
			name:    "unparsable per-action rate",
			envVars: map[string]string{"AUDIT_SAMPLE_RATES": "page.view=often"},
			wantErr: `rate for "page.view"`,
		},
		{
			name:    "invalid log format",
			envVars: map[string]string{"LOG_FORMAT": "xml"},
			wantErr: "LOG_FORMAT",
		},
		{
			name:    "redaction without key",
			envVars: map[string]string{"AUDIT_REDACT_FIELDS": "password"},
			wantErr: "AUDIT_REDACT_KEY is required",
		},
		{
			name:    "unknown threshold",
			envVars: map[string]string{"NOTIFY_SEVERITY_THRESHOLD": "urgent"},
			wantErr: "NOTIFY_SEVERITY_THRESHOLD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			cfg, err := FromEnv()
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}
