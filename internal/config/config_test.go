package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidate_Defaults(t *testing.T) {
	var c Config
	validate(&c)

	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, 5432, c.Postgres.Port)
	assert.Equal(t, "adcmdr_data_change", c.Listener.Channel)
	assert.Equal(t, "postgres", c.Source.Kind)
	assert.Equal(t, []string{"local"}, c.Tracking.Methods)
	assert.Equal(t, 3*time.Second, c.Tracking.ClickTimeout())
	assert.Equal(t, "adcmdr-", c.Rotation.ClassPrefix)
	assert.Equal(t, 5000, c.Rotation.IntervalMs)
	assert.Equal(t, 400, c.VisitorState.ExpiryDays)
	assert.Equal(t, 5*time.Second, c.Backoff())
}

func TestValidate_Clamps(t *testing.T) {
	tests := []struct {
		name       string
		interval   int
		expiry     int
		wantIntv   int
		wantExpiry int
	}{
		{"sub-second interval falls back to default", 300, 30, 5000, 30},
		{"valid interval kept", 1500, 400, 1500, 400},
		{"expiry above cap", 2000, 900, 2000, 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			c.Rotation.IntervalMs = tt.interval
			c.VisitorState.ExpiryDays = tt.expiry
			validate(&c)
			assert.Equal(t, tt.wantIntv, c.Rotation.IntervalMs)
			assert.Equal(t, tt.wantExpiry, c.VisitorState.ExpiryDays)
		})
	}
}

func TestTracking_Enabled(t *testing.T) {
	tr := Tracking{Methods: []string{"local", " Analytics"}, Events: []string{"clicks"}}
	assert.True(t, tr.MethodEnabled("analytics"))
	assert.True(t, tr.EventEnabled("clicks"))
	assert.False(t, tr.EventEnabled("impressions"))
}

func TestConfig_DSN(t *testing.T) {
	var c Config
	c.Postgres.User, c.Postgres.Password, c.Postgres.Host, c.Postgres.DBName = "u", "p", "db", "ads"
	validate(&c)
	assert.Equal(t, "postgres://u:p@db:5432/ads?sslmode=disable", c.DSN())
}
