package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GAVEL_ATTENDANCE_WINDOW_MINUTES", "")
	t.Setenv("GAVEL_REQUIRE_PASSWORD_ON_CAST", "")
	cfg := Load()

	assert.Equal(t, 3*time.Hour, cfg.AttendanceWindow)
	assert.True(t, cfg.RequirePasswordOnCast)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GAVEL_ATTENDANCE_WINDOW_MINUTES", "90")
	t.Setenv("GAVEL_REQUIRE_PASSWORD_ON_CAST", "false")
	t.Setenv("MINIO_USE_SSL", "not-a-bool")
	t.Setenv("GAVEL_STORE", "memory")
	cfg := Load()

	assert.Equal(t, 90*time.Minute, cfg.AttendanceWindow)
	assert.False(t, cfg.RequirePasswordOnCast)
	assert.False(t, cfg.MinioUseSSL)
	assert.Equal(t, "memory", cfg.Store)
}
