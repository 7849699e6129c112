package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvConfig_DefaultsAndOverrides(t *testing.T) {
	os.Setenv("TEST_PREFIX_JOBS", "8")
	defer os.Unsetenv("TEST_PREFIX_JOBS")

	ec := NewEnvConfig("TEST_PREFIX")
	assert.Equal(t, 8, ec.GetInt("JOBS", 4))
	assert.Equal(t, 4, ec.GetInt("UNSET", 4))
	assert.Equal(t, "default", ec.GetString("UNSET", "default"))
}

func TestEnvConfig_Duration(t *testing.T) {
	os.Setenv("TEST_PREFIX_TIMEOUT", "5s")
	defer os.Unsetenv("TEST_PREFIX_TIMEOUT")
	ec := NewEnvConfig("TEST_PREFIX")
	assert.Equal(t, 5*time.Second, ec.GetDuration("TIMEOUT", time.Minute))
}

func TestValidator_CollectsErrors(t *testing.T) {
	v := NewValidator()
	v.RequireString("Name", "")
	v.RequirePositiveInt("Jobs", -1)
	require.False(t, v.IsValid())
	assert.Len(t, v.Errors(), 2)
	assert.Error(t, v.Validate())
}

func TestValidateBuildConfig(t *testing.T) {
	good := BuildConfig{BuildRoot: "/tmp/root", Jobs: 4, LogFormat: "text"}
	assert.NoError(t, ValidateBuildConfig(good))

	bad := BuildConfig{BuildRoot: "", Jobs: 0, LogFormat: "xml"}
	assert.Error(t, ValidateBuildConfig(bad))
}
