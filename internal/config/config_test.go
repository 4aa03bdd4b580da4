package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.DataPath)
	assert.Equal(t, "./db.sqlite", cfg.DBPath)
	assert.Equal(t, DefaultMaxAge, cfg.MaxAge)
	assert.Empty(t, cfg.Services)
	assert.Equal(t, 10, cfg.GetterParallelism)
	assert.Equal(t, 500*time.Millisecond, cfg.SendInterval)
	assert.Equal(t, 60*time.Second, cfg.CleanInterval)
}

func TestLoadMaxAge(t *testing.T) {
	t.Setenv("MAX_AGE", "120")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, cfg.MaxAge)
}

func TestLoadMaxAgeInvalid(t *testing.T) {
	t.Setenv("MAX_AGE", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
}

func TestParseServices(t *testing.T) {
	environ := []string{
		"SERVICE_WHISPER_UPLOAD_URL=http://whisper:8080/upload",
		"SERVICE_WHISPER_DOWNLOAD_URL=http://whisper:8080/download",
		"SERVICE_WHISPER_RUNS_PER_USER=2",
		"SERVICE_WHISPER_ADAPTER=client",
		"SERVICE_JOBD_UPLOAD_URL=http://jobd:5050/api/upload",
		"SERVICE_JOBD_DOWNLOAD_URL=http://jobd:5050/api/get",
		"UNRELATED=value",
	}

	services, err := parseServices(environ)
	require.NoError(t, err)
	require.Len(t, services, 2)

	whisper := services["whisper"]
	assert.Equal(t, "whisper", whisper.Name)
	assert.Equal(t, "http://whisper:8080/upload", whisper.UploadURL)
	assert.Equal(t, "http://whisper:8080/download", whisper.DownloadURL)
	assert.Equal(t, uint(2), whisper.RunsPerUser)
	assert.Equal(t, AdapterClient, whisper.Adapter)

	// Defaults apply where only the URLs are set.
	jobd := services["jobd"]
	assert.Equal(t, uint(DefaultRunsPerUser), jobd.RunsPerUser)
	assert.Equal(t, AdapterJobd, jobd.Adapter)
}

func TestParseServicesKeyIsLowerCased(t *testing.T) {
	environ := []string{
		"SERVICE_MixedCase_UPLOAD_URL=http://x/up",
		"SERVICE_MixedCase_DOWNLOAD_URL=http://x/down",
	}

	services, err := parseServices(environ)
	require.NoError(t, err)
	_, ok := services["mixedcase"]
	assert.True(t, ok)
}

func TestParseServicesMissingURL(t *testing.T) {
	environ := []string{
		"SERVICE_BROKEN_UPLOAD_URL=http://x/up",
	}

	_, err := parseServices(environ)
	assert.Error(t, err)
}

func TestParseServicesRejectsBadRunsPerUser(t *testing.T) {
	environ := []string{
		"SERVICE_X_UPLOAD_URL=http://x/up",
		"SERVICE_X_DOWNLOAD_URL=http://x/down",
		"SERVICE_X_RUNS_PER_USER=-1",
	}

	_, err := parseServices(environ)
	assert.Error(t, err)
}

func TestParseServicesRejectsUnknownAdapter(t *testing.T) {
	environ := []string{
		"SERVICE_X_UPLOAD_URL=http://x/up",
		"SERVICE_X_DOWNLOAD_URL=http://x/down",
		"SERVICE_X_ADAPTER=carrier-pigeon",
	}

	_, err := parseServices(environ)
	assert.Error(t, err)
}

func TestServiceLookupFoldsCase(t *testing.T) {
	cfg := &Config{Services: map[string]Service{
		"alpha": {Name: "alpha"},
	}}

	svc, ok := cfg.Service("ALPHA")
	assert.True(t, ok)
	assert.Equal(t, "alpha", svc.Name)

	_, ok = cfg.Service("beta")
	assert.False(t, ok)
}
