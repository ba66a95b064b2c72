package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("API_ID", "12345")
	t.Setenv("API_HASH", "hash")
	t.Setenv("BOT_TOKEN", "1:token")
	t.Setenv("DATABASE_URL", "postgres://localhost/callwatch")
}

func TestLoadEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("ADMIN_IDS", "1, 2")
	t.Setenv("SESSION_1", "1abc")
	t.Setenv("SESSION_2", "")
	t.Setenv("SESSION_3", "1def")
	t.Setenv("SYSTEM_LOG_CHAT_ID", "-100123")

	require.NoError(t, LoadEnv())
	assert.Equal(t, 12345, APIID)
	assert.Equal(t, []int64{1, 2}, AdminIDs)
	assert.Equal(t, int64(-100123), SystemLogChatID)
	assert.Equal(t, []Session{{Name: "bot_1", String: "1abc"}, {Name: "bot_3", String: "1def"}}, Sessions)
}

func TestLoadEnvReportsMissing(t *testing.T) {
	setRequired(t)
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("DATABASE_URL", "")

	err := LoadEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BOT_TOKEN, DATABASE_URL")
}

func TestLoadEnvRejectsMalformedIDs(t *testing.T) {
	setRequired(t)
	t.Setenv("API_ID", "abc")
	assert.ErrorContains(t, LoadEnv(), "API_ID")

	t.Setenv("API_ID", "1")
	t.Setenv("ADMIN_IDS", "1,x")
	assert.ErrorContains(t, LoadEnv(), "ADMIN_IDS")
}

func TestLoadDatabaseEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db")
	t.Setenv("CONFIG_PATH", "/etc/callwatch.yaml")
	require.NoError(t, LoadDatabaseEnv())
	assert.Equal(t, "postgres://db", DatabaseURL)
	assert.Equal(t, "/etc/callwatch.yaml", ConfigPath)
}
