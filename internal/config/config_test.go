package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"DEADSWITCH_CONFIG",
	"DEADSWITCH_JWT_SECRET",
	"DEADSWITCH_SERVER_HOST",
	"DEADSWITCH_SERVER_PORT",
	"DEADSWITCH_SCHEDULER_INTERVAL",
	"DEADSWITCH_SCHEDULER_PING_RETRIES",
	"DEADSWITCH_STORAGE_TYPE",
	"DEADSWITCH_STORAGE_DSN",
	"DEADSWITCH_REDIS_ENABLED",
	"DEADSWITCH_PUSH_VAPID_PUBLIC_KEY",
	"DEADSWITCH_PUSH_VAPID_PRIVATE_KEY",
	"DEADSWITCH_PUSH_SUBSCRIBER",
	"DEADSWITCH_CORS_ALLOWED_ORIGINS",
	"DEADSWITCH_LOG_LEVEL",
	"DEADSWITCH_REGISTRATION_BLOCK",
}

// resetEnv 清除相关环境变量，测试结束后恢复
func resetEnv(t *testing.T) {
	t.Helper()
	originalEnvs := make(map[string]string)
	for _, key := range envKeys {
		if value, ok := os.LookupEnv(key); ok {
			originalEnvs[key] = value
		}
		os.Unsetenv(key)
	}
	t.Cleanup(func() {
		for _, key := range envKeys {
			if value, ok := originalEnvs[key]; ok {
				os.Setenv(key, value)
			} else {
				os.Unsetenv(key)
			}
		}
	})
}

const testSecret = "test-secret-key-for-development-32-chars-long-at-least"

func TestLoad(t *testing.T) {
	t.Run("加载默认配置成功", func(t *testing.T) {
		resetEnv(t)
		os.Setenv("DEADSWITCH_JWT_SECRET", testSecret)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
		assert.True(t, cfg.Scheduler.Enabled)
		assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
		assert.Equal(t, 3, cfg.Scheduler.PingRetries)
		assert.Equal(t, 24*time.Hour, cfg.Scheduler.ReminderInterval)
		assert.Equal(t, "memory", cfg.Storage.Type)
		assert.False(t, cfg.Redis.Enabled)
		assert.False(t, cfg.Push.Enabled())
		assert.False(t, cfg.SMTP.Enabled())
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, "deadswitch", cfg.JWT.Issuer)
		assert.Equal(t, 15*time.Minute, cfg.JWT.AccessExpiry)
		assert.Equal(t, 7*24*time.Hour, cfg.JWT.RefreshExpiry)
		assert.True(t, cfg.Registration.RequireRecipientSubscription)
	})

	t.Run("加载自定义配置成功", func(t *testing.T) {
		resetEnv(t)
		os.Setenv("DEADSWITCH_JWT_SECRET", testSecret)
		os.Setenv("DEADSWITCH_SERVER_PORT", "9090")
		os.Setenv("DEADSWITCH_SCHEDULER_INTERVAL", "30s")
		os.Setenv("DEADSWITCH_SCHEDULER_PING_RETRIES", "0")
		os.Setenv("DEADSWITCH_STORAGE_TYPE", "SQLite")
		os.Setenv("DEADSWITCH_STORAGE_DSN", "file:test.db")
		os.Setenv("DEADSWITCH_REDIS_ENABLED", "true")
		os.Setenv("DEADSWITCH_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
		os.Setenv("DEADSWITCH_REGISTRATION_BLOCK", "true")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Scheduler.Interval)
		assert.Equal(t, 0, cfg.Scheduler.PingRetries)
		assert.Equal(t, "sqlite", cfg.Storage.Type)
		assert.True(t, cfg.Storage.IsSQL())
		assert.True(t, cfg.Redis.Enabled)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
		assert.True(t, cfg.Registration.Block)
	})

	t.Run("从配置文件加载", func(t *testing.T) {
		resetEnv(t)
		path := filepath.Join(t.TempDir(), "deadswitch.yaml")
		content := "jwt:\n  secret: " + testSecret + "\nstorage:\n  type: json\n  path: /var/lib/deadswitch\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		os.Setenv("DEADSWITCH_CONFIG", path)

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "filesystem", cfg.Storage.Type)
		assert.Equal(t, "/var/lib/deadswitch", cfg.Storage.Path)
	})
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"默认 JWT 密钥", map[string]string{}},
		{"JWT 密钥过短", map[string]string{"DEADSWITCH_JWT_SECRET": "short"}},
		{"未知存储类型", map[string]string{"DEADSWITCH_JWT_SECRET": testSecret, "DEADSWITCH_STORAGE_TYPE": "mongo"}},
		{"SQL 缺少 DSN", map[string]string{"DEADSWITCH_JWT_SECRET": testSecret, "DEADSWITCH_STORAGE_TYPE": "postgres"}},
		{"Redis 需要 SQL", map[string]string{"DEADSWITCH_JWT_SECRET": testSecret, "DEADSWITCH_REDIS_ENABLED": "true"}},
		{"tick 周期为零", map[string]string{"DEADSWITCH_JWT_SECRET": testSecret, "DEADSWITCH_SCHEDULER_INTERVAL": "0s"}},
		{"VAPID 只配置一半", map[string]string{"DEADSWITCH_JWT_SECRET": testSecret, "DEADSWITCH_PUSH_VAPID_PUBLIC_KEY": "pub"}},
		{"VAPID 缺少联系人", map[string]string{
			"DEADSWITCH_JWT_SECRET":             testSecret,
			"DEADSWITCH_PUSH_VAPID_PUBLIC_KEY":  "pub",
			"DEADSWITCH_PUSH_VAPID_PRIVATE_KEY": "priv",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetEnv(t)
			for k, v := range tt.env {
				os.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
