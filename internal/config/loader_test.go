package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/scorews/internal/config"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with credentials from env only", func() {
			clearConfigEnvVars()
			setCredentials()
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Port, convey.ShouldEqual, 7727)
				convey.So(cfg.HistoryLength, convey.ShouldEqual, 100_000)
				convey.So(cfg.ClientID, convey.ShouldEqual, "1234")
			})
		})

		convey.Convey("When credentials are missing", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then loading fails validation", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			setCredentials()
			_ = os.Setenv("SCORESWS_PORT", "9000")
			_ = os.Setenv("SCORESWS_INTERVAL", "30")
			_ = os.Setenv("SCORESWS_HISTORY_LENGTH", "500")
			_ = os.Setenv("SCORESWS_RESUME_SCORE_ID", "4000000000")
			_ = os.Setenv("SCORESWS_RULESET", "mania")
			_ = os.Setenv("SCORESWS_LOG", "debug")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Port, convey.ShouldEqual, 9000)
				convey.So(cfg.Interval, convey.ShouldEqual, 30)
				convey.So(cfg.HistoryLength, convey.ShouldEqual, 500)
				convey.So(cfg.ResumeScoreID, convey.ShouldEqual, uint64(4000000000))
				convey.So(cfg.Ruleset, convey.ShouldEqual, "mania")
				convey.So(cfg.Log, convey.ShouldEqual, "debug")
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
port: 9090
interval: 90
history_length: 3
client_id: 42
client_secret: from-file
ruleset: taiko
auth_secret: hmac
metrics_enabled: false
metrics_labels:
  region: eu
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("SCORESWS_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Port, convey.ShouldEqual, 9090)
				convey.So(cfg.Interval, convey.ShouldEqual, 90)
				convey.So(cfg.HistoryLength, convey.ShouldEqual, 3)
				convey.So(cfg.ClientID, convey.ShouldEqual, "42")
				convey.So(cfg.ClientSecret, convey.ShouldEqual, "from-file")
				convey.So(cfg.Ruleset, convey.ShouldEqual, "taiko")
				convey.So(cfg.AuthSecret, convey.ShouldEqual, "hmac")
				convey.So(cfg.ClientQueueSize, convey.ShouldEqual, 4096) // default kept
				convey.So(cfg.MetricsEnabled, convey.ShouldBeFalse)
				convey.So(cfg.MetricsLabels, convey.ShouldResemble, map[string]string{"region": "eu"})
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
port: 9090
history_length: 3
client_id: 42
client_secret: from-file
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("SCORESWS_CONFIG", tmpFile)
			_ = os.Setenv("SCORESWS_PORT", "8080")              // This should override the file
			_ = os.Setenv("SCORESWS_CLIENT_SECRET", "from-env") // This should override the file
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Port, convey.ShouldEqual, 8080)               // Overridden by env
				convey.So(cfg.HistoryLength, convey.ShouldEqual, 3)         // From file
				convey.So(cfg.ClientSecret, convey.ShouldEqual, "from-env") // Overridden by env
				convey.So(cfg.ClientID, convey.ShouldEqual, "42")           // From file
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			invalidYaml := `invalid: yaml: content: [`
			tmpFile := createTempConfigFile(invalidYaml)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("SCORESWS_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("SCORESWS_CONFIG", "/non/existent/scoresws.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When an env var cannot be converted", func() {
			setCredentials()
			_ = os.Setenv("SCORESWS_HISTORY_LENGTH", "lots")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func setCredentials() {
	_ = os.Setenv("SCORESWS_CLIENT_ID", "1234")
	_ = os.Setenv("SCORESWS_CLIENT_SECRET", "secret")
}

func clearConfigEnvVars() {
	for _, name := range []string{
		"SCORESWS_CONFIG",
		"SCORESWS_PORT",
		"SCORESWS_LOG",
		"SCORESWS_LOG_FILE",
		"SCORESWS_INTERVAL",
		"SCORESWS_HISTORY_LENGTH",
		"SCORESWS_RESUME_SCORE_ID",
		"SCORESWS_CLIENT_ID",
		"SCORESWS_CLIENT_SECRET",
		"SCORESWS_RULESET",
		"SCORESWS_CLIENT_QUEUE_SIZE",
		"SCORESWS_HANDSHAKE_TIMEOUT_MS",
		"SCORESWS_DEDUPE_SIZE",
		"SCORESWS_API_BASE_URL",
		"SCORESWS_REQUEST_TIMEOUT_MS",
		"SCORESWS_AUTH_SECRET",
		"SCORESWS_METRICS_ENABLED",
		"SCORESWS_METRICS_REFRESH_MS",
	} {
		_ = os.Unsetenv(name)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "scoresws-config-*.yaml")
	if err != nil {
		panic(err)
	}
	defer func() { _ = tmpFile.Close() }()

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}
