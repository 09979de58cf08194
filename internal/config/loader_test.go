package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/ratorade/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx, "")

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldResemble, config.New())
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("RATORADE_ADDR", ":8080")
			_ = os.Setenv("RATORADE_QUEUE_SIZE", "500")
			_ = os.Setenv("RATORADE_DERIVE_MIN_R_SQUARED", "0.25")
			_ = os.Setenv("RATORADE_BADGER_IN_MEMORY", "true")
			_ = os.Setenv("RATORADE_ID_ATTR", "beer")

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 500)
				convey.So(cfg.DeriveMinRSquared, convey.ShouldEqual, 0.25)
				convey.So(cfg.BadgerInMemory, convey.ShouldBeTrue)
				convey.So(cfg.IDAttr, convey.ShouldEqual, "beer")
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			path := writeConfigFile(t, `
addr: ":9090"
store_backend: badger
badger_in_memory: true
worker_count: 24
sample_mode: shared
`)

			convey.Convey("And the path is passed explicitly", func() {
				cfg, err := config.Load(ctx, path)

				convey.Convey("Then file values override defaults", func() {
					convey.So(err, convey.ShouldBeNil)
					convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
					convey.So(cfg.StoreBackend, convey.ShouldEqual, "badger")
					convey.So(cfg.WorkerCount, convey.ShouldEqual, 24)
					convey.So(cfg.SampleMode, convey.ShouldEqual, "shared")
					convey.So(cfg.QueueSize, convey.ShouldEqual, 100_000)
				})
			})

			convey.Convey("And the path comes from RATORADE_CONFIG with env overrides", func() {
				_ = os.Setenv("RATORADE_CONFIG", path)
				_ = os.Setenv("RATORADE_WORKER_COUNT", "32")

				cfg, err := config.Load(ctx, "")

				convey.Convey("Then environment variables override file values", func() {
					convey.So(err, convey.ShouldBeNil)
					convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
					convey.So(cfg.WorkerCount, convey.ShouldEqual, 32)
				})
			})
		})

		convey.Convey("When loading config with an invalid YAML file", func() {
			path := writeConfigFile(t, `invalid: yaml: content: [`)

			cfg, err := config.Load(ctx, path)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with a non-existent file", func() {
			cfg, err := config.Load(ctx, "/non/existent/file.yaml")

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config that fails validation", func() {
			_ = os.Setenv("RATORADE_ADDR", "")
			_ = os.Setenv("RATORADE_STORE_BACKEND", "mongo")

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "StoreBackend")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ratorade.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearConfigEnvVars() {
	for _, name := range []string{
		"RATORADE_CONFIG", "RATORADE_ADDR", "RATORADE_QUEUE_SIZE",
		"RATORADE_DERIVE_MIN_R_SQUARED", "RATORADE_BADGER_IN_MEMORY",
		"RATORADE_ID_ATTR", "RATORADE_WORKER_COUNT", "RATORADE_STORE_BACKEND",
	} {
		_ = os.Unsetenv(name)
	}
}
