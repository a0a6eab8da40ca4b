package config_test

import (
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/okian/biprop/internal/config"
	"github.com/okian/biprop/internal/domain/apportion"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.QueueSize, convey.ShouldEqual, 1_000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.StoreMemory)
			convey.So(cfg.Tracing, convey.ShouldEqual, config.TracingNone)
			convey.So(cfg.MaxIterations, convey.ShouldEqual, apportion.DefaultMaxIterations)
			convey.So(cfg.PartyStep, convey.ShouldEqual, apportion.DefaultPartyStep)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then it maps to one option per search bound", func() {
			convey.So(cfg.EngineOptions(), convey.ShouldHaveLength, 5)
			convey.So(apportion.NewEngine(cfg.EngineOptions()...), convey.ShouldNotBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("When sqlite is selected without a path", func() {
			cfg.StoreDriver = config.StoreSQLite
			cfg.StorePath = ""
			err := cfg.Validate()
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "store_path")
		})

		convey.Convey("When the party step leaves (0, 1)", func() {
			cfg.PartyStep = 1
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When several values are wrong", func() {
			cfg.WorkerCount = 0
			cfg.Tracing = "jaeger"
			cfg.LogFormat = "xml"
			err := cfg.Validate()

			convey.Convey("Then every problem is named", func() {
				convey.So(err.Error(), convey.ShouldContainSubstring, "worker_count")
				convey.So(err.Error(), convey.ShouldContainSubstring, "tracing")
				convey.So(err.Error(), convey.ShouldContainSubstring, "log_format")
			})
		})
	})
}
