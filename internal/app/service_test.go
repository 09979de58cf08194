package service_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/ratorade/internal/adapters/repository"
	service "github.com/okian/ratorade/internal/app"
	"github.com/okian/ratorade/internal/config"
	"github.com/okian/ratorade/internal/domain/histogram"
	"github.com/okian/ratorade/internal/domain/model"
	"github.com/okian/ratorade/internal/domain/pairstats"
	"github.com/okian/ratorade/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func testConfig() *config.Config {
	cfg := config.New()
	cfg.WorkerCount = 2
	cfg.QueueSize = 1000
	cfg.DedupeSize = 500
	cfg.SampleSeed = 7
	return cfg
}

func rating(id string, r float64) model.Record {
	return model.Record{"item": id, "rating": r}
}

// waitProcessed polls until the workers have recorded n observations.
func waitProcessed(svc *service.Service, n int64) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if p, _ := svc.GetStats(context.Background())["processed"].(int64); p >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it uses the default configuration", func() {
			So(svc, ShouldNotBeNil)
			So(svc.Config(), ShouldResemble, config.New())
		})

		Convey("Then operations fail until it is started", func() {
			_, err := svc.Ingest(context.Background(), &model.Observation{})
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			_, err = svc.Derive(context.Background(), service.DeriveRequest{})
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
		})
	})
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a service on an injected store", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		svc := service.New(service.WithConfig(testConfig()), service.WithStore(store))

		Convey("When starting the service", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)

			Convey("Then it reports itself as started", func() {
				stats := svc.GetStats(ctx)
				So(stats["started"], ShouldEqual, true)
				So(stats["store"], ShouldEqual, "memory")
				So(stats["workerCount"], ShouldEqual, 2)
				So(stats["pairs"], ShouldEqual, 0)
			})

			Convey("And when stopping it", func() {
				So(svc.Stop(ctx), ShouldBeNil)

				Convey("Then it is stopped and can stop again", func() {
					So(svc.GetStats(ctx)["started"], ShouldEqual, false)
					So(svc.Stop(ctx), ShouldBeNil)
				})
			})
		})
	})

	Convey("Given a service configured with an unknown backend", t, func() {
		cfg := testConfig()
		cfg.StoreBackend = "mongo"
		svc := service.New(service.WithConfig(cfg))

		Convey("Then Start fails fast", func() {
			err := svc.Start(context.Background())
			So(errors.Is(err, repository.ErrUnknownBackend), ShouldBeTrue)
		})
	})
}

func TestService_Ingest(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc := service.New(service.WithConfig(testConfig()), service.WithStore(repository.NewMemoryStore()))
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		Convey("When ingesting an observation without an id", func() {
			res, err := svc.Ingest(ctx, &model.Observation{New: rating("ipa", 4), Ref: rating("stout", 3)})

			Convey("Then one is assigned and the observation recorded", func() {
				So(err, ShouldBeNil)
				So(res.ID, ShouldNotBeEmpty)
				So(res.Duplicate, ShouldBeFalse)
				So(waitProcessed(svc, 1), ShouldBeTrue)

				stats, err := svc.Stats(ctx, model.Attrs{}, "stout", "ipa")
				So(err, ShouldBeNil)
				So(stats.N, ShouldEqual, 1)
				So(stats.S01, ShouldEqual, 12)
			})
		})

		Convey("When the same observation id is ingested twice", func() {
			first, err := svc.Ingest(ctx, &model.Observation{ID: "obs-1", New: rating("ipa", 4), Ref: rating("stout", 3)})
			So(err, ShouldBeNil)
			second, err := svc.Ingest(ctx, &model.Observation{ID: "obs-1", New: rating("ipa", 4), Ref: rating("stout", 3)})
			So(err, ShouldBeNil)

			Convey("Then only the first is recorded", func() {
				So(first.Duplicate, ShouldBeFalse)
				So(second.Duplicate, ShouldBeTrue)
				So(waitProcessed(svc, 1), ShouldBeTrue)
				stats, err := svc.Stats(ctx, model.Attrs{}, "ipa", "stout")
				So(err, ShouldBeNil)
				So(stats.N, ShouldEqual, 1)
			})
		})

		Convey("When an observation lacks the rating attribute", func() {
			_, err := svc.Ingest(ctx, &model.Observation{ID: "bad", New: model.Record{"item": "ipa"}, Ref: rating("stout", 3)})

			Convey("Then it is rejected before queueing and its id stays free", func() {
				So(errors.Is(err, pairstats.ErrMissingAttribute), ShouldBeTrue)
				res, err := svc.Ingest(ctx, &model.Observation{ID: "bad", New: rating("ipa", 4), Ref: rating("stout", 3)})
				So(err, ShouldBeNil)
				So(res.Duplicate, ShouldBeFalse)
			})
		})

		Convey("When recording synchronously", func() {
			err := svc.RecordNow(ctx, &model.Observation{New: rating("ipa", 5), Ref: rating("porter", 2)})

			Convey("Then the statistics are visible immediately", func() {
				So(err, ShouldBeNil)
				stats, err := svc.Stats(ctx, model.Attrs{}, "ipa", "porter")
				So(err, ShouldBeNil)
				So(stats.N, ShouldEqual, 1)
			})
		})
	})
}

// flakyStore fails upsert-increments while failures stays positive.
type flakyStore struct {
	repository.Store
	failures atomic.Int32
}

var errStoreDown = errors.New("store down")

func (f *flakyStore) UpsertIncrement(ctx context.Context, coll string, key repository.Key, deltas map[string]float64, set map[string]any) error {
	if f.failures.Add(-1) >= 0 {
		return errStoreDown
	}
	return f.Store.UpsertIncrement(ctx, coll, key, deltas, set)
}

func TestService_IngestRetryAfterStoreFailure(t *testing.T) {
	Convey("Given a service whose store fails the first write", t, func() {
		ctx := context.Background()
		store := &flakyStore{Store: repository.NewMemoryStore()}
		store.failures.Store(1)
		svc := service.New(service.WithConfig(testConfig()), service.WithStore(store))
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		obs := func() *model.Observation {
			return &model.Observation{ID: "retry-1", New: rating("ipa", 4), Ref: rating("stout", 3)}
		}
		first, err := svc.Ingest(ctx, obs())
		So(err, ShouldBeNil)
		So(first.Duplicate, ShouldBeFalse)

		Convey("When the client retries the same id", func() {
			accepted := false
			deadline := time.Now().Add(3 * time.Second)
			for time.Now().Before(deadline) {
				res, err := svc.Ingest(ctx, obs())
				So(err, ShouldBeNil)
				if !res.Duplicate {
					accepted = true
					break
				}
				time.Sleep(5 * time.Millisecond)
			}

			Convey("Then the retry is accepted and recorded once", func() {
				So(accepted, ShouldBeTrue)
				So(waitProcessed(svc, 1), ShouldBeTrue)
				stats, err := svc.Stats(ctx, model.Attrs{}, "ipa", "stout")
				So(err, ShouldBeNil)
				So(stats.N, ShouldEqual, 1)
			})
		})
	})
}

func TestService_BuildHistogramReservedResult(t *testing.T) {
	Convey("Given a service with recorded pair statistics", t, func() {
		ctx := context.Background()
		cfg := testConfig()
		svc := service.New(service.WithConfig(cfg), service.WithStore(repository.NewMemoryStore()))
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()
		So(svc.RecordNow(ctx, &model.Observation{New: rating("a", 4), Ref: rating("b", 2)}), ShouldBeNil)

		for _, name := range []string{cfg.PairStatsCollection, cfg.PairModelsCollection} {
			Convey("When a histogram targets "+name, func() {
				_, err := svc.BuildHistogram(ctx, histogram.Request{
					Source:    "beers",
					Result:    name,
					GroupKeys: []string{"style"},
				})

				Convey("Then it is rejected and the statistics survive", func() {
					So(errors.Is(err, histogram.ErrInvalidBinSpec), ShouldBeTrue)
					stats, err := svc.Stats(ctx, model.Attrs{}, "a", "b")
					So(err, ShouldBeNil)
					So(stats.N, ShouldEqual, 1)
				})
			})
		}
	})
}
