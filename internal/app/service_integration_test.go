package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/okian/ratorade/internal/adapters/repository"
	service "github.com/okian/ratorade/internal/app"
	"github.com/okian/ratorade/internal/domain/histogram"
	"github.com/okian/ratorade/internal/domain/model"
	"github.com/okian/ratorade/internal/domain/pairstats"
	. "github.com/smartystreets/goconvey/convey"
)

func TestServiceIntegration(t *testing.T) {
	Convey("Given a started service on an in-memory badger store", t, func() {
		ctx := context.Background()
		cfg := testConfig()
		cfg.StoreBackend = repository.BackendBadger
		cfg.BadgerInMemory = true
		svc := service.New(service.WithConfig(cfg))
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		Convey("When joint ratings of two beers are ingested", func() {
			xs := []float64{1, 2, 3, 4, 5}
			ys := []float64{2, 4, 5, 4, 5}
			for i := range xs {
				_, err := svc.Ingest(ctx, &model.Observation{
					ID:  fmt.Sprintf("obs-%d", i),
					New: rating("a", xs[i]),
					Ref: rating("b", ys[i]),
				})
				So(err, ShouldBeNil)
			}
			So(waitProcessed(svc, 5), ShouldBeTrue)

			Convey("And models are derived", func() {
				sum, err := svc.Derive(ctx, service.DeriveRequest{})
				So(err, ShouldBeNil)
				So(sum.Pairs, ShouldEqual, 1)
				So(sum.Written, ShouldEqual, 1)

				Convey("Then both directions can be looked up", func() {
					fwd, err := svc.Model(ctx, model.Attrs{}, "a", "b")
					So(err, ShouldBeNil)
					So(fwd.A, ShouldAlmostEqual, 0.6, 1e-9)
					So(fwd.B, ShouldAlmostEqual, 2.2, 1e-9)
					So(fwd.N, ShouldEqual, 5)

					bwd, err := svc.Model(ctx, model.Attrs{}, "b", "a")
					So(err, ShouldBeNil)
					So(bwd.A, ShouldAlmostEqual, 1, 1e-9)
					So(bwd.B, ShouldAlmostEqual, -1, 1e-9)
				})

				Convey("Then predictions use the stored model", func() {
					y, _, err := svc.Predict(ctx, model.Attrs{}, "a", "b", 3)
					So(err, ShouldBeNil)
					So(y, ShouldAlmostEqual, 4.0, 1e-9)
				})

				Convey("Then the counters reflect the stored rows", func() {
					stats := svc.GetStats(ctx)
					So(stats["store"], ShouldEqual, "badger")
					So(stats["pairs"], ShouldEqual, 1)
					So(stats["models"], ShouldEqual, 2)
				})
			})

			Convey("And a single pair is derived under a strict threshold", func() {
				minR2 := 0.9
				sum, err := svc.Derive(ctx, service.DeriveRequest{A: "b", B: "a", MinRSquared: &minR2})

				Convey("Then it is skipped and no model exists", func() {
					So(err, ShouldBeNil)
					So(sum.Written, ShouldEqual, 0)
					So(sum.Skipped[pairstats.SkipLowRSquared], ShouldEqual, 1)
					_, err = svc.Model(ctx, model.Attrs{}, "a", "b")
					So(errors.Is(err, pairstats.ErrNotFound), ShouldBeTrue)
				})
			})
		})

		Convey("When deriving a pair that was never observed", func() {
			_, err := svc.Derive(ctx, service.DeriveRequest{A: "x", B: "y"})

			Convey("Then it reports not found", func() {
				So(errors.Is(err, pairstats.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When records are imported and a histogram is built", func() {
			var lines strings.Builder
			for _, r := range []int{1, 2, 2, 3, 3, 3, 4, 4, 5, 5} {
				fmt.Fprintf(&lines, "{\"style\":\"ipa\",\"rating\":%d}\n\n", r)
			}
			n, err := svc.Import(ctx, "beers", strings.NewReader(lines.String()))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 10)

			res, err := svc.BuildHistogram(ctx, histogram.Request{
				Source:     "beers",
				Result:     "by_rating",
				GroupKeys:  []string{"rating"},
				SortKey:    "rating",
				Ascending:  true,
				Prob:       true,
				Cumulative: true,
			})
			So(err, ShouldBeNil)

			Convey("Then the buckets and quantiles follow the data", func() {
				So(res.TotalRecords, ShouldEqual, 10)
				So(res.Buckets, ShouldEqual, 5)

				median, err := svc.Quantile(ctx, "by_rating", 0.5, "")
				So(err, ShouldBeNil)
				So(median.Key["rating"], ShouldEqual, 3)
				So(*median.CProb, ShouldAlmostEqual, 0.6, 1e-9)

				buckets, err := svc.Buckets(ctx, "by_rating", "", true, 1)
				So(err, ShouldBeNil)
				So(len(buckets), ShouldEqual, 1)
				So(buckets[0].Freq, ShouldEqual, 3)
			})

			Convey("Then imported records carry sampling keys", func() {
				cnt, err := svc.BuildHistogram(ctx, histogram.Request{
					Source:     "beers",
					Result:     "sampled",
					GroupKeys:  []string{"style"},
					SampleSize: 100,
				})
				So(err, ShouldBeNil)
				So(cnt.TotalRecords, ShouldEqual, 10)
			})
		})

		Convey("When an import line is not an object", func() {
			n, err := svc.Import(ctx, "beers", strings.NewReader("{\"rating\":1}\n[1,2]\n"))

			Convey("Then the import stops at that line", func() {
				So(n, ShouldEqual, 1)
				So(errors.Is(err, service.ErrInvalidRecord), ShouldBeTrue)
			})
		})
	})
}

func TestServiceConcurrency(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc := service.New(service.WithConfig(testConfig()), service.WithStore(repository.NewMemoryStore()))
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		Convey("When many clients ingest the same pair", func() {
			const clients, each = 8, 25
			var wg sync.WaitGroup
			for c := 0; c < clients; c++ {
				wg.Add(1)
				go func(c int) {
					defer wg.Done()
					for i := 0; i < each; i++ {
						_, _ = svc.Ingest(ctx, &model.Observation{
							ID:  fmt.Sprintf("c%d-%d", c, i),
							New: rating("ipa", 4),
							Ref: rating("stout", 2),
						})
					}
				}(c)
			}
			wg.Wait()

			Convey("Then every observation is counted once", func() {
				So(waitProcessed(svc, clients*each), ShouldBeTrue)
				stats, err := svc.Stats(ctx, model.Attrs{}, "ipa", "stout")
				So(err, ShouldBeNil)
				So(stats.N, ShouldEqual, clients*each)
				So(stats.S01, ShouldEqual, 8*clients*each)
			})
		})

		Convey("When the same histogram is rebuilt concurrently", func() {
			for i := 0; i < 20; i++ {
				_, err := svc.Import(ctx, "beers", strings.NewReader(fmt.Sprintf("{\"style\":\"s%d\"}\n", i%4)))
				So(err, ShouldBeNil)
			}
			var wg sync.WaitGroup
			errs := make(chan error, 6)
			for i := 0; i < 6; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := svc.BuildHistogram(ctx, histogram.Request{Source: "beers", Result: "styles", GroupKeys: []string{"style"}})
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)

			Convey("Then every build succeeds and the result is consistent", func() {
				for err := range errs {
					So(err, ShouldBeNil)
				}
				buckets, err := svc.Buckets(ctx, "styles", "", true, 0)
				So(err, ShouldBeNil)
				So(len(buckets), ShouldEqual, 4)
				for _, b := range buckets {
					So(b.Freq, ShouldEqual, 5)
				}
			})
		})
	})
}
