package dedupe_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	dedupe "github.com/okian/ratorade/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new InMemoryDeduper", t, func() {
		Convey("When creating a deduper with default options", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("Then it should start empty", func() {
				So(d, ShouldNotBeNil)
				So(d.Size(), ShouldEqual, 0)
			})
		})

		Convey("When recording observations", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(100))

			Convey("And the id is new", func() {
				seen := d.SeenAndRecord(ctx, "obs-1")

				Convey("Then it should return false and record the id", func() {
					So(seen, ShouldBeFalse)
					So(d.Size(), ShouldEqual, 1)
				})
			})

			Convey("And the id was already seen", func() {
				d.SeenAndRecord(ctx, "obs-1")
				seen := d.SeenAndRecord(ctx, "obs-1")

				Convey("Then it should return true", func() {
					So(seen, ShouldBeTrue)
					So(d.Size(), ShouldEqual, 1)
				})
			})
		})

		Convey("When unrecording observations", func() {
			d := dedupe.NewInMemoryDeduper()
			d.SeenAndRecord(ctx, "obs-1")

			Convey("And the id exists", func() {
				d.Unrecord(ctx, "obs-1")

				Convey("Then it can be recorded again", func() {
					So(d.Size(), ShouldEqual, 0)
					So(d.SeenAndRecord(ctx, "obs-1"), ShouldBeFalse)
				})
			})

			Convey("And the id doesn't exist", func() {
				d.Unrecord(ctx, "missing")

				Convey("Then it should not affect the size", func() {
					So(d.Size(), ShouldEqual, 1)
				})
			})
		})

		Convey("When using bounded mode at capacity", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
			for i := 1; i <= 4; i++ {
				d.SeenAndRecord(ctx, fmt.Sprintf("obs-%d", i))
			}

			Convey("Then the oldest id is evicted", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "obs-2"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "obs-3"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "obs-4"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "obs-1"), ShouldBeFalse)
			})
		})

		Convey("When using unbounded mode", func() {
			for _, size := range []int{0, -1} {
				d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(size))
				for i := 0; i < 1000; i++ {
					d.SeenAndRecord(ctx, fmt.Sprintf("obs-%d", i))
				}

				So(d.Size(), ShouldEqual, 1000)
				So(d.SeenAndRecord(ctx, "obs-0"), ShouldBeTrue)
			}
		})

		Convey("When recording unusual ids", func() {
			d := dedupe.NewInMemoryDeduper()
			long := strings.Repeat("x", 10000)

			So(d.SeenAndRecord(ctx, ""), ShouldBeFalse)
			So(d.SeenAndRecord(ctx, ""), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, long), ShouldBeFalse)
			So(d.SeenAndRecord(ctx, long), ShouldBeTrue)
		})
	})

	Convey("Given a deduper with concurrent access", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(10000))
		const goroutines, perGoroutine = 10, 100

		Convey("When many goroutines race on the same ids", func() {
			var wg sync.WaitGroup
			var mu sync.Mutex
			fresh := 0
			for g := 0; g < goroutines; g++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < perGoroutine; i++ {
						if !d.SeenAndRecord(ctx, fmt.Sprintf("obs-%d", i)) {
							mu.Lock()
							fresh++
							mu.Unlock()
						}
					}
				}()
			}
			wg.Wait()

			Convey("Then each id is reported new exactly once", func() {
				So(fresh, ShouldEqual, perGoroutine)
				So(d.Size(), ShouldEqual, perGoroutine)
			})
		})
	})
}
