package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	worker "github.com/okian/ratorade/internal/adapters/mq/worker"
	"github.com/okian/ratorade/internal/adapters/repository"
	model "github.com/okian/ratorade/internal/domain/model"
	"github.com/okian/ratorade/internal/domain/pairstats"
	logging "github.com/okian/ratorade/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

// Mock implementations for testing.
type mockQueue struct {
	obsChan chan *model.Observation
	once    sync.Once
}

func newMockQueue() *mockQueue {
	return &mockQueue{
		obsChan: make(chan *model.Observation, 200),
	}
}

func (mq *mockQueue) Dequeue(ctx context.Context) <-chan *model.Observation {
	return mq.obsChan
}

func (mq *mockQueue) Close() error {
	mq.once.Do(func() { close(mq.obsChan) })
	return nil
}

func (mq *mockQueue) add(o *model.Observation) {
	mq.obsChan <- o
}

type mockRecorder struct {
	recorded map[string]*model.Observation
	errors   map[string]error
	mu       sync.RWMutex
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{
		recorded: make(map[string]*model.Observation),
		errors:   make(map[string]error),
	}
}

func (mr *mockRecorder) Record(ctx context.Context, obs *model.Observation) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if err, exists := mr.errors[obs.ID]; exists {
		return err
	}
	mr.recorded[obs.ID] = obs
	return nil
}

func (mr *mockRecorder) setError(id string, err error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.errors[id] = err
}

func (mr *mockRecorder) has(id string) bool {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	_, ok := mr.recorded[id]
	return ok
}

func (mr *mockRecorder) count() int {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return len(mr.recorded)
}

func obs(id string) *model.Observation {
	return &model.Observation{
		ID:  id,
		New: model.Record{"item": "ipa", "rating": 4.0},
		Ref: model.Record{"item": "stout", "rating": 3.0},
		TS:  time.Now(),
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a new InMemoryWorker", t, func() {
		_ = logging.Init()

		queue := newMockQueue()
		recorder := newMockRecorder()

		convey.Convey("When creating a worker with options", func() {
			w := worker.NewInMemoryWorker(queue, recorder, worker.WithName("test-worker"), worker.WithLogger(logging.Get()))

			convey.Convey("Then it should be created successfully", func() {
				convey.So(w, convey.ShouldNotBeNil)
				convey.So(w.Processed(), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When running a worker", func() {
			w := worker.NewInMemoryWorker(queue, recorder)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			go w.Run(ctx)

			convey.Convey("And when processing observations", func() {
				queue.add(obs("obs-1"))

				convey.Convey("Then it should record them", func() {
					convey.So(eventually(func() bool { return recorder.has("obs-1") }), convey.ShouldBeTrue)
					convey.So(eventually(func() bool { return w.Processed() == 1 }), convey.ShouldBeTrue)
				})
			})

			convey.Convey("And when recording fails", func() {
				recorder.setError("obs-2", pairstats.ErrMissingAttribute)
				queue.add(obs("obs-2"))
				queue.add(obs("obs-3"))

				convey.Convey("Then the worker keeps going", func() {
					convey.So(eventually(func() bool { return recorder.has("obs-3") }), convey.ShouldBeTrue)
					convey.So(recorder.has("obs-2"), convey.ShouldBeFalse)
					convey.So(w.Processed(), convey.ShouldEqual, 1)
				})
			})

			convey.Convey("And when shutting down", func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
				defer shutdownCancel()

				err := w.Shutdown(shutdownCtx)

				convey.Convey("Then it should shutdown gracefully", func() {
					convey.So(err, convey.ShouldBeNil)
				})
			})
		})

		convey.Convey("When the queue channel is closed", func() {
			w := worker.NewInMemoryWorker(queue, recorder)
			queue.add(obs("obs-last"))
			_ = queue.Close()

			finished := make(chan struct{})
			go func() {
				w.Run(context.Background())
				close(finished)
			}()

			convey.Convey("Then the worker drains and stops", func() {
				select {
				case <-finished:
				case <-time.After(time.Second):
				}
				convey.So(recorder.has("obs-last"), convey.ShouldBeTrue)
				convey.So(w.Shutdown(context.Background()), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the context is cancelled before shutdown completes", func() {
			w := worker.NewInMemoryWorker(queue, recorder)
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			convey.Convey("Then Shutdown reports the timeout", func() {
				err := w.Shutdown(ctx)
				convey.So(errors.Is(err, context.Canceled), convey.ShouldBeTrue)
			})
		})
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a new worker pool", t, func() {
		_ = logging.Init()

		queue := newMockQueue()
		recorder := newMockRecorder()

		convey.Convey("When creating a worker pool with default count", func() {
			pool := worker.NewPool(0, queue, recorder)

			convey.Convey("Then it is sized from the CPU count", func() {
				convey.So(pool.Size(), convey.ShouldBeGreaterThan, 0)
			})
		})

		convey.Convey("When many observations arrive concurrently", func() {
			pool := worker.NewPool(4, queue, recorder)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			pool.Start(ctx)

			const producers, perProducer = 5, 20
			var wg sync.WaitGroup
			for i := 0; i < producers; i++ {
				wg.Add(1)
				go func(id int) {
					defer wg.Done()
					for j := 0; j < perProducer; j++ {
						queue.add(obs(fmt.Sprintf("obs-%d-%d", id, j)))
					}
				}(i)
			}
			wg.Wait()

			convey.Convey("Then all of them are recorded", func() {
				total := producers * perProducer
				convey.So(eventually(func() bool { return recorder.count() == total }), convey.ShouldBeTrue)
				convey.So(eventually(func() bool { return pool.Processed() == int64(total) }), convey.ShouldBeTrue)
			})

			convey.Convey("Then shutdown drains and stops the workers", func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
				defer shutdownCancel()

				convey.So(pool.Shutdown(shutdownCtx), convey.ShouldBeNil)
				convey.So(recorder.count(), convey.ShouldEqual, producers*perProducer)
			})
		})
	})
}

func TestWorkerPoolWithEngine(t *testing.T) {
	convey.Convey("Given a pool recording into a pair statistics engine", t, func() {
		_ = logging.Init()

		store := repository.NewMemoryStore()
		engine := pairstats.New(store)
		queue := newMockQueue()
		pool := worker.NewPool(3, queue, engine)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.Start(ctx)

		convey.Convey("When the same pair is observed from many workers", func() {
			for i := 0; i < 60; i++ {
				queue.add(obs(fmt.Sprintf("obs-%d", i)))
			}
			convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)

			convey.Convey("Then no update is lost", func() {
				stats, err := engine.ReadStats(context.Background(), model.Attrs{}, "ipa", "stout")
				convey.So(err, convey.ShouldBeNil)
				convey.So(stats.N, convey.ShouldEqual, 60)
				convey.So(stats.S01, convey.ShouldEqual, 60*12.0)
			})
		})
	})
}
