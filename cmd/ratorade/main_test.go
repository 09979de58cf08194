package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/smartystreets/goconvey/convey"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ratorade.yaml")
	body := fmt.Sprintf(`store_backend: badger
badger_dir: %s
worker_count: 2
queue_size: 1000
dedupe_size: 100
sample_seed: 3
log_level: warn
`, filepath.Join(dir, "data"))
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func run(cfgPath, stdin string, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCmd(strings.NewReader(stdin), &out, io.Discard)
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	convey.Convey("Given a config backed by an on-disk badger store", t, func() {
		cfgPath := writeConfig(t)

		convey.Convey("When records are loaded and a histogram is built", func() {
			var lines strings.Builder
			for _, r := range []int{1, 2, 2, 3, 3, 3, 4, 4, 5, 5} {
				fmt.Fprintf(&lines, "{\"rating\":%d}\n", r)
			}
			out, err := run(cfgPath, lines.String(), "load", "beers")
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldEqual, "loaded 10 records into beers\n")

			out, err = run(cfgPath, "", "histogram",
				"--source", "beers", "--name", "by_rating", "--group", "rating",
				"--sort", "rating", "--asc", "--prob", "--cumulative")
			convey.So(err, convey.ShouldBeNil)
			var res struct {
				TotalRecords int `json:"totalRecords"`
				Buckets      int `json:"buckets"`
			}
			convey.So(json.Unmarshal([]byte(out), &res), convey.ShouldBeNil)
			convey.So(res.TotalRecords, convey.ShouldEqual, 10)
			convey.So(res.Buckets, convey.ShouldEqual, 5)

			convey.Convey("Then quantiles read the persisted histogram", func() {
				out, err := run(cfgPath, "", "quantile", "by_rating", "0.5")
				convey.So(err, convey.ShouldBeNil)
				var b struct {
					Key map[string]any `json:"key"`
				}
				convey.So(json.Unmarshal([]byte(out), &b), convey.ShouldBeNil)
				convey.So(b.Key["rating"], convey.ShouldEqual, 3)
			})

			convey.Convey("Then binned and filtered builds are accepted", func() {
				out, err := run(cfgPath, "", "histogram",
					"--source", "beers", "--name", "binned", "--group", "rating",
					"--bin", "rating:bins=2,min=1,max=5", "--filter", "record.rating > 1")
				convey.So(err, convey.ShouldBeNil)
				convey.So(json.Unmarshal([]byte(out), &res), convey.ShouldBeNil)
				convey.So(res.TotalRecords, convey.ShouldEqual, 9)
				convey.So(res.Buckets, convey.ShouldEqual, 3)
			})

			convey.Convey("Then --show lists buckets in group key order", func() {
				out, err := run(cfgPath, "", "histogram",
					"--source", "beers", "--name", "shown", "--group", "rating",
					"--sort", "rating", "--asc", "--show", "2")
				convey.So(err, convey.ShouldBeNil)
				var shown struct {
					Buckets []struct {
						Key map[string]any `json:"key"`
					} `json:"buckets"`
				}
				convey.So(json.Unmarshal([]byte(out), &shown), convey.ShouldBeNil)
				convey.So(shown.Buckets, convey.ShouldHaveLength, 2)
				convey.So(shown.Buckets[0].Key["rating"], convey.ShouldEqual, 1)
				convey.So(shown.Buckets[1].Key["rating"], convey.ShouldEqual, 2)
			})

			convey.Convey("Then a malformed bin flag is rejected", func() {
				_, err := run(cfgPath, "", "histogram",
					"--source", "beers", "--name", "bad", "--group", "rating", "--bin", "rating")
				convey.So(err, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When observations are recorded and models derived", func() {
			var lines strings.Builder
			xs := []float64{1, 2, 3, 4, 5}
			ys := []float64{2, 4, 5, 4, 5}
			for i := range xs {
				fmt.Fprintf(&lines, "{\"id\":\"o%d\",\"new\":{\"item\":\"a\",\"rating\":%v},\"ref\":{\"item\":\"b\",\"rating\":%v}}\n", i, xs[i], ys[i])
			}
			out, err := run(cfgPath, lines.String(), "observe", "--queue")
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldEqual, "recorded 5 observations (0 duplicates)\n")

			out, err = run(cfgPath, "", "derive")
			convey.So(err, convey.ShouldBeNil)
			var sum struct {
				Written int `json:"written"`
			}
			convey.So(json.Unmarshal([]byte(out), &sum), convey.ShouldBeNil)
			convey.So(sum.Written, convey.ShouldEqual, 1)

			convey.Convey("Then predictions use the stored model", func() {
				out, err := run(cfgPath, "", "predict", "a", "b", "3")
				convey.So(err, convey.ShouldBeNil)
				var p struct {
					Prediction float64 `json:"prediction"`
				}
				convey.So(json.Unmarshal([]byte(out), &p), convey.ShouldBeNil)
				convey.So(p.Prediction, convey.ShouldAlmostEqual, 4.0, 1e-9)
			})

			convey.Convey("Then a strict single-pair derive skips the pair", func() {
				out, err := run(cfgPath, "", "derive", "--pair", "a,b", "--min-r2", "0.9")
				convey.So(err, convey.ShouldBeNil)
				convey.So(json.Unmarshal([]byte(out), &sum), convey.ShouldBeNil)
				convey.So(sum.Written, convey.ShouldEqual, 0)
			})

			convey.Convey("Then --pair needs two ids", func() {
				_, err := run(cfgPath, "", "derive", "--pair", "a")
				convey.So(err, convey.ShouldEqual, errPairArgs)
			})
		})

		convey.Convey("When flags override configuration", func() {
			_, err := run(cfgPath, "", "--log-level", "loud", "derive")

			convey.Convey("Then invalid values fail validation", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "LogLevel")
			})
		})
	})
}
