package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	service "github.com/okian/ratorade/internal/app"
	"github.com/okian/ratorade/internal/domain/model"
)

const maxObservationLine = 1 << 20

// observationLine is one JSON-lines observation.
type observationLine struct {
	ID         string         `json:"id"`
	New        map[string]any `json:"new"`
	Ref        map[string]any `json:"ref"`
	Previous   map[string]any `json:"previous"`
	IDAttr     string         `json:"id_attr"`
	RatingAttr string         `json:"rating_attr"`
}

func (o observationLine) observation() *model.Observation {
	obs := &model.Observation{
		ID:    o.ID,
		New:   model.Record(o.New),
		Ref:   model.Record(o.Ref),
		Attrs: model.Attrs{ID: o.IDAttr, Rating: o.RatingAttr},
	}
	if o.Previous != nil {
		obs.Previous = model.Record(o.Previous)
	}
	return obs
}

func newObserveCmd(c *cli) *cobra.Command {
	var (
		file   string
		queued bool
	)
	cmd := &cobra.Command{
		Use:   "observe",
		Short: "Record JSON-lines rating observations into pair statistics",
		Long: "Record JSON-lines rating observations of the form " +
			`{"new":{...},"ref":{...},"previous":{...}}. ` +
			"With --queue they pass through deduplication and the worker pool.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = c.in
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			var recorded, duplicates int
			err := c.withService(cmd.Context(), func(svc *service.Service) error {
				sc := bufio.NewScanner(r)
				sc.Buffer(make([]byte, 0, 64*1024), maxObservationLine)
				line := 0
				for sc.Scan() {
					line++
					raw := bytes.TrimSpace(sc.Bytes())
					if len(raw) == 0 {
						continue
					}
					var ol observationLine
					if err := json.Unmarshal(raw, &ol); err != nil {
						return fmt.Errorf("line %d: %w", line, err)
					}
					obs := ol.observation()
					if !queued {
						if err := svc.RecordNow(cmd.Context(), obs); err != nil {
							return fmt.Errorf("line %d: %w", line, err)
						}
						recorded++
						continue
					}
					res, err := svc.Ingest(cmd.Context(), obs)
					if err != nil {
						return fmt.Errorf("line %d: %w", line, err)
					}
					if res.Duplicate {
						duplicates++
					} else {
						recorded++
					}
				}
				return sc.Err()
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(c.out, "recorded %d observations (%d duplicates)\n", recorded, duplicates)
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON-lines file to read (default stdin)")
	cmd.Flags().BoolVar(&queued, "queue", false, "ingest through the queue instead of recording directly")
	return cmd
}
