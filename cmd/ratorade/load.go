package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	service "github.com/okian/ratorade/internal/app"
)

func newLoadCmd(c *cli) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "load <collection>",
		Short: "Import JSON-lines records into a collection",
		Long: "Import JSON-lines records into a collection, stamping each with " +
			"sampling keys. Reads stdin unless --file is given.",
		Args: cobra.ExactArgs(1),
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
			return c.withService(cmd.Context(), func(svc *service.Service) error {
				n, err := svc.Import(cmd.Context(), args[0], r)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(c.out, "loaded %d records into %s\n", n, args[0])
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON-lines file to read (default stdin)")
	return cmd
}
