package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newQueryCommand() *cobra.Command {
	var (
		opts      queryOptions
		countOnly bool
	)

	cmd := &cobra.Command{
		Use:   "query <url>",
		Short: "Read every matching record of a layer or table",
		Long: `Count the matching records of a feature layer or table, fetch them page by
page in parallel and print them in object ID order.

Examples:
  arcgis query https://host/arcgis/rest/services/Parcels/FeatureServer/0 --where "ZONE='R1'"
  arcgis query <url> --fields OBJECTID,NAME --no-geometry -o json
  arcgis query <url> --bbox -122.5,37.7,-122.3,37.8 --in-sr 4326 --count`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := opts.params()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sess, cleanup, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			h, err := sess.Open(ctx, args[0], "")
			if err != nil {
				return err
			}

			if countOnly {
				n, err := sess.Count(ctx, h, params)
				if err != nil {
					return err
				}
				if done, err := writeOutput(os.Stdout, viper.GetString("output"), map[string]int{"count": n}); done {
					return err
				}
				_, err = fmt.Fprintln(os.Stdout, n)
				return err
			}

			res, err := sess.Query(ctx, h, params)
			if err != nil {
				return err
			}
			return renderFeatures(os.Stdout, viper.GetString("output"), res, params.OutFields)
		},
	}

	cmd.Flags().StringVarP(&opts.Where, "where", "w", "", "SQL where clause (default 1=1)")
	cmd.Flags().StringVarP(&opts.Fields, "fields", "f", "*", "comma separated output fields")
	cmd.Flags().StringVar(&opts.OrderBy, "order-by", "", "comma separated order, e.g. \"NAME ASC\" (default object ID)")
	cmd.Flags().StringVar(&opts.BBox, "bbox", "", "envelope filter xmin,ymin,xmax,ymax")
	cmd.Flags().IntVar(&opts.InSR, "in-sr", 0, "spatial reference of --bbox")
	cmd.Flags().IntVar(&opts.OutSR, "out-sr", 0, "output spatial reference")
	cmd.Flags().BoolVar(&opts.NoGeometry, "no-geometry", false, "omit geometries")
	cmd.Flags().BoolVar(&countOnly, "count", false, "only print the number of matching records")

	return cmd
}
