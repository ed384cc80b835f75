package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/geolift/internal/model"
	"github.com/sells-group/geolift/internal/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the variable schema or validate a schema file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		validate, _ := cmd.Flags().GetString("validate")
		market, _ := cmd.Flags().GetString("market")

		if validate != "" {
			s, err := schema.Load(validate)
			if err != nil {
				return err
			}
			_, _ = printer.Fprintf(os.Stdout, "%s: schema %q is valid (%d variables, total weight %.2f)\n",
				validate, s.Name(), s.Len(), s.TotalWeight())
			return nil
		}

		s, err := selectSchema(market)
		if err != nil {
			return err
		}
		data, err := schema.Marshal(s)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(os.Stdout, string(data))
		return err
	},
}

// selectSchema returns the configured schema file when set, else the
// built-in schema for market.
func selectSchema(market string) (*schema.Schema, error) {
	if cfg.Engine.SchemaPath != "" {
		return schema.Load(cfg.Engine.SchemaPath)
	}
	t := defaultRegionType(market)
	if !t.Valid() {
		return nil, eris.Errorf("unknown market type %q", market)
	}
	return schema.ForMarket(t), nil
}

func init() {
	schemaCmd.Flags().String("validate", "", "path to a YAML schema file to validate")
	schemaCmd.Flags().String("market", "", "market type whose built-in schema to print: "+string(model.RegionTypeZIP)+" or "+string(model.RegionTypeDMA))
	rootCmd.AddCommand(schemaCmd)
}
