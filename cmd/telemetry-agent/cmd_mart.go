package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nneupane1/telemetry-agent/internal/config"
	"github.com/nneupane1/telemetry-agent/internal/logging"
	"github.com/nneupane1/telemetry-agent/internal/mart"
)

var martFlags struct {
	from   string
	driver string
	dsn    string
}

var martCmd = &cobra.Command{
	Use:   "mart",
	Short: "Manage the telemetry mart",
}

var martImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Copy a JSON sample export into a SQL mart",
	Long: `Reads a sample export (the format used by data.source=sample) and inserts
every VIN and cohort row into a sqlite or postgres mart, creating the tables
when they do not exist. Point data.source and data.dsn at the result to
interpret from SQL.`,
	Args: cobra.NoArgs,
	RunE: runMartImport,
}

func init() {
	f := martImportCmd.Flags()
	f.StringVar(&martFlags.from, "from", "", "Sample export to read (default: data.sample_file from config)")
	f.StringVar(&martFlags.driver, "driver", config.SourceSQLite, "Target driver: sqlite or postgres")
	f.StringVar(&martFlags.dsn, "dsn", "", "Target database (sqlite path or postgres URL) (required)")
	_ = martImportCmd.MarkFlagRequired("dsn")

	martCmd.AddCommand(martImportCmd)
}

func runMartImport(cmd *cobra.Command, _ []string) error {
	switch martFlags.driver {
	case config.SourceSQLite, config.SourcePostgres:
	default:
		return fmt.Errorf("unknown --driver %q (want sqlite or postgres)", martFlags.driver)
	}
	from := martFlags.from
	if from == "" {
		from = cfg.Data.SampleFile
	}

	dst, err := mart.OpenSQL(martFlags.driver, martFlags.dsn)
	if err != nil {
		return err
	}
	defer dst.Close()

	n, err := dst.Import(cmd.Context(), mart.NewSampleSource(from))
	if err != nil {
		return err
	}
	logging.New("cli").Info("mart import complete", "from", from, "driver", martFlags.driver, "rows", n)
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d rows from %s\n", n, from)
	return nil
}
