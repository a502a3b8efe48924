package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jorgepascosoto/vaultdb/internal/backup"
	"github.com/jorgepascosoto/vaultdb/internal/settings"
)

type exportOptions struct {
	settingsID string
	kind       string
	host       string
	port       int
	user       string
	password   string
	database   string
	uri        string
	output     string
	compress   bool
	chunkSize  int
	threshold  int
	jsonOutput bool
}

func newExportCommand(opts *rootOptions) *cobra.Command {
	o := &exportOptions{}

	cmd := &cobra.Command{
		Use:   "export",
		Args:  cobra.NoArgs,
		Short: "Run one export locally, without the queue or job tracking",
		Example: `  vaultdb export --type mongodb --uri mongodb://localhost:27017/app --compress
  vaultdb export --settings 65f0c0ffee0000000000beef`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			parts := component(0)
			if o.settingsID != "" {
				parts |= withStore
			}
			a, err := newApp(ctx, opts.cfg, opts.logger, parts)
			if err != nil {
				return err
			}
			defer a.close()

			req, err := o.request(cmd, a)
			if err != nil {
				return err
			}
			if err := req.Validate(); err != nil {
				return err
			}

			res := a.registry.Execute(ctx, req)
			return printResult(cmd, res, o.jsonOutput)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.settingsID, "settings", "", "build the request from a saved settings record")
	f.StringVarP(&o.kind, "type", "t", "", "database type (mongodb, mysql, postgresql)")
	f.StringVar(&o.host, "host", "", "database host")
	f.IntVar(&o.port, "port", 0, "database port (default depends on type)")
	f.StringVarP(&o.user, "user", "u", "", "database user")
	f.StringVarP(&o.password, "password", "p", "", "database password")
	f.StringVarP(&o.database, "database", "d", "", "database name")
	f.StringVar(&o.uri, "uri", "", "connection string; wins over the discrete flags it covers")
	f.StringVarP(&o.output, "output", "o", "", "output path without extension (default under backup.dir)")
	f.BoolVar(&o.compress, "compress", false, "gzip document exports")
	f.IntVar(&o.chunkSize, "chunk-size", 0, "documents per chunk (default backup.chunk_size)")
	f.IntVar(&o.threshold, "threshold", 0, "collections larger than this are chunked (default backup.large_collection_threshold)")
	f.BoolVar(&o.jsonOutput, "json", false, "print the result as JSON")

	return cmd
}

func (o *exportOptions) request(cmd *cobra.Command, a *app) (backup.Request, error) {
	cfg := a.cfg.Backup
	if o.chunkSize > 0 {
		cfg.ChunkSize = o.chunkSize
	}
	if o.threshold > 0 {
		cfg.LargeCollectionThreshold = o.threshold
	}

	id := uuid.NewString()
	now := time.Now()

	if o.settingsID != "" {
		s, err := a.settings.Get(cmd.Context(), o.settingsID)
		if err != nil {
			return backup.Request{}, err
		}
		req := s.ToRequest(cfg, id, now)
		if o.output != "" {
			req.OutputPath = o.output
		}
		if cmd.Flags().Changed("compress") {
			req.Options.Compress = o.compress
		}
		return req, nil
	}

	if o.kind == "" {
		return backup.Request{}, fmt.Errorf("either --settings or --type is required")
	}

	s := &settings.Settings{
		DatabaseType:     o.kind,
		ConnectionString: o.uri,
		Host:             o.host,
		Port:             o.port,
		Username:         o.user,
		Password:         o.password,
		Database:         o.database,
		Compress:         o.compress,
	}
	req := s.ToRequest(cfg, id, now)
	if o.output != "" {
		req.OutputPath = o.output
	}
	return req, nil
}

type exportResult struct {
	Success    bool   `json:"success"`
	FilePath   string `json:"filePath,omitempty"`
	Size       int64  `json:"size"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
	Note       string `json:"note,omitempty"`
	Entities   int    `json:"entities"`
	TotalCount int64  `json:"totalCount"`
}

func printResult(cmd *cobra.Command, res backup.Result, asJSON bool) error {
	out := cmd.OutOrStdout()

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(exportResult{
			Success:    res.Success,
			FilePath:   res.FilePath,
			Size:       res.Size,
			DurationMs: res.Duration.Milliseconds(),
			Error:      res.Error,
			Note:       res.Note,
			Entities:   res.Stats.TotalEntities,
			TotalCount: res.Stats.TotalCount,
		}); err != nil {
			return err
		}
	} else if res.Success {
		fmt.Fprintf(out, "Backup completed: %s (%d bytes, %s)\n", res.FilePath, res.Size, res.Duration.Round(time.Millisecond))
		fmt.Fprintf(out, "Exported %d entities, %d rows/documents\n", res.Stats.TotalEntities, res.Stats.TotalCount)
		if res.Note != "" {
			fmt.Fprintf(out, "Note: %s\n", res.Note)
		}
	}

	if !res.Success {
		return fmt.Errorf("backup failed: %s", res.Error)
	}
	return nil
}
