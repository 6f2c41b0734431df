package cli

import (
	"context"
	"fmt"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog/log"

	"github.com/fpang/seetrue/internal/config"
	"github.com/fpang/seetrue/internal/poll"
	"github.com/fpang/seetrue/internal/service"
	"github.com/fpang/seetrue/internal/session"
	"github.com/fpang/seetrue/internal/store"
	"github.com/fpang/seetrue/internal/submit"
)

// NewClient builds the service client described by cfg.
func NewClient(cfg *config.Config) *service.Client {
	return service.NewClient(cfg.Endpoint,
		service.WithTimeout(cfg.RequestTimeout),
		service.WithPaths(cfg.SubmitPath, cfg.StatusPath),
		service.WithCompression(cfg.CompressUpload),
	)
}

// NewGate builds a submission gate with the configured payload checks.
func NewGate(u submit.Uploader, cfg *config.Config) *submit.Gate {
	var checks []submit.Check
	if len(cfg.AllowedExtensions) > 0 {
		checks = append(checks, submit.AllowedExtensions(cfg.AllowedExtensions...))
	}
	if len(cfg.RequiredColumns) > 0 {
		checks = append(checks, submit.RequiredColumns(cfg.RequiredColumns...))
	}
	return submit.NewGate(u, checks...)
}

// InitHistoryStore returns a DynamoDB-backed store when a history table is
// configured, and nil otherwise. Credentials come from the default AWS chain.
func InitHistoryStore(ctx context.Context, cfg *config.Config) (store.HistoryStore, error) {
	if cfg.HistoryTable == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("table", cfg.HistoryTable).Str("region", awsCfg.Region).Msg("Job history enabled")
	return store.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.HistoryTable), nil
}

// InitController wires a session controller from cfg. metricsOut receives
// EMF lines when metrics are enabled.
func InitController(ctx context.Context, cfg *config.Config, notifier session.Notifier, metricsOut io.Writer) (*session.Controller, error) {
	history, err := InitHistoryStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client := NewClient(cfg)

	sc := session.Config{
		Poll: poll.Config{
			Interval:    cfg.PollInterval,
			MaxDuration: cfg.MaxPollDuration,
			Labels:      cfg.LabelSet(),
		},
		AllowFinalWithoutBatches: !cfg.RequireBatchBeforeFinal,
		Store:                    history,
		MetricsNamespace:         cfg.MetricsNamespace,
	}
	if cfg.MetricsEnabled {
		sc.MetricsOut = metricsOut
	}
	return session.New(NewGate(client, cfg), client, notifier, sc), nil
}
