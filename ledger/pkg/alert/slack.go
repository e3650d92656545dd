package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/malbeclabs/claimvault/ledger/pkg/vault"
	"github.com/slack-go/slack"
)

type SlackConfig struct {
	Logger     *slog.Logger
	WebhookURL string
	// Environment is shown in the alert header, e.g. "mainnet-beta".
	Environment string
	HTTPClient  *http.Client
}

func (cfg *SlackConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.WebhookURL == "" {
		return errors.New("webhook url is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return nil
}

// Slack posts low balance alerts to an incoming webhook.
type Slack struct {
	log *slog.Logger
	cfg SlackConfig
}

func NewSlack(cfg SlackConfig) (*Slack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Slack{log: cfg.Logger, cfg: cfg}, nil
}

func (s *Slack) LowBalance(ctx context.Context, alert vault.LowBalanceAlert) error {
	msg := lowBalanceMessage(s.cfg.Environment, alert)
	if err := slack.PostWebhookCustomHTTPContext(ctx, s.cfg.WebhookURL, s.cfg.HTTPClient, msg); err != nil {
		return fmt.Errorf("failed to post slack webhook: %w", err)
	}
	s.log.Info("alert: low balance posted", "vault_id", alert.VaultID, "balance", alert.Balance)
	return nil
}

func lowBalanceMessage(env string, alert vault.LowBalanceAlert) *slack.WebhookMessage {
	title := "Vault balance low"
	if env != "" {
		title = fmt.Sprintf("[%s] %s", env, title)
	}
	summary := fmt.Sprintf("Vault `%s` dropped below its threshold after a claim of %d.", alert.VaultID, alert.LastClaim)

	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Balance*\n%d", alert.Balance), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Threshold*\n%d", alert.Threshold), false, false),
	}
	return &slack.WebhookMessage{
		Text: fmt.Sprintf("%s: %s", title, summary),
		Blocks: &slack.Blocks{
			BlockSet: []slack.Block{
				slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, title, true, false)),
				slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, summary, false, false), fields, nil),
			},
		},
	}
}
