package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/samber/lo"

	"github.com/italolelis/tigge_retriever/internal/retriever"
)

// maxListedDates bounds how many failed dates a summary spells out.
const maxListedDates = 10

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

type DiscordNotifier struct {
	WebhookURL string
	client     *retryablehttp.Client
}

func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.Logger = nil
	c.HTTPClient.Timeout = 10 * time.Second

	return &DiscordNotifier{WebhookURL: webhookURL, client: c}
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.client
	if client == nil {
		client = retryablehttp.NewClient()
		client.Logger = nil
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// BatchSummary renders a run outcome as a short chat message.
func BatchSummary(result *retriever.BatchResult, started time.Time) string {
	var b strings.Builder

	icon := "✅"
	if !result.OK() {
		icon = "⚠️"
	}

	fmt.Fprintf(&b, "%s TIGGE retrieval finished in %s: %s downloaded, %s failed, %s already present, %s unavailable",
		icon, time.Since(started).Round(time.Second),
		count(len(result.Succeeded)), count(len(result.Failed)), count(len(result.Skipped)), count(len(result.Unavailable)))

	if n := len(result.Pending); n > 0 {
		fmt.Fprintf(&b, ", %s not attempted", count(n))
	}

	if failed := result.FailedDates(); len(failed) > 0 {
		listed := lo.Map(lo.Subset(failed, 0, maxListedDates), func(d retriever.Date, _ int) string {
			return d.String()
		})

		fmt.Fprintf(&b, "\nFailed: %s", strings.Join(listed, ", "))

		if len(failed) > maxListedDates {
			fmt.Fprintf(&b, " and %d more", len(failed)-maxListedDates)
		}
	}

	return b.String()
}

// count adds thousands separators; a full archive backfill runs to several
// thousand dates.
func count(n int) string {
	return humanize.Comma(int64(n))
}
