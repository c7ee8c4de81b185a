package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"twinpool/pkg/events"
	"twinpool/pkg/logger"
)

const resumeHint = "Polling for this workspace is stopped. Reopen the workspace to resume."

// FeishuNotifier sends fault notifications to Feishu (Lark)
type FeishuNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewFeishuNotifier creates a notifier; FEISHU_WEBHOOK_URL is used when
// webhookURL is empty, and with neither set the notifier is disabled
func NewFeishuNotifier(webhookURL string) *FeishuNotifier {
	if webhookURL == "" {
		webhookURL = os.Getenv("FEISHU_WEBHOOK_URL")
	}
	if webhookURL == "" {
		logger.Warn("Feishu webhook URL not configured, fault notifications disabled")
	}

	return &FeishuNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled whether a webhook is configured
func (f *FeishuNotifier) Enabled() bool {
	return f.webhookURL != ""
}

// NotifyFault sends a fault card to Feishu
func (f *FeishuNotifier) NotifyFault(ctx context.Context, report events.FaultReport) error {
	if !f.Enabled() {
		return nil
	}
	if err := f.post(ctx, faultCard(report)); err != nil {
		return err
	}
	logger.InfoCtx(ctx, "Feishu notification sent for %s fault", report.Source)
	return nil
}

func (f *FeishuNotifier) post(ctx context.Context, msg message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal Feishu message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Feishu notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Feishu API returned status code: %d", resp.StatusCode)
	}
	return nil
}

// Feishu interactive card, only the parts used here

type message struct {
	MsgType string `json:"msg_type"`
	Card    card   `json:"card"`
}

type card struct {
	Header   header    `json:"header"`
	Elements []element `json:"elements"`
}

type header struct {
	Template string `json:"template"`
	Title    text   `json:"title"`
}

type element struct {
	Tag      string  `json:"tag"`
	Text     *text   `json:"text,omitempty"`
	Fields   []field `json:"fields,omitempty"`
	Elements []text  `json:"elements,omitempty"`
}

type field struct {
	IsShort bool `json:"is_short"`
	Text    text `json:"text"`
}

type text struct {
	Content string `json:"content"`
	Tag     string `json:"tag"`
}

func markdown(format string, args ...interface{}) text {
	return text{Content: fmt.Sprintf(format, args...), Tag: "lark_md"}
}

func faultCard(report events.FaultReport) message {
	component := "Worker Pool"
	if report.Source == events.SourceJobMonitor {
		component = "Job Monitor"
	}
	summary := markdown("**Workspace**: %s\n%s", report.Workspace, report.Message)

	return message{
		MsgType: "interactive",
		Card: card{
			Header: header{
				Template: "red",
				Title:    text{Content: "Workspace Fault", Tag: "plain_text"},
			},
			Elements: []element{
				{Tag: "div", Text: &summary},
				{Tag: "hr"},
				{Tag: "div", Fields: []field{
					{IsShort: true, Text: markdown("**Component**\n%s", component)},
					{IsShort: true, Text: markdown("**Time**\n%s", report.At.Format("2006-01-02 15:04:05"))},
				}},
				{Tag: "hr"},
				{Tag: "note", Elements: []text{{Content: resumeHint, Tag: "plain_text"}}},
			},
		},
	}
}
