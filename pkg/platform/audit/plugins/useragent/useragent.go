// Package useragent parses the client user agent into structured event metadata.
package useragent

import (
	"context"
	"strings"

	"github.com/mssola/useragent"

	audit "ozhi/pkg/platform/audit"
)

const (
	Name        = "useragent"
	MetadataKey = "client"
)

// Client is the parsed form of a User-Agent header.
type Client struct {
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browser_version,omitempty"`
	OS             string `json:"os,omitempty"`
	Platform       string `json:"platform,omitempty"`
	Mobile         bool   `json:"mobile"`
	Bot            bool   `json:"bot"`
	DisplayName    string `json:"display_name"`
}

// Parse never fails; unrecognised agents yield mostly empty fields.
func Parse(raw string) Client {
	ua := useragent.New(raw)
	browser, version := ua.Browser()
	c := Client{
		Browser:        browser,
		BrowserVersion: version,
		OS:             ua.OS(),
		Platform:       ua.Platform(),
		Mobile:         ua.Mobile(),
		Bot:            ua.Bot(),
	}
	c.DisplayName = displayName(raw, c)
	return c
}

func displayName(raw string, c Client) string {
	if strings.TrimSpace(raw) == "" {
		return "Unknown Device"
	}
	browser := c.Browser
	if browser == "" {
		browser = "Unknown Browser"
	}
	system := c.OS
	if system == "" {
		system = c.Platform
	}
	if system == "" {
		system = "Unknown OS"
	}
	return strings.TrimSpace(browser + " on " + system)
}

// Plugin is a pre-hook adding metadata.client when the context carries a user agent.
type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (*Plugin) Name() string { return Name }

func (*Plugin) BeforeAudit(_ context.Context, event audit.Event) (audit.Decision, error) {
	if event.Context.UserAgent == "" {
		return audit.Continue(event), nil
	}
	event.Metadata = event.SetMetadata(MetadataKey, Parse(event.Context.UserAgent))
	return audit.Continue(event), nil
}
