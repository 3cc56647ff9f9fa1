package main

import (
	"time"

	configlibsql "statuswatch-backend/lib/configutil/libsql"
	"statuswatch-backend/services/notify"
)

type PortalConfig struct {
	BaseUrl          string `json:"base_url"`
	CloudflareBypass bool   `json:"cloudflare_bypass"`
	// CredentialName picks which keychain credential logs into the
	// portal.
	CredentialName string `json:"credential_name"`
	// CatalogFile overrides the embedded selector catalog.
	CatalogFile            string `json:"catalog_file"`
	SessionLifetimeMinutes int    `json:"session_lifetime_minutes"`
	KeepaliveSeconds       int    `json:"keepalive_seconds"`
}

type RendererConfig struct {
	Enabled    bool   `json:"enabled"`
	Bin        string `json:"bin"`
	ControlUrl string `json:"control_url"`
	Headless   bool   `json:"headless"`
}

type DispatcherConfig struct {
	QueueCapacity         int `json:"queue_capacity"`
	RequestTimeoutSeconds int `json:"request_timeout_seconds"`
	RetainCount           int `json:"retain_count"`
	RetainAgeHours        int `json:"retain_age_hours"`
}

type Config struct {
	Port     int                 `json:"port"`
	Keychain configlibsql.Struct `json:"keychain"`
	Audit    configlibsql.Struct `json:"audit"`
	Portal   PortalConfig        `json:"portal"`
	Renderer RendererConfig      `json:"renderer"`
	Queries  DispatcherConfig    `json:"queries"`
	Smtp     notify.SmtpConfig   `json:"smtp"`
	// InsecureNoAuth serves the api without bearer tokens. Local
	// development only.
	InsecureNoAuth bool `json:"insecure_no_auth"`
	// DumpsDir receives pages that failed extraction. Empty disables
	// dumps.
	DumpsDir string `json:"dumps_dir"`
}

func (c DispatcherConfig) requestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c DispatcherConfig) retainAge() time.Duration {
	return time.Duration(c.RetainAgeHours) * time.Hour
}
