package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every variable FromEnv reads.
const EnvPrefix = "FORMSHEET_"

// FromEnv overlays FORMSHEET_* environment variables onto cfg. Unset or
// empty variables leave the field alone; an unparsable number is an error.
func FromEnv(cfg *Config) error {
	return fromLookup(cfg, os.LookupEnv)
}

func fromLookup(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}

	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	str("JOURNAL_URL", &cfg.Journal.URL)
	str("JOURNAL_API_KEY", &cfg.Journal.APIKey)
	str("JOURNAL_ORG_ID", &cfg.Journal.OrgID)
	if err := num("JOURNAL_PAGE_LIMIT", &cfg.Journal.PageLimit); err != nil {
		return err
	}
	if err := num("JOURNAL_MAX_PAGES", &cfg.Journal.MaxPages); err != nil {
		return err
	}

	str("EVENTS_INGRESS_URL", &cfg.Events.IngressURL)
	str("EVENTS_PROVIDER_ID", &cfg.Events.ProviderID)
	str("EVENTS_API_KEY", &cfg.Events.APIKey)

	str("AUTH_TOKEN_URL", &cfg.Auth.TokenURL)
	str("AUTH_CLIENT_ID", &cfg.Auth.ClientID)
	str("AUTH_CLIENT_SECRET", &cfg.Auth.ClientSecret)
	str("AUTH_SCOPES", &cfg.Auth.Scopes)
	str("AUTH_TOKEN", &cfg.Auth.Token)

	str("DA_BASE_URL", &cfg.DA.BaseURL)
	str("DA_ORG", &cfg.DA.Org)
	str("DA_SITE", &cfg.DA.Site)
	str("DA_TOKEN", &cfg.DA.Token)

	str("CHECKPOINT_BACKEND", &cfg.Checkpoint.Backend)
	str("CHECKPOINT_PATH", &cfg.Checkpoint.Path)
	str("CHECKPOINT_REDIS_ADDR", &cfg.Checkpoint.RedisAddr)
	str("CHECKPOINT_REDIS_PASSWORD", &cfg.Checkpoint.RedisPassword)
	str("CHECKPOINT_KEY", &cfg.Checkpoint.Key)

	str("PROCESSOR_INCOMING_ROOT", &cfg.Processor.IncomingRoot)
	str("PROCESSOR_LEDGER_PATH", &cfg.Processor.LedgerPath)

	str("EMAILS_API_URL", &cfg.Emails.APIURL)
	str("EMAILS_TOKEN", &cfg.Emails.Token)

	str("SERVER_ADDR", &cfg.Server.Addr)
	if err := num("SERVER_MAX_PAYLOAD_BYTES", &cfg.Server.MaxPayloadBytes); err != nil {
		return err
	}
	str("SERVER_SCHEMAS", &cfg.Server.Schemas)
	if v, ok := lookup(EnvPrefix + "SERVER_ALLOWED_FORMS"); ok && v != "" {
		cfg.Server.AllowedForms = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Server.AllowedForms = append(cfg.Server.AllowedForms, p)
			}
		}
	}
	return nil
}
