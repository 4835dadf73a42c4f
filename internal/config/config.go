// Copyright Contributors to the env360 project

// Package config loads the immutable Settings snapshot: a single
// snapshot read at startup via spf13/viper, with a narrow override
// entry point that atomically swaps the pointer whenever admin config
// changes. Readers always see whichever snapshot was current at the
// moment they dereference it.
package config

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/viper"
)

// Settings is an immutable point-in-time view of every admin/deployment
// relevant setting enumerated.
type Settings struct {
	BaseDomain string

	DomainCertNamespace string
	DomainIssuerName string
	DomainCertDuration time.Duration
	DomainCertRenewBefore time.Duration

	DomainGatewayName string
	DomainGatewayNamespace string
	DomainGatewayClassName string

	WorkflowQueueName string

	SecretsEncryptionKey string

	SuperAdminEmails map[string]struct{}
}

// IsSuperAdmin reports whether email (case-insensitively) is in the
// configured super-admin set. The flag is derived, never stored on User.
func (s *Settings) IsSuperAdmin(email string) bool {
	if s == nil {
		return false
	}
	_, ok := s.SuperAdminEmails[strings.ToLower(email)]
	return ok
}

var current atomic.Pointer[Settings]

// Load reads configuration from the environment (and any process flags
// viper has already bound) and installs it as the current snapshot: one
// process-wide pointer, swapped atomically, never mutated in place.
func Load() (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetDefault("BASE_DOMAIN", "env360.example.com")
	v.SetDefault("DOMAIN_CERT_NAMESPACE", "cert-manager")
	v.SetDefault("DOMAIN_ISSUER_NAME", "letsencrypt-prod")
	v.SetDefault("DOMAIN_CERT_DURATION_HOURS", 2160)
	v.SetDefault("DOMAIN_CERT_RENEW_BEFORE_HOURS", 360)
	v.SetDefault("DOMAIN_GATEWAY_NAME", "env360-ingress")
	v.SetDefault("DOMAIN_GATEWAY_NAMESPACE", "istio-ingress")
	v.SetDefault("DOMAIN_GATEWAY_CLASS_NAME", "istio")
	v.SetDefault("DBOS_WORKFLOW_QUEUE_NAME", "env360-default")
	v.SetDefault("SECRETS_ENCRYPTION_KEY", "")
	v.SetDefault("SUPER_ADMIN_EMAILS", "")

	s := fromViper(v)
	current.Store(s)
	return s, nil
}

func fromViper(v *viper.Viper) *Settings {
	emails := map[string]struct{}{}
	for _, e := range strings.Split(v.GetString("SUPER_ADMIN_EMAILS"), ",") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			emails[e] = struct{}{}
		}
	}

	return &Settings{
		BaseDomain: v.GetString("BASE_DOMAIN"),
		DomainCertNamespace: v.GetString("DOMAIN_CERT_NAMESPACE"),
		DomainIssuerName: v.GetString("DOMAIN_ISSUER_NAME"),
		DomainCertDuration: time.Duration(v.GetInt("DOMAIN_CERT_DURATION_HOURS")) * time.Hour,
		DomainCertRenewBefore: time.Duration(v.GetInt("DOMAIN_CERT_RENEW_BEFORE_HOURS")) * time.Hour,
		DomainGatewayName: v.GetString("DOMAIN_GATEWAY_NAME"),
		DomainGatewayNamespace: v.GetString("DOMAIN_GATEWAY_NAMESPACE"),
		DomainGatewayClassName: v.GetString("DOMAIN_GATEWAY_CLASS_NAME"),
		WorkflowQueueName: v.GetString("DBOS_WORKFLOW_QUEUE_NAME"),
		SecretsEncryptionKey: v.GetString("SECRETS_ENCRYPTION_KEY"),
		SuperAdminEmails: emails,
	}
}

// Current returns the active Settings snapshot. It panics if Load has
// never run rather than silently handing back a zero value.
func Current() *Settings {
	s := current.Load()
	if s == nil {
		panic("config: Current() called before Load()")
	}
	return s
}

// AdminOverrideBaseDomain is the only AdminConfig key the Store is
// allowed to override at runtime.
const AdminOverrideBaseDomain = "base_domain"

// ApplyAdminOverrides swaps in a new snapshot derived from the current
// one with any recognised admin-config keys applied. Unknown keys are
// ignored; this is the only supported override surface today.
func ApplyAdminOverrides(overrides map[string]string) *Settings {
	base := Current()
	next := *base
	for k, v := range overrides {
		if strings.EqualFold(k, AdminOverrideBaseDomain) && v != "" {
			next.BaseDomain = v
		}
	}
	current.Store(&next)
	return &next
}
