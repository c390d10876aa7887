package config

import (
	"strings"
	"testing"
)

func validConfig() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "voice", SSLMode: "disable"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
		Vault: VaultConfig{MasterKey: strings.Repeat("k", 32)},
		Provider: ProviderConfig{
			AccountSID: "AC00000000000000000000000000000000",
			AuthToken:  "token",
		},
		Agent: AgentConfig{BaseURL: "https://api.agent.example", APIKey: "key"},
		SIP:   SIPConfig{OriginationURI: "sip:inbound.agent.example"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_MasterKeyIsFatal(t *testing.T) {
	c := validConfig()
	c.Vault.MasterKey = ""
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error for missing MASTER_ENCRYPTION_KEY")
	}
	if !strings.Contains(err.Error(), "MASTER_ENCRYPTION_KEY") {
		t.Fatalf("error should name the missing key, got %v", err)
	}

	c = validConfig()
	c.Vault.MasterKey = "too-short"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for short master key")
	}
}

func TestValidate_OriginationURIScheme(t *testing.T) {
	c := validConfig()
	c.SIP.OriginationURI = "https://not-sip.example"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for non-sip origination URI")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "issuer"
	c.Auth.JWTAudience = "aud"
	c.DB.SSLMode = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalAllowsMissingSSLMode(t *testing.T) {
	c := validConfig()
	c.DB.SSLMode = ""
	c.SIP.SearchCacheTTL = 0
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}
