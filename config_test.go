package tfa

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty super-admin role", func(c *Config) { c.Policy.SuperAdminRole = "" }},
		{"whitespace in super-admin role", func(c *Config) { c.Policy.SuperAdminRole = "super admin" }},
		{"negative grace default", func(c *Config) { c.Policy.RequireAfterDefaultDays = -1 }},
		{"weak trust token entropy", func(c *Config) { c.Trust.TokenBytes = 16 }},
		{"non-positive min token length", func(c *Config) { c.Trust.MinTokenLength = 0 }},
		{"non-positive default trust days", func(c *Config) { c.Trust.DefaultTrustDays = 0 }},
		{"unknown totp algorithm", func(c *Config) { c.TOTP.Algorithm = "MD5" }},
		{"too few totp digits", func(c *Config) { c.TOTP.Digits = 4 }},
		{"too many totp digits", func(c *Config) { c.TOTP.Digits = 11 }},
		{"non-positive totp period", func(c *Config) { c.TOTP.Period = 0 }},
		{"negative totp skew", func(c *Config) { c.TOTP.Skew = -1 }},
		{"excessive totp skew", func(c *Config) { c.TOTP.Skew = 11 }},
		{"rate limit without attempts", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.MaxAttempts = 0
		}},
		{"rate limit without cooldown", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.Cooldown = 0
		}},
		{"audit without buffer", func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.BufferSize = 0
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestConfigValidateSkipsTrustChecksWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Trust.Enabled = false
	cfg.Trust.TokenBytes = 0
	cfg.Trust.MinTokenLength = 0
	cfg.Trust.DefaultTrustDays = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected disabled trust to skip trust validation, got %v", err)
	}
}

func TestConfigValidateAcceptsEmptyAlgorithm(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TOTP.Algorithm = ""

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected empty algorithm to default, got %v", err)
	}
}

func TestPolicyKeyConcatenation(t *testing.T) {
	cfg := DefaultConfig()

	if got := cfg.policyKey(policyKeyRequiredPrefix, "editor"); got != "tfa_required_editor" {
		t.Fatalf("unexpected policy key %q", got)
	}
	if got := cfg.policyKey(policyKeyXMLRPCOn); got != "tfa_xmlrpc_on" {
		t.Fatalf("unexpected policy key %q", got)
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TOTP.Digits = 3

	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	_, err := New().
		WithConfig(cfg).
		WithUserDirectory(fx.directory).
		WithPolicyStore(fx.policies).
		WithTrustStore(newMemTrustStore()).
		Build()
	if err == nil {
		t.Fatal("expected Build to reject invalid config")
	}
}

func TestBuildRequiresUserDirectory(t *testing.T) {
	_, err := New().
		WithPolicyStore(newFakePolicyStore()).
		WithTrustStore(newMemTrustStore()).
		Build()
	if err == nil {
		t.Fatal("expected Build to require a user directory")
	}
}

func TestBuilderRejectsReuse(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	b := New().
		WithUserDirectory(fx.directory).
		WithPolicyStore(fx.policies).
		WithTrustStore(newMemTrustStore()).
		WithSecondFactorProvider(&fakeProvider{code: "123456"})

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("first Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build on the same builder to fail")
	}
}
