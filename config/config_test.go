package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SLIP_VERIFY_URL", "https://api.slipok.test/verify")
	t.Setenv("PAYMENT_MAX_RETRY_COUNT", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Payment.MaxRetryCount != 5 || cfg.Payment.MaxSlipBytes != 5*1024*1024 || cfg.Payment.Currency != "THB" {
		t.Errorf("payment = %+v", cfg.Payment)
	}
	if cfg.SlipVerify.TimeoutSec != 30 {
		t.Errorf("timeout = %d", cfg.SlipVerify.TimeoutSec)
	}
	if got := cfg.Database.DSN(); got != "postgres://"+cfg.Database.User+":"+cfg.Database.Password+"@"+cfg.Database.Host+":"+cfg.Database.Port+"/"+cfg.Database.DBName+"?sslmode="+cfg.Database.SSLMode {
		t.Errorf("dsn = %q", got)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SLIP_VERIFY_URL", "https://api.slipok.test/verify")
	t.Setenv("PAYMENT_MAX_RETRY_COUNT", "3")
	t.Setenv("PAYMENT_MAX_SLIP_BYTES", "1048576")
	t.Setenv("DATABASE_URL", "postgres://db/academy")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Payment.MaxRetryCount != 3 || cfg.Payment.MaxSlipBytes != 1<<20 {
		t.Errorf("payment = %+v", cfg.Payment)
	}
	if cfg.Database.DSN() != "postgres://db/academy" {
		t.Errorf("dsn = %q", cfg.Database.DSN())
	}
}

func TestLoad_RequiresVerifier(t *testing.T) {
	t.Setenv("SLIP_VERIFY_URL", "")
	if _, err := Load(); err == nil {
		t.Error("missing SLIP_VERIFY_URL accepted")
	}
}
