package params

import (
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Exchange.FeePercent != 10 {
		t.Errorf("fee percent = %d, want 10", cfg.Exchange.FeePercent)
	}
	if cfg.Node.APIListen != ":8080" {
		t.Errorf("api listen = %s", cfg.Node.APIListen)
	}
	if cfg.Exchange.Self == cfg.Exchange.FeeAccount {
		t.Error("exchange identity and fee account must differ")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FEE_PERCENT", "25")
	t.Setenv("API_LISTEN", ":9999")
	t.Setenv("FEE_ACCOUNT", "0x1111111111111111111111111111111111111111")

	cfg := LoadFromEnv("")
	if cfg.Exchange.FeePercent != 25 {
		t.Errorf("fee percent = %d, want 25", cfg.Exchange.FeePercent)
	}
	if cfg.Node.APIListen != ":9999" {
		t.Errorf("api listen = %s, want :9999", cfg.Node.APIListen)
	}
	if cfg.Exchange.FeeAccount.Hex() != "0x1111111111111111111111111111111111111111" {
		t.Errorf("fee account = %s", cfg.Exchange.FeeAccount.Hex())
	}
}

func TestEmptyLogFileDisablesFileSink(t *testing.T) {
	t.Setenv("LOG_FILE", "")

	cfg := LoadFromEnv("")
	if cfg.Node.LogFile != "" {
		t.Errorf("log file = %q, want empty (console only)", cfg.Node.LogFile)
	}
}

func TestEnvRejectsInvalidValues(t *testing.T) {
	t.Setenv("FEE_PERCENT", "150") // over 100, ignored
	t.Setenv("FEE_ACCOUNT", "not-an-address")

	cfg := LoadFromEnv("")
	if cfg.Exchange.FeePercent != 10 {
		t.Errorf("fee percent = %d, want default 10", cfg.Exchange.FeePercent)
	}
	if cfg.Exchange.FeeAccount != Default().Exchange.FeeAccount {
		t.Errorf("fee account = %s, want default", cfg.Exchange.FeeAccount.Hex())
	}
}
