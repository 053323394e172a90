package validation

import "testing"

func TestIsSupportedAsset(t *testing.T) {
	for _, asset := range []string{"BTC", "ETH", "USDT", "btc", "usdt"} {
		if !IsSupportedAsset(asset) {
			t.Errorf("Expected %s to be supported", asset)
		}
	}
	for _, asset := range []string{"DOGE", "XRP", ""} {
		if IsSupportedAsset(asset) {
			t.Errorf("Expected %s to be unsupported", asset)
		}
	}
}

func TestIsSupportedFiat(t *testing.T) {
	if !IsSupportedFiat("NGN") || !IsSupportedFiat("kes") {
		t.Error("Expected NGN and KES to be supported")
	}
	if IsSupportedFiat("USD") {
		t.Error("USD is not a settlement currency")
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	errs := Validate(
		Required("userId", ""),
		ValidAsset("asset", "DOGE"),
		ValidFiat("fiatCurrency", "EUR"),
		ValidSide("direction", "hold"),
	)
	if len(errs) != 4 {
		t.Fatalf("Expected 4 errors, got %d: %v", len(errs), errs)
	}
	if errs.Error() == "" {
		t.Error("Expected non-empty error string")
	}
}

func TestValidate_PassesCleanInput(t *testing.T) {
	errs := Validate(
		Required("userId", "usr_1"),
		ValidAsset("asset", "BTC"),
		ValidFiat("fiatCurrency", "NGN"),
		ValidSide("direction", "buy"),
		PositiveAmount("cryptoAmount", 0.01),
	)
	if len(errs) != 0 {
		t.Errorf("Expected no errors, got %v", errs)
	}
}

func TestAmountWithin(t *testing.T) {
	if err := AmountWithin("cryptoAmount", 0.5, 0.0001, 2)(); err != nil {
		t.Errorf("Expected 0.5 BTC to pass bounds, got %v", err)
	}
	if err := AmountWithin("cryptoAmount", 5, 0.0001, 2)(); err == nil {
		t.Error("Expected 5 BTC to exceed max")
	}
	if err := AmountWithin("cryptoAmount", 0.00001, 0.0001, 2)(); err == nil {
		t.Error("Expected dust amount to be below min")
	}
	// Zero bounds mean unset
	if err := AmountWithin("cryptoAmount", 1e9, 0, 0)(); err != nil {
		t.Errorf("Expected unset bounds to pass, got %v", err)
	}
}

func TestPositiveAmount(t *testing.T) {
	if err := PositiveAmount("amount", 0)(); err == nil {
		t.Error("Expected zero amount to fail")
	}
	if err := PositiveAmount("amount", -1)(); err == nil {
		t.Error("Expected negative amount to fail")
	}
}

func TestSanitizeString(t *testing.T) {
	got := SanitizeString("  hello\x00world  ", 8)
	if got != "hellowor" {
		t.Errorf("Expected 'hellowor', got %q", got)
	}
}
