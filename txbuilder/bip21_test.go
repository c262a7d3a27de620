package txbuilder

import "testing"

func TestParseBIP21RoundTrip(t *testing.T) {
	uri := CreateBIP21("bc1qexampleaddress", CreateBIP21Options{
		AmountSats: 150000,
		Label:      "coffee",
	})

	parsed, err := ParseBIP21(uri)
	if err != nil {
		t.Fatalf("ParseBIP21() error = %v", err)
	}
	if parsed.Address != "bc1qexampleaddress" {
		t.Errorf("Address = %q, want bc1qexampleaddress", parsed.Address)
	}
	if parsed.AmountSats != 150000 {
		t.Errorf("AmountSats = %d, want 150000", parsed.AmountSats)
	}
	if parsed.Label != "coffee" {
		t.Errorf("Label = %q, want coffee", parsed.Label)
	}
}

func TestParseBIP21AddressOnly(t *testing.T) {
	parsed, err := ParseBIP21("bitcoin:bc1qexampleaddress")
	if err != nil {
		t.Fatalf("ParseBIP21() error = %v", err)
	}
	if parsed.Address != "bc1qexampleaddress" {
		t.Errorf("Address = %q, want bc1qexampleaddress", parsed.Address)
	}
	if parsed.AmountSats != 0 {
		t.Errorf("AmountSats = %d, want 0", parsed.AmountSats)
	}
}

func TestParseBIP21RejectsWrongScheme(t *testing.T) {
	_, err := ParseBIP21("ethereum:0xdeadbeef")
	if err == nil {
		t.Fatal("expected an error for a non-bitcoin scheme")
	}
}

func TestFormatBTCTrimsTrailingZeros(t *testing.T) {
	cases := map[int64]string{
		100000000: "1",
		150000000: "1.5",
		1:         "0.00000001",
		0:         "0",
	}
	for sats, want := range cases {
		if got := formatBTC(sats); got != want {
			t.Errorf("formatBTC(%d) = %q, want %q", sats, got, want)
		}
	}
}
