package descriptor

import "testing"

func TestParseSingleKeyTypes(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want string
	}{
		{"pkh", "pkh([d34db33f/44'/0'/0']xpub6CUGRUo.../0/*)", "pkh"},
		{"wpkh", "wpkh([d34db33f/84'/0'/0']xpub6CUGRUo.../0/*)", "wpkh"},
		{"sh-wpkh", "sh(wpkh([d34db33f/49'/0'/0']xpub6CUGRUo.../0/*))", "sh-wpkh"},
		{"tr", "tr([d34db33f/86'/0'/0']xpub6CUGRUo.../0/*)", "tr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := Parse(tt.expr)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.expr, err)
			}
			if info.Type != tt.want {
				t.Errorf("Type = %q, want %q", info.Type, tt.want)
			}
			if len(info.Keys) != 1 {
				t.Fatalf("len(Keys) = %d, want 1", len(info.Keys))
			}
			if info.Keys[0].Fingerprint != "d34db33f" {
				t.Errorf("Fingerprint = %q, want d34db33f", info.Keys[0].Fingerprint)
			}
			if !info.IsRange {
				t.Error("expected IsRange = true")
			}
		})
	}
}

func TestParseMultisig(t *testing.T) {
	expr := "wsh(sortedmulti(2,[aaaaaaaa/48'/0'/0'/2']xpubA.../0/*,[bbbbbbbb/48'/0'/0'/2']xpubB.../0/*,[cccccccc/48'/0'/0'/2']xpubC.../0/*))"
	info, err := Parse(expr)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !info.IsMultisig {
		t.Fatal("expected IsMultisig = true")
	}
	if info.Threshold != 2 || info.TotalKeys != 3 {
		t.Errorf("got %d-of-%d, want 2-of-3", info.Threshold, info.TotalKeys)
	}
	if info.Type != "sortedmulti" {
		t.Errorf("Type = %q, want sortedmulti", info.Type)
	}
}

func TestSplitTopLevelRespectsBrackets(t *testing.T) {
	parts := SplitTopLevel("2,[a/1/2],[b/3/4],xpub(nested,stuff)", ',')
	want := []string{"2", "[a/1/2]", "[b/3/4]", "xpub(nested,stuff)"}
	if len(parts) != len(want) {
		t.Fatalf("got %d parts, want %d: %v", len(parts), len(want), parts)
	}
	for i := range want {
		if parts[i] != want[i] {
			t.Errorf("part %d = %q, want %q", i, parts[i], want[i])
		}
	}
}

func TestChecksumRoundTrip(t *testing.T) {
	// Known-good BIP380 example from the reference test vectors.
	body := "wpkh([d34db33f/84h/0h/0h]0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798)"
	sum, err := Checksum(body)
	if err != nil {
		t.Fatalf("Checksum() error = %v", err)
	}
	if len(sum) != 8 {
		t.Fatalf("Checksum() length = %d, want 8", len(sum))
	}

	withSum := body + "#" + sum
	ok, err := ValidateChecksum(withSum)
	if err != nil {
		t.Fatalf("ValidateChecksum() error = %v", err)
	}
	if !ok {
		t.Error("ValidateChecksum() = false, want true for freshly computed checksum")
	}

	tampered := body + "#aaaaaaaa"
	ok, err = ValidateChecksum(tampered)
	if err == nil && ok {
		t.Error("ValidateChecksum() accepted a tampered checksum")
	}
}

func TestCacheReturnsSameResult(t *testing.T) {
	c, err := NewCache()
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	expr := "pkh([d34db33f/44'/0'/0']xpub6CUGRUo.../0/*)"
	a, err := c.ParseCached(expr)
	if err != nil {
		t.Fatalf("ParseCached() error = %v", err)
	}
	b, err := c.ParseCached(expr)
	if err != nil {
		t.Fatalf("ParseCached() error = %v", err)
	}
	if a != b {
		t.Error("ParseCached() did not return the cached pointer on second call")
	}
}
