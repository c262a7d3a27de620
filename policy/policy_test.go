package policy

import "testing"

func TestCheckDustBoundary(t *testing.T) {
	tests := []struct {
		name  string
		value int64
		dust  bool
	}{
		{"at threshold passes", 547, false},
		{"below threshold flagged", 546, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violations := Check(CheckInput{
				OutputValues: []int64{tt.value},
				FeeRate:      10,
				Fee:          1000,
				TotalInput:   60000,
				TotalOutput:  tt.value,
			})
			found := false
			for _, v := range violations {
				if v.Code == "DUST_OUTPUT" {
					found = true
				}
			}
			if found != tt.dust {
				t.Errorf("DUST_OUTPUT present = %v, want %v", found, tt.dust)
			}
		})
	}
}

func TestCheckFeeRateBoundary(t *testing.T) {
	tests := []struct {
		name     string
		feeRate  int64
		wantCode string
	}{
		{"zero fails", 0, "FEE_TOO_LOW"},
		{"one passes", 1, ""},
		{"500 passes", 500, ""},
		{"501 warns", 501, "FEE_RATE_HIGH"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violations := Check(CheckInput{
				OutputValues: []int64{10000},
				FeeRate:      tt.feeRate,
				Fee:          1000,
				TotalInput:   60000,
				TotalOutput:  10000,
			})
			var gotCode string
			for _, v := range violations {
				if v.Code == "FEE_TOO_LOW" || v.Code == "FEE_RATE_HIGH" {
					gotCode = v.Code
				}
			}
			if gotCode != tt.wantCode {
				t.Errorf("got code %q, want %q", gotCode, tt.wantCode)
			}
		})
	}
}

func TestDustPolicyScenario(t *testing.T) {
	// Literal scenario 5: outputs=[300], feeRate=10, fee=1410, vSize=141,
	// totalInput=60000.
	violations := Check(CheckInput{
		OutputValues: []int64{300},
		FeeRate:      10,
		Fee:          1410,
		TotalInput:   60000,
		TotalOutput:  300,
	})
	found := false
	for _, v := range violations {
		if v.Code == "DUST_OUTPUT" && v.Severity == SeverityError {
			found = true
		}
	}
	if !found {
		t.Error("expected DUST_OUTPUT error violation")
	}
}

func TestDeepSanitizeAddressScenario(t *testing.T) {
	input := "BC1Q‪W508D6QEJXTDG4Y5R3ZARVARY0C5XW7‮KV8F3T4"
	want := "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"

	res := DeepSanitizeAddress(input)
	if res.Cleaned != want {
		t.Errorf("Cleaned = %q, want %q", res.Cleaned, want)
	}
	if !res.WasModified {
		t.Error("WasModified = false, want true")
	}
}

func TestDeepSanitizeAddressIdempotent(t *testing.T) {
	input := "BC1Q‪W508D6QEJXTDG4Y5R3ZARVARY0C5XW7‮KV8F3T4"
	once := DeepSanitizeAddress(input)
	twice := DeepSanitizeAddress(once.Cleaned)
	if twice.WasModified {
		t.Error("second sanitize pass reported a modification; sanitize is not idempotent")
	}
	if twice.Cleaned != once.Cleaned {
		t.Errorf("second pass changed the string: got %q, want %q", twice.Cleaned, once.Cleaned)
	}
}

func TestDetectAddressSimilarityScenario(t *testing.T) {
	candidates := []string{"bc1qa1b2c3d4e5f6g7h8i9j0k1l2m3n4o5p6q7r8s9"}
	input := "bc1qa1b2cXXXXXXXXXXXXXXXXXXXXXXXXXXXq7r8s9"

	matched, _ := DetectAddressSimilarity(input, candidates, 6, 6)
	if !matched {
		t.Error("expected a similarity match")
	}
}

func TestAnalyzeRecipientRiskSortOrder(t *testing.T) {
	own := []string{"bc1qownaddress0000000000000000000000000000"}
	recent := []string{"bc1qa1b2c3d4e5f6g7h8i9j0k1l2m3n4o5p6q7r8s9"}
	addr := "bc1qa1b2cXXXXXXXXXXXXXXXXXXXXXXXXXXXq7r8s9"

	hints := AnalyzeRecipientRisk(addr, own, recent, nil)
	if len(hints) == 0 {
		t.Fatal("expected at least one hint")
	}
	if hints[0].Level != HintDanger {
		t.Errorf("first hint level = %q, want danger", hints[0].Level)
	}
	for i := 1; i < len(hints); i++ {
		if hintRank[hints[i-1].Level] > hintRank[hints[i].Level] {
			t.Errorf("hints not sorted: %v before %v", hints[i-1], hints[i])
		}
	}
}
