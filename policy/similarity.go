package policy

import "strings"

// HintLevel ranks a recipient risk hint; sort order is danger < caution <
// info per §4.10.
type HintLevel string

const (
	HintDanger  HintLevel = "danger"
	HintCaution HintLevel = "caution"
	HintInfo    HintLevel = "info"
)

var hintRank = map[HintLevel]int{
	HintDanger:  0,
	HintCaution: 1,
	HintInfo:    2,
}

// RiskHint is one finding from analyzing a recipient address.
type RiskHint struct {
	Code  string
	Level HintLevel
}

// DetectAddressSimilarity returns true and the matching candidate if some
// candidate other than addr shares the first prefixLen and last suffixLen
// characters (case-insensitive) — the canonical address-poisoning pattern.
func DetectAddressSimilarity(addr string, candidates []string, prefixLen, suffixLen int) (matched bool, match string) {
	lowerAddr := strings.ToLower(addr)
	if len(lowerAddr) < prefixLen+suffixLen {
		return false, ""
	}
	addrPrefix := lowerAddr[:prefixLen]
	addrSuffix := lowerAddr[len(lowerAddr)-suffixLen:]

	for _, c := range candidates {
		lowerC := strings.ToLower(c)
		if lowerC == lowerAddr {
			continue
		}
		if len(lowerC) < prefixLen+suffixLen {
			continue
		}
		if lowerC[:prefixLen] == addrPrefix && lowerC[len(lowerC)-suffixLen:] == addrSuffix {
			return true, c
		}
	}
	return false, ""
}

// AnalyzeRecipientRisk classifies a recipient address against the sender's
// own addresses, recently-used recipients, and saved contacts, returning
// hints sorted danger < caution < info.
func AnalyzeRecipientRisk(addr string, ownAddresses, recentRecipients, contactAddresses []string) []RiskHint {
	var hints []RiskHint

	if containsFold(ownAddresses, addr) {
		hints = append(hints, RiskHint{Code: "SELF_SEND", Level: HintCaution})
	}

	candidates := make([]string, 0, len(recentRecipients)+len(contactAddresses))
	candidates = append(candidates, recentRecipients...)
	candidates = append(candidates, contactAddresses...)
	if matched, _ := DetectAddressSimilarity(addr, candidates, 6, 6); matched {
		hints = append(hints, RiskHint{Code: "ADDRESS_SIMILARITY", Level: HintDanger})
	}

	known := containsFold(recentRecipients, addr) || containsFold(contactAddresses, addr)
	if !known && !containsFold(ownAddresses, addr) {
		hints = append(hints, RiskHint{Code: "NEW_RECIPIENT", Level: HintInfo})
	}

	sortHints(hints)
	return hints
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

func sortHints(hints []RiskHint) {
	for i := 1; i < len(hints); i++ {
		for j := i; j > 0 && hintRank[hints[j-1].Level] > hintRank[hints[j].Level]; j-- {
			hints[j-1], hints[j] = hints[j], hints[j-1]
		}
	}
}
