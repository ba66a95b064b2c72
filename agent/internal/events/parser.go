package events

import (
	"regexp"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/samber/lo"
)

var solanaAddressPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// IsSolanaAddress reports whether token is a base58 string that decodes to a
// 32-byte public key.
func IsSolanaAddress(token string) bool {
	if !solanaAddressPattern.MatchString(token) {
		return false
	}
	_, err := solana.PublicKeyFromBase58(token)
	return err == nil
}

// ExtractAddresses returns the Solana addresses found among the
// whitespace-separated words of text, in first-seen order without duplicates.
func ExtractAddresses(text string) []string {
	found := lo.Filter(strings.Fields(text), func(token string, _ int) bool {
		return IsSolanaAddress(token)
	})
	return lo.Uniq(found)
}

// MatchKeywords returns the keywords contained in text, compared
// case-insensitively, in the order given.
func MatchKeywords(text string, keywords []string) []string {
	lower := strings.ToLower(text)
	return lo.Filter(keywords, func(kw string, _ int) bool {
		return kw != "" && strings.Contains(lower, strings.ToLower(kw))
	})
}
