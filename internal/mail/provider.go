package mail

import "strings"

// Provider is the coarse classification driving auth and TLS quirks.
type Provider string

const (
	ProviderMicrosoft Provider = "microsoft"
	ProviderGmail     Provider = "gmail"
	ProviderGeneric   Provider = "generic"
)

var microsoftDomains = []string{"outlook.", "hotmail.", "live.", "msn."}

// Classify inspects the account's email domain and configured host.
// Microsoft-family domains and office365-named hosts classify as microsoft;
// gmail-family as gmail; everything else as generic.
func Classify(email, host string) Provider {
	domain := ""
	if at := strings.LastIndex(email, "@"); at >= 0 {
		domain = strings.ToLower(email[at+1:])
	}
	host = strings.ToLower(host)

	for _, d := range microsoftDomains {
		if strings.HasPrefix(domain, d) {
			return ProviderMicrosoft
		}
	}
	if strings.Contains(host, "office365") || strings.Contains(host, "outlook") {
		return ProviderMicrosoft
	}
	if strings.HasPrefix(domain, "gmail.") || strings.HasPrefix(domain, "googlemail.") || strings.Contains(host, "gmail") {
		return ProviderGmail
	}
	return ProviderGeneric
}
