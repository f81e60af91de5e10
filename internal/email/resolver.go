package email

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// Common IMAP servers for popular email providers
var knownIMAPServers = map[string]string{
	"gmail.com":      "imap.gmail.com:993",
	"googlemail.com": "imap.gmail.com:993",
	"outlook.com":    "outlook.office365.com:993",
	"hotmail.com":    "outlook.office365.com:993",
	"live.com":       "outlook.office365.com:993",
	"msn.com":        "outlook.office365.com:993",
	"yahoo.com":      "imap.mail.yahoo.com:993",
	"icloud.com":     "imap.mail.me.com:993",
	"me.com":         "imap.mail.me.com:993",
	"aol.com":        "imap.aol.com:993",
	"zoho.com":       "imap.zoho.com:993",
	"fastmail.com":   "imap.fastmail.com:993",
	"gmx.com":        "imap.gmx.com:993",
	"proton.me":      "127.0.0.1:1143", // ProtonMail Bridge
	"protonmail.com": "127.0.0.1:1143",
}

const probeTimeout = 3 * time.Second

// ResolveIMAPServer determines the IMAP server for an email address
func ResolveIMAPServer(ctx context.Context, address string) (string, error) {
	domain := GetDomainFromEmail(address)
	if domain == "" {
		return "", fmt.Errorf("invalid email format: %q", address)
	}

	// Check known providers first
	if server, ok := knownIMAPServers[domain]; ok {
		return server, nil
	}

	for _, host := range []string{"imap." + domain, "mail." + domain, domain} {
		if checkIMAPServer(ctx, host) {
			return host + ":993", nil
		}
	}

	if server, err := resolveViaMX(ctx, domain); err == nil {
		return server, nil
	}

	// Default fallback - try imap.domain:993
	return "imap." + domain + ":993", nil
}

// checkIMAPServer checks if an IMAPS port is reachable
func checkIMAPServer(ctx context.Context, host string) bool {
	dialer := &net.Dialer{Timeout: probeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, "993"))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// resolveViaMX derives the IMAP host from the primary MX record,
// e.g. mx.example.com -> imap.example.com
func resolveViaMX(ctx context.Context, domain string) (string, error) {
	mxRecords, err := net.DefaultResolver.LookupMX(ctx, domain)
	if err != nil || len(mxRecords) == 0 {
		return "", fmt.Errorf("no MX records found for %s", domain)
	}

	mxHost := strings.TrimSuffix(mxRecords[0].Host, ".")
	parts := strings.SplitN(mxHost, ".", 2)
	if len(parts) == 2 {
		for _, prefix := range []string{"imap.", "mail."} {
			host := prefix + parts[1]
			if checkIMAPServer(ctx, host) {
				return host + ":993", nil
			}
		}
	}

	return "", fmt.Errorf("could not determine IMAP server for %s", domain)
}

// GetDomainFromEmail extracts the lower-cased domain from an email address
func GetDomainFromEmail(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(address[at+1:]))
}
