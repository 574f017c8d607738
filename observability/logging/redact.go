package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the placeholder emitted for masked fields.
const RedactedValue = "[REDACTED]"

// MaskWallet keeps the 0x prefix and the last four characters of a wallet
// address so support can correlate reports without logging the full value.
func MaskWallet(wallet string) string {
	trimmed := strings.TrimSpace(wallet)
	if trimmed == "" {
		return trimmed
	}
	if len(trimmed) <= 8 {
		return RedactedValue
	}
	return trimmed[:2] + "…" + trimmed[len(trimmed)-4:]
}

// WalletAttr returns a slog attribute carrying the masked wallet.
func WalletAttr(wallet string) slog.Attr {
	return slog.String("wallet", MaskWallet(wallet))
}
