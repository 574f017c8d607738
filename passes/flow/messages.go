package flow

import (
	"fmt"
	"strings"
)

// DefaultInviteURL is appended to the generation caption.
const DefaultInviteURL = "https://discord.com/invite/wazoogang"

// RoleLine is the text printed on the pass next to the avatar.
func RoleLine(role string, passID uint64) string {
	return fmt.Sprintf("%s | ID: #%d", role, passID)
}

// Caption is the shareable text delivered with a generated pass.
func Caption(pass Pass, inviteURL string) string {
	if strings.TrimSpace(inviteURL) == "" {
		inviteURL = DefaultInviteURL
	}
	return fmt.Sprintf("Just generated my Wazoo Pass 🎟️\nRole: %s\nID: #%d\n\nJoin the gang 👀🔥\n%s", pass.Role, pass.ID, inviteURL)
}

// LinkConfirmation acknowledges a recorded post link.
func LinkConfirmation() string {
	return "Link received. Now submit your wallet address."
}

// WalletConfirmation acknowledges a completed submission.
func WalletConfirmation(passID uint64) string {
	return fmt.Sprintf("Submission complete for pass #%d. Thanks!", passID)
}
