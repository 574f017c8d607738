package flow

import (
	"errors"

	"wazoopass/passes/avatar"
	"wazoopass/passes/compose"
	"wazoopass/passes/store"
)

var (
	// ErrAlreadyCompleted is returned when the identity already has a completed submission.
	ErrAlreadyCompleted = errors.New("pass already completed")
	// ErrGenerateFirst rejects link or wallet input without a pass in this session.
	ErrGenerateFirst = errors.New("no pass generated")
	// ErrLinkFirst rejects a wallet before a link was recorded.
	ErrLinkFirst = errors.New("link not submitted")
	// ErrInvalidWallet rejects wallet input without a 0x prefix.
	ErrInvalidWallet = errors.New("invalid wallet")
	// ErrEmptyLink rejects blank link input.
	ErrEmptyLink = errors.New("empty link")
	// ErrIdentityRequired rejects requests without an identity.
	ErrIdentityRequired = errors.New("identity required")
)

const genericFailure = "Something went wrong. Please try again later."

// UserMessage converts a flow error into the short text shown to the member.
// Unknown errors get a generic message so internal detail never leaks.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyCompleted):
		return "You already generated your pass."
	case errors.Is(err, ErrGenerateFirst):
		return "Please generate your pass first."
	case errors.Is(err, ErrLinkFirst):
		return "Please submit your post link first."
	case errors.Is(err, ErrInvalidWallet):
		return "Invalid wallet address. It must start with 0x."
	case errors.Is(err, ErrEmptyLink):
		return "Please provide the link to your post."
	case errors.Is(err, ErrIdentityRequired):
		return "We could not identify your account."
	case errors.Is(err, avatar.ErrFetch):
		return "We could not fetch your avatar. Please try again."
	case errors.Is(err, compose.ErrImageDecode):
		return "Your avatar image could not be read. Please try again."
	case errors.Is(err, store.ErrStorage):
		return "We could not save your pass right now. Please try again later."
	default:
		return genericFailure
	}
}

// IsUserError reports whether err is an expected rejection rather than a fault.
func IsUserError(err error) bool {
	for _, target := range []error{ErrAlreadyCompleted, ErrGenerateFirst, ErrLinkFirst, ErrInvalidWallet, ErrEmptyLink, ErrIdentityRequired} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
