package cooldown

import (
	"errors"
	"strings"

	apperrors "github.com/profile-validator/internal/errors"
	"github.com/profile-validator/internal/types"
)

// dns/timeout/connection signatures, probed in order against the error
// message; first match wins.
var (
	dnsSignatures     = []string{"ENOTFOUND", "EHOSTUNREACH", "no such host"}
	timeoutSignatures = []string{"timeout", "ETIMEDOUT", "Timeout exceeded", "context deadline exceeded"}
	connSignatures    = []string{
		"socket disconnected",
		"socket hang up",
		"ECONNRESET",
		"ECONNREFUSED",
		"connection reset",
		"connection refused",
		"certificate",
		"SSL",
		"TLS",
	}
)

// ClassifyConnectionError maps an error message to a connectivity cooldown
// reason. The second return is false when the message does not describe a
// connection-level failure.
func ClassifyConnectionError(message string) (types.CooldownReason, bool) {
	for _, sig := range dnsSignatures {
		if strings.Contains(message, sig) {
			return types.ReasonDNSFailure, true
		}
	}
	for _, sig := range timeoutSignatures {
		if strings.Contains(message, sig) {
			return types.ReasonTimeout, true
		}
	}
	for _, sig := range connSignatures {
		if strings.Contains(message, sig) {
			return types.ReasonConnectionError, true
		}
	}
	return "", false
}

// isRateLimit reports whether the error represents an upstream HTTP 429
func isRateLimit(err error) bool {
	var catErr *apperrors.CategorizedError
	return errors.As(err, &catErr) && catErr.StatusCode == 429
}

// urlEndpointProbes maps request URL substrings to endpoint names, probed
// in this fixed precedence.
var urlEndpointProbes = []struct {
	substring string
	endpoint  types.EndpointName
}{
	{"GetFriendList", types.EndpointFriends},
	{"inventory", types.EndpointInventory},
	{"GetSteamLevel", types.EndpointSteamLevel},
	{"GetAnimatedAvatar", types.EndpointAnimatedAvatar},
	{"GetAvatarFrame", types.EndpointAvatarFrame},
	{"GetMiniProfileBackground", types.EndpointMiniProfileBackground},
	{"GetProfileBackground", types.EndpointProfileBackground},
}

// EndpointFromURL extracts the endpoint name from an upstream request URL
func EndpointFromURL(requestURL string) types.EndpointName {
	for _, probe := range urlEndpointProbes {
		if strings.Contains(requestURL, probe.substring) {
			return probe.endpoint
		}
	}
	return types.EndpointOther
}

// Outcome describes how a request error was handled
type Outcome struct {
	Endpoint types.EndpointName
	// Reason is set when a cooldown was applied
	Reason types.CooldownReason
	// CooldownApplied is false for errors the caller must handle itself
	CooldownApplied bool
}

// HandleRequestError classifies a request error and applies the matching
// cooldown. Rate limits escalate backoff; connectivity errors get fixed
// cooldowns; anything else passes through untouched.
func (c *Controller) HandleRequestError(err error, requestURL string) Outcome {
	endpoint := EndpointFromURL(requestURL)

	if isRateLimit(err) {
		c.MarkCooldown(endpoint, types.ReasonRateLimit, err.Error())
		return Outcome{Endpoint: endpoint, Reason: types.ReasonRateLimit, CooldownApplied: true}
	}

	if reason, ok := ClassifyConnectionError(err.Error()); ok {
		c.MarkCooldown(endpoint, reason, err.Error())
		return Outcome{Endpoint: endpoint, Reason: reason, CooldownApplied: true}
	}

	return Outcome{Endpoint: endpoint}
}
