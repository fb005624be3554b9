package venue

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies every error a venue adapter can surface. Callers switch on
// it instead of matching exception text; each venue's parser maps wire codes
// and messages into a Kind at the adapter boundary.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransientNetwork
	KindAuthFailed
	KindSubscribeRejected
	KindMessageMalformed
	KindRateLimited
	KindServerOverloaded
	KindServiceUnavailable
	KindOrderFilledOrCanceled
	KindOrderNotFound
	KindNotionalBelowMinimum
	KindPrecisionBelowMinimum
	KindModificationLimit
	KindMarginInsufficient
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient_network"
	case KindAuthFailed:
		return "auth_failed"
	case KindSubscribeRejected:
		return "subscribe_rejected"
	case KindMessageMalformed:
		return "message_malformed"
	case KindRateLimited:
		return "rate_limited"
	case KindServerOverloaded:
		return "server_overloaded"
	case KindServiceUnavailable:
		return "service_temporarily_unavailable"
	case KindOrderFilledOrCanceled:
		return "order_already_filled_or_canceled"
	case KindOrderNotFound:
		return "order_not_found"
	case KindNotionalBelowMinimum:
		return "notional_below_minimum"
	case KindPrecisionBelowMinimum:
		return "precision_below_minimum"
	case KindModificationLimit:
		return "in_progress_modification_limit_exceeded"
	case KindMarginInsufficient:
		return "margin_insufficient"
	case KindInvalidArgument:
		return "invalid_argument"
	default:
		return "unknown"
	}
}

// APIError is the typed error returned by adapters for any venue-reported
// failure. Code and Msg carry the venue's original values for logging.
type APIError struct {
	Venue string
	Kind  Kind
	Code  string
	Msg   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s (code=%s): %s", e.Venue, e.Kind, e.Code, e.Msg)
}

// Retryable reports whether the hedge executor should retry after this error.
func (e *APIError) Retryable() bool { return e.Kind.Retryable() }

// Retryable reports whether the condition is transient enough that another
// attempt may succeed.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransientNetwork, KindRateLimited, KindServerOverloaded, KindServiceUnavailable:
		return true
	}
	return false
}

// KindOf extracts the Kind from any error chain. Plain network errors
// classify as transient.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var api *APIError
	if errors.As(err, &api) {
		return api.Kind
	}
	return KindTransientNetwork
}

// classifyOKX maps OKX sCode values (and message fallbacks) to Kinds.
// Codes per the OKX v5 API error table, matched against the failures the
// quoting loop actually has to distinguish.
func classifyOKX(code, msg string) Kind {
	switch code {
	case "51402", "51410", "51503", "51509", "51510":
		return KindOrderFilledOrCanceled
	case "51400", "51401", "51603":
		return KindOrderNotFound
	case "51121", "51020":
		return KindNotionalBelowMinimum
	case "51111", "51112":
		return KindPrecisionBelowMinimum
	case "51527", "51528":
		return KindModificationLimit
	case "51008", "59200":
		return KindMarginInsufficient
	case "50011":
		return KindRateLimited
	case "50013", "50026":
		return KindServerOverloaded
	case "50001":
		return KindServiceUnavailable
	case "50100", "50101", "50102", "50103", "50104", "50105", "50111", "50113":
		return KindAuthFailed
	case "51000", "51001", "51002":
		return KindInvalidArgument
	}
	return classifyMessage(msg)
}

// classifyBinance maps Binance futures error codes to Kinds.
func classifyBinance(code, msg string) Kind {
	switch code {
	case "-2011", "-2013":
		return KindOrderNotFound
	case "-4164":
		return KindNotionalBelowMinimum
	case "-1111":
		return KindPrecisionBelowMinimum
	case "-2019":
		return KindMarginInsufficient
	case "-1003":
		return KindRateLimited
	case "-1001", "-1008":
		return KindServerOverloaded
	case "-1021":
		return KindTransientNetwork // timestamp outside recvWindow; resync fixes it
	case "-2014", "-2015":
		return KindAuthFailed
	case "-1102", "-1104", "-1106":
		return KindInvalidArgument
	}
	return classifyMessage(msg)
}

// classifyBybit maps Bybit v5 retCode values to Kinds.
func classifyBybit(code, msg string) Kind {
	switch code {
	case "110001":
		return KindOrderNotFound
	case "110007", "110012":
		return KindMarginInsufficient
	case "110017", "110094":
		return KindNotionalBelowMinimum
	case "10006", "10018":
		return KindRateLimited
	case "10016":
		return KindServerOverloaded
	case "10003", "10004", "10005":
		return KindAuthFailed
	case "10001":
		return KindInvalidArgument
	}
	return classifyMessage(msg)
}

// classifyMessage is the fallback for venues that bury the condition in
// message text. The phrases come from the upstream APIs.
func classifyMessage(msg string) Kind {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "already been filled or canceled"),
		strings.Contains(m, "has been filled, canceled or does not exist"):
		return KindOrderFilledOrCanceled
	case strings.Contains(m, "modification requests") && strings.Contains(m, "cannot exceed"):
		return KindModificationLimit
	case strings.Contains(m, "server is currently overloaded"),
		strings.Contains(m, "systems are busy"):
		return KindServerOverloaded
	case strings.Contains(m, "service temporarily unavailable"):
		return KindServiceUnavailable
	case strings.Contains(m, "notional must be no smaller than"):
		return KindNotionalBelowMinimum
	case strings.Contains(m, "minimum amount precision"):
		return KindPrecisionBelowMinimum
	case strings.Contains(m, "margin is insufficient"):
		return KindMarginInsufficient
	case strings.Contains(m, "order does not exist"),
		strings.Contains(m, "unknown order"):
		return KindOrderNotFound
	case strings.Contains(m, "invalid argument"):
		return KindInvalidArgument
	case strings.Contains(m, "too many requests"):
		return KindRateLimited
	}
	return KindUnknown
}
