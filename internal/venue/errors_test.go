package venue

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyOKX(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code string
		want Kind
	}{
		{"51402", KindOrderFilledOrCanceled},
		{"51410", KindOrderFilledOrCanceled},
		{"51503", KindOrderFilledOrCanceled},
		{"51400", KindOrderNotFound},
		{"51121", KindNotionalBelowMinimum},
		{"51111", KindPrecisionBelowMinimum},
		{"51527", KindModificationLimit},
		{"51008", KindMarginInsufficient},
		{"59200", KindMarginInsufficient},
		{"50011", KindRateLimited},
		{"50013", KindServerOverloaded},
		{"50001", KindServiceUnavailable},
		{"50111", KindAuthFailed},
		{"51000", KindInvalidArgument},
		{"99999", KindUnknown},
	}
	for _, tc := range tests {
		if got := classifyOKX(tc.code, ""); got != tc.want {
			t.Errorf("classifyOKX(%s) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestClassifyBinance(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code string
		want Kind
	}{
		{"-2011", KindOrderNotFound},
		{"-2013", KindOrderNotFound},
		{"-4164", KindNotionalBelowMinimum},
		{"-1111", KindPrecisionBelowMinimum},
		{"-2019", KindMarginInsufficient},
		{"-1003", KindRateLimited},
		{"-1001", KindServerOverloaded},
		{"-1021", KindTransientNetwork},
		{"-2014", KindAuthFailed},
		{"-1102", KindInvalidArgument},
		{"-777", KindUnknown},
	}
	for _, tc := range tests {
		if got := classifyBinance(tc.code, ""); got != tc.want {
			t.Errorf("classifyBinance(%s) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestClassifyBybit(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code string
		want Kind
	}{
		{"110001", KindOrderNotFound},
		{"110007", KindMarginInsufficient},
		{"110017", KindNotionalBelowMinimum},
		{"10006", KindRateLimited},
		{"10016", KindServerOverloaded},
		{"10003", KindAuthFailed},
		{"10001", KindInvalidArgument},
		{"424242", KindUnknown},
	}
	for _, tc := range tests {
		if got := classifyBybit(tc.code, ""); got != tc.want {
			t.Errorf("classifyBybit(%s) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestClassifyMessageFallback(t *testing.T) {
	t.Parallel()
	tests := []struct {
		msg  string
		want Kind
	}{
		{"Order has already been filled or canceled", KindOrderFilledOrCanceled},
		{"The order has been filled, canceled or does not exist", KindOrderFilledOrCanceled},
		{"In-progress modification requests cannot exceed 3", KindModificationLimit},
		{"The server is currently overloaded with other requests", KindServerOverloaded},
		{"Our systems are busy, please try again later", KindServerOverloaded},
		{"Service temporarily unavailable", KindServiceUnavailable},
		{"Order notional must be no smaller than 5 USDT", KindNotionalBelowMinimum},
		{"Margin is insufficient", KindMarginInsufficient},
		{"Unknown order sent", KindOrderNotFound},
		{"Too many requests", KindRateLimited},
		{"something else entirely", KindUnknown},
	}
	for _, tc := range tests {
		if got := classifyMessage(tc.msg); got != tc.want {
			t.Errorf("classifyMessage(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()
	retryable := []Kind{KindTransientNetwork, KindRateLimited, KindServerOverloaded, KindServiceUnavailable}
	for _, k := range retryable {
		if !k.Retryable() {
			t.Errorf("%v.Retryable() = false, want true", k)
		}
	}
	terminal := []Kind{KindOrderFilledOrCanceled, KindOrderNotFound, KindMarginInsufficient, KindInvalidArgument, KindAuthFailed}
	for _, k := range terminal {
		if k.Retryable() {
			t.Errorf("%v.Retryable() = true, want false", k)
		}
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()
	api := &APIError{Venue: "okx", Kind: KindMarginInsufficient, Code: "51008"}
	if got := KindOf(api); got != KindMarginInsufficient {
		t.Errorf("KindOf(APIError) = %v, want margin", got)
	}
	if got := KindOf(fmt.Errorf("request: %w", api)); got != KindMarginInsufficient {
		t.Errorf("KindOf(wrapped) = %v, want margin", got)
	}
	// Plain network failures classify as transient, so hedges retry them.
	if got := KindOf(errors.New("dial tcp: connection refused")); got != KindTransientNetwork {
		t.Errorf("KindOf(plain error) = %v, want transient", got)
	}
	if got := KindOf(nil); got != KindUnknown {
		t.Errorf("KindOf(nil) = %v, want unknown", got)
	}
}
