package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"syscall"
	"testing"
	"time"
)

type recordingProxies struct {
	list []string
	idx  int
}

func (p *recordingProxies) Current() string { return p.list[p.idx] }
func (p *recordingProxies) Advance() string {
	p.idx = (p.idx + 1) % len(p.list)
	return p.list[p.idx]
}

type fakeTokens struct {
	list []string
	idx  int
}

func (f *fakeTokens) Token() string { return f.list[f.idx] }
func (f *fakeTokens) Len() int      { return len(f.list) }
func (f *fakeTokens) Advance() (string, bool) {
	f.idx = (f.idx + 1) % len(f.list)
	return f.list[f.idx], true
}

func newTestExecutor(proxies ProxyRotator) (*Executor, *[]time.Duration) {
	var slept []time.Duration
	e := NewExecutor(proxies, 5, 2*time.Second, 1.5)
	e.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return e, &slept
}

func TestExecuteRetriesNetworkErrorsAcrossProxies(t *testing.T) {
	proxies := &recordingProxies{list: []string{"p1", "p2"}}
	e, slept := newTestExecutor(proxies)

	var seen []string
	_, err := e.Execute(context.Background(), "test", StaticToken("t"), func(context.Context, string) (*Response, error) {
		seen = append(seen, proxies.Current())
		return nil, fmt.Errorf("dial: %w", syscall.ECONNRESET)
	})
	if !errors.Is(err, syscall.ECONNRESET) {
		t.Fatalf("err = %v", err)
	}
	want := []string{"p1", "p2", "p1", "p2", "p1", "p2"}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Fatalf("proxies = %v, want %v", seen, want)
	}
	wantDelays := []time.Duration{2000 * time.Millisecond, 3000 * time.Millisecond, 4500 * time.Millisecond, 6750 * time.Millisecond, 10125 * time.Millisecond}
	if fmt.Sprint(*slept) != fmt.Sprint(wantDelays) {
		t.Fatalf("delays = %v, want %v", *slept, wantDelays)
	}
}

func TestExecuteServerErrorThenSuccess(t *testing.T) {
	e, _ := newTestExecutor(nil)
	calls := 0
	resp, err := e.Execute(context.Background(), "test", StaticToken("t"), func(context.Context, string) (*Response, error) {
		calls++
		if calls < 3 {
			return nil, &StatusError{Code: http.StatusBadGateway}
		}
		return &Response{StatusCode: 200, Body: []byte("ok")}, nil
	})
	if err != nil || string(resp.Body) != "ok" || calls != 3 {
		t.Fatalf("resp=%v err=%v calls=%d", resp, err, calls)
	}
}

func TestExecuteRotatesTokensOnAuthError(t *testing.T) {
	e, slept := newTestExecutor(nil)
	tokens := &fakeTokens{list: []string{"A", "B", "C"}}

	var used []string
	resp, err := e.Execute(context.Background(), "test", tokens, func(_ context.Context, tok string) (*Response, error) {
		used = append(used, tok)
		if tok != "C" {
			return nil, &StatusError{Code: http.StatusUnauthorized}
		}
		return &Response{StatusCode: 200}, nil
	})
	if err != nil || resp == nil {
		t.Fatalf("err = %v", err)
	}
	if fmt.Sprint(used) != "[A B C]" {
		t.Fatalf("used = %v", used)
	}
	if len(*slept) != 0 {
		t.Fatalf("auth rotation should not sleep: %v", *slept)
	}
}

func TestExecuteAllTokensInvalidTerminates(t *testing.T) {
	e, _ := newTestExecutor(nil)
	tokens := &fakeTokens{list: []string{"A", "B"}}
	calls := 0
	_, err := e.Execute(context.Background(), "test", tokens, func(context.Context, string) (*Response, error) {
		calls++
		return nil, &StatusError{Code: http.StatusForbidden}
	})
	if !IsAuthError(err) {
		t.Fatalf("err = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestExecuteAuthRotationResetsRetryBudget(t *testing.T) {
	e, slept := newTestExecutor(nil)
	tokens := &fakeTokens{list: []string{"A", "B"}}
	calls := 0
	_, err := e.Execute(context.Background(), "test", tokens, func(_ context.Context, tok string) (*Response, error) {
		calls++
		if tok == "A" {
			if calls <= 3 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, &StatusError{Code: http.StatusUnauthorized}
		}
		return &Response{StatusCode: 200}, nil
	})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if len(*slept) != 3 {
		t.Fatalf("sleeps = %d", len(*slept))
	}
}

func TestExecuteDoesNotRetryStreamAbortOrClientErrors(t *testing.T) {
	for _, tc := range []error{
		fmt.Errorf("%w: boom", ErrStreamAborted),
		&StatusError{Code: http.StatusBadRequest},
		&StatusError{Code: http.StatusTooManyRequests},
		&StatusError{Code: http.StatusUnauthorized},
	} {
		e, _ := newTestExecutor(nil)
		calls := 0
		_, err := e.Execute(context.Background(), "test", StaticToken("t"), func(context.Context, string) (*Response, error) {
			calls++
			return nil, tc
		})
		if err == nil || calls != 1 {
			t.Fatalf("%v: calls=%d err=%v", tc, calls, err)
		}
	}
}

func TestExecuteHonoursRetryAfter(t *testing.T) {
	e, slept := newTestExecutor(nil)
	calls := 0
	_, _ = e.Execute(context.Background(), "test", StaticToken("t"), func(context.Context, string) (*Response, error) {
		calls++
		if calls == 1 {
			return nil, &StatusError{Code: http.StatusServiceUnavailable, RetryAfter: 7 * time.Second}
		}
		return &Response{StatusCode: 200}, nil
	})
	if len(*slept) != 1 || (*slept)[0] != 7*time.Second {
		t.Fatalf("slept = %v", *slept)
	}
}

func TestExecuteStopsOnCancel(t *testing.T) {
	e := NewExecutor(nil, 5, time.Hour, 1.5)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := e.Execute(ctx, "test", StaticToken("t"), func(context.Context, string) (*Response, error) {
		calls++
		cancel()
		return nil, io.ErrUnexpectedEOF
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestParseRetryAfter(t *testing.T) {
	h := http.Header{}
	if ParseRetryAfter(h) != 0 {
		t.Fatal("empty header")
	}
	h.Set("Retry-After", "12")
	if got := ParseRetryAfter(h); got != 12*time.Second {
		t.Fatalf("got %v", got)
	}
	h.Set("Retry-After", "garbage")
	if got := ParseRetryAfter(h); got != 0 {
		t.Fatalf("got %v", got)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		auth    bool
		server  bool
		network bool
	}{
		{"401", &StatusError{Code: 401}, true, false, false},
		{"403", &StatusError{Code: 403}, true, false, false},
		{"500", &StatusError{Code: 500}, false, true, false},
		{"404", &StatusError{Code: 404}, false, false, false},
		{"refused", fmt.Errorf("x: %w", syscall.ECONNREFUSED), false, false, true},
		{"eof", io.ErrUnexpectedEOF, false, false, true},
		{"deadline", context.DeadlineExceeded, false, false, true},
		{"canceled", context.Canceled, false, false, false},
		{"abort", ErrStreamAborted, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if IsAuthError(tt.err) != tt.auth || IsServerError(tt.err) != tt.server || IsNetworkError(tt.err) != tt.network {
				t.Fatalf("auth=%v server=%v network=%v", IsAuthError(tt.err), IsServerError(tt.err), IsNetworkError(tt.err))
			}
		})
	}
}
