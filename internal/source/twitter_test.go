package source

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

const testTokenHost = "auth.twitter.test"

func twitterWithTransport(t *testing.T, rt roundTripFunc) *TwitterSource {
	t.Helper()
	ts, _ := twitterWithTokens(t, rt)
	return ts
}

// twitterWithTokens answers token requests itself and counts them; every
// API request must carry the issued bearer token.
func twitterWithTokens(t *testing.T, rt roundTripFunc) (*TwitterSource, *int) {
	t.Helper()
	ts, err := NewTwitter("@AKEndfield", "key", "secret")
	if err != nil {
		t.Fatalf("new twitter: %v", err)
	}
	tokens := new(int)
	ts.apiBase = "https://api.twitter.test"
	ts.cc.TokenURL = "https://" + testTokenHost + "/oauth2/token"
	ts.client = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Host == testTokenHost {
			*tokens++
			if user, pass, ok := r.BasicAuth(); !ok || user != "key" || pass != "secret" {
				t.Errorf("token request auth = %q/%q", user, pass)
			}
			return response(http.StatusOK, `{"access_token":"test-token","token_type":"bearer","expires_in":3600}`), nil
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("authorization = %q", got)
		}
		return rt(r)
	})}
	return ts, tokens
}

func TestNewTwitter_Validation(t *testing.T) {
	if _, err := NewTwitter("", "k", "s"); err == nil {
		t.Error("expected error for empty username")
	}
	if _, err := NewTwitter("user", "", "s"); err == nil {
		t.Error("expected error for empty api key")
	}
	ts, err := NewTwitter("@user", "k", "s")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.Username() != "user" {
		t.Errorf("username = %q, want user", ts.Username())
	}
	if ts.Name() != "twitter" {
		t.Errorf("name = %q, want twitter", ts.Name())
	}
}

func TestTwitter_FetchTimeline(t *testing.T) {
	var lookups int
	ts := twitterWithTransport(t, func(r *http.Request) (*http.Response, error) {
		switch r.URL.Path {
		case "/2/users/by/username/AKEndfield":
			lookups++
			return response(http.StatusOK, `{"data":{"id":"44196397","name":"Arknights: Endfield","username":"AKEndfield"}}`), nil
		case "/2/users/44196397/tweets":
			if got := r.URL.Query().Get("max_results"); got != "10" {
				t.Errorf("max_results = %q", got)
			}
			return response(http.StatusOK, `{"data":[
				{"id":"1960250871369040147","text":"hello","created_at":"2025-08-26T08:00:00.000Z"},
				{"id":"1960250871369040100","text":"older","created_at":"2025-08-25T08:00:00.000Z"},
				{"id":"","text":"broken"}
			]}`), nil
		}
		t.Fatalf("unexpected path %s", r.URL.Path)
		return nil, nil
	})

	for range 2 {
		posts, err := ts.Fetch(context.Background())
		if err != nil {
			t.Fatalf("fetch: %v", err)
		}
		if len(posts) != 2 {
			t.Fatalf("posts = %d, want 2", len(posts))
		}
		if posts[0].Published != 1756195200 {
			t.Errorf("published = %d, want 1756195200", posts[0].Published)
		}
		if posts[0].URL != "https://x.com/AKEndfield/status/1960250871369040147" {
			t.Errorf("url = %q", posts[0].URL)
		}
	}
	if lookups != 1 {
		t.Errorf("lookups = %d, want 1 (user id cached)", lookups)
	}
}

func TestTwitter_EmptyTimeline(t *testing.T) {
	ts := twitterWithTransport(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path == "/2/users/by/username/AKEndfield" {
			return response(http.StatusOK, `{"data":{"id":"1"}}`), nil
		}
		return response(http.StatusOK, `{"meta":{"result_count":0}}`), nil
	})

	posts, err := ts.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(posts) != 0 {
		t.Errorf("posts = %d, want 0", len(posts))
	}
}

func TestTwitter_StatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrCredentialsExpired},
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, tokens := twitterWithTokens(t, func(r *http.Request) (*http.Response, error) {
				return response(tt.status, `{}`), nil
			})

			for range 2 {
				if _, err := ts.Fetch(context.Background()); !errors.Is(err, tt.want) {
					t.Fatalf("err = %v, want %v", err, tt.want)
				}
			}
			if tt.want == ErrCredentialsExpired && *tokens != 2 {
				t.Errorf("tokens = %d, want 2 (token dropped after 401)", *tokens)
			}
			if tt.want == ErrRateLimited && *tokens != 1 {
				t.Errorf("tokens = %d, want 1", *tokens)
			}
		})
	}
}

func TestTwitter_Detail(t *testing.T) {
	body := `{"data":{"id":"5","text":"hi","author_id":"1"},"includes":{"users":[{"name":"N","username":"u"}]}}`
	ts := twitterWithTransport(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/2/tweets/5" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("expansions"); got != "author_id,attachments.media_keys" {
			t.Errorf("expansions = %q", got)
		}
		return response(http.StatusOK, body), nil
	})

	p, err := ts.Detail(context.Background(), Post{ID: "5"})
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if string(p.Payload) != body {
		t.Errorf("payload = %s", p.Payload)
	}
}

func TestTwitter_DetailNotFound(t *testing.T) {
	ts := twitterWithTransport(t, func(r *http.Request) (*http.Response, error) {
		return response(http.StatusNotFound, `{}`), nil
	})

	_, err := ts.Detail(context.Background(), Post{ID: "5"})
	if !errors.Is(err, errNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestTwitter_TokenRejected(t *testing.T) {
	ts, err := NewTwitter("AKEndfield", "key", "bad")
	if err != nil {
		t.Fatal(err)
	}
	ts.cc.TokenURL = "https://" + testTokenHost + "/oauth2/token"
	ts.client = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Host != testTokenHost {
			t.Fatalf("api request without a token: %s", r.URL)
		}
		return response(http.StatusForbidden, `{"error":"invalid_client"}`), nil
	})}

	if _, err := ts.Fetch(context.Background()); !errors.Is(err, ErrCredentialsExpired) {
		t.Fatalf("err = %v, want ErrCredentialsExpired", err)
	}
}

func TestTwitter_TokenRequestFollowsContext(t *testing.T) {
	ts, err := NewTwitter("AKEndfield", "key", "secret")
	if err != nil {
		t.Fatal(err)
	}
	started := make(chan struct{})
	ts.client = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		close(started)
		<-r.Context().Done()
		return nil, r.Context().Err()
	})}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := ts.Fetch(ctx)
		done <- err
	}()

	<-started
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("token request did not stop on cancel")
	}
	if ts.token != nil {
		t.Error("no token should be cached after a cancelled request")
	}
}
