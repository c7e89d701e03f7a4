package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{name: "valid", header: "Bearer abc", want: "abc"},
		{name: "padded", header: "Bearer   abc  ", want: "abc"},
		{name: "missing", header: "", wantErr: ErrMissingToken},
		{name: "basic", header: "Basic abc", wantErr: ErrBadHeader},
		{name: "empty token", header: "Bearer   ", wantErr: ErrMissingToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(r)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	a := NewAuthenticator("admin-token", []TokenConfig{
		{Token: "reader", Scopes: []string{ScopeJobsRO, " "}},
		{Token: "writer", Scopes: []string{ScopeJobsRW}},
	})
	require.True(t, a.Enabled())

	p, ok := a.Authenticate("admin-token")
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeEventsRO))

	p, ok = a.Authenticate("reader")
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeJobsRO))
	assert.False(t, HasAnyScope(p, ScopeJobsRW))
	assert.Len(t, p.Scopes, 1)

	p, ok = a.Authenticate("writer")
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeJobsRO), "rw implies ro")

	_, ok = a.Authenticate("nope")
	assert.False(t, ok)
	_, ok = a.Authenticate("")
	assert.False(t, ok)

	assert.False(t, NewAuthenticator("", nil).Enabled())
	_, ok = NewAuthenticator("", nil).Authenticate("")
	assert.False(t, ok)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{Scopes: map[string]struct{}{ScopeJobsRO: {}}})
	p, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p))
	assert.True(t, HasAnyScope(p, ScopeJobsRW, ScopeJobsRO))
}
