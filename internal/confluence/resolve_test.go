package confluence

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePageID_NumericAndURL(t *testing.T) {
	client := newTestClient(t, "https://example.atlassian.net/wiki")

	tests := []struct {
		name string
		ref  string
		want string
	}{
		{"bare id", "123456", "123456"},
		{"id with whitespace", "  123456 ", "123456"},
		{"full url", "https://example.atlassian.net/wiki/spaces/ENG/pages/987654/Some+Title", "987654"},
		{"url without title", "https://example.atlassian.net/wiki/spaces/ENG/pages/42", "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := client.ResolvePageID(context.Background(), tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolvePageID_Unresolvable(t *testing.T) {
	client := newTestClient(t, "https://example.atlassian.net/wiki")

	_, err := client.ResolvePageID(context.Background(), "not-a-page")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadPageRef)
}

func TestResolvePageID_ShortLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/wiki/x/AbCd" {
			http.Redirect(w, r, "/wiki/spaces/ENG/pages/424242/Landing", http.StatusFound)
			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	got, err := client.ResolvePageID(context.Background(), srv.URL+"/wiki/x/AbCd")
	require.NoError(t, err)
	assert.Equal(t, "424242", got)
}

func TestResolvePageID_ShortLinkDeadEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.ResolvePageID(context.Background(), srv.URL+"/wiki/x/Nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadPageRef)
}

func TestWrapCQL(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"already cql equals", `type=page`, `type=page`},
		{"already cql tilde", `title~"notes"`, `title~"notes"`},
		{"and operator", `title~"a" AND space=ENG`, `title~"a" AND space=ENG`},
		{"plain text", `meeting notes`, `type=page AND (title~"meeting notes" OR text~"meeting notes")`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WrapCQL(tt.query))
		})
	}
}
