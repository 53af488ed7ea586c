package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONOrError(t *testing.T) {
	t.Run("valid body", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", strings.NewReader(`{"plan":"pro"}`))
		w := httptest.NewRecorder()

		var dest struct {
			Plan string `json:"plan"`
		}
		ok := ParseJSONOrError(w, r, &dest)

		assert.True(t, ok)
		assert.Equal(t, "pro", dest.Plan)
	})

	t.Run("invalid body writes 400", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", strings.NewReader("{"))
		w := httptest.NewRecorder()

		var dest map[string]string
		ok := ParseJSONOrError(w, r, &dest)

		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestParsePathInt64(t *testing.T) {
	router := mux.NewRouter()
	var got int64
	var gotErr error
	router.HandleFunc("/users/{user_id}", func(w http.ResponseWriter, r *http.Request) {
		got, gotErr = ParsePathInt64(r, "user_id")
	})

	t.Run("valid", func(t *testing.T) {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/users/42", nil))
		require.NoError(t, gotErr)
		assert.Equal(t, int64(42), got)
	})

	t.Run("non-numeric", func(t *testing.T) {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/users/abc", nil))
		assert.Error(t, gotErr)
	})
}

func TestParseQueryInt(t *testing.T) {
	r := httptest.NewRequest("GET", "/?limit=25", nil)

	val, err := ParseQueryInt(r, "limit", 50)
	require.NoError(t, err)
	assert.Equal(t, 25, val)

	val, err = ParseQueryInt(r, "offset", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, val)

	_, err = ParseQueryInt(httptest.NewRequest("GET", "/?limit=abc", nil), "limit", 50)
	assert.Error(t, err)
}
