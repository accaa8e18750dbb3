package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomDigits(t *testing.T) {
	s := RandomDigits(8)
	assert.Len(t, s, 8)
	for _, c := range s {
		assert.True(t, c >= '0' && c <= '9')
	}
}

func TestDeref(t *testing.T) {
	v := "x"
	assert.Equal(t, "x", Deref(&v, "d"))
	assert.Equal(t, "d", Deref[string](nil, "d"))
}

func TestPathUintAndQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/orders/42?page=3&size=abc", nil)
	r = mux.SetURLVars(r, map[string]string{"id": "42", "bad": "x"})

	id, err := PathUint(r, "id")
	require.NoError(t, err)
	assert.Equal(t, uint(42), id)

	_, err = PathUint(r, "bad")
	assert.Error(t, err)

	assert.Equal(t, 3, QueryInt(r, "page", 1))
	assert.Equal(t, 20, QueryInt(r, "size", 20))
	assert.Equal(t, 7, QueryInt(r, "missing", 7))
}

func TestWriteHttpResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteHttpResponse(rec, http.StatusCreated, map[string]string{"a": "b"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"a":"b"}`, rec.Body.String())
}
