package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKinds(t *testing.T) {
	assert.True(t, IsBadRequest(BadRequest("nope")))
	assert.True(t, IsNotFound(NotFound()))
	assert.True(t, IsNotFound(NotFoundf("no book %s", "x")))
	assert.False(t, IsNotFound(BadRequest("nope")))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestMessageTravelsVerbatim(t *testing.T) {
	err := BadRequest("field %s is required", "title")
	assert.Equal(t, "field title is required", err.Error())
	assert.Equal(t, "Not Found", NotFound().Error())
}

func TestKindSurvivesWrapping(t *testing.T) {
	wrapped := fmt.Errorf("saving document: %w", NotFound())
	assert.True(t, IsNotFound(wrapped))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(wrapped))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(BadRequest("x")))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFound()))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(Internal("x")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("x")))
}
