/*
Package client provides easy and fast in-process access to a REST api

Instead of marshalling HTTP, the client talks directly to the mux router. It
is perfectly suited for unit tests, and it can also talk to a remote service
when created with a URL.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
)

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the service,
// through the mux router.
//
// WithContext() specifies a different base context.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to a running service.
func NewWithURL(url string) Client {
	return Client{
		url:            url,
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	c.defaultHeaders[key] = value
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

func (c Client) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Envelope is the generic response wrapper returned by the service.
type Envelope struct {
	Status bool            `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

// Resource is a client for one mounted resource.
type Resource struct {
	client     *Client
	prefix     string
	parameters []string
}

// Resource returns a client for the resource mounted at the given prefix,
// e.g. "/books".
func (c Client) Resource(prefix string) Resource {
	return Resource{
		client: &c,
		prefix: strings.TrimSuffix(prefix, "/"),
	}
}

// WithParameter returns a new resource client with a URL parameter added.
func (r Resource) WithParameter(key string, value string) Resource {
	parameter := url.QueryEscape(key) + "=" + url.QueryEscape(value)
	return Resource{
		client: r.client,
		prefix: r.prefix,
		// we want a true copy to avoid side effects
		parameters: append(append([]string{}, r.parameters...), parameter),
	}
}

// WithFilter is a shortcut for WithParameter(field, value).
func (r Resource) WithFilter(field string, value string) Resource {
	return r.WithParameter(field, value)
}

func (r Resource) path(segments ...string) string {
	path := r.prefix
	for _, segment := range segments {
		path += "/" + segment
	}
	if path == "" {
		path = "/"
	}
	if len(r.parameters) > 0 {
		path += "?" + strings.Join(r.parameters, "&")
	}
	return path
}

// List gets the matching documents.
//
// The operation corresponds to a GET request, expecting http.StatusOK.
// result receives the envelope's data and can be nil.
func (r Resource) List(result interface{}) (int, error) {
	return r.client.RawGet(r.path(), result)
}

// Read gets a single document by id.
func (r Resource) Read(id string, result interface{}) (int, error) {
	return r.client.RawGet(r.path(id), result)
}

// Count gets the number of matching documents.
func (r Resource) Count() (int, int, error) {
	var data struct {
		Count int `json:"count"`
	}
	status, err := r.client.RawGet(r.path("count"), &data)
	return data.Count, status, err
}

// Create creates one document, or many when body is an array.
//
// The operation corresponds to a POST request, expecting http.StatusCreated.
func (r Resource) Create(body interface{}, result interface{}) (int, error) {
	return r.client.RawPost(r.path(), body, result)
}

// Update merges the body's fields into the document with the given id.
//
// The operation corresponds to a PUT request, expecting http.StatusOK.
func (r Resource) Update(id string, body interface{}, result interface{}) (int, error) {
	return r.client.RawPut(r.path(id), body, result)
}

// UpdateMany merges the body's fields into every document matching the
// resource's filter parameters.
func (r Resource) UpdateMany(body interface{}, result interface{}) (int, error) {
	return r.client.RawPut(r.path(), body, result)
}

// Replace swaps the document with the given id for the body, keeping its
// identifiers.
func (r Resource) Replace(id string, body interface{}, result interface{}) (int, error) {
	return r.client.RawPut(r.path(id, "replace"), body, result)
}

// Patch applies a JSON-Patch operations array to the document with the
// given id.
func (r Resource) Patch(id string, operations interface{}, result interface{}) (int, error) {
	return r.client.RawPatch(r.path(id), operations, result)
}

// Delete deletes the document with the given id. Deleting a missing
// document is not an error.
func (r Resource) Delete(id string) (int, error) {
	return r.client.RawDelete(r.path(id))
}

// Clear deletes every document matching the resource's filter parameters.
func (r Resource) Clear() (int, error) {
	return r.client.RawDelete(r.path())
}

func (c Client) do(method, path string, body interface{}) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		raw, ok := body.([]byte)
		if !ok {
			var err error
			raw, err = json.Marshal(body)
			if err != nil {
				return http.StatusBadRequest, nil, err
			}
		}
		reader = bytes.NewReader(raw)
	}
	r, _ := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}

	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		return rec.Result().StatusCode, rec.Body.Bytes(), nil
	}
	res, err := c.httpClient.Do(r)
	if err != nil {
		return http.StatusInternalServerError, nil, err
	}
	defer res.Body.Close()
	resBody, _ := io.ReadAll(res.Body)
	return res.StatusCode, resBody, nil
}

// decode unwraps the response envelope into result. A raw *[]byte result
// receives the entire response body.
func decode(resBody []byte, result interface{}) error {
	if result == nil || len(resBody) == 0 {
		return nil
	}
	if raw, ok := result.(*[]byte); ok {
		*raw = resBody
		return nil
	}
	var envelope Envelope
	if err := json.Unmarshal(resBody, &envelope); err != nil {
		return err
	}
	if len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, result)
}

func statusError(status int, resBody []byte, want ...int) error {
	for _, w := range want {
		if status == w {
			return nil
		}
	}
	return fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
		status, want, strings.TrimSpace(string(resBody)))
}

// RawGet gets the resource from path. Expects http.StatusOK as response,
// otherwise it will flag an error. Returns the actual http status code.
//
// The path can be extended with query strings.
//
// result can be map[string]interface{} or a raw *[]byte.
// result can be nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	status, resBody, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return status, err
	}
	if err := statusError(status, resBody, http.StatusOK); err != nil {
		return status, err
	}
	return status, decode(resBody, result)
}

// RawPost posts a resource to path. Expects http.StatusCreated as response,
// otherwise it will flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be a raw *[]byte.
// result can be nil.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	status, resBody, err := c.do(http.MethodPost, path, body)
	if err != nil {
		return status, err
	}
	if err := statusError(status, resBody, http.StatusCreated, http.StatusOK); err != nil {
		return status, err
	}
	return status, decode(resBody, result)
}

// RawPut puts a resource to path. Expects http.StatusOK or
// http.StatusNoContent as valid responses, otherwise it will flag an error.
// Returns the actual http status code.
//
// body can also be a []byte, result can also be a raw *[]byte.
// result can be nil.
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	status, resBody, err := c.do(http.MethodPut, path, body)
	if err != nil {
		return status, err
	}
	if err := statusError(status, resBody, http.StatusOK, http.StatusNoContent); err != nil {
		return status, err
	}
	return status, decode(resBody, result)
}

// RawPatch patches a resource at path. Expects http.StatusOK or
// http.StatusNoContent as valid responses, otherwise it will flag an error.
// Returns the actual http status code.
//
// body can also be a []byte, result can also be a raw *[]byte.
// result can be nil.
func (c Client) RawPatch(path string, body interface{}, result interface{}) (int, error) {
	status, resBody, err := c.do(http.MethodPatch, path, body)
	if err != nil {
		return status, err
	}
	if err := statusError(status, resBody, http.StatusOK, http.StatusNoContent); err != nil {
		return status, err
	}
	return status, decode(resBody, result)
}

// RawDelete deletes the resource at path. Expects http.StatusOK or
// http.StatusNoContent as valid responses, otherwise it will flag an error.
// Returns the actual http status code.
func (c Client) RawDelete(path string) (int, error) {
	status, resBody, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return status, err
	}
	if err := statusError(status, resBody, http.StatusOK, http.StatusNoContent); err != nil {
		return status, err
	}
	return status, nil
}
