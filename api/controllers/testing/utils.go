package testing

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
)

// PerformRequest sends a JSON request through the router and records the
// response.
func PerformRequest(router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	reqBody := &bytes.Buffer{}
	if body != nil {
		if err := json.NewEncoder(reqBody).Encode(body); err != nil {
			panic("failed to marshal request body: " + err.Error())
		}
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

// DecodeBody unmarshals a recorded response body into T.
func DecodeBody[T any](res *httptest.ResponseRecorder) (T, error) {
	var out T
	err := json.Unmarshal(res.Body.Bytes(), &out)
	return out, err
}
