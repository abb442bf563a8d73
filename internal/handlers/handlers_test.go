package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Brownie44l1/imagenet-classifier/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClassifier struct {
	ready      bool
	label      string
	prediction *model.Prediction
	err        error
	uploaded   []byte
	tensorLen  int
}

func (f *fakeClassifier) Ready() bool { return f.ready }

func (f *fakeClassifier) Classify(context.Context) (string, error) {
	return f.label, f.err
}

func (f *fakeClassifier) Predict(_ context.Context, image []byte) (*model.Prediction, error) {
	f.uploaded = image
	return f.prediction, f.err
}

func (f *fakeClassifier) PredictTensor(_ context.Context, data []float32) (*model.Prediction, error) {
	f.tensorLen = len(data)
	return f.prediction, f.err
}

func newServer(f *fakeClassifier) *httptest.Server {
	mux := http.NewServeMux()
	NewHandler(f, 1<<20).Routes(mux)
	return httptest.NewServer(mux)
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealth(t *testing.T) {
	srv := newServer(&fakeClassifier{ready: true})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	body := decode(t, resp)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["ready"])
}

func TestClassify(t *testing.T) {
	srv := newServer(&fakeClassifier{label: "golden retriever"})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/classify")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
	assert.Equal(t, "golden retriever", decode(t, resp)["label"])
}

func TestClassify_ErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"resource", &model.ResourceLoadError{Resource: "labels", Err: errors.New("missing")}, http.StatusServiceUnavailable},
		{"decode", &model.DecodeError{Err: errors.New("bad png")}, http.StatusBadRequest},
		{"mismatch", &model.ModelMismatchError{Reason: "no output"}, http.StatusInternalServerError},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(&fakeClassifier{err: tt.err})
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/classify")
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Equal(t, tt.err.Error(), decode(t, resp)["error"])
		})
	}
}

func TestClassify_MethodNotAllowed(t *testing.T) {
	srv := newServer(&fakeClassifier{})
	defer srv.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/classify", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestOptionsPreflight(t *testing.T) {
	srv := newServer(&fakeClassifier{})
	defer srv.Close()

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/classify/image", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "POST, GET, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
}

func TestClassifyImage(t *testing.T) {
	f := &fakeClassifier{prediction: &model.Prediction{Class: "tabby", Index: 281, Confidence: 0.8}}
	srv := newServer(f)
	defer srv.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "cat.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("image-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/classify/image", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, "tabby", body["class"])
	assert.EqualValues(t, 281, body["index"])
	assert.Equal(t, []byte("image-bytes"), f.uploaded)
}

func TestClassifyImage_MissingField(t *testing.T) {
	srv := newServer(&fakeClassifier{})
	defer srv.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("photo", "x"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/classify/image", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode(t, resp)["error"], "'image'")
}

func TestPredict(t *testing.T) {
	f := &fakeClassifier{prediction: &model.Prediction{Class: "tench"}}
	srv := newServer(f)
	defer srv.Close()

	payload, err := json.Marshal(model.PredictionRequest{Image: make([]float32, 3*224*224)})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/predict", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "tench", decode(t, resp)["class"])
	assert.Equal(t, 3*224*224, f.tensorLen)
}

func TestPredict_BadInput(t *testing.T) {
	srv := newServer(&fakeClassifier{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/predict", "application/json", strings.NewReader(`{"image":[1,2,3]}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode(t, resp)["error"], "Expected 150528 values, got 3")

	resp, err = http.Post(srv.URL+"/predict", "application/json", strings.NewReader(`{"image":`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestStatusFor_Wrapped(t *testing.T) {
	err := errors.Join(errors.New("ctx"), &model.DecodeError{Err: errors.New("x")})
	assert.Equal(t, http.StatusBadRequest, StatusFor(err))
	assert.Equal(t, http.StatusGatewayTimeout, StatusFor(context.DeadlineExceeded))
}
