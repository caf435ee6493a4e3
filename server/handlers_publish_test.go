package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconic/backend/config"
	"github.com/reconic/backend/project"
	"github.com/reconic/backend/publish"
)

func (h *harness) publish(projectID, user string, fields map[string]string, video []byte) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(h.t, mw.WriteField(k, v))
	}
	if video != nil {
		fw, err := mw.CreateFormFile("file", "video.mp4")
		require.NoError(h.t, err)
		_, err = fw.Write(video)
		require.NoError(h.t, err)
	}
	require.NoError(h.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/projects/"+projectID+"/publish", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+h.token(user))
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func TestPublishRequiresLinkedAccount(t *testing.T) {
	h := newHarness(t, nil)
	p := h.createProject("u1", "Desk")

	rr := h.publish(p.ID, "u1", map[string]string{"title": "Desk"}, []byte("video"))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "No YouTube account connected", decode[map[string]string](t, rr)["error"])
}

func TestPublishValidation(t *testing.T) {
	h := newHarness(t, nil)
	h.linkAccount("u1", "UC1")
	p := h.createProject("u1", "Desk")

	assert.Equal(t, http.StatusBadRequest, h.publish(p.ID, "u1", map[string]string{"title": "Desk"}, nil).Code, "missing file")
	assert.Equal(t, http.StatusBadRequest, h.publish(p.ID, "u1", map[string]string{"title": ""}, []byte("v")).Code, "missing title")
	assert.Equal(t, http.StatusBadRequest, h.publish(p.ID, "u1", map[string]string{"title": "Desk", "privacy": "friends"}, []byte("v")).Code)
	assert.Equal(t, http.StatusBadRequest, h.publish(p.ID, "u1", map[string]string{"title": "Desk"}, []byte{}).Code, "empty file")
	assert.Equal(t, http.StatusNotFound, h.publish("missing", "u1", map[string]string{"title": "Desk"}, []byte("v")).Code)
}

func TestPublishRejectsOversizedBody(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.MaxUploadBytes = 1024 })
	h.linkAccount("u1", "UC1")
	p := h.createProject("u1", "Desk")
	video := bytes.Repeat([]byte("v"), 8192)

	rr := h.publish(p.ID, "u1", map[string]string{"title": "Desk"}, video)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code, "declared length over the cap")

	// Without a Content-Length the cap is enforced while reading.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", "Desk"))
	fw, err := mw.CreateFormFile("file", "video.mp4")
	require.NoError(t, err)
	_, err = fw.Write(video)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/projects/"+p.ID+"/publish", &buf)
	req.ContentLength = -1
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+h.token("u1"))
	rr = httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code, "streamed body over the cap")

	rr = h.publish(p.ID, "u1", map[string]string{"title": "Desk"}, []byte("small video"))
	assert.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
}

func TestPublishRunsToSuccess(t *testing.T) {
	h := newHarness(t, nil)
	h.linkAccount("u1", "UC1")
	h.linkAccount("u2", "UC2")
	p := h.createProject("u1", "Desk")

	rr := h.publish(p.ID, "u1", map[string]string{"title": "My Desk", "description": "Walnut", "privacy": "public"}, []byte("fake video bytes"))
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	jobID := decode[map[string]string](t, rr)["jobId"]
	require.NotEmpty(t, jobID)

	var st publish.Status
	require.Eventually(t, func() bool {
		rr := h.do(http.MethodGet, "/api/uploads/"+jobID, nil, "u1")
		if rr.Code != http.StatusOK {
			return false
		}
		return json.Unmarshal(rr.Body.Bytes(), &st) == nil && st.State == "success"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 100, st.Progress)
	assert.Equal(t, "vid-42", st.VideoID)
	assert.Equal(t, "https://www.youtube.com/watch?v=vid-42", st.URL)

	stored, err := h.store.GetProject(context.Background(), "u1", p.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Status)
	assert.Equal(t, project.StatusPublished, *stored.Status)
	require.NotNil(t, stored.YouTubeVideoID)
	assert.Equal(t, "vid-42", *stored.YouTubeVideoID)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/uploads/"+jobID, nil, "u2").Code)
}
