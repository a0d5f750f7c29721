package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceattend/internal/auth"
	"faceattend/internal/embedding"
	"faceattend/internal/ledger"
	"faceattend/internal/matcher"
	"faceattend/internal/queue"
	"faceattend/internal/template"
	"faceattend/internal/user"
	"faceattend/internal/verify"
)

type stubProvider struct {
	vectors map[string][]float32
}

func (s *stubProvider) Embed(_ context.Context, image []byte, _ string) (*embedding.Result, error) {
	v, ok := s.vectors[string(image)]
	if !ok {
		return nil, embedding.ErrNoFace
	}
	return &embedding.Result{Vector: v, Quality: 0.9}, nil
}

type testServer struct {
	router    *gin.Engine
	users     *user.Memory
	templates *template.Memory
	marks     *ledger.Memory
	userID    string
}

// identityAs bypasses JWT parsing and injects the claims directly, the
// way RequireUser would after a valid token.
func identityAs(id string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("claims", auth.Claims{Subject: id, Role: "user"})
		c.Next()
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users := user.NewMemory()
	u := &user.User{Email: "alice@example.com", PasswordHash: "x", DisplayName: "Alice"}
	require.NoError(t, users.Create(context.Background(), u))

	templates := template.NewMemory()
	templates.OnEnrolled = func(id string) { users.SetEnrolled(id, true) }
	marks := ledger.NewMemory()
	provider := &stubProvider{vectors: map[string][]float32{
		"alice": {1, 0, 0},
		"bob":   {0, 1, 0},
	}}

	orch := verify.New(provider, templates, matcher.New(0.80, 0.001), marks, verify.Options{
		MaxSamples:      20,
		CaptureDeadline: 10 * time.Second,
	})

	h := New(users, orch, marks, queue.NewInMemory(16), Config{
		JWTIssuer:     "faceattend-test",
		JWTSigningKey: "test-signing-key",
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
		MinSamples:    5,
		MaxSamples:    20,
	})

	r := gin.New()
	h.Register(r, identityAs(u.ID))
	return &testServer{router: r, users: users, templates: templates, marks: marks, userID: u.ID}
}

func multipartBody(t *testing.T, field string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, data := range files {
		part, err := w.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (ts *testServer) do(t *testing.T, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func enrollAlice(t *testing.T, ts *testServer) {
	t.Helper()
	files := map[string][]byte{}
	for _, name := range []string{"a1.jpg", "a2.jpg", "a3.jpg", "a4.jpg", "a5.jpg"} {
		files[name] = []byte("alice")
	}
	body, ct := multipartBody(t, "images", files)
	rec := ts.do(t, http.MethodPost, "/face/register", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRegisterFaceTooFewImages(t *testing.T) {
	ts := newTestServer(t)

	body, ct := multipartBody(t, "images", map[string][]byte{
		"a1.jpg": []byte("alice"),
		"a2.jpg": []byte("alice"),
		"a3.jpg": []byte("alice"),
	})
	rec := ts.do(t, http.MethodPost, "/face/register", body, ct)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "insufficient_samples", resp["reason"])
}

func TestRegisterFaceEnrolls(t *testing.T) {
	ts := newTestServer(t)
	enrollAlice(t, ts)

	tmpl, err := ts.templates.GetTemplate(context.Background(), ts.userID)
	require.NoError(t, err)
	assert.Len(t, tmpl.Embeddings, 5)

	u, err := ts.users.Get(context.Background(), ts.userID)
	require.NoError(t, err)
	assert.True(t, u.Enrolled)
}

func TestRegisterFaceUnusableImages(t *testing.T) {
	ts := newTestServer(t)

	// Enough files, but only two contain a face.
	body, ct := multipartBody(t, "images", map[string][]byte{
		"a1.jpg": []byte("alice"),
		"a2.jpg": []byte("alice"),
		"b1.jpg": []byte("wall"),
		"b2.jpg": []byte("wall"),
		"b3.jpg": []byte("wall"),
	})
	rec := ts.do(t, http.MethodPost, "/face/register", body, ct)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "insufficient_samples", resp["reason"])
	assert.Equal(t, float64(2), resp["accepted"])

	_, err := ts.templates.GetTemplate(context.Background(), ts.userID)
	assert.ErrorIs(t, err, template.ErrNotFound)
}

func TestMarkAttendanceCreatesThenDedups(t *testing.T) {
	ts := newTestServer(t)
	enrollAlice(t, ts)

	body, ct := multipartBody(t, "image", map[string][]byte{"probe.jpg": []byte("alice")})
	rec := ts.do(t, http.MethodPost, "/attendance/mark", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var first map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Equal(t, "Created", first["marked"])

	body, ct = multipartBody(t, "image", map[string][]byte{"probe.jpg": []byte("alice")})
	rec = ts.do(t, http.MethodPost, "/attendance/mark", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)

	var second map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, "AlreadyMarked", second["marked"])
	assert.Equal(t, first["time_in"], second["time_in"])

	records, err := ts.marks.ListDay(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestMarkAttendanceNoFace(t *testing.T) {
	ts := newTestServer(t)
	enrollAlice(t, ts)

	body, ct := multipartBody(t, "image", map[string][]byte{"probe.jpg": []byte("wall")})
	rec := ts.do(t, http.MethodPost, "/attendance/mark", body, ct)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "no_face_detected", resp["reason"])
}

func TestMarkAttendanceNotRecognized(t *testing.T) {
	ts := newTestServer(t)
	enrollAlice(t, ts)

	// A real face, just not an enrolled one.
	body, ct := multipartBody(t, "image", map[string][]byte{"probe.jpg": []byte("bob")})
	rec := ts.do(t, http.MethodPost, "/attendance/mark", body, ct)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_recognized", resp["reason"])

	records, err := ts.marks.ListDay(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMarkAttendanceMissingImage(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/attendance/mark", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRegisterAndLogin(t *testing.T) {
	ts := newTestServer(t)

	payload := `{"email":"bob@example.com","password":"hunter22","display_name":"Bob"}`
	rec := ts.do(t, http.MethodPost, "/auth/register", bytes.NewBufferString(payload), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created["access_token"])

	rec = ts.do(t, http.MethodPost, "/auth/register", bytes.NewBufferString(payload), "application/json")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/auth/login", bytes.NewBufferString(`{"email":"bob@example.com","password":"hunter22"}`), "application/json")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/auth/login", bytes.NewBufferString(`{"email":"bob@example.com","password":"wrong"}`), "application/json")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTodayListsRecords(t *testing.T) {
	ts := newTestServer(t)
	enrollAlice(t, ts)

	rec := ts.do(t, http.MethodGet, "/attendance/today", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var empty struct {
		Records []ledger.Record `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &empty))
	assert.Empty(t, empty.Records)

	body, ct := multipartBody(t, "image", map[string][]byte{"probe.jpg": []byte("alice")})
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/attendance/mark", body, ct).Code)

	rec = ts.do(t, http.MethodGet, "/attendance/today", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var after struct {
		Records []ledger.Record `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &after))
	require.Len(t, after.Records, 1)
	assert.Equal(t, ts.userID, after.Records[0].UserID)
}
