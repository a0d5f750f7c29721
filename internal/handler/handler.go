package handler

import (
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"faceattend/internal/auth"
	"faceattend/internal/embedding"
	"faceattend/internal/ledger"
	"faceattend/internal/matcher"
	"faceattend/internal/queue"
	"faceattend/internal/template"
	"faceattend/internal/user"
	"faceattend/internal/verify"
)

// Config is the slice of app config the handlers need.
type Config struct {
	JWTIssuer     string
	JWTSigningKey string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	MinSamples    int
	MaxSamples    int
}

// Handler owns the HTTP boundary of the enrollment and verification
// pipeline.
type Handler struct {
	users user.Repository
	orch  *verify.Orchestrator
	marks ledger.Ledger
	q     queue.Queue
	cfg   Config
}

// New creates a handler. The queue may be nil when no worker runs.
func New(users user.Repository, orch *verify.Orchestrator, marks ledger.Ledger, q queue.Queue, cfg Config) *Handler {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = template.MinSamples
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = 20
	}
	return &Handler{users: users, orch: orch, marks: marks, q: q, cfg: cfg}
}

// Register wires the routes. authMW guards everything that needs a
// caller identity.
func (h *Handler) Register(r *gin.Engine, authMW gin.HandlerFunc) {
	r.POST("/auth/register", h.RegisterUser)
	r.POST("/auth/login", h.Login)

	guarded := r.Group("/", authMW)
	guarded.POST("/face/register", h.RegisterFace)
	guarded.POST("/attendance/mark", h.MarkAttendance)
	guarded.GET("/attendance/today", h.Today)
	guarded.GET("/users", h.ListUsers)
}

// ---------- Auth ----------

type registerRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=6"`
	DisplayName string `json:"display_name" binding:"required"`
	Department  string `json:"department"`
}

// RegisterUser creates an account and issues tokens. Enrollment is a
// separate step; the account starts with enrolled=false.
func (h *Handler) RegisterUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "password hash failed"})
		return
	}

	u := &user.User{
		Email:        req.Email,
		PasswordHash: hash,
		DisplayName:  req.DisplayName,
		Department:   req.Department,
	}
	if err := h.users.Create(c.Request.Context(), u); err != nil {
		if errors.Is(err, user.ErrExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	tokens, err := auth.Issue(u.ID, u.Role, h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.AccessTTL, h.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user":          u,
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login checks credentials and issues tokens.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u, err := h.users.GetByEmail(c.Request.Context(), req.Email)
	if err != nil || !auth.CheckPassword(u.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	tokens, err := auth.Issue(u.ID, u.Role, h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.AccessTTL, h.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":          u,
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

// ---------- Enrollment ----------

// RegisterFace enrolls the authenticated user from a multipart batch of
// face images. The caller's identity comes from the bearer token; it is
// trusted here and only here.
func (h *Handler) RegisterFace(c *gin.Context) {
	claims, ok := auth.ClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
		return
	}
	files := form.File["images"]
	if len(files) < h.cfg.MinSamples {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "not enough face images",
			"reason": "insufficient_samples",
			"got":    len(files),
			"need":   h.cfg.MinSamples,
		})
		return
	}
	if len(files) > h.cfg.MaxSamples {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "too many face images",
			"reason": "too_many_samples",
			"max":    h.cfg.MaxSamples,
		})
		return
	}

	images := make([]verify.ImageFile, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable image file"})
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "read image failed"})
			return
		}
		images = append(images, verify.ImageFile{Name: fh.Filename, Data: data})
	}

	sessionToken := c.PostForm("session_token")
	if sessionToken == "" {
		sessionToken = uuid.NewString()
	}

	summary, err := h.orch.Enroll(c.Request.Context(), claims.Subject, sessionToken, images)
	if err != nil {
		h.pipelineError(c, err, gin.H{"accepted": summary.Accepted, "rejected": summary.Rejected})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "enrolled",
		"user_id":       claims.Subject,
		"accepted":      summary.Accepted,
		"rejected":      summary.Rejected,
		"session_token": sessionToken,
	})
}

// ---------- Verification ----------

// MarkAttendance takes one capture, matches it against every enrolled
// template, and appends today's record. The caller never asserts who
// they are; the matcher decides.
func (h *Handler) MarkAttendance(c *gin.Context) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read image failed"})
		return
	}

	res, err := h.orch.VerifyAndMark(c.Request.Context(), verify.ImageFile{Name: header.Filename, Data: data})
	if err != nil {
		h.pipelineError(c, err, nil)
		return
	}

	if res.Marked == ledger.OutcomeCreated && h.q != nil {
		if err := h.q.Publish(c.Request.Context(), queue.Message{Type: "attendance.marked", Body: []byte(res.Record.ID)}); err != nil {
			log.Printf("queue publish failed: %v", err)
		}
	}

	matched, err := h.users.Get(c.Request.Context(), res.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "matched user not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":    matched,
		"matched": true,
		"score":   res.Score,
		"marked":  markedLabel(res.Marked),
		"time_in": res.Record.TimeIn,
	})
}

// Today lists today's attendance records.
func (h *Handler) Today(c *gin.Context) {
	records, err := h.marks.ListDay(c.Request.Context(), time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []ledger.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// ListUsers returns registered users.
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if users == nil {
		users = []user.User{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// pipelineError maps pipeline failures onto machine-readable reasons.
// Everything the caller can fix by retrying a cleaner capture is a 4xx;
// infrastructure faults are gateway errors.
func (h *Handler) pipelineError(c *gin.Context, err error, extra gin.H) {
	status, reason := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, embedding.ErrNoFace):
		status, reason = http.StatusBadRequest, "no_face_detected"
	case errors.Is(err, template.ErrInsufficientSamples):
		status, reason = http.StatusBadRequest, "insufficient_samples"
	case errors.Is(err, matcher.ErrNoMatch):
		status, reason = http.StatusNotFound, "not_recognized"
	case errors.Is(err, matcher.ErrAmbiguous):
		status, reason = http.StatusBadRequest, "ambiguous_match"
	case errors.Is(err, embedding.ErrTimeout):
		status, reason = http.StatusGatewayTimeout, "provider_timeout"
	case errors.Is(err, embedding.ErrUnavailable):
		status, reason = http.StatusBadGateway, "provider_unavailable"
	}

	body := gin.H{"error": err.Error(), "reason": reason}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(status, body)
}

func markedLabel(o ledger.Outcome) string {
	if o == ledger.OutcomeAlreadyMarked {
		return "AlreadyMarked"
	}
	return "Created"
}
