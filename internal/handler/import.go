package handler

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"hui-manager/internal/logger"
	"hui-manager/internal/middleware"
	"hui-manager/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	previewTTL      = 10 * time.Minute
	maxImportUpload = 5 << 20
)

// ImportHandler runs the two-step member import: preview parses the sheet
// and parks the rows under a token, confirm adds them.
type ImportHandler struct {
	members *service.MemberService
	cache   sync.Map // token -> *previewCache
}

type previewCache struct {
	groupID   string
	userID    string
	rows      []service.ImportRow
	createdAt time.Time
}

func NewImportHandler(members *service.MemberService) *ImportHandler {
	h := &ImportHandler{members: members}
	go func() {
		for range time.Tick(5 * time.Minute) {
			h.evict(time.Now())
		}
	}()
	return h
}

// Preview handles POST /api/groups/:id/members/import/preview.
func (h *ImportHandler) Preview(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "upload an .xlsx file in field \"file\"")
		return
	}
	if file.Size > maxImportUpload {
		badRequest(c, "file is too large")
		return
	}
	f, err := file.Open()
	if err != nil {
		badRequest(c, "cannot read upload")
		return
	}
	defer f.Close()

	groupID := c.Param("id")
	logger.Info("import.preview start", "group", groupID, "file", file.Filename, "size", file.Size)
	rows, err := h.members.ParseImport(c.Request.Context(), middleware.Actor(c), groupID, f)
	if err != nil {
		fail(c, err)
		return
	}

	token := genToken()
	h.cache.Store(token, &previewCache{
		groupID:   groupID,
		userID:    c.GetString(middleware.KeyUserID),
		rows:      rows,
		createdAt: time.Now(),
	})
	ready := 0
	for _, r := range rows {
		if r.Status == service.ImportReady {
			ready++
		}
	}
	logger.Info("import.preview done", "token", token, "rows", len(rows), "ready", ready)
	c.JSON(http.StatusOK, gin.H{"token": token, "rows": rows, "ready": ready})
}

// Confirm handles POST /api/groups/:id/members/import/confirm.
func (h *ImportHandler) Confirm(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		badRequest(c, "missing token")
		return
	}

	val, ok := h.cache.LoadAndDelete(req.Token)
	if !ok {
		badRequest(c, "preview expired, upload the file again")
		return
	}
	p := val.(*previewCache)
	if p.groupID != c.Param("id") || p.userID != c.GetString(middleware.KeyUserID) || time.Since(p.createdAt) > previewTTL {
		badRequest(c, "preview expired, upload the file again")
		return
	}

	res, err := h.members.ConfirmImport(c.Request.Context(), middleware.Actor(c), p.groupID, p.rows)
	if err != nil {
		fail(c, err)
		return
	}
	logger.Info("import.confirm", "group", p.groupID, "added", res.Added, "skipped", res.Skipped)
	c.JSON(http.StatusOK, res)
}

func (h *ImportHandler) evict(now time.Time) {
	h.cache.Range(func(k, v any) bool {
		if now.Sub(v.(*previewCache).createdAt) > previewTTL {
			h.cache.Delete(k)
		}
		return true
	})
}

func genToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
