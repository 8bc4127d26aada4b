package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pavelc4/aether-queue/internal/dispatcher"
	"github.com/pavelc4/aether-queue/internal/errs"
	"github.com/pavelc4/aether-queue/internal/task"
)

type submitBody struct {
	UserID      int64  `json:"user_id" binding:"required"`
	RecipientID int64  `json:"recipient_id"`
	URL         string `json:"url" binding:"required"`
	Kind        string `json:"kind"`
}

type requestView struct {
	*task.Request
	Position int `json:"position,omitempty"`
}

func (s *Server) view(req *task.Request) requestView {
	v := requestView{Request: req}
	if pos, ok := s.intake.Position(req.ID); ok {
		v.Position = pos
	}
	return v
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"pending": s.intake.Pending(),
	})
}

func (s *Server) submit(c *gin.Context) {
	var body submitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and url are required"})
		return
	}

	req, err := s.intake.Submit(c.Request.Context(), dispatcher.Submission{
		RequesterID: body.UserID,
		RecipientID: body.RecipientID,
		URL:         body.URL,
		Kind:        task.ParseKind(body.Kind),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"request": s.view(req)})
}

func (s *Server) list(c *gin.Context) {
	var reqs []*task.Request
	if raw := c.Query("user_id"); raw != "" {
		uid, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id must be a number"})
			return
		}
		reqs = s.intake.List(uid)
	} else {
		reqs = s.intake.Active()
	}

	views := make([]requestView, 0, len(reqs))
	for _, r := range reqs {
		views = append(views, s.view(r))
	}
	c.JSON(http.StatusOK, gin.H{
		"requests": views,
		"total":    len(views),
	})
}

func (s *Server) get(c *gin.Context) {
	req, ok := s.intake.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": s.view(req)})
}

func (s *Server) cancel(c *gin.Context) {
	if err := s.intake.Cancel(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "cancellation requested"})
}

func (s *Server) quotaOf(c *gin.Context) {
	uid, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id must be a number"})
		return
	}
	usage := s.quota.Usage(uid)
	c.JSON(http.StatusOK, gin.H{
		"user_id":    uid,
		"used":       usage.BytesUsedToday,
		"limit":      s.quota.Limit(),
		"remaining":  s.quota.Remaining(c.Request.Context(), uid),
		"reset_date": usage.ResetDate,
	})
}

func statusOf(code errs.Code) int {
	switch code {
	case errs.CodeInvalidRequest:
		return http.StatusBadRequest
	case errs.CodeRateLimited, errs.CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case errs.CodeQueueFull:
		return http.StatusConflict
	case errs.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	code := errs.CodeOf(err)
	if after := errs.RetryAfterOf(err); after > 0 {
		c.Header("Retry-After", strconv.Itoa(int(after.Round(time.Second)/time.Second)))
	}
	c.JSON(statusOf(code), gin.H{
		"error": errs.Message(err),
		"code":  code,
	})
}
