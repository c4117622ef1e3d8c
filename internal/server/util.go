package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Phillip-Steyn/cnc-iiot/internal/job"
	"github.com/Phillip-Steyn/cnc-iiot/internal/store"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

// writeError maps domain errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, job.ErrInvalidStatus), errors.Is(err, job.ErrEmptyName):
		code = http.StatusBadRequest
	}
	writeJSON(c, code, errorResp{Error: err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	writeJSON(c, http.StatusBadRequest, errorResp{Error: msg})
}

// pathID parses the :id route parameter as a positive job id.
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid job id: "+c.Param("id"))
		return 0, false
	}
	return id, true
}

// queryTime parses an optional timestamp query parameter.
func queryTime(c *gin.Context, key string) (time.Time, bool) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return time.Time{}, true
	}
	t, ok := store.ParseTime(v)
	if !ok {
		badRequest(c, "invalid "+key+": "+v)
		return time.Time{}, false
	}
	return t, true
}

// queryLimit parses an optional non-negative limit, capped at max.
func queryLimit(c *gin.Context, def, max int) (int, bool) {
	v := c.Query("limit")
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		badRequest(c, "invalid limit: "+v)
		return 0, false
	}
	if n == 0 || n > max {
		n = max
	}
	return n, true
}
