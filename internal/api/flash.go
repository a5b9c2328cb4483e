package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	flashCookie = "taskr_flash"
	flashMaxAge = 60
)

type flash struct {
	Category string `json:"c"`
	Message  string `json:"m"`
}

// addFlash queues a message for the next rendered page, usually after a
// redirect.
func addFlash(c *gin.Context, category, message string) {
	queued := append(readFlashes(c), flash{Category: category, Message: message})
	raw, err := json.Marshal(queued)
	if err != nil {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(flashCookie, base64.RawURLEncoding.EncodeToString(raw), flashMaxAge, "/", "", false, true)
}

// popFlashes returns queued messages and clears the cookie.
func popFlashes(c *gin.Context) []flash {
	msgs := readFlashes(c)
	if len(msgs) > 0 {
		c.SetCookie(flashCookie, "", -1, "/", "", false, true)
	}
	return msgs
}

func readFlashes(c *gin.Context) []flash {
	raw, err := c.Cookie(flashCookie)
	if err != nil || raw == "" {
		return nil
	}
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil
	}
	var msgs []flash
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil
	}
	return msgs
}
