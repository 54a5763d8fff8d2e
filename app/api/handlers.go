package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"mentiond/app/webmention"
)

func NewHandler(incoming IncomingProcessorInterface, storage webmention.Storage,
	blogroll BlogrollInterface, feedURLs []string, version string) *Handler {
	return &Handler{
		incoming: incoming,
		storage:  storage,
		blogroll: blogroll,
		feedURLs: feedURLs,
		version:  version,
	}
}

// ReceiveWebmention handles the inbound webmention listener endpoint:
// form fields source and target, verified against the source page.
func (h *Handler) ReceiveWebmention(c *gin.Context) {
	source := c.PostForm("source")
	target := c.PostForm("target")

	location, err := h.incoming.Run(c.Request.Context(), source, target)
	if err != nil {
		var reqErr *webmention.RequestError
		if errors.As(err, &reqErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": reqErr.Message})
			return
		}
		var fetchErr *webmention.FetchError
		if errors.As(err, &fetchErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "source URL could not be fetched"})
			return
		}
		slog.Error("Webmention processing failed", "source", source, "target", target, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	// An empty location means the source was gone and any stored
	// mention has been retracted.
	if location == "" {
		c.Status(http.StatusOK)
		return
	}

	c.Status(http.StatusAccepted)
}

// ListWebmentions returns the confirmed incoming mentions for a target
// resource, newest first.
func (h *Handler) ListWebmentions(c *gin.Context) {
	target := c.Query("target")
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing target parameter"})
		return
	}

	mentions, err := h.storage.Retrieve(target, webmention.DirectionIncoming)
	if err != nil {
		slog.Error("Failed to retrieve webmentions", "target", target, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	response := make([]MentionResponse, 0, len(mentions))
	for _, m := range mentions {
		response = append(response, MentionResponse{
			Source:      m.Source,
			Target:      m.Target,
			Title:       m.Title,
			Excerpt:     m.Excerpt,
			AuthorName:  m.AuthorName,
			AuthorURL:   m.AuthorURL,
			AuthorPhoto: m.AuthorPhoto,
			Published:   m.Published,
			MentionType: string(m.MentionType),
			CreatedAt:   m.CreatedAt,
		})
	}

	c.Header("X-Webmention-Count", strconv.Itoa(len(response)))
	c.JSON(http.StatusOK, response)
}

// GetBlogroll returns the configured remote feeds, served from the
// parser's TTL cache.
func (h *Handler) GetBlogroll(c *gin.Context) {
	if len(h.feedURLs) == 0 {
		c.JSON(http.StatusOK, gin.H{"feeds": []any{}})
		return
	}

	parsed := h.blogroll.RunAll(c.Request.Context(), h.feedURLs)

	feedList := make([]gin.H, 0, len(parsed))
	for _, feed := range parsed {
		feedList = append(feedList, gin.H{
			"url":         feed.URL,
			"title":       feed.Title,
			"link":        feed.Link,
			"description": feed.Description,
			"items":       len(feed.Items),
		})
	}

	c.JSON(http.StatusOK, gin.H{"feeds": feedList})
}

func (h *Handler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"version":   h.version,
	})
}
