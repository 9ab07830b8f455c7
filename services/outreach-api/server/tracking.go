package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/janmejaybhavsar/email-campaign-system/internal/store"
	"github.com/janmejaybhavsar/email-campaign-system/pkg/logx"
	"github.com/janmejaybhavsar/email-campaign-system/pkg/metrics"
)

// transparentGIF is the fixed 1x1 image returned by the open pixel.
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// TrackOpen marks the first open of a tracked email. The pixel is served
// no matter what: an invalid or unknown ID must look identical to a valid
// one from the mail client's side.
func (h *Handlers) TrackOpen(c *gin.Context) {
	tid := c.Param("tid")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	err := h.Store.MarkOpened(ctx, tid, c.Request.UserAgent(), c.ClientIP())
	switch {
	case err == nil:
		metrics.TrackingEventsTotal.WithLabelValues("open").Inc()
	case errors.Is(err, store.ErrNotFound):
		logx.L().Debugw("open_unknown_tracking_id", "tracking_id", tid)
	default:
		logx.L().Errorw("open_record_error", "tracking_id", tid, "error", err)
	}

	c.Header("Cache-Control", "no-store, no-cache, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Data(http.StatusOK, "image/gif", transparentGIF)
}

// TrackClick bumps the click counter and redirects to the original URL.
// Lookup failures degrade to a redirect at the app base URL; the mail
// client never sees an error page.
func (h *Handlers) TrackClick(c *gin.Context) {
	tid := c.Param("tid")
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 1 {
		c.Redirect(http.StatusFound, h.BaseURL)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	originalURL, err := h.Store.RecordClick(ctx, tid, idx, c.Request.UserAgent(), c.ClientIP())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logx.L().Errorw("click_record_error", "tracking_id", tid, "index", idx, "error", err)
		}
		c.Redirect(http.StatusFound, h.BaseURL)
		return
	}
	metrics.TrackingEventsTotal.WithLabelValues("click").Inc()

	c.Redirect(http.StatusFound, originalURL)
}
