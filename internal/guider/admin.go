package guider

import (
	"errors"
	"net/http"

	"github.com/danmuck/guidectl/internal/property"
	"github.com/gin-gonic/gin"
)

type bindRequest struct {
	CCD    string `json:"ccd"`
	Guider string `json:"guider"`
}

type exposureRequest struct {
	Seconds float64 `json:"seconds" binding:"required"`
}

// RegisterRoutes mounts the agent control surface on r.
func (a *Agent) RegisterRoutes(r gin.IRouter) {
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.Snapshot())
	})

	r.POST("/bind", func(c *gin.Context) {
		var req bindRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		a.respond(c, a.Bind(c.Request.Context(), req.CCD, req.Guider))
	})

	r.POST("/mode/:algorithm", func(c *gin.Context) {
		alg, err := property.ParseAlgorithm(c.Param("algorithm"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		a.respond(c, a.SelectAlgorithm(c.Request.Context(), alg))
	})

	r.POST("/process/:mode", func(c *gin.Context) {
		mode, err := ParseMode(c.Param("mode"))
		if err != nil {
			a.respond(c, err)
			return
		}
		a.respond(c, a.Start(c.Request.Context(), mode))
	})

	r.POST("/abort", func(c *gin.Context) {
		a.respond(c, a.Abort(c.Request.Context()))
	})

	r.POST("/stop", func(c *gin.Context) {
		a.respond(c, a.Stop(c.Request.Context()))
	})

	r.PUT("/exposure", func(c *gin.Context) {
		var req exposureRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		a.respond(c, a.SetExposure(c.Request.Context(), req.Seconds))
	})
}

func (a *Agent) respond(c *gin.Context, err error) {
	if err != nil {
		_ = c.Error(err)
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "status": a.Snapshot()})
		return
	}
	c.JSON(http.StatusOK, a.Snapshot())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrModeBusy):
		return http.StatusConflict
	case errors.Is(err, ErrNoDeviceSelected):
		return http.StatusPreconditionFailed
	case errors.Is(err, ErrAmbiguousRequest),
		errors.Is(err, ErrUnknownMode),
		errors.Is(err, ErrInvalidExposure),
		errors.Is(err, ErrInvalidAlgorithm):
		return http.StatusBadRequest
	case errors.Is(err, ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
