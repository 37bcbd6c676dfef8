package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/polecam/internal/pole"
)

// HealthResponse is the body of GET /api/v1/health
type HealthResponse struct {
	Status  string `json:"status"`
	Pole    string `json:"pole"`
	Phase   string `json:"phase"`
	Cameras int    `json:"cameras"`
	Uptime  string `json:"uptime"`
}

// GetHealth handles GET /api/v1/health. A terminated pole reports 503.
func (c *Controller) GetHealth(ctx echo.Context) error {
	st := c.Pole.Status()
	resp := HealthResponse{
		Status:  "healthy",
		Pole:    st.Pole,
		Phase:   st.Phase.String(),
		Cameras: len(st.Cameras),
		Uptime:  time.Since(c.startTime).Round(time.Second).String(),
	}

	code := http.StatusOK
	if st.Phase == pole.PhaseEnd || st.Phase == pole.PhaseTerm {
		resp.Status = "terminated"
		code = http.StatusServiceUnavailable
	}
	return ctx.JSON(code, resp)
}
