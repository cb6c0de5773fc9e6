package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"

	"displayfleet/models"
	"displayfleet/service"
)

// respondError maps the service error taxonomy onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, service.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrValidation):
		status, code = http.StatusBadRequest, "validation"
	case errors.Is(err, service.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, service.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, service.ErrUnavailable):
		status, code = http.StatusServiceUnavailable, "unavailable"
	}
	if status == http.StatusInternalServerError {
		log.Printf("❌ %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, models.CodedErrorResponse(code, err.Error()))
}

// bindJSON binds the body and answers 400 on failure.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, models.CodedErrorResponse("validation", err.Error()))
		return false
	}
	return true
}

// Device-facing handlers

// RegisterDisplay upserts a display from its boot-time registration. A
// registration token, when present, claims the display for its user.
func RegisterDisplay(c *gin.Context, s *Services) {
	var req models.RegisterRequest
	if !bindJSON(c, &req) {
		return
	}
	req.ExternalIP = c.ClientIP()
	if req.RegistrationToken != "" {
		p, err := s.Auth.Authorize(req.RegistrationToken)
		if err != nil {
			respondError(c, err)
			return
		}
		if p.UserID != "" {
			req.OwnerID = &p.UserID
		}
	}
	d, err := s.Devices.Register(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(d))
}

func DisplayHeartbeat(c *gin.Context, s *Services) {
	var hb models.HeartbeatReport
	if !bindJSON(c, &hb) {
		return
	}
	d, err := s.Devices.Heartbeat(c.Request.Context(), c.Param("id"), hb)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{
		"status":        d.Status,
		"shouldRestart": d.ShouldRestart(),
	}))
}

// GetDisplayConfig answers the config poll. It drains the pending command.
func GetDisplayConfig(c *gin.Context, s *Services) {
	cfg, err := s.Devices.GetConfig(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(cfg))
}

func AppendDisplayLogs(c *gin.Context, s *Services) {
	var req models.AppendLogsRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.Devices.AppendLogs(c.Request.Context(), c.Param("id"), req.Logs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(res))
}

func ReportFlyerStatus(c *gin.Context, s *Services) {
	var rep models.FlyerStatusReport
	if !bindJSON(c, &rep) {
		return
	}
	d, err := s.Devices.GetDevice(rep.DisplayID)
	if err != nil {
		respondError(c, err)
		return
	}
	st, err := s.Flyers.ReportStatus(c.Request.Context(), d.OwnerUserID, rep)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(st))
}

// Admin handlers

// GetDisplays returns the displays visible to the caller.
func GetDisplays(c *gin.Context, s *Services) {
	c.JSON(http.StatusOK, models.SuccessResponse(s.Devices.ListDevices(principalFrom(c))))
}

func GetDisplay(c *gin.Context, s *Services) {
	d, err := s.Devices.GetDeviceFor(principalFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(d))
}

func IssueDisplayCommand(c *gin.Context, s *Services) {
	var req models.CommandRequest
	if !bindJSON(c, &req) {
		return
	}
	cmd, err := s.Devices.IssueCommand(c.Request.Context(), principalFrom(c), c.Param("id"), req.Action)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(cmd))
}

func UpdateDisplayConfig(c *gin.Context, s *Services) {
	var upd models.AssignmentUpdate
	if !bindJSON(c, &upd) {
		return
	}
	res, err := s.Devices.SetAssignment(c.Request.Context(), principalFrom(c), c.Param("id"), upd)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(res))
}

// GetDisplayLogs returns the debug log. With ?format=gz the lines are
// streamed as a gzip-compressed NDJSON download.
func GetDisplayLogs(c *gin.Context, s *Services) {
	id := c.Param("id")
	logs, err := s.Devices.DebugLogs(c.Request.Context(), principalFrom(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if c.Query("format") != "gz" {
		c.JSON(http.StatusOK, models.SuccessResponse(logs))
		return
	}

	name := fmt.Sprintf("display-%s-%s.ndjson.gz", id, time.Now().Format("20060102-150405"))
	c.Header("Content-Type", "application/gzip")
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Status(http.StatusOK)

	gz := gzip.NewWriter(c.Writer)
	enc := json.NewEncoder(gz)
	for _, entry := range logs {
		if err := enc.Encode(entry); err != nil {
			log.Printf("log export for %s aborted: %v", id, err)
			break
		}
	}
	if err := gz.Close(); err != nil {
		log.Printf("log export for %s: %v", id, err)
	}
}

func ClearDisplayLogs(c *gin.Context, s *Services) {
	if err := s.Devices.ClearLogs(c.Request.Context(), principalFrom(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("debug logs cleared"))
}

func GetTimers(c *gin.Context, s *Services) {
	c.JSON(http.StatusOK, models.SuccessResponse(s.Timers.ListActive(principalFrom(c))))
}

func StartDQTimer(c *gin.Context, s *Services) {
	var req models.DQTimerRequest
	if !bindJSON(c, &req) {
		return
	}
	t, err := s.Timers.StartDQ(c.Request.Context(), principalFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(t))
}

func StartTournamentTimer(c *gin.Context, s *Services) {
	var req models.TournamentTimerRequest
	if !bindJSON(c, &req) {
		return
	}
	t, err := s.Timers.StartTournament(c.Request.Context(), principalFrom(c), req.DurationSeconds)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(t))
}

// CancelTimer always succeeds; cancelled tells whether a timer was running.
func CancelTimer(c *gin.Context, s *Services) {
	var req models.CancelTimerRequest
	if !bindJSON(c, &req) {
		return
	}
	cancelled := s.Timers.Cancel(c.Request.Context(), principalFrom(c), req.Key)
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{"key": req.Key, "cancelled": cancelled}))
}

func GetEmergencyStatus(c *gin.Context, s *Services) {
	c.JSON(http.StatusOK, models.SuccessResponse(s.Emergency.Status()))
}

func ActivateEmergency(c *gin.Context, s *Services) {
	var req models.EmergencyRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	res, err := s.Emergency.Activate(c.Request.Context(), req.Reason, principalFrom(c).Actor())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(res))
}

func DeactivateEmergency(c *gin.Context, s *Services) {
	res, err := s.Emergency.Deactivate(c.Request.Context(), principalFrom(c).Actor())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(res))
}

func SendTicker(c *gin.Context, s *Services) {
	var req models.TickerRequest
	if !bindJSON(c, &req) {
		return
	}
	report, err := s.Router.SendTicker(c.Request.Context(), principalFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(report))
}

func GetFlyerState(c *gin.Context, s *Services) {
	c.JSON(http.StatusOK, models.SuccessResponse(s.Flyers.State(principalFrom(c))))
}

func FlyerControl(c *gin.Context, s *Services) {
	var req models.FlyerControlRequest
	if !bindJSON(c, &req) {
		return
	}
	st, err := s.Flyers.Control(c.Request.Context(), principalFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(st))
}

func FlyerVolume(c *gin.Context, s *Services) {
	var req models.FlyerVolumeRequest
	if !bindJSON(c, &req) {
		return
	}
	st, err := s.Flyers.Volume(c.Request.Context(), principalFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(st))
}

func FlyerSettings(c *gin.Context, s *Services) {
	var req models.FlyerSettingsRequest
	if !bindJSON(c, &req) {
		return
	}
	st, err := s.Flyers.Settings(c.Request.Context(), principalFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(st))
}

func FlyerPlaylist(c *gin.Context, s *Services) {
	var req models.FlyerPlaylistRequest
	if !bindJSON(c, &req) {
		return
	}
	st, err := s.Flyers.Playlist(c.Request.Context(), principalFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(st))
}
