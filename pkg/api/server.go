// Package api serves the ancillary REST surface: room management, health
// and metrics. The real-time traffic goes through the signaling socket.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/confab-dev/confab/pkg/meeting"
	"github.com/confab-dev/confab/pkg/meeting/participant"
	"github.com/confab-dev/confab/pkg/metrics"
	"github.com/confab-dev/confab/pkg/registry"
	"github.com/confab-dev/confab/pkg/routing"
	"github.com/confab-dev/confab/pkg/signaling"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Config carries the REST surface settings.
type Config struct {
	// PublicURL is the externally reachable base URL, used to mint join
	// links for freshly created rooms.
	PublicURL string `yaml:"publicUrl"`
}

type Server struct {
	config     Config
	dispatcher *routing.Dispatcher
	logger     *logrus.Entry
	started    time.Time
}

// NewHandler builds the HTTP routing tree, signaling socket included.
func NewHandler(config Config, dispatcher *routing.Dispatcher, gateway *signaling.Gateway, logger *logrus.Entry) http.Handler {
	s := &Server{
		config:     config,
		dispatcher: dispatcher,
		logger:     logger.WithField("component", "api"),
		started:    time.Now(),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/ws", gin.WrapF(gateway.Handler()))

	v1 := router.Group("/api/v1")
	v1.POST("/rooms", s.createRoom)
	v1.GET("/rooms", s.listRooms)
	v1.GET("/rooms/:id", s.roomInfo)
	v1.DELETE("/rooms/:id", s.deleteRoom)

	return router
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
		"stats": gin.H{
			"liveMeetings": s.dispatcher.LiveMeetingCount(),
			"mediaWorkers": s.dispatcher.WorkerCount(),
		},
	})
}

type createRoomRequest struct {
	ID              registry.MeetingID `json:"id"`
	HostPeerID      participant.ID     `json:"hostPeerId" binding:"required"`
	MaxParticipants int                `json:"maxParticipants"`
	Encryption      bool               `json:"encryption"`
}

type createRoomResponse struct {
	meeting.Info
	JoinLink string `json:"joinLink"`
}

func (s *Server) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, meeting.NewError(meeting.CodeValidation, "invalid request body"))
		return
	}

	options := meeting.Options{MaxParticipants: req.MaxParticipants, Encryption: req.Encryption}
	m, err := s.dispatcher.CreateMeeting(c.Request.Context(), req.ID, req.HostPeerID, options)
	if err != nil {
		s.fail(c, err)
		return
	}

	info, err := m.Info(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, createRoomResponse{Info: info, JoinLink: s.joinLink(m.ID())})
}

func (s *Server) joinLink(id registry.MeetingID) string {
	return strings.TrimSuffix(s.config.PublicURL, "/") + "/rooms/" + string(id)
}

func (s *Server) listRooms(c *gin.Context) {
	ids, err := s.dispatcher.ListMeetings(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": ids})
}

func (s *Server) roomInfo(c *gin.Context) {
	m, err := s.dispatcher.Meeting(registry.MeetingID(c.Param("id")))
	if err != nil {
		s.fail(c, err)
		return
	}

	info, err := m.Info(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) deleteRoom(c *gin.Context) {
	err := s.dispatcher.EndMeeting(c.Request.Context(), registry.MeetingID(c.Param("id")), "closed via api")
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) fail(c *gin.Context, err error) {
	classified := meeting.Classify(err)
	status := statusFor(classified.Code)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("request failed")
	}
	c.JSON(status, classified)
}

func statusFor(code meeting.Code) int {
	switch code {
	case meeting.CodeValidation:
		return http.StatusBadRequest
	case meeting.CodeAuthorization:
		return http.StatusForbidden
	case meeting.CodeNotFound:
		return http.StatusNotFound
	case meeting.CodeConflict:
		return http.StatusConflict
	case meeting.CodeCapacity:
		return http.StatusTooManyRequests
	case meeting.CodeTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
