package hub

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/wire"
	"go.uber.org/zap"
)

func (s *Server) fail(c *gin.Context, err error) {
	status, body := wire.Encode(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("route", c.FullPath()),
			zap.String("request_id", c.GetString(ctxRequestID)),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, body)
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, wire.ErrorBody{Code: "bad_request", Error: err.Error()})
}

func (s *Server) listProfiles(c *gin.Context) {
	profiles, err := s.svc.ListProfiles(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if profiles == nil {
		profiles = []chat.Profile{}
	}
	c.JSON(http.StatusOK, profiles)
}

func (s *Server) heartbeat(c *gin.Context) {
	var req wire.HeartbeatRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, err)
			return
		}
	}
	ctx := c.Request.Context()
	user := userOf(c)
	if req.DisplayName != "" {
		if err := s.svc.SetDisplayName(ctx, user, req.DisplayName); err != nil {
			s.fail(c, err)
			return
		}
	}
	if err := s.svc.Heartbeat(ctx, user, req.At); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listConversation(c *gin.Context) {
	user := userOf(c)
	counterpart := chat.UserID(c.Param("counterpart"))
	if err := chat.ValidateUserID(counterpart); err != nil {
		s.badRequest(c, err)
		return
	}
	if counterpart == user {
		s.badRequest(c, errors.New("cannot open a conversation with yourself"))
		return
	}
	limit := 200
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.badRequest(c, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}

	msgs, err := s.svc.ListConversation(c.Request.Context(), chat.NewPair(user, counterpart), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

func (s *Server) unreadCounts(c *gin.Context) {
	counts, err := s.svc.UnreadCounts(c.Request.Context(), userOf(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (s *Server) createMessage(c *gin.Context) {
	var m chat.Message
	if err := c.ShouldBindJSON(&m); err != nil {
		s.badRequest(c, err)
		return
	}
	user := userOf(c)
	if m.SenderID == "" {
		m.SenderID = user
	}
	if m.SenderID != user {
		s.fail(c, chat.ErrNotSender)
		return
	}
	if err := chat.ValidateUserID(m.RecipientID); err != nil {
		s.fail(c, chat.ErrInvalidMessage)
		return
	}

	row, err := s.svc.CreateMessage(c.Request.Context(), m)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, row)
}

func (s *Server) updateMessage(c *gin.Context) {
	var req wire.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	row, err := s.svc.UpdateMessage(c.Request.Context(), chat.Message{
		ID:        c.Param("id"),
		SenderID:  userOf(c),
		Body:      req.Body,
		IsDeleted: req.Deleted,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (s *Server) markRead(c *gin.Context) {
	var req wire.ReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := s.svc.MarkRead(c.Request.Context(), userOf(c), req.IDs, req.At); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteMessage(c *gin.Context) {
	row, err := s.svc.DeleteMessage(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}
