package api

import (
	"context"
	"errors"

	"stock-portfolio-go/internal/ledger"
	"stock-portfolio-go/internal/marketdata"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"go.uber.org/zap"
)

// statusFor maps a domain error to its HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return consts.StatusServiceUnavailable
	case errors.Is(err, marketdata.ErrNotConfigured):
		return consts.StatusServiceUnavailable
	case errors.Is(err, marketdata.ErrUpstream):
		return consts.StatusBadGateway
	case errors.Is(err, marketdata.ErrInvalidRequest):
		return consts.StatusBadRequest
	case errors.Is(err, ledger.ErrAuthorization):
		return consts.StatusForbidden
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, ledger.ErrNoSuchHolding):
		return consts.StatusNotFound
	case ledger.IsRejection(err):
		return consts.StatusBadRequest
	default:
		return consts.StatusInternalServerError
	}
}

// writeError responds with the mapped status and logs the failure with the
// acting user. Internal failures are reported without detail.
func (s *Server) writeError(c *app.RequestContext, op string, err error) {
	status := statusFor(err)
	l := s.logger.With(
		zap.String("operation", op),
		zap.String("user_id", userID(c)),
		zap.Int("status", status),
		zap.Error(err),
	)
	msg := err.Error()
	if status == consts.StatusInternalServerError {
		l.Error("Request failed")
		msg = "internal server error"
	} else {
		l.Warn("Request rejected")
	}
	c.JSON(status, utils.H{"error": msg})
}

func (s *Server) badRequest(c *app.RequestContext, op, msg string) {
	s.logger.Warn("Malformed request",
		zap.String("operation", op),
		zap.String("user_id", userID(c)),
		zap.String("reason", msg),
	)
	c.JSON(consts.StatusBadRequest, utils.H{"error": msg})
}
