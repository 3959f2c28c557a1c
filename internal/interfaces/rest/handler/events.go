package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/pot-code/course-progress/internal/cascade"
	"github.com/pot-code/course-progress/internal/engine"
	infra "github.com/pot-code/course-progress/internal/infrastructure"
	"github.com/pot-code/course-progress/internal/infrastructure/logging"
	"github.com/pot-code/course-progress/internal/infrastructure/validate"
	"go.uber.org/zap"
)

// eventBuffer results queued per connection before new ones are dropped
const eventBuffer = 32

// message types on the events stream
const (
	MessageSubscribed = "subscribed"
	MessageResult     = "result"
)

// EventMessage frame written to the events stream
type EventMessage struct {
	Type      string          `json:"type"`
	LearnerID string          `json:"learnerId"`
	Result    *cascade.Result `json:"result,omitempty"`
}

// EventHandler streams lesson completions of one learner over a websocket
type EventHandler struct {
	registry  *engine.Registry
	validator validate.Validator
	logger    *zap.Logger
}

// NewEventHandler .
func NewEventHandler(registry *engine.Registry, validator validate.Validator, logger *zap.Logger) *EventHandler {
	return &EventHandler{registry: registry, validator: validator, logger: logger}
}

// RequireLearner reject an invalid :learner before the connection is upgraded
func (eh *EventHandler) RequireLearner(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := validateLearner(eh.validator, c); err != nil {
			return err
		}
		return next(c)
	}
}

// HandleEvents GET /learners/:learner/events, wrap with infra.WithHeartbeat behind RequireLearner
func (eh *EventHandler) HandleEvents(c echo.Context, conn *infra.WSConn) error {
	ctx := c.Request().Context()
	learner := c.Param("learner")
	logger := logging.ExtractLoggerFromContext(ctx, eh.logger).With(zap.String("learner.id", learner))

	e, err := eh.registry.Engine(ctx, learner)
	if err != nil {
		logger.Warn("rejecting events stream", zap.Error(err))
		return nil
	}

	results := make(chan *cascade.Result, eventBuffer)
	unsubscribe := e.Subscribe(func(_ string, r *cascade.Result) {
		select {
		case results <- r:
		default:
			logger.Warn("events stream is lagging, dropping result", zap.String("course.id", r.CourseID))
		}
	})
	defer unsubscribe()

	if err := conn.WriteJSON(EventMessage{Type: MessageSubscribed, LearnerID: learner}); err != nil {
		return nil
	}
	logger.Debug("events stream opened")
	for {
		select {
		case <-conn.Done():
			logger.Debug("events stream closed")
			return nil
		case r := <-results:
			if err := conn.WriteJSON(EventMessage{Type: MessageResult, LearnerID: learner, Result: r}); err != nil {
				logger.Debug("events stream write failed", zap.Error(err))
				return nil
			}
		}
	}
}
