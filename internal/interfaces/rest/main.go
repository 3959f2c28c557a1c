package rest

import (
	"expvar"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strings"

	"github.com/labstack/echo/v4"
	echo_middleware "github.com/labstack/echo/v4/middleware"
	"github.com/pot-code/course-progress/internal/engine"
	infra "github.com/pot-code/course-progress/internal/infrastructure"
	"github.com/pot-code/course-progress/internal/infrastructure/validate"
	"github.com/pot-code/course-progress/internal/interfaces/rest/handler"
	"github.com/pot-code/course-progress/internal/interfaces/rest/middleware"
	"go.elastic.co/apm/module/apmechov4"
	"go.uber.org/zap"
)

// Serve create http transport server and block until it stops
func Serve(option *infra.AppConfig, registry *engine.Registry, logger *zap.Logger) error {
	app := NewServer(option, registry, logger)
	printRoutes(app, logger)
	return app.Start(fmt.Sprintf("%s:%d", option.Host, option.Port))
}

// NewServer build the echo app serving registry
func NewServer(option *infra.AppConfig, registry *engine.Registry, logger *zap.Logger) *echo.Echo {
	var (
		app       = echo.New()
		validator = validate.NewValidator()
		skipProbe = func(e echo.Context) bool {
			return strings.HasPrefix(e.Request().RequestURI, "/healthz")
		}
	)
	app.HideBanner = true
	app.HidePort = true

	registerLivenessProbe(app, registry)
	if option.Env == infra.EnvDevelopment {
		registerProfileEndpoints(app)
	}
	app.Use(middleware.Logging(logger, &middleware.LoggingConfig{Skipper: skipProbe}))
	app.Use(middleware.ErrorHandling(
		&middleware.ErrorHandlingOption{
			Handler: func(c echo.Context, err error) {
				code := handler.StatusOf(err)
				if code >= http.StatusInternalServerError {
					logger.Error(err.Error(), zap.String("trace.id", c.Response().Header().Get(echo.HeaderXRequestID)))
				}
				handler.WriteError(c, err)
			},
		},
	))
	app.Use(echo_middleware.Secure())
	if option.DevOP.APM {
		app.Use(apmechov4.Middleware())
	}
	app.Use(echo_middleware.CORS())
	if option.RequestTimeout > 0 {
		app.Use(echo_middleware.ContextTimeoutWithConfig(echo_middleware.ContextTimeoutConfig{
			Skipper: func(c echo.Context) bool {
				return strings.HasSuffix(c.Path(), "/events")
			},
			Timeout: option.RequestTimeout,
		}))
	}

	var (
		CatalogHandler  = handler.NewCatalogHandler(registry.Catalog())
		ProgressHandler = handler.NewProgressHandler(registry, validator)
		EventHandler    = handler.NewEventHandler(registry, validator, logger)
	)

	createEndpoint(app,
		&endpoint{
			apiVersion:  "api/v1",
			middlewares: []echo.MiddlewareFunc{echo_middleware.RequestID(), middleware.SetTraceLogger(logger)},
			groups: []*apiGroup{
				{
					prefix: "/courses",
					routes: []*route{
						{"GET", "", CatalogHandler.HandleListCourses, nil},
						{"GET", "/:course", CatalogHandler.HandleGetCourse, nil},
					},
				},
				{
					prefix: "/learners/:learner",
					routes: []*route{
						{"POST", "/courses/:course/select", ProgressHandler.HandleSelectCourse, nil},
						{"GET", "/courses/:course/progress", ProgressHandler.HandleGetProgress, nil},
						{"POST", "/courses/:course/lessons/:lesson/complete", ProgressHandler.HandleCompleteLesson, nil},
						{"GET", "/courses/:course/lessons/:lesson/unlocked", ProgressHandler.HandleIsLessonUnlocked, nil},
						{"GET", "/courses/:course/next", ProgressHandler.HandleNextLesson, nil},
						{"GET", "/courses/:course/integrity", ProgressHandler.HandleValidateIntegrity, nil},
						{"POST", "/courses/:course/repair", ProgressHandler.HandleRepair, nil},
						{"POST", "/courses/:course/recommendation", ProgressHandler.HandleRecommend, nil},
						{"DELETE", "/progress", ProgressHandler.HandleResetProgress, nil},
						{"GET", "/events", infra.WithHeartbeat(EventHandler.HandleEvents), []echo.MiddlewareFunc{EventHandler.RequireLearner}},
					},
				},
			},
		})
	return app
}

func printRoutes(app *echo.Echo, logger *zap.Logger) {
	for _, route := range app.Routes() {
		if !strings.HasPrefix(route.Name, "github.com/labstack/echo") {
			logger.Info("Registered route", zap.String("method", route.Method), zap.String("path", route.Path))
		}
	}
}

func registerLivenessProbe(app *echo.Echo, registry *engine.Registry) {
	app.GET("/healthz", func(c echo.Context) error {
		if registry.Ping(c.Request().Context()) == nil {
			return c.NoContent(http.StatusOK)
		}
		return c.NoContent(http.StatusServiceUnavailable)
	})
}

func registerProfileEndpoints(app *echo.Echo) {
	expvarHandler := expvar.Handler()
	app.GET("/debug/vars", func(c echo.Context) error {
		expvarHandler.ServeHTTP(c.Response().Writer, c.Request())
		return nil
	})
	app.GET("/debug/pprof/", func(c echo.Context) error {
		pprof.Index(c.Response().Writer, c.Request())
		return nil
	})
	app.GET("/debug/pprof/:name", func(c echo.Context) error {
		switch c.Param("name") {
		case "cmdline":
			pprof.Cmdline(c.Response().Writer, c.Request())
		case "profile":
			pprof.Profile(c.Response().Writer, c.Request())
		case "symbol":
			pprof.Symbol(c.Response().Writer, c.Request())
		case "trace":
			pprof.Trace(c.Response().Writer, c.Request())
		default:
			pprof.Handler(c.Param("name")).ServeHTTP(c.Response().Writer, c.Request())
		}
		return nil
	})
}
