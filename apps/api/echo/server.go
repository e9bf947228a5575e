package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/shuttle/core"
	"github.com/trezcool/shuttle/core/attendance"
	"github.com/trezcool/shuttle/core/billing"
	"github.com/trezcool/shuttle/core/lifecycle"
	"github.com/trezcool/shuttle/core/registry"
	"github.com/trezcool/shuttle/core/user"
	"github.com/trezcool/shuttle/core/view"
	"github.com/trezcool/shuttle/services/metrics"
)

type (
	ServerDeps struct {
		Conf       *core.Config
		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator
		Metrics    *metrics.Metrics

		UserSvc       *user.Service
		RegistrySvc   *registry.Service
		LifecycleSvc  *lifecycle.Service
		AttendanceSvc *attendance.Service
		BillingSvc    *billing.Service
		Composer      *view.Composer
	}

	Server struct {
		deps     ServerDeps
		app      *echo.Echo
		auth     *authenticator
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		auth:     newAuthenticator(deps.Conf, deps.UserSvc),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.Server.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	if s.deps.Metrics != nil {
		s.app.Use(s.metricsMiddleware)
		s.app.GET("/metrics", echo.WrapHandler(s.deps.Metrics.Handler()))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", s.home)

	v1 := s.app.Group("/v1")
	authed := s.auth.middleware()

	registerUserAPI(v1, authed, s.auth, s.deps)
	registerRegistryAPI(v1, authed, s.deps)
	registerRouteAPI(v1, authed, s.deps)
	registerBillingAPI(v1, authed, s.deps)
	registerDashboardAPI(v1, authed, s.deps)
}

func (s *Server) metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if err := next(ctx); err != nil {
			ctx.Error(err) // writes the response, so its status is known
		}
		s.deps.Metrics.Request(ctx.Request().Method, ctx.Path(), ctx.Response().Status)
		return nil
	}
}

// Start listens until the server is shut down. Listener failures are sent to Errors.
func (s *Server) Start() {
	if err := s.app.Start(s.deps.Conf.Server.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error { return s.errors }

func (s *Server) ShutdownSignal() <-chan os.Signal { return s.shutdown }

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.deps.Conf.AppName+" API!")
}

// SuccessResponse is returned by endpoints without a resource to show.
type SuccessResponse struct {
	Success string `json:"success"`
}
