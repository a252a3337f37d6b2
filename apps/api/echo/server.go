package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/kat-co/vala"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/academic"
	"github.com/eschool-app/eschool/core/activity"
	"github.com/eschool-app/eschool/core/attendance"
	"github.com/eschool-app/eschool/core/communication"
	"github.com/eschool-app/eschool/core/finance"
	"github.com/eschool-app/eschool/core/rbac"
	"github.com/eschool-app/eschool/core/school"
	"github.com/eschool-app/eschool/core/user"
)

type (
	ServerDeps struct {
		Conf           *core.Config
		Logger         core.Logger
		Validate       *validator.Validate
		Translator     ut.Translator
		DisableReqLogs bool

		UserSvc          *user.Service
		SchoolSvc        *school.Service
		AcademicSvc      *academic.Service
		AttendanceSvc    *attendance.Service
		FinanceSvc       *finance.Service
		CommunicationSvc *communication.Service
		Recorder         *activity.Recorder
	}

	Server struct {
		deps     ServerDeps
		app      *echo.Echo
		http     *http.Server
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(deps ServerDeps) *Server {
	vala.BeginValidation().Validate(
		vala.IsNotNil(deps.Conf, "Conf"),
		vala.IsNotNil(deps.Logger, "Logger"),
		vala.IsNotNil(deps.Validate, "Validate"),
		vala.IsNotNil(deps.Translator, "Translator"),
		vala.IsNotNil(deps.UserSvc, "UserSvc"),
		vala.IsNotNil(deps.SchoolSvc, "SchoolSvc"),
		vala.IsNotNil(deps.AcademicSvc, "AcademicSvc"),
		vala.IsNotNil(deps.AttendanceSvc, "AttendanceSvc"),
		vala.IsNotNil(deps.FinanceSvc, "FinanceSvc"),
		vala.IsNotNil(deps.CommunicationSvc, "CommunicationSvc"),
		vala.IsNotNil(deps.Recorder, "Recorder"),
	).CheckAndPanic()

	s := &Server{
		deps:     deps,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	s.setup()

	s.http = &http.Server{
		Addr:         deps.Conf.Server.Address,
		Handler:      otelhttp.NewHandler(s.app, deps.Conf.AppName),
		ReadTimeout:  deps.Conf.Server.ReadTimeout,
		WriteTimeout: deps.Conf.Server.WriteTimeout,
	}
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.deps.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.SignalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", s.home)

	auth := newAuthenticator(conf, s.deps.UserSvc)
	resolver := rbac.NewResolver(s.deps.SchoolSvc)
	jwt := auth.middleware()
	principal := principalMiddleware(resolver)
	authed := func(next echo.HandlerFunc) echo.HandlerFunc { return jwt(principal(next)) }

	v1 := s.app.Group("/v1")
	registerUserAPI(v1, authed, &userApi{
		svc:       s.deps.UserSvc,
		schoolSvc: s.deps.SchoolSvc,
		auth:      auth,
		recorder:  s.deps.Recorder,
		validate:  s.deps.Validate,
		logger:    s.deps.Logger,
	})

	// authed goes on each resource group: on /v1 itself it would answer unknown paths with a 401
	registerSchoolAPI(v1, authed, &schoolApi{svc: s.deps.SchoolSvc, validate: s.deps.Validate})
	registerAcademicAPI(v1, authed, &academicApi{svc: s.deps.AcademicSvc, validate: s.deps.Validate})
	registerAttendanceAPI(v1, authed, &attendanceApi{svc: s.deps.AttendanceSvc, validate: s.deps.Validate})
	registerFinanceAPI(v1, authed, &financeApi{svc: s.deps.FinanceSvc, validate: s.deps.Validate})
	registerCommunicationAPI(v1, authed, &communicationApi{svc: s.deps.CommunicationSvc, validate: s.deps.Validate})
	registerActivityAPI(v1, authed, &activityApi{recorder: s.deps.Recorder})
}

// Start listens until the server is shut down; failures are sent to Errors.
func (s *Server) Start() {
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.deps.Logger.Info("API listening on " + s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

// SignalShutdown asks the app to shut down gracefully.
func (s *Server) SignalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.http.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.http.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to the "+s.deps.Conf.AppName+" API!")
}
