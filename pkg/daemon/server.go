package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/julienschmidt/httprouter"
	"github.com/loft-sh/log"
	"github.com/loft-sh/wsmaster/pkg/apierror"
	"github.com/loft-sh/wsmaster/pkg/events"
	"github.com/loft-sh/wsmaster/pkg/manager"
	"github.com/loft-sh/wsmaster/pkg/version"
	"github.com/loft-sh/wsmaster/pkg/workspace"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Subscriber streams workspace status events
type Subscriber interface {
	Subscribe(ctx context.Context) <-chan events.WorkspaceStatusEvent
}

type Options struct {
	// DefaultOwner is the user of requests without a user header
	DefaultOwner string
}

// Server exposes a workspace manager over http
type Server struct {
	manager   *manager.Manager
	events    Subscriber
	validator workspace.Validator
	options   Options
	log       log.Logger

	handler http.Handler
}

func NewServer(workspaceManager *manager.Manager, subscriber Subscriber, options Options, logger log.Logger) *Server {
	s := &Server{
		manager:   workspaceManager,
		events:    subscriber,
		validator: workspace.NewValidator(),
		options:   options,
		log:       logger,
	}

	router := httprouter.New()
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, i interface{}) {
		writeError(w, apierror.Server("panic: %v", i))
		s.log.Error(fmt.Errorf("panic: %v", i), string(debug.Stack()))
	}
	router.GET(routeHealth, s.health)
	router.GET(routeVersion, s.version)
	router.POST(routeValidate, s.validate)
	router.GET(routeWorkspaces, s.listWorkspaces)
	router.POST(routeWorkspaces, s.createWorkspace)
	router.GET(routeWorkspace, s.getWorkspace)
	router.PUT(routeWorkspace, s.updateWorkspace)
	router.DELETE(routeWorkspace, s.removeWorkspace)
	router.GET(routeWorkspaceByName, s.getWorkspaceByName)
	router.POST(routeStartWorkspace, s.startWorkspace)
	router.POST(routeStopWorkspace, s.stopWorkspace)
	router.POST(routeSnapshot, s.createSnapshot)
	router.GET(routeSnapshot, s.getSnapshot)
	router.GET(routeRuntimeWorkspace, s.getRuntimeWorkspace)
	router.GET(routeRuntimes, s.listRuntimeWorkspaces)
	router.POST(routeTemporary, s.startTemporaryWorkspace)
	router.GET(routeEvents, s.watchEvents)

	handler := handlers.LoggingHandler(logger.Writer(logrus.DebugLevel, true), router)
	handler = handlers.RecoveryHandler(handlers.RecoveryLogger(panicLogger{log: logger}), handlers.PrintRecoveryStack(true))(handler)
	s.handler = handler
	return s
}

type panicLogger struct {
	log log.Logger
}

func (r panicLogger) Println(args ...interface{}) {
	r.log.Error(args...)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on address until ctx is done
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", address)
	}

	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errChan := make(chan error, 1)
	go func() {
		s.log.Infof("wsmaster daemon listening on %s", listener.Addr().String())
		errChan <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.log.Info("shutting down daemon server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

// requestContext carries the request user into ctx
func (s *Server) requestContext(r *http.Request) context.Context {
	user := r.Header.Get(HeaderUser)
	if user == "" {
		user = s.options.DefaultOwner
	}

	return manager.WithUser(r.Context(), user)
}

func (s *Server) user(r *http.Request) string {
	user, _ := manager.UserFromContext(s.requestContext(r))
	return user
}

func (s *Server) owner(r *http.Request) string {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		owner = s.user(r)
	}
	return owner
}

func (s *Server) health(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	w.WriteHeader(http.StatusOK)
}

type VersionInfo struct {
	ServerVersion string `json:"serverVersion,omitempty"`
}

func (s *Server) version(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	tryJSON(w, http.StatusOK, VersionInfo{ServerVersion: version.GetVersion()})
}

func (s *Server) validate(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	config, ok := decodeConfig(w, r)
	if !ok {
		return
	}

	err := s.validator.Validate(config)
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createWorkspace(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	config, ok := decodeConfig(w, r)
	if !ok {
		return
	}

	ws, err := s.manager.CreateWorkspace(s.requestContext(r), config, s.user(r), r.Header.Get(HeaderAccount))
	if err != nil {
		writeError(w, err)
		return
	}

	tryJSON(w, http.StatusCreated, ws)
}

func (s *Server) listWorkspaces(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	workspaces, err := s.manager.GetWorkspaces(s.requestContext(r), s.owner(r))
	if err != nil {
		writeError(w, err)
		return
	}

	tryJSON(w, http.StatusOK, workspaces)
}

func (s *Server) getWorkspace(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	ws, err := s.manager.GetWorkspace(s.requestContext(r), params.ByName("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	tryJSON(w, http.StatusOK, ws)
}

func (s *Server) getWorkspaceByName(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	ws, err := s.manager.GetWorkspaceByName(s.requestContext(r), params.ByName("name"), s.owner(r))
	if err != nil {
		writeError(w, err)
		return
	}

	tryJSON(w, http.StatusOK, ws)
}

func (s *Server) updateWorkspace(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	config, ok := decodeConfig(w, r)
	if !ok {
		return
	}

	ws, err := s.manager.UpdateWorkspace(s.requestContext(r), params.ByName("id"), config)
	if err != nil {
		writeError(w, err)
		return
	}

	tryJSON(w, http.StatusOK, ws)
}

func (s *Server) removeWorkspace(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	err := s.manager.RemoveWorkspace(s.requestContext(r), params.ByName("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) startWorkspace(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	var (
		ctx       = s.requestContext(r)
		id        = params.ByName("id")
		envName   = r.URL.Query().Get("env")
		accountID = r.Header.Get(HeaderAccount)
	)

	recoverWorkspace := false
	if value := r.URL.Query().Get("recover"); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			writeError(w, apierror.BadRequest("Invalid value '%s' for recover", value))
			return
		}
		recoverWorkspace = parsed
	}

	var (
		ws  *workspace.Workspace
		err error
	)
	if recoverWorkspace {
		ws, err = s.manager.RecoverWorkspace(ctx, id, envName, accountID)
	} else {
		ws, err = s.manager.StartWorkspaceByID(ctx, id, envName, accountID)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	tryJSON(w, http.StatusAccepted, ws)
}

func (s *Server) stopWorkspace(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	err := s.manager.StopWorkspace(s.requestContext(r), params.ByName("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) createSnapshot(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	err := s.manager.CreateSnapshot(s.requestContext(r), params.ByName("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	snapshots, err := s.manager.GetSnapshot(s.requestContext(r), params.ByName("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	tryJSON(w, http.StatusOK, snapshots)
}

func (s *Server) getRuntimeWorkspace(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	runtime, err := s.manager.GetRuntimeWorkspace(s.requestContext(r), params.ByName("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	tryJSON(w, http.StatusOK, runtime)
}

func (s *Server) listRuntimeWorkspaces(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	runtimes, err := s.manager.GetRuntimeWorkspaces(s.requestContext(r), s.owner(r))
	if err != nil {
		writeError(w, err)
		return
	}

	tryJSON(w, http.StatusOK, runtimes)
}

func (s *Server) startTemporaryWorkspace(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	config, ok := decodeConfig(w, r)
	if !ok {
		return
	}

	runtime, err := s.manager.StartTemporaryWorkspace(s.requestContext(r), config, r.Header.Get(HeaderAccount))
	if err != nil {
		writeError(w, err)
		return
	}

	tryJSON(w, http.StatusCreated, runtime)
}

// watchEvents streams events as newline delimited json until the client goes away
func (s *Server) watchEvents(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	f, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apierror.Server("streaming not supported"))
		return
	}

	workspaceID := r.URL.Query().Get("workspace")
	stream := s.events.Subscribe(r.Context())

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	f.Flush()

	enc := json.NewEncoder(w)
	for event := range stream {
		if workspaceID != "" && event.WorkspaceID != workspaceID {
			continue
		}

		err := enc.Encode(event)
		if err != nil {
			s.log.Debugf("write event: %v", err)
			return
		}
		f.Flush()
	}
}

func decodeConfig(w http.ResponseWriter, r *http.Request) (*workspace.Config, bool) {
	config := &workspace.Config{}
	err := json.NewDecoder(r.Body).Decode(config)
	if err != nil {
		writeError(w, apierror.BadRequest("Invalid workspace configuration: %v", err))
		return nil, false
	}

	return config, true
}

func tryJSON(w http.ResponseWriter, status int, obj interface{}) {
	out, err := json.Marshal(obj)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(out)
}
