package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chime/pkg/bus"
	"chime/pkg/chat"
	"chime/pkg/config"
	"chime/pkg/images"
	"chime/pkg/ingress"
	"chime/pkg/notify"
	"chime/pkg/presenter"
	"chime/pkg/presenter/telegram"
)

const (
	defaultStatusHost = "0.0.0.0"
	defaultStatusPort = 18790
)

// Service wires ingress adapters, the notification coordinator, and the
// presenter together and exposes a small status server.
type Service struct {
	cfg         *config.Config
	log         *slog.Logger
	chat        *chat.Client
	coordinator *notify.Coordinator
	replies     *notify.ReplyReceiver
	presence    *notify.PresenceSensor
	telegram    *telegram.Presenter
	signals     *bus.SignalBus
	adapters    []ingress.Adapter

	mu             sync.RWMutex
	startedAt      time.Time
	backendLastOK  time.Time
	backendLastErr string
	adapterStates  map[string]adapterState
}

type adapterState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status          string                  `json:"status"`
	UptimeSeconds   int64                   `json:"uptime_seconds"`
	BackendLastOKAt string                  `json:"backend_last_ok_at,omitempty"`
	BackendLastErr  string                  `json:"backend_last_error,omitempty"`
	Foreground      bool                    `json:"foreground"`
	PendingRecords  int                     `json:"pending_records"`
	Adapters        map[string]adapterState `json:"adapters"`
}

type presenceRequest struct {
	Foreground bool `json:"foreground"`
}

func NewService(cfg *config.Config, adapters []ingress.Adapter, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("at least one ingress adapter is required")
	}
	if log == nil {
		log = slog.Default()
	}

	chatClient, err := chat.New(cfg.Chat, log)
	if err != nil {
		return nil, fmt.Errorf("initialize chat client: %w", err)
	}

	presence := notify.NewPresenceSensor()

	var (
		shown             presenter.Presenter
		telegramPresenter *telegram.Presenter
	)
	if cfg.Presenter.Telegram.Enabled {
		telegramPresenter, err = telegram.New(cfg.Presenter.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("initialize telegram presenter: %w", err)
		}
		shown = telegramPresenter
	} else {
		shown = presenter.NewLogPresenter(log)
	}

	coordinator, err := notify.NewCoordinator(notify.Options{
		Chat:       chatClient,
		Images:     images.NewLoader(cfg.Images),
		Presenter:  shown,
		Foreground: presence,
		Log:        log,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize coordinator: %w", err)
	}

	adapterStates := make(map[string]adapterState, len(adapters))
	for _, adapter := range adapters {
		adapterStates[adapter.Name()] = adapterState{}
	}

	return &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		chat:          chatClient,
		coordinator:   coordinator,
		replies:       notify.NewReplyReceiver(coordinator, chatClient, shown, log),
		presence:      presence,
		telegram:      telegramPresenter,
		signals:       bus.NewSignalBus(),
		adapters:      adapters,
		adapterStates: adapterStates,
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if err := s.checkBackendHealth(ctx); err != nil {
		return err
	}

	if s.cfg.Push.Enabled {
		token := s.pushToken()
		if err := s.coordinator.RegisterPushToken(ctx, token); err != nil {
			s.log.Warn("Continuing without push registration", "error", err)
		} else {
			defer s.unregisterPushToken(token)
		}
	}

	serverErrors := make(chan error, 1)
	go s.runStatusServer(ctx, serverErrors)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.checkBackendHealth(ctx)
			}
		}
	}()

	go s.consumeSignals(ctx)
	defer s.signals.Close()

	errCh := make(chan error, len(s.adapters)+1)

	if s.telegram != nil {
		go func() {
			err := s.telegram.Run(ctx, s.replies)
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run telegram presenter: %w", err)
			}
		}()
	}

	for _, adapter := range s.adapters {
		adapter := adapter
		s.setAdapterState(adapter.Name(), adapterState{Running: true})

		go func() {
			err := adapter.Run(ctx, s.handleSignal)
			s.setAdapterState(adapter.Name(), adapterState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s adapter: %w", adapter.Name(), err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErrors:
		return err
	case err := <-errCh:
		return err
	}
}

// handleSignal publishes one adapter signal onto the bus.
func (s *Service) handleSignal(ctx context.Context, sig bus.Signal) error {
	if !s.signals.Publish(ctx, sig) {
		return errors.New("signal bus is closed")
	}
	return nil
}

// consumeSignals drains the bus into the coordinator until the context is
// canceled or the bus closes.
func (s *Service) consumeSignals(ctx context.Context) {
	for {
		sig, ok := s.signals.Consume(ctx)
		if !ok {
			return
		}

		result := s.coordinator.Admit(ctx, sig.MessageID, sig.Origin)
		s.log.Debug("Signal processed", "source", sig.Source, "message_id", sig.MessageID, "result", result.String())
	}
}

// unregisterPushToken removes the device registration on shutdown. The run
// context is already canceled at this point, so it uses its own deadline.
func (s *Service) unregisterPushToken(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.chat.RemoveDevice(ctx, token); err != nil {
		s.log.Warn("Failed to unregister device", "error", err)
		return
	}
	s.log.Info("Device unregistered")
}

// pushToken returns the configured device token, or a stable-enough
// generated one for this process.
func (s *Service) pushToken() string {
	if token := strings.TrimSpace(s.cfg.Push.DeviceToken); token != "" {
		return token
	}
	return "chime-" + uuid.NewString()
}

func (s *Service) runStatusServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultStatusHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultStatusPort
	}

	addr := host + ":" + strconv.Itoa(port)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/presence", s.handlePresence)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

// handlePresence reads or updates the foreground flag that suppresses
// notification presentation.
func (s *Service) handlePresence(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req presenceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid presence payload", http.StatusBadRequest)
			return
		}
		s.presence.SetForeground(req.Foreground)
		s.log.Info("Presence updated", "foreground", req.Foreground)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(presenceRequest{Foreground: s.presence.IsForeground()}); err != nil {
		s.log.Error("Failed to write presence response", "error", err)
	}
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	adapters := make(map[string]adapterState, len(s.adapterStates))
	for name, state := range s.adapterStates {
		adapters[name] = state
	}

	backendLastOK := ""
	if !s.backendLastOK.IsZero() {
		backendLastOK = s.backendLastOK.Format(time.RFC3339)
	}

	return statusResponse{
		Status:          status,
		UptimeSeconds:   uptime,
		BackendLastOKAt: backendLastOK,
		BackendLastErr:  s.backendLastErr,
		Foreground:      s.presence.IsForeground(),
		PendingRecords:  s.coordinator.Pending(),
		Adapters:        adapters,
	}
}

func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.adapterStates) == 0 {
		return false
	}

	anyRunning := false
	for _, state := range s.adapterStates {
		if state.Running {
			anyRunning = true
			break
		}
	}

	if !anyRunning {
		return false
	}

	if s.backendLastOK.IsZero() {
		return false
	}

	if s.backendLastErr != "" {
		return false
	}

	return true
}

func (s *Service) checkBackendHealth(ctx context.Context) error {
	if err := s.chat.Health(ctx); err != nil {
		s.mu.Lock()
		s.backendLastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("chat backend health check failed: %w", err)
	}

	s.mu.Lock()
	s.backendLastErr = ""
	s.backendLastOK = time.Now().UTC()
	s.mu.Unlock()

	return nil
}

func (s *Service) setAdapterState(name string, state adapterState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapterStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
