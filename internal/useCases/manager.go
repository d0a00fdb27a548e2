package useCases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/larriantoniy/device_gateway/internal/domain"
	"github.com/larriantoniy/device_gateway/internal/metrics"
	"github.com/larriantoniy/device_gateway/internal/ports"
	"github.com/larriantoniy/device_gateway/internal/storage"
)

type State int32

const (
	StateUninitialized State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateTerminated:
		return "terminated"
	default:
		return "uninitialized"
	}
}

const (
	userAgentPlatform = "MacOs"
	userAgentVersion  = "1.0.0"
)

// RestartPolicy ограничивает автоматические переподключения.
// Счётчик подряд идущих неудач сбрасывается, когда соединение открылось.
type RestartPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		MaxAttempts:  10,
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
	}
}

// backOff паузы между переподключениями без разброса.
// После MaxAttempts пауз отдаёт backoff.Stop, Reset начинает заново.
func (p RestartPolicy) backOff() backoff.BackOff {
	if p.MaxAttempts <= 0 {
		return &backoff.StopBackOff{}
	}
	opts := []backoff.ExponentialBackOffOpts{
		backoff.WithInitialInterval(p.InitialDelay),
		backoff.WithMultiplier(p.Multiplier),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	}
	if p.MaxDelay > 0 {
		opts = append(opts, backoff.WithMaxInterval(p.MaxDelay))
	}
	return backoff.WithMaxRetries(backoff.NewExponentialBackOff(opts...), uint64(p.MaxAttempts))
}

// ErrManagerClosed Start после Shutdown
var ErrManagerClosed = errors.New("manager is shut down")

type ManagerConfig struct {
	AppName    string
	SessionDir string
	Restart    RestartPolicy
	// ConnOptions применяются поверх собранного ConnectionConfig
	ConnOptions []ports.ConnectionOption
}

// Manager ведёт по одной сессии протокола на устройство:
// подключает, разбирает события и переподключает по вердикту классификатора.
type Manager struct {
	cfg       ManagerConfig
	gateway   *storage.Gateway
	protocol  ports.ProtocolClient
	processor *Processor
	metrics   *metrics.Metrics
	log       *slog.Logger

	removeAll func(path string) error

	mu       sync.Mutex
	closed   bool
	sessions map[string]*session
	states   sync.Map // deviceID -> State
	wg       sync.WaitGroup
}

type session struct {
	deviceID string
	log      *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}

	creds   ports.Credentials
	backoff backoff.BackOffContext // трогает только горутина супервизора
}

func NewManager(
	cfg ManagerConfig,
	gateway *storage.Gateway,
	protocol ports.ProtocolClient,
	processor *Processor,
	m *metrics.Metrics,
	log *slog.Logger,
) *Manager {
	if cfg.Restart == (RestartPolicy{}) {
		cfg.Restart = DefaultRestartPolicy()
	}
	if cfg.Restart.Multiplier < 1 {
		cfg.Restart.Multiplier = 1
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Manager{
		cfg:       cfg,
		gateway:   gateway,
		protocol:  protocol,
		processor: processor,
		metrics:   m,
		log:       log,
		removeAll: os.RemoveAll,
		sessions:  make(map[string]*session),
	}
}

// CredentialPath каталог с ключами сессии устройства
func (m *Manager) CredentialPath(deviceID string) string {
	return filepath.Join(m.cfg.SessionDir, deviceID, "session")
}

// Start подключает устройство и запускает супервизор сессии.
// Возвращается после первого успешного Connect; дальше всё в фоне.
func (m *Manager) Start(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", deviceID, ErrManagerClosed)
	}
	if _, ok := m.sessions[deviceID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", deviceID, domain.ErrSessionActive)
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		deviceID: deviceID,
		log:      m.log.With("device", deviceID),
		cancel:   cancel,
		done:     make(chan struct{}),
		backoff:  backoff.WithContext(m.cfg.Restart.backOff(), sctx),
	}
	m.sessions[deviceID] = s
	// Add до Unlock, парный Done в supervise или на ошибке ниже
	m.wg.Add(1)
	m.mu.Unlock()

	m.setState(s, StateConnecting)
	conn, err := m.initialize(sctx, s)
	if err != nil {
		cancel()
		m.setState(s, StateTerminated)
		m.finish(s)
		m.wg.Done()
		return err
	}

	go m.supervise(sctx, s, conn)
	return nil
}

// Stop останавливает сессию и ждёт завершения супервизора.
// false - такой сессии не было.
func (m *Manager) Stop(deviceID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[deviceID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.cancel()
	<-s.done
	return true
}

// Shutdown останавливает все сессии. Новые Start после него отклоняются.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	for _, s := range m.sessions {
		s.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Running id устройств с живым супервизором, по возрастанию
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// State последнее известное состояние устройства
func (m *Manager) State(deviceID string) State {
	if v, ok := m.states.Load(deviceID); ok {
		return v.(State)
	}
	return StateUninitialized
}

func (m *Manager) setState(s *session, st State) {
	m.states.Store(s.deviceID, st)
	m.metrics.ConnectionState.WithLabelValues(s.deviceID).Set(float64(st))
}

func (m *Manager) finish(s *session) {
	m.mu.Lock()
	if m.sessions[s.deviceID] == s {
		delete(m.sessions, s.deviceID)
	}
	m.mu.Unlock()
	close(s.done)
}

// initialize шаги 1-5: устройство, ключи, версия, connect, регистрация
func (m *Manager) initialize(ctx context.Context, s *session) (ports.Connection, error) {
	device, err := m.gateway.Device.Get(ctx, s.deviceID)
	if err != nil {
		return nil, fmt.Errorf("resolve device %s: %w", s.deviceID, err)
	}

	creds, err := m.protocol.LoadCredentials(ctx, m.CredentialPath(s.deviceID))
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	version, err := m.protocol.NegotiateVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("negotiate version: %w", err)
	}

	cfg := ports.ConnectionConfig{
		UserAgent: ports.UserAgent{
			Name:     m.cfg.AppName + " | " + device.DisplayName,
			Platform: userAgentPlatform,
			Version:  userAgentVersion,
		},
		Version:        version,
		Credentials:    creds,
		ShouldIgnoreID: domain.IsBroadcastID,
	}
	for _, opt := range m.cfg.ConnOptions {
		opt(&cfg)
	}

	conn, err := m.protocol.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	s.creds = creds
	if prev := m.gateway.Connection.Swap(s.deviceID, conn); prev != nil && prev != conn {
		if err := prev.Close(); err != nil {
			s.log.Debug("close superseded connection", "error", err)
		}
	}
	s.log.Info("connection created", "version", version)
	return conn, nil
}

func (m *Manager) supervise(ctx context.Context, s *session, conn ports.Connection) {
	defer m.wg.Done()
	defer m.finish(s)

	for {
		verdict, closed := m.consume(ctx, s, conn)

		switch {
		case ctx.Err() != nil:
			m.release(s, conn)
			m.setState(s, StateTerminated)
			s.log.Info("session stopped")
			return
		case !closed:
			m.release(s, conn)
			m.setState(s, StateTerminated)
			s.log.Warn("event stream ended without close update")
			return
		case !verdict.MustRestart:
			m.release(s, conn)
			s.log.Info("connection closed, no restart", "reason", verdict.Reason)
			return
		}

		// мёртвое соединение не должно висеть в реестре на время паузы
		m.release(s, conn)
		next := m.restart(ctx, s, verdict.Reason)
		if next == nil {
			return
		}
		conn = next
	}
}

// release убирает соединение из реестра, если оно ещё там, и закрывает его
func (m *Manager) release(s *session, conn ports.Connection) {
	m.gateway.Connection.CompareAndRemove(s.deviceID, conn)
	if err := conn.Close(); err != nil {
		s.log.Debug("close connection", "error", err)
	}
}

// restart переподключение с backoff. nil - сдались или остановлены.
// Попытка тратится и тогда, когда Connect прошёл, но до Open не дошло.
func (m *Manager) restart(ctx context.Context, s *session, reason domain.Reason) ports.Connection {
	for attempt := 1; ; attempt++ {
		delay := s.backoff.NextBackOff()
		if delay == backoff.Stop {
			m.setState(s, StateTerminated)
			if ctx.Err() != nil {
				return nil
			}
			s.log.Error("restart attempts exhausted", "attempts", m.cfg.Restart.MaxAttempts, "reason", reason)
			m.gateway.Alert(ctx, s.deviceID, domain.Verdict{Reason: reason}, domain.ErrRestartsExhausted)
			return nil
		}

		m.metrics.Restarts.WithLabelValues(reason.String()).Inc()
		s.log.Info("restarting connection", "attempt", attempt, "delay", delay, "reason", reason)

		if !wait(ctx, delay) {
			m.setState(s, StateTerminated)
			return nil
		}

		m.setState(s, StateConnecting)
		conn, err := m.initialize(ctx, s)
		if err == nil {
			return conn
		}
		if ctx.Err() != nil {
			m.setState(s, StateTerminated)
			return nil
		}
		if errors.Is(err, domain.ErrDeviceNotFound) {
			m.setState(s, StateTerminated)
			s.log.Error("device removed, giving up", "error", err)
			return nil
		}
		s.log.Error("reconnect failed", "attempt", attempt, "error", err)
	}
}

func wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// consume читает пачки событий до закрытия соединения.
// closed=false: остановили через ctx или канал событий закрылся сам.
func (m *Manager) consume(ctx context.Context, s *session, conn ports.Connection) (domain.Verdict, bool) {
	events := conn.Events()
	for {
		select {
		case <-ctx.Done():
			return domain.Verdict{}, false
		case batch, ok := <-events:
			if !ok {
				return domain.Verdict{}, false
			}
			// пачку дочитываем целиком, даже если в ней пришло закрытие
			var closed *domain.Verdict
			for _, ev := range batch {
				if v := m.handle(ctx, s, conn, ev); v != nil {
					closed = v
				}
			}
			if closed != nil {
				return *closed, true
			}
		}
	}
}

func (m *Manager) handle(ctx context.Context, s *session, conn ports.Connection, ev ports.Event) *domain.Verdict {
	switch e := ev.(type) {
	case ports.StateChanged:
		return m.onStateChanged(ctx, s, conn, e.Update)
	case ports.CredentialsUpdated:
		if err := s.creds.Save(ctx); err != nil {
			s.log.Error("save credentials", "error", err)
		}
	case ports.MessagesReceived:
		m.onMessages(ctx, s, conn, e.Messages)
	default:
		s.log.Debug("unhandled event", "type", fmt.Sprintf("%T", ev))
	}
	return nil
}

func (m *Manager) onStateChanged(ctx context.Context, s *session, conn ports.Connection, update ports.ConnectionUpdate) *domain.Verdict {
	m.gateway.Connection.Set(s.deviceID, conn)
	m.gateway.OnStateChange(ctx, s.deviceID, update)

	switch update.Status {
	case ports.StatusConnecting:
		m.setState(s, StateConnecting)

	case ports.StatusOpen:
		m.setState(s, StateOpen)
		s.backoff.Reset()
		m.onOpen(ctx, s, conn)

	case ports.StatusClosed:
		m.setState(s, StateClosed)

		var (
			code  int
			text  string
			cause error
		)
		if update.LastDisconnect != nil {
			code = update.LastDisconnect.StatusCode
			text = update.LastDisconnect.Message
			cause = update.LastDisconnect
		}
		verdict := domain.Classify(code, text)
		s.log.Warn("connection closed",
			"status_code", code,
			"message", text,
			"reason", verdict.Reason,
			"restart", verdict.MustRestart,
		)

		if verdict.MustDeleteSession {
			path := m.CredentialPath(s.deviceID)
			if err := m.removeAll(path); err != nil {
				s.log.Error("delete session", "path", path, "error", err)
			} else {
				s.log.Info("session deleted", "path", path)
			}
		}
		if !verdict.IgnoreNotification {
			m.gateway.Alert(ctx, s.deviceID, verdict, cause)
		}
		return &verdict
	}
	return nil
}

func (m *Manager) onOpen(ctx context.Context, s *session, conn ports.Connection) {
	selfID := conn.SelfID()
	if selfID == "" {
		return
	}
	ident := domain.ParseContactID(selfID)

	imgURL, err := conn.ProfilePictureURL(ctx, ident.CanonicalID)
	if err != nil {
		s.log.Debug("profile picture", "error", err)
		imgURL = ""
	}

	m.gateway.OnConnected(ctx, s.deviceID, domain.Profile{
		ID:          ident.CanonicalID,
		PhoneNumber: ident.PhoneNumber,
		Name:        conn.SelfName(),
		ImgURL:      imgURL,
	})
}

// onMessages из пачки берётся только первое сообщение
func (m *Manager) onMessages(ctx context.Context, s *session, conn ports.Connection, msgs []*ports.RawMessage) {
	if len(msgs) == 0 {
		return
	}
	if len(msgs) > 1 {
		s.log.Debug("batch truncated to first message", "dropped", len(msgs)-1)
	}
	raw := msgs[0]
	if raw == nil || raw.Message == nil || raw.Key.FromMe {
		return
	}

	device, err := m.gateway.Device.Get(ctx, s.deviceID)
	if err != nil {
		s.log.Error("resolve device for message", "error", err)
		return
	}
	m.processor.Process(ctx, conn, device, raw)
}
