package tg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zelenin/go-tdlib/client"

	"github.com/larriantoniy/device_gateway/internal/adapters/tg/qrlogin"
	"github.com/larriantoniy/device_gateway/internal/ports"
)

const defaultAppVersion = "2.0"

type Options struct {
	APIID      int32
	APIHash    string
	AppVersion string
	// LogVerbosity уровень логов самой TDLib
	LogVerbosity int32
	// ProbeNetwork проверять IPv4/IPv6/прокси перед подключением
	ProbeNetwork bool
}

// Client ports.ProtocolClient поверх TDLib
type Client struct {
	opts Options
	log  *slog.Logger
}

func New(opts Options, log *slog.Logger) *Client {
	if opts.AppVersion == "" {
		opts.AppVersion = defaultAppVersion
	}
	if _, err := client.SetLogVerbosityLevel(&client.SetLogVerbosityLevelRequest{
		NewVerbosityLevel: opts.LogVerbosity,
	}); err != nil {
		log.Error("TDLib SetLogVerbosityLevel", "error", err)
	}
	return &Client{opts: opts, log: log.With("component", "tdlib")}
}

func (c *Client) LoadCredentials(_ context.Context, path string) (ports.Credentials, error) {
	cfg, err := LoadSessionConfig(path)
	if err != nil {
		return nil, err
	}
	return &Credentials{dir: path, cfg: cfg}, nil
}

// NegotiateVersion у TDLib нет серверной версии клиента, отдаём свою
func (c *Client) NegotiateVersion(context.Context) (string, error) {
	return c.opts.AppVersion, nil
}

func (c *Client) ContentType(msg *ports.MessageContent) string {
	return msg.Type()
}

// Connect поднимает TDLib в фоне и сразу возвращает соединение.
// Авторизация и готовность приходят событиями.
func (c *Client) Connect(ctx context.Context, cfg ports.ConnectionConfig) (ports.Connection, error) {
	creds, ok := cfg.Credentials.(*Credentials)
	if !ok {
		return nil, fmt.Errorf("tdlib: unexpected credentials type %T", cfg.Credentials)
	}

	dbDir := filepath.Join(creds.Dir(), "database")
	filesDir := filepath.Join(creds.Dir(), "files")
	for _, dir := range []string{dbDir, filesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	sc := creds.config()
	params := sc.TdParams(c.opts.APIID, c.opts.APIHash, dbDir, filesDir,
		cfg.UserAgent.Name, cfg.UserAgent.Platform, cfg.Version)

	proxy, err := sc.ProxyConfig()
	if err != nil {
		c.log.Error("parse proxy from session config", "error", err)
	}
	if c.opts.ProbeNetwork {
		probeNetwork(c.log, proxy)
	}

	var opts []client.Option
	if proxy != nil {
		opts = append(opts, client.WithProxy(&client.AddProxyRequest{
			Server: proxy.Server,
			Port:   proxy.Port,
			Enable: true,
			Type: &client.ProxyTypeSocks5{
				Username: proxy.Username,
				Password: proxy.Password,
			},
		}))
	}

	conn := newConnection(creds, cfg.ShouldIgnoreID, c.log.With("session", creds.Dir()))
	go conn.run(params, opts)
	return conn, nil
}

var errInteractiveAuth = errors.New("tdlib: session needs interactive login (code or password)")

// qrAuthorizer вход только по QR: телефон и код у шлюза спросить не у кого
// Закрытие соединения прерывает ожидание: Handle вернёт ошибку и NewClient выйдет.
type qrAuthorizer struct {
	params *client.SetTdlibParametersRequest
	qr     *qrlogin.Waiter
}

func (a *qrAuthorizer) Handle(c *client.Client, state client.AuthorizationState) error {
	if err := a.qr.Canceled(); err != nil {
		return err
	}
	switch s := state.(type) {
	case *client.AuthorizationStateWaitTdlibParameters:
		_, err := c.SetTdlibParameters(a.params)
		return err
	case *client.AuthorizationStateWaitPhoneNumber:
		_, err := c.RequestQrCodeAuthentication(&client.RequestQrCodeAuthenticationRequest{})
		return err
	case *client.AuthorizationStateWaitOtherDeviceConfirmation:
		return a.qr.Await(s.Link)
	case *client.AuthorizationStateWaitCode, *client.AuthorizationStateWaitPassword:
		return errInteractiveAuth
	case *client.AuthorizationStateReady:
		return nil
	case *client.AuthorizationStateLoggingOut, *client.AuthorizationStateClosing, *client.AuthorizationStateClosed:
		return fmt.Errorf("tdlib: authorization state %s", state.AuthorizationStateType())
	default:
		// регистрация, email и прочее тоже требуют человека
		return fmt.Errorf("%w: %s", errInteractiveAuth, state.AuthorizationStateType())
	}
}

func (a *qrAuthorizer) Close() {}
