package tg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/zelenin/go-tdlib/client"
)

const sessionConfigFile = "config.json"

// SessionConfig config.json в каталоге сессии устройства.
// Пустой файл или его отсутствие значит новая сессия, вход по QR.
type SessionConfig struct {
	Phone  string `json:"phone,omitempty"`
	UserID int64  `json:"user_id,omitempty"`

	SDK        string `json:"sdk,omitempty"`         // SystemVersion
	AppVersion string `json:"app_version,omitempty"` // ApplicationVersion
	Device     string `json:"device,omitempty"`      // DeviceModel
	LangCode   string `json:"lang_code,omitempty"`

	Proxy []any `json:"proxy,omitempty"` // [type, host, port, useAuth, user, pass]
}

type Proxy struct {
	Server   string
	Port     int32
	Username string
	Password string
}

func (c *SessionConfig) ProxyConfig() (*Proxy, error) {
	if len(c.Proxy) == 0 {
		return nil, nil
	}
	if len(c.Proxy) < 6 {
		return nil, fmt.Errorf("invalid proxy length: %d", len(c.Proxy))
	}

	host, _ := c.Proxy[1].(string)

	// из json.Unmarshal порт приходит float64
	var port int32
	switch v := c.Proxy[2].(type) {
	case float64:
		port = int32(v)
	case int:
		port = int32(v)
	default:
		return nil, fmt.Errorf("invalid proxy port type %T", c.Proxy[2])
	}
	if host == "" || port == 0 {
		return nil, nil
	}

	p := &Proxy{Server: host, Port: port}
	if useAuth, _ := c.Proxy[3].(bool); useAuth {
		p.Username, _ = c.Proxy[4].(string)
		p.Password, _ = c.Proxy[5].(string)
	}
	return p, nil
}

// TdParams параметры TDLib; поля config.json приоритетнее значений из UserAgent
func (c *SessionConfig) TdParams(apiID int32, apiHash, dbDir, filesDir, device, system, version string) *client.SetTdlibParametersRequest {
	return &client.SetTdlibParametersRequest{
		UseTestDc:           false,
		DatabaseDirectory:   dbDir,
		FilesDirectory:      filesDir,
		UseFileDatabase:     true,
		UseChatInfoDatabase: true,
		UseMessageDatabase:  true,
		UseSecretChats:      false,
		ApiId:               apiID,
		ApiHash:             apiHash,
		SystemLanguageCode:  firstNonEmpty(c.LangCode, "en"),
		DeviceModel:         firstNonEmpty(c.Device, device, "Desktop"),
		SystemVersion:       firstNonEmpty(c.SDK, system, "Windows 10"),
		ApplicationVersion:  firstNonEmpty(c.AppVersion, version, "2.0"),
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func LoadSessionConfig(dir string) (*SessionConfig, error) {
	path := filepath.Join(dir, sessionConfigFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &SessionConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var cfg SessionConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return &cfg, nil
}

// Credentials ports.Credentials поверх каталога сессии.
// Ключи авторизации хранит сама TDLib в database/, мы держим только config.json.
type Credentials struct {
	dir string

	mu  sync.Mutex
	cfg *SessionConfig
}

func (c *Credentials) Dir() string { return c.dir }

func (c *Credentials) config() SessionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.cfg
}

func (c *Credentials) setAccount(userID int64, phone string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.UserID = userID
	c.cfg.Phone = phone
}

// Save атомарно переписывает config.json
func (c *Credentials) Save(_ context.Context) error {
	c.mu.Lock()
	data, err := json.MarshalIndent(c.cfg, "", "  ")
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal session config: %w", err)
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", c.dir, err)
	}
	path := filepath.Join(c.dir, sessionConfigFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
