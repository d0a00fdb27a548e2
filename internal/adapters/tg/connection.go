package tg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/zelenin/go-tdlib/client"

	"github.com/larriantoniy/device_gateway/internal/adapters/tg/qrlogin"
	"github.com/larriantoniy/device_gateway/internal/domain"
	"github.com/larriantoniy/device_gateway/internal/ports"
)

const eventBuffer = 64

var errNotReady = errors.New("tdlib: client is not authorized yet")

// connection одна TDLib-сессия, события переводятся в ports.Event
type connection struct {
	creds  *Credentials
	ignore func(id string) bool
	log    *slog.Logger

	events    chan []ports.Event
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.RWMutex
	td   *client.Client
	self *client.User
}

func newConnection(creds *Credentials, ignore func(string) bool, log *slog.Logger) *connection {
	return &connection{
		creds:  creds,
		ignore: ignore,
		log:    log,
		events: make(chan []ports.Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

func (c *connection) Events() <-chan []ports.Event { return c.events }

func (c *connection) SelfID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.self == nil {
		return ""
	}
	phone := c.self.PhoneNumber
	if phone == "" {
		phone = strconv.FormatInt(c.self.Id, 10)
	}
	return fmt.Sprintf("%s:%d%s", phone, c.self.Id, domain.UserSuffix)
}

func (c *connection) SelfName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.self == nil {
		return ""
	}
	return fullName(c.self)
}

// Close можно звать сколько угодно раз
func (c *connection) Close() error {
	c.closeOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	td := c.td
	c.td = nil
	c.mu.Unlock()
	if td == nil {
		return nil
	}
	_, err := td.Close()
	return err
}

func (c *connection) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *connection) client() (*client.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.td == nil {
		return nil, errNotReady
	}
	return c.td, nil
}

func (c *connection) emit(evs ...ports.Event) bool {
	select {
	case c.events <- evs:
		return true
	case <-c.done:
		return false
	}
}

func (c *connection) emitStatus(status ports.ConnectionStatus) {
	c.emit(ports.StateChanged{Update: ports.ConnectionUpdate{Status: status}})
}

func (c *connection) emitClosed(code int, message string) {
	c.emit(ports.StateChanged{Update: ports.ConnectionUpdate{
		Status:         ports.StatusClosed,
		LastDisconnect: &ports.DisconnectError{StatusCode: code, Message: message},
	}})
}

func (c *connection) run(params *client.SetTdlibParametersRequest, opts []client.Option) {
	defer close(c.events)

	c.emitStatus(ports.StatusConnecting)

	auth := &qrAuthorizer{
		params: params,
		qr: qrlogin.New(c.done, qrlogin.DefaultPoll, func(link string) {
			c.log.Info("waiting for QR login")
			c.emit(ports.StateChanged{Update: ports.ConnectionUpdate{QR: link}})
		}),
	}

	// NewClient держит до конца авторизации, в том числе пока QR не отсканируют.
	// Close прерывает ожидание через auth.
	td, err := client.NewClient(auth, opts...)
	if err != nil {
		if errors.Is(err, qrlogin.ErrCanceled) || c.isClosed() {
			c.log.Info("connection closed during authorization")
			return
		}
		c.log.Error("TDLib NewClient error", "error", err)
		if errors.Is(err, errInteractiveAuth) || strings.Contains(err.Error(), errInteractiveAuth.Error()) {
			c.emitClosed(domain.StatusLoggedOut, err.Error())
		} else {
			c.emitClosed(domain.StatusConnectionClosed, err.Error())
		}
		return
	}

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		_, _ = td.Close()
		return
	default:
		c.td = td
	}
	c.mu.Unlock()

	me, err := td.GetMe()
	if err != nil {
		c.log.Error("GetMe failed", "error", err)
		c.emitClosed(domain.StatusConnectionClosed, err.Error())
		return
	}
	c.mu.Lock()
	c.self = me
	c.mu.Unlock()
	c.creds.setAccount(me.Id, me.PhoneNumber)
	c.log.Info("TDLib client authorized", "self_id", me.Id)

	listener := td.GetListener()
	defer listener.Close()

	c.emit(ports.CredentialsUpdated{}, ports.StateChanged{Update: ports.ConnectionUpdate{Status: ports.StatusOpen}})
	c.listen(listener)
}

func (c *connection) listen(listener *client.Listener) {
	last := ports.StatusOpen
	loggingOut := false

	for {
		select {
		case <-c.done:
			return
		case update, ok := <-listener.Updates:
			if !ok {
				c.emitClosed(domain.StatusConnectionClosed, "Connection Closed")
				return
			}

			switch u := update.(type) {
			case *client.UpdateNewMessage:
				if raw := c.toRawMessage(u.Message); raw != nil {
					c.emit(ports.MessagesReceived{Messages: []*ports.RawMessage{raw}})
				}

			case *client.UpdateConnectionState:
				status := connectionStatus(u.State)
				if status != last {
					last = status
					c.emitStatus(status)
				}

			case *client.UpdateAuthorizationState:
				switch u.AuthorizationState.(type) {
				case *client.AuthorizationStateLoggingOut:
					loggingOut = true
				case *client.AuthorizationStateClosed:
					if loggingOut {
						c.emitClosed(domain.StatusLoggedOut, "logged out")
					} else {
						c.emitClosed(domain.StatusConnectionClosed, "Connection Closed")
					}
					return
				}
			}
		}
	}
}

func connectionStatus(state client.ConnectionState) ports.ConnectionStatus {
	if _, ok := state.(*client.ConnectionStateReady); ok {
		return ports.StatusOpen
	}
	// WaitingForNetwork, ConnectingToProxy, Connecting, Updating: TDLib переподключается сама
	return ports.StatusConnecting
}

func fullName(u *client.User) string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func userJID(userID int64) string {
	return strconv.FormatInt(userID, 10) + domain.UserSuffix
}

// remoteID id чата в формате шлюза: личка, группа или канал (broadcast)
func remoteID(m *client.Message) string {
	id := strconv.FormatInt(m.ChatId, 10)
	switch {
	case m.IsChannelPost:
		return id + domain.BroadcastSuffix
	case m.ChatId < 0:
		return id + domain.GroupSuffix
	default:
		return id + domain.UserSuffix
	}
}

func (c *connection) toRawMessage(m *client.Message) *ports.RawMessage {
	if m == nil {
		return nil
	}
	remote := remoteID(m)
	if c.ignore != nil && c.ignore(remote) {
		return nil
	}

	raw := &ports.RawMessage{
		Key: ports.MessageKey{
			RemoteID: remote,
			FromMe:   m.IsOutgoing,
			ID:       strconv.FormatInt(m.Id, 10),
		},
	}
	if u, ok := m.SenderId.(*client.MessageSenderUser); ok {
		if m.ChatId < 0 {
			raw.Key.Participant = userJID(u.UserId)
		}
		raw.PushName = c.userName(u.UserId)
	}
	raw.Message = c.content(m, true)
	return raw
}

func (c *connection) userName(userID int64) string {
	td, err := c.client()
	if err != nil {
		return ""
	}
	u, err := td.GetUser(&client.GetUserRequest{UserId: userID})
	if err != nil {
		c.log.Debug("GetUser failed", "user_id", userID, "error", err)
		return ""
	}
	return fullName(u)
}

// content nil - в сообщении нечего обрабатывать
func (c *connection) content(m *client.Message, withQuote bool) *ports.MessageContent {
	switch ct := m.Content.(type) {
	case *client.MessageText:
		text := ""
		if ct.Text != nil {
			text = ct.Text.Text
		}
		if reply, ok := m.ReplyTo.(*client.MessageReplyToMessage); ok && withQuote && reply.MessageId != 0 {
			return &ports.MessageContent{ExtendedTextMessage: c.extended(m, reply, text)}
		}
		if text == "" {
			return nil
		}
		return &ports.MessageContent{Conversation: text}

	case *client.MessagePhoto:
		img := &ports.ImageMessage{Mimetype: "image/jpeg", MediaRef: bestPhotoRef(ct.Photo)}
		if ct.Caption != nil {
			img.Caption = ct.Caption.Text
		}
		return &ports.MessageContent{ImageMessage: img}

	default:
		if m.Content == nil {
			return nil
		}
		return &ports.MessageContent{Other: m.Content.MessageContentType()}
	}
}

func (c *connection) extended(m *client.Message, reply *client.MessageReplyToMessage, text string) *ports.ExtendedTextMessage {
	ext := &ports.ExtendedTextMessage{
		Text:        text,
		ContextInfo: &ports.ContextInfo{StanzaID: strconv.FormatInt(reply.MessageId, 10)},
	}

	chatID := reply.ChatId
	if chatID == 0 {
		chatID = m.ChatId
	}
	td, err := c.client()
	if err != nil {
		return ext
	}
	quoted, err := td.GetMessage(&client.GetMessageRequest{ChatId: chatID, MessageId: reply.MessageId})
	if err != nil {
		c.log.Debug("GetMessage for reply failed", "chat_id", chatID, "msg_id", reply.MessageId, "error", err)
		return ext
	}
	if u, ok := quoted.SenderId.(*client.MessageSenderUser); ok {
		ext.ContextInfo.Participant = userJID(u.UserId)
	}
	ext.ContextInfo.QuotedMessage = c.content(quoted, false)
	return ext
}

// bestPhotoRef remote id самого большого размера
func bestPhotoRef(photo *client.Photo) string {
	if photo == nil {
		return ""
	}
	var best *client.PhotoSize
	for _, size := range photo.Sizes {
		if size == nil || size.Photo == nil || size.Photo.Remote == nil {
			continue
		}
		if best == nil || size.Width*size.Height > best.Width*best.Height {
			best = size
		}
	}
	if best == nil {
		return ""
	}
	return best.Photo.Remote.Id
}

func (c *connection) DownloadMedia(ctx context.Context, msg *ports.RawMessage) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if msg == nil || msg.Message == nil || msg.Message.ImageMessage == nil || msg.Message.ImageMessage.MediaRef == "" {
		return nil, errors.New("tdlib: message has no downloadable media")
	}
	td, err := c.client()
	if err != nil {
		return nil, err
	}

	remote, err := td.GetRemoteFile(&client.GetRemoteFileRequest{
		RemoteFileId: msg.Message.ImageMessage.MediaRef,
	})
	if err != nil {
		return nil, fmt.Errorf("GetRemoteFile failed: %w", err)
	}
	file, err := c.download(td, remote.Id, 32)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(file.Local.Path)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", file.Local.Path, err)
	}
	return data, nil
}

// ProfilePictureURL file:// путь к маленькой аватарке; "" если её нет
func (c *connection) ProfilePictureURL(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	td, err := c.client()
	if err != nil {
		return "", err
	}
	userID, err := c.userIDFor(id)
	if err != nil {
		return "", err
	}

	user, err := td.GetUser(&client.GetUserRequest{UserId: userID})
	if err != nil {
		return "", fmt.Errorf("GetUser failed: %w", err)
	}
	if user.ProfilePhoto == nil || user.ProfilePhoto.Small == nil {
		return "", nil
	}
	file, err := c.download(td, user.ProfilePhoto.Small.Id, 1)
	if err != nil {
		return "", err
	}
	return "file://" + file.Local.Path, nil
}

func (c *connection) userIDFor(id string) (int64, error) {
	phone := domain.ParseContactID(id).PhoneNumber

	c.mu.RLock()
	self := c.self
	c.mu.RUnlock()
	if self != nil && phone != "" && phone == self.PhoneNumber {
		return self.Id, nil
	}

	userID, err := strconv.ParseInt(phone, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("tdlib: not a user id %q", id)
	}
	return userID, nil
}

func (c *connection) download(td *client.Client, fileID int32, priority int32) (*client.File, error) {
	file, err := td.DownloadFile(&client.DownloadFileRequest{
		FileId:      fileID,
		Priority:    priority,
		Synchronous: true,
	})
	if err != nil {
		return nil, fmt.Errorf("DownloadFile failed: %w", err)
	}
	if file.Local == nil || !file.Local.IsDownloadingCompleted {
		return nil, fmt.Errorf("tdlib: file %d not downloaded", fileID)
	}
	return file, nil
}
