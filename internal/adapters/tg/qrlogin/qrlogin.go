// Package qrlogin ожидание скана QR, которое можно прервать закрытием соединения.
package qrlogin

import (
	"errors"
	"sync"
	"time"
)

// DefaultPoll как часто переспрашивать состояние авторизации
const DefaultPoll = time.Second

// ErrCanceled соединение закрыли до окончания входа
var ErrCanceled = errors.New("qr login canceled")

// Waiter отдаёт наверх только новые ссылки и не держит вызывающего дольше poll.
type Waiter struct {
	done   <-chan struct{}
	poll   time.Duration
	onLink func(link string)

	mu   sync.Mutex
	last string
}

func New(done <-chan struct{}, poll time.Duration, onLink func(link string)) *Waiter {
	if poll <= 0 {
		poll = DefaultPoll
	}
	return &Waiter{done: done, poll: poll, onLink: onLink}
}

// Canceled ErrCanceled, если done уже закрыт
func (w *Waiter) Canceled() error {
	select {
	case <-w.done:
		return ErrCanceled
	default:
		return nil
	}
}

// Await публикует ссылку, если она сменилась, и ждёт poll или закрытия done.
func (w *Waiter) Await(link string) error {
	if err := w.Canceled(); err != nil {
		return err
	}

	w.mu.Lock()
	fresh := link != w.last
	w.last = link
	w.mu.Unlock()
	if fresh && w.onLink != nil {
		w.onLink(link)
	}

	timer := time.NewTimer(w.poll)
	defer timer.Stop()
	select {
	case <-w.done:
		return ErrCanceled
	case <-timer.C:
		return nil
	}
}
