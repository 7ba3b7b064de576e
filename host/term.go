package host

import (
	"atomicgo.dev/keyboard"
	"atomicgo.dev/keyboard/keys"
)

// TermSource captures terminal keystrokes and exposes them as platform key
// events. Headless runs use it in place of the window front-end. The
// terminal cannot observe key releases, so every keystroke is delivered as
// a down/up pair.
type TermSource struct {
	queue *QueueSource
	done  chan struct{}
}

// NewTermSource starts listening on the controlling terminal. Esc stops the
// listener and closes Done.
func NewTermSource() *TermSource {
	s := &TermSource{
		queue: NewQueueSource(),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		keyboard.Listen(func(key keys.Key) (bool, error) {
			code, ok := termKeyCode(key)
			if !ok {
				if key.Code == keys.Esc {
					return true, nil
				}
				return false, nil
			}
			s.queue.Push(Event{Kind: EventKeyDown, Code: code})
			s.queue.Push(Event{Kind: EventKeyUp, Code: code})
			return false, nil
		})
	}()
	return s
}

// Poll implements EventSource.
func (s *TermSource) Poll() (Event, bool) {
	return s.queue.Poll()
}

// Done is closed when the listener stops (Esc pressed or terminal gone).
func (s *TermSource) Done() <-chan struct{} {
	return s.done
}

func termKeyCode(key keys.Key) (int, bool) {
	switch key.Code {
	case keys.Up:
		return KeyUp, true
	case keys.Down:
		return KeyDown, true
	case keys.Left:
		return KeyLeft, true
	case keys.Right:
		return KeyRight, true
	case keys.Enter:
		return KeySelect, true
	case keys.Backspace:
		return KeyClear, true
	case keys.RuneKey:
		if len(key.Runes) == 1 {
			r := key.Runes[0]
			switch {
			case r >= '0' && r <= '9':
				return int(r), true
			case r == 'z':
				return KeySoft1, true
			case r == 'x':
				return KeySoft2, true
			}
		}
	}
	return 0, false
}
