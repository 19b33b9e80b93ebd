package input

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// evdev wire constants.
const (
	evKey = 0x01

	evValueUp   = 0
	evValueDown = 1
	evValueHold = 2

	eventSize = 24 // struct input_event on 64-bit
)

// Source reads EV_KEY events from the device's event nodes and fans them
// out to the attached renderer queues.
type Source struct {
	log   zerolog.Logger
	paths []string

	mu     sync.Mutex
	queues map[*Queue]struct{}
	cancel context.CancelFunc
	done   sync.WaitGroup
}

// NewSource builds a source over the given /dev/input/event* paths.
func NewSource(log zerolog.Logger, paths []string) *Source {
	return &Source{
		log:    log,
		paths:  paths,
		queues: make(map[*Queue]struct{}),
	}
}

// Attach registers a queue for delivery; the source starts reading on the
// first attach.
func (s *Source) Attach(q *Queue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[q] = struct{}{}
	if s.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		for _, path := range s.paths {
			s.done.Add(1)
			go s.readLoop(ctx, path)
		}
	}
}

// Detach unregisters a queue; the source keeps reading while any queue
// remains.
func (s *Source) Detach(q *Queue) {
	s.mu.Lock()
	delete(s.queues, q)
	s.mu.Unlock()
}

// Close stops the read loops and waits for them to exit.
func (s *Source) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.done.Wait()
}

func (s *Source) dispatch(keycode string, scancode uint16, state KeyState, at time.Time) {
	s.mu.Lock()
	targets := make([]*Queue, 0, len(s.queues))
	for q := range s.queues {
		targets = append(targets, q)
	}
	s.mu.Unlock()
	for _, q := range targets {
		q.Push(keycode, scancode, state, at)
	}
}

func (s *Source) readLoop(ctx context.Context, path string) {
	defer s.done.Done()

	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("failed to open event device")
		return
	}
	defer unix.Close(fd)

	s.log.Debug().Str("path", path).Msg("reading key events")

	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	buf := make([]byte, eventSize*64)

	for {
		if ctx.Err() != nil {
			return
		}
		n, err := unix.Poll(pfd, 250)
		if err != nil && err != unix.EINTR {
			s.log.Warn().Err(err).Str("path", path).Msg("event device poll failed")
			return
		}
		if n == 0 {
			continue
		}

		read, err := unix.Read(fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			s.log.Debug().Err(err).Str("path", path).Msg("event device gone")
			return
		}

		now := time.Now()
		for off := 0; off+eventSize <= read; off += eventSize {
			etype := binary.LittleEndian.Uint16(buf[off+16 : off+18])
			if etype != evKey {
				continue
			}
			code := binary.LittleEndian.Uint16(buf[off+18 : off+20])
			value := int32(binary.LittleEndian.Uint32(buf[off+20 : off+24]))

			var state KeyState
			switch value {
			case evValueUp:
				state = KeyUp
			case evValueDown:
				state = KeyDown
			case evValueHold:
				state = KeyHold
			default:
				continue
			}
			s.dispatch(keycodeName(code), code, state, now)
		}
	}
}

// keycodeName maps a kernel key code to the symbolic name used by the
// descriptor key maps.
func keycodeName(code uint16) string {
	if name, ok := keycodeNames[code]; ok {
		return name
	}
	return fmt.Sprintf("KEY_%d", code)
}

// The subset of input-event-codes.h the descriptor key maps reference.
var keycodeNames = map[uint16]string{
	1: "KEY_ESC", 2: "KEY_1", 3: "KEY_2", 4: "KEY_3", 5: "KEY_4",
	6: "KEY_5", 7: "KEY_6", 8: "KEY_7", 9: "KEY_8", 10: "KEY_9",
	11: "KEY_0", 12: "KEY_MINUS", 13: "KEY_EQUAL", 14: "KEY_BACKSPACE",
	15: "KEY_TAB", 16: "KEY_Q", 17: "KEY_W", 18: "KEY_E", 19: "KEY_R",
	20: "KEY_T", 21: "KEY_Y", 22: "KEY_U", 23: "KEY_I", 24: "KEY_O",
	25: "KEY_P", 26: "KEY_LEFTBRACE", 27: "KEY_RIGHTBRACE", 28: "KEY_ENTER",
	29: "KEY_LEFTCTRL", 30: "KEY_A", 31: "KEY_S", 32: "KEY_D", 33: "KEY_F",
	34: "KEY_G", 35: "KEY_H", 36: "KEY_J", 37: "KEY_K", 38: "KEY_L",
	39: "KEY_SEMICOLON", 40: "KEY_APOSTROPHE", 41: "KEY_GRAVE",
	42: "KEY_LEFTSHIFT", 43: "KEY_BACKSLASH", 44: "KEY_Z", 45: "KEY_X",
	46: "KEY_C", 47: "KEY_V", 48: "KEY_B", 49: "KEY_N", 50: "KEY_M",
	51: "KEY_COMMA", 52: "KEY_DOT", 53: "KEY_SLASH", 54: "KEY_RIGHTSHIFT",
	55: "KEY_KPASTERISK", 56: "KEY_LEFTALT", 57: "KEY_SPACE",
	58: "KEY_CAPSLOCK", 59: "KEY_F1", 60: "KEY_F2", 61: "KEY_F3",
	62: "KEY_F4", 63: "KEY_F5", 64: "KEY_F6", 65: "KEY_F7", 66: "KEY_F8",
	67: "KEY_F9", 68: "KEY_F10", 87: "KEY_F11", 88: "KEY_F12",
	96: "KEY_KPENTER", 97: "KEY_RIGHTCTRL", 100: "KEY_RIGHTALT",
	102: "KEY_HOME", 103: "KEY_UP", 104: "KEY_PAGEUP", 105: "KEY_LEFT",
	106: "KEY_RIGHT", 107: "KEY_END", 108: "KEY_DOWN", 109: "KEY_PAGEDOWN",
	110: "KEY_INSERT", 111: "KEY_DELETE", 125: "KEY_LEFTMETA",
	126: "KEY_RIGHTMETA",
}
