package transcript

import (
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Raikerian/consult-voice/pkg/util"
)

const fragmentBuffer = 64

type fragment struct {
	text    string
	speaker Speaker
	at      time.Time
}

// Aggregator merges transcription fragments of one consultation into
// utterances. An utterance ends when the speaker changes, when no fragment
// arrives for the flush delay, or on Close.
type Aggregator struct {
	logger       *zap.Logger
	store        *Store
	consultation string

	in        chan fragment
	stop      chan struct{}
	done      chan struct{}
	debouncer *util.Debouncer

	closeOnce sync.Once

	// owned by run
	buf     strings.Builder
	speaker Speaker
	started time.Time
}

func NewAggregator(logger *zap.Logger, store *Store, consultationID string, flushAfter time.Duration) *Aggregator {
	a := &Aggregator{
		logger:       logger.With(zap.String("consultation", consultationID)),
		store:        store,
		consultation: consultationID,
		in:           make(chan fragment, fragmentBuffer),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		debouncer:    util.NewDebouncer(flushAfter),
	}
	go a.run()
	return a
}

// Add queues a fragment. It never blocks; fragments arriving after Close or
// while the queue is full are dropped.
func (a *Aggregator) Add(text string, fromUser bool) {
	if text == "" {
		return
	}
	select {
	case <-a.stop:
		return
	default:
	}
	select {
	case a.in <- fragment{text: text, speaker: SpeakerOf(fromUser), at: time.Now()}:
	default:
		a.logger.Warn("Transcript queue full, dropping fragment")
	}
}

// Close flushes whatever is buffered and stops the aggregator.
func (a *Aggregator) Close() {
	a.closeOnce.Do(func() {
		close(a.stop)
		<-a.done
	})
}

func (a *Aggregator) run() {
	defer close(a.done)
	defer a.debouncer.Stop()

	for {
		select {
		case f := <-a.in:
			a.add(f)
		case <-a.debouncer.C():
			a.flush()
		case <-a.stop:
			for {
				select {
				case f := <-a.in:
					a.add(f)
				default:
					a.flush()
					return
				}
			}
		}
	}
}

func (a *Aggregator) add(f fragment) {
	if a.buf.Len() > 0 && f.speaker != a.speaker {
		a.flush()
	}
	if a.buf.Len() == 0 {
		a.speaker = f.speaker
		a.started = f.at
	} else if needsSpace(a.buf.String(), f.text) {
		a.buf.WriteByte(' ')
	}
	a.buf.WriteString(f.text)
	a.debouncer.Reset()
}

func (a *Aggregator) flush() {
	a.debouncer.Cancel()
	text := strings.TrimSpace(a.buf.String())
	a.buf.Reset()
	if text == "" {
		return
	}
	a.store.Append(a.consultation, Entry{Speaker: a.speaker, Text: text, At: a.started})
	a.logger.Debug("Utterance recorded", zap.String("speaker", string(a.speaker)), zap.String("text", text))
}

// needsSpace reports whether two fragments would run together: the first
// ends a sentence and neither side carries whitespace.
func needsSpace(prev, next string) bool {
	last, _ := utf8.DecodeLastRuneInString(prev)
	first, _ := utf8.DecodeRuneInString(next)
	if unicode.IsSpace(last) || unicode.IsSpace(first) {
		return false
	}
	return strings.ContainsRune(".!?,;:", last)
}
