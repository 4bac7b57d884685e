package logger

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Messages receives every encoded log entry produced by GetLogger. Somebody has to drain it.
var Messages = make(chan []byte, 128)

const (
	ErrorLvl   = 0
	WarningLvl = 1
	InfoLvl    = 2
	EventLvl   = 3 // midi traffic

	DebugLvl = 378
)

var (
	Error   = zap.Int("level", ErrorLvl)
	Warning = zap.Int("level", WarningLvl)
	Info    = zap.Int("level", InfoLvl)
	Event   = zap.Int("level", EventLvl)

	Debug = zap.Int("level", DebugLvl)
)

type chanWriter struct {
	sync.Mutex
	c chan<- []byte
}

func (w *chanWriter) Write(p []byte) (n int, err error) {
	w.Lock()
	var newSlice = make([]byte, len(p))
	copy(newSlice, p)
	w.c <- newSlice
	w.Unlock()
	return len(p), nil
}

func (w *chanWriter) Sync() error {
	return nil
}

// GetLogger returns logger that encodes entries as single-line json into Messages.
func GetLogger() *zap.Logger {
	return NewChannelLogger(Messages)
}

func NewChannelLogger(c chan<- []byte) *zap.Logger {
	writer := &chanWriter{c: c}
	cfg := zap.NewProductionEncoderConfig()
	cfg.SkipLineEnding = true
	cfg.EncodeTime = zapcore.EpochNanosTimeEncoder
	cfg.LevelKey = ""
	encoder := zapcore.NewJSONEncoder(cfg)

	return zap.New(
		zapcore.NewCore(encoder, zapcore.Lock(writer), zap.DebugLevel),
		zap.AddCaller(),
	)
}

type TimeNanosecond time.Time

func (j *TimeNanosecond) UnmarshalJSON(b []byte) error {
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	*j = TimeNanosecond(time.Unix(0, v))
	return nil
}

func (j TimeNanosecond) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(j))
}

// Entry is a decoded log line, only fields known to the display are kept.
type Entry struct {
	Ts     TimeNanosecond `json:"ts"`
	Caller string         `json:"caller"`
	Msg    string         `json:"msg"`
	Level  int            `json:"level"`
	Error  string         `json:"error"`

	Port    string `json:"port"`
	Address string `json:"address"`
	Event   string `json:"event"`
	Device  string `json:"device"`
	Backend string `json:"backend"`
}

func Unpack(data []byte) (Entry, error) {
	var v Entry
	err := json.Unmarshal(data, &v)
	return v, err
}
