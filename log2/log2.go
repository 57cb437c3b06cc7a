// Package log2 is leveled logger on top of stdlib log.Logger.
// All methods are safe on nil *Log, which discards everything,
// so optional loggers need no checks. Level may change at runtime.
// Every logged error can be observed with SetErrorFunc.
package log2

import (
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"math"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/juju/errors"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// typed int helps against passing flags as level
	Lmicroseconds     int = log.Lmicroseconds
	Lshortfile        int = log.Lshortfile
	LStdFlags         int = log.Ltime | Lshortfile
	LInteractiveFlags int = log.Ltime | Lshortfile | Lmicroseconds
	LServiceFlags     int = Lshortfile
	LTestFlags        int = Lshortfile | Lmicroseconds
	LFileFlags        int = log.LstdFlags | Lshortfile
)

// Rotation limits for NewFile, lumberjack counts megabytes.
const (
	FileMaxSizeMB  = 1
	FileMaxBackups = 5
)

type Level int32

const (
	LError Level = iota
	LWarning
	LInfo
	LDebug
	LAll Level = math.MaxInt32
)

var levelNames = map[string]Level{
	"error":   LError,
	"warn":    LWarning,
	"warning": LWarning,
	"":        LInfo,
	"info":    LInfo,
	"debug":   LDebug,
	"all":     LAll,
}

func ParseLevel(s string) (Level, error) {
	if l, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return l, nil
	}
	return LInfo, errors.NotValidf("log level=%s", s)
}

func (l Level) prefix() string {
	switch l {
	case LError:
		return "error: "
	case LWarning:
		return "warning: "
	case LDebug:
		return "debug: "
	}
	return ""
}

// Output frame of caller of public method.
const callDepth = 3

type ErrorFunc func(error)
type Func func(format string, args ...interface{})

type Log struct {
	std     *log.Logger
	out     io.Writer
	level   int32
	fatal   Func
	onError atomic.Value // ErrorFunc
}

// NewWriter returns nil for ioutil.Discard.
func NewWriter(w io.Writer, level Level) *Log {
	if w == ioutil.Discard {
		return nil
	}
	return &Log{
		std:   log.New(w, "", LStdFlags),
		out:   w,
		level: int32(level),
	}
}

func NewStderr(level Level) *Log { return NewWriter(os.Stderr, level) }

// NewFile writes into path with size based rotation.
func NewFile(path string, level Level) *Log {
	self := NewWriter(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    FileMaxSizeMB,
		MaxBackups: FileMaxBackups,
	}, level)
	self.SetFlags(LFileFlags)
	return self
}

// FuncWriter adapts printf style function to io.Writer, one call per line.
type FuncWriter struct{ Func }

func (fw FuncWriter) Write(b []byte) (int, error) {
	fw.Func("%s", strings.TrimSuffix(string(b), "\n"))
	return len(b), nil
}

func NewFunc(f Func, level Level) *Log { return NewWriter(FuncWriter{f}, level) }

// NewTest logs into t.Logf, Fatal calls t.Fatalf.
func NewTest(t testing.TB, level Level) *Log {
	self := NewFunc(t.Logf, level)
	self.fatal = t.Fatalf
	return self
}

// Clone shares output and flags with new level.
func (self *Log) Clone(level Level) *Log {
	if self == nil {
		return nil
	}
	c := NewWriter(self.out, level)
	c.std.SetFlags(self.std.Flags())
	c.std.SetPrefix(self.std.Prefix())
	c.fatal = self.fatal
	return c
}

func (self *Log) SetLevel(l Level) {
	if self != nil {
		atomic.StoreInt32(&self.level, int32(l))
	}
}

func (self *Log) SetFlags(f int) {
	if self != nil {
		self.std.SetFlags(f)
	}
}

func (self *Log) SetPrefix(prefix string) {
	if self != nil {
		self.std.SetPrefix(prefix)
	}
}

// SetErrorFunc registers hook called on every Error and Errorf
// regardless of level.
func (self *Log) SetErrorFunc(f ErrorFunc) {
	if self != nil {
		self.onError.Store(f)
	}
}

func (self *Log) Enabled(level Level) bool {
	return self != nil && Level(atomic.LoadInt32(&self.level)) >= level
}

func (self *Log) emit(level Level, s string) {
	if self.Enabled(level) {
		_ = self.std.Output(callDepth, level.prefix()+s)
	}
}

func (self *Log) Error(args ...interface{}) {
	s := fmt.Sprint(args...)
	self.emit(LError, s)
	if len(args) == 1 {
		if e, ok := args[0].(error); ok {
			self.reportError(e)
			return
		}
	}
	self.reportError(errors.New(s))
}

func (self *Log) Errorf(format string, args ...interface{}) {
	e := fmt.Errorf(format, args...)
	self.emit(LError, e.Error())
	self.reportError(e)
}

func (self *Log) Warningf(format string, args ...interface{}) {
	self.emit(LWarning, fmt.Sprintf(format, args...))
}

func (self *Log) Info(args ...interface{}) { self.emit(LInfo, fmt.Sprint(args...)) }

func (self *Log) Infof(format string, args ...interface{}) {
	self.emit(LInfo, fmt.Sprintf(format, args...))
}

func (self *Log) Debug(args ...interface{}) { self.emit(LDebug, fmt.Sprint(args...)) }

func (self *Log) Debugf(format string, args ...interface{}) {
	if self.Enabled(LDebug) {
		self.emit(LDebug, fmt.Sprintf(format, args...))
	}
}

// Printf and Println make *Log usable as paho mqtt.Logger.
func (self *Log) Printf(format string, args ...interface{}) {
	self.emit(LInfo, fmt.Sprintf(format, args...))
}

func (self *Log) Println(args ...interface{}) {
	self.emit(LInfo, strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
}

func (self *Log) Fatalf(format string, args ...interface{}) {
	self.die(fmt.Sprintf(format, args...))
}

func (self *Log) Fatal(args ...interface{}) { self.die(fmt.Sprint(args...)) }

// die calls test Fatalf or logs and exits.
func (self *Log) die(s string) {
	if self != nil && self.fatal != nil {
		self.fatal("%s", s)
		return
	}
	if self.Enabled(LError) {
		_ = self.std.Output(callDepth, "fatal: "+s)
	}
	os.Exit(1)
}

func (self *Log) reportError(e error) {
	if self == nil {
		return
	}
	if f, ok := self.onError.Load().(ErrorFunc); ok && f != nil {
		f(e)
	}
}
