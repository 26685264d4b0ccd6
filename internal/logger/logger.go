// Package logger пишет логи с префиксом компонента асинхронно, чтобы стримы и
// цикл сессии никогда не блокировались на выводе.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

const asyncBufferSize = 8192

type level int

const (
	levelDebug level = iota
	levelInfo
	levelError
)

var (
	prefix   string
	logLevel = levelInfo
	ch       chan string
	once     sync.Once
	out      = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
)

func parseLevel(s string) level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return levelDebug
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func initWorker() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		logLevel = parseLevel(v)
	}
	ch = make(chan string, asyncBufferSize)
	go func() {
		for msg := range ch {
			out.Print(msg)
		}
	}()
}

func enqueue(msg string) {
	once.Do(initWorker)
	select {
	case ch <- msg:
	default:
		// буфер полон: лог теряется, вызывающий не ждёт
	}
}

// SetPrefix задаёт префикс для всех последующих логов (например "sync").
func SetPrefix(p string) {
	prefix = p
}

// SetLevel переопределяет уровень из конфигурации (debug, info, error).
func SetLevel(s string) {
	once.Do(initWorker)
	logLevel = parseLevel(s)
}

// SetOutput перенаправляет вывод; используется в тестах.
func SetOutput(w io.Writer) {
	out.SetOutput(w)
}

func tag() string {
	if prefix == "" {
		return ""
	}
	return "[" + prefix + "] "
}

// Debugf пишет только при уровне debug.
func Debugf(format string, v ...any) {
	if logLevel > levelDebug {
		return
	}
	enqueue(tag() + "DEBUG: " + fmt.Sprintf(format, v...))
}

func Info(v ...any) {
	if logLevel > levelInfo {
		return
	}
	enqueue(tag() + fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	if logLevel > levelInfo {
		return
	}
	enqueue(tag() + fmt.Sprintf(format, v...))
}

func Error(v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprintf(format, v...))
}

// LogDuration логирует имя операции и время выполнения в миллисекундах.
// На уровне info пишутся только вызовы дольше 100ms, на debug: все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if logLevel == levelDebug || elapsed >= 100*time.Millisecond {
		enqueue(fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration: defer logger.DeferLogDuration("api.FetchMessages", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
